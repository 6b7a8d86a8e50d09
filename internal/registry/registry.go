// Package registry answers which agents participate in a session. It is
// only consulted to route notifications.
package registry

import (
	"context"
	"sort"
)

// Static is a fixed session -> participants table.
type Static map[string][]string

func (s Static) Participants(_ context.Context, sessionID string) ([]string, error) {
	return append([]string(nil), s[sessionID]...), nil
}

// AgentLister lists the agents that have written to a session.
type AgentLister interface {
	Agents(ctx context.Context, sessionID string) ([]string, error)
}

// Writers derives participants from the store: everyone who has
// written to the session is a participant.
type Writers struct {
	Store AgentLister
}

func (w Writers) Participants(ctx context.Context, sessionID string) ([]string, error) {
	agents, err := w.Store.Agents(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	sort.Strings(agents)
	return agents, nil
}

// Source is anything that can answer Participants.
type Source interface {
	Participants(ctx context.Context, sessionID string) ([]string, error)
}

// Chain asks each source in turn and returns the first non-empty answer.
type Chain []Source

func (c Chain) Participants(ctx context.Context, sessionID string) ([]string, error) {
	for _, src := range c {
		agents, err := src.Participants(ctx, sessionID)
		if err != nil {
			return nil, err
		}
		if len(agents) > 0 {
			return agents, nil
		}
	}
	return nil, nil
}
