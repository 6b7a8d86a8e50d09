package resolve

import (
	"errors"
	"fmt"
	"sort"

	"github.com/rcliao/consensus-memory/internal/model"
)

var (
	// ErrResolution means a strategy could not produce a value. The
	// conflict stays open and every member entry is left intact.
	ErrResolution = errors.New("resolution failed")
	// ErrUnknownStrategy is returned for a strategy outside model.ValidStrategies.
	ErrUnknownStrategy = errors.New("unknown strategy")
)

// Outcome describes how a conflict collapses. Exactly one of WinnerID
// and Value is meaningful: WinnerID names an existing member to promote,
// while a structural merge yields a fresh Value built from Sources.
type Outcome struct {
	Strategy   model.Strategy
	WinnerID   string
	Value      *model.Value
	Sources    []string
	Demoted    []string
	Lossy      bool
	LossyPaths []string
}

// Summary is a short human-readable result stored on the conflict.
func (o *Outcome) Summary() string {
	if o.Value != nil {
		s := fmt.Sprintf("%s: merged %d entries", o.Strategy, len(o.Sources))
		if o.Lossy {
			s += " (lossy)"
		}
		return s
	}
	return fmt.Sprintf("%s: winner %s", o.Strategy, o.WinnerID)
}

// Resolve applies strategy to the members of a conflict.
func Resolve(strategy model.Strategy, members []*model.Entry) (*Outcome, error) {
	if len(members) == 0 {
		return nil, fmt.Errorf("%w: no entries to resolve", ErrResolution)
	}
	ordered := append([]*model.Entry{}, members...)
	sort.SliceStable(ordered, func(i, j int) bool { return model.WriteOrder(ordered[i], ordered[j]) })

	switch strategy {
	case model.StrategyLastWriteWins:
		return promote(strategy, ordered, ordered[len(ordered)-1]), nil
	case model.StrategyConsensus:
		return consensus(ordered), nil
	case model.StrategyStructural:
		return structural(ordered)
	}
	return nil, fmt.Errorf("%w: %q", ErrUnknownStrategy, strategy)
}

// promote makes winner the survivor and demotes everything else.
func promote(strategy model.Strategy, ordered []*model.Entry, winner *model.Entry) *Outcome {
	o := &Outcome{Strategy: strategy, WinnerID: winner.ID}
	for _, e := range ordered {
		if e.ID != winner.ID {
			o.Demoted = append(o.Demoted, e.ID)
		}
	}
	return o
}

// consensus promotes the most recent entry of the largest checksum
// group. Ties go to the group holding the most recent write.
func consensus(ordered []*model.Entry) *Outcome {
	count := map[string]int{}
	latest := map[string]*model.Entry{}
	for _, e := range ordered {
		count[e.Checksum]++
		latest[e.Checksum] = e
	}

	var best string
	for sum, n := range count {
		switch {
		case best == "":
			best = sum
		case n > count[best]:
			best = sum
		case n == count[best] && model.WriteOrder(latest[best], latest[sum]):
			best = sum
		}
	}
	return promote(model.StrategyConsensus, ordered, latest[best])
}

// structural deep-merges member values in write order.
func structural(ordered []*model.Entry) (*Outcome, error) {
	kind := ordered[0].Value.Type()
	for _, e := range ordered[1:] {
		t := e.Value.Type()
		if t == kind || (t.Scalar() && kind.Scalar()) {
			continue
		}
		return nil, fmt.Errorf("%w: cannot merge %s with %s", ErrResolution, kind, t)
	}

	if kind.Scalar() {
		// Scalars cannot be combined; the last write survives and the
		// loss is reported rather than hidden.
		o := promote(model.StrategyStructural, ordered, ordered[len(ordered)-1])
		if Diverged(ordered) {
			o.Lossy = true
			o.LossyPaths = []string{"$"}
		}
		return o, nil
	}

	o := &Outcome{Strategy: model.StrategyStructural}
	merged := ordered[0].Value
	for _, e := range ordered[1:] {
		merged = mergeValues(merged, e.Value, "$", &o.LossyPaths)
	}
	o.Value = &merged
	o.Lossy = len(o.LossyPaths) > 0
	for _, e := range ordered {
		o.Sources = append(o.Sources, e.ID)
		o.Demoted = append(o.Demoted, e.ID)
	}
	return o, nil
}

// mergeValues combines an earlier value a with a later value b. Maps
// merge key by key, sequences concatenate, anything else takes b.
func mergeValues(a, b model.Value, path string, lossy *[]string) model.Value {
	switch {
	case a.Type() == model.TypeMap && b.Type() == model.TypeMap:
		fields, later := a.Fields(), b.Fields()
		for _, k := range b.Keys() {
			bv := later[k]
			if av, ok := fields[k]; ok {
				fields[k] = mergeValues(av, bv, path+"."+k, lossy)
			} else {
				fields[k] = bv
			}
		}
		return model.Map(fields)
	case a.Type() == model.TypeSequence && b.Type() == model.TypeSequence:
		return model.Sequence(append(a.Items(), b.Items()...)...)
	}
	if !equal(a, b) {
		*lossy = append(*lossy, path)
	}
	return b
}

func equal(a, b model.Value) bool {
	if a.Type() != b.Type() {
		return false
	}
	switch a.Type() {
	case model.TypeString:
		x, _ := a.Str()
		y, _ := b.Str()
		return x == y
	case model.TypeNumber:
		x, _ := a.Num()
		y, _ := b.Num()
		return x == y
	case model.TypeBool:
		x, _ := a.BoolVal()
		y, _ := b.BoolVal()
		return x == y
	case model.TypeNull:
		return true
	}
	return false
}
