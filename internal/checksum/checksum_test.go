package checksum

import (
	"fmt"
	"testing"

	"github.com/rcliao/consensus-memory/internal/model"
)

func TestFingerprintDeterministic(t *testing.T) {
	v := model.MustParseJSON(`{"steps":["x","y"],"amount":100,"nested":{"b":true,"a":null}}`)
	first := MustFingerprint(v)
	for i := 0; i < 10; i++ {
		if got := MustFingerprint(v); got != first {
			t.Fatalf("fingerprint changed on call %d: %s != %s", i, got, first)
		}
	}
	if len(first) != 64 {
		t.Errorf("expected 64 hex chars, got %d", len(first))
	}
}

func TestFingerprintIgnoresMapOrder(t *testing.T) {
	a := model.MustParseJSON(`{"a":1,"b":2,"c":[1,2]}`)
	b := model.MustParseJSON(`{"c":[1,2],"b":2,"a":1}`)
	if MustFingerprint(a) != MustFingerprint(b) {
		t.Error("expected equal fingerprints for reordered maps")
	}
}

func TestFingerprintDistinguishesValues(t *testing.T) {
	corpus := []string{
		`null`, `true`, `false`, `0`, `1`, `-1`, `1.5`, `""`, `"0"`, `"1"`, `"true"`, `"null"`,
		`[]`, `{}`, `[[]]`, `[{}]`, `{"a":[]}`, `{"a":{}}`, `[1,2]`, `[2,1]`, `["1","2"]`,
		`{"a":1}`, `{"a":"1"}`, `{"b":1}`, `{"a":1,"b":2}`, `{"a":2,"b":1}`,
		`{"steps":["x"]}`, `{"steps":["y"]}`, `{"steps":["x","y"]}`, `{"steps":["y","x"]}`,
		`{"amount":100}`, `{"amount":100.5}`, `{"amount":"100"}`,
	}
	for i := 0; i < 50; i++ {
		corpus = append(corpus, fmt.Sprintf(`{"n":%d}`, i), fmt.Sprintf(`["item-%d"]`, i))
	}

	seen := map[string]string{}
	for _, doc := range corpus {
		sum := MustFingerprint(model.MustParseJSON(doc))
		if prev, ok := seen[sum]; ok {
			t.Fatalf("collision between %s and %s", prev, doc)
		}
		seen[sum] = doc
	}
}

func TestFingerprintSequenceVsMap(t *testing.T) {
	seq := model.Sequence(model.String("a"))
	m := model.Map(map[string]model.Value{"0": model.String("a")})
	if MustFingerprint(seq) == MustFingerprint(m) {
		t.Error("sequence and map must not share a fingerprint")
	}
}
