package scenekey

import (
	"encoding/json"
	"errors"
	"fmt"
	"math/rand"
	"strings"
	"testing"

	"ifgsweep/internal/services"
)

func mustDerive(t *testing.T, pair ScenePair) Key {
	t.Helper()
	key, err := Derive(pair)
	if err != nil {
		t.Fatalf("Derive(%+v): %v", pair, err)
	}
	return key
}

func TestDeriveFormat(t *testing.T) {
	key := mustDerive(t, ScenePair{Primary: []string{"A", "B"}, Secondary: []string{"C"}})
	parts := strings.Split(key.String(), "_")
	if len(parts) != 2 {
		t.Fatalf("expected two halves, got %q", key)
	}
	for _, part := range parts {
		if len(part) != digestBytes*2 {
			t.Fatalf("half %q has length %d", part, len(part))
		}
		if strings.ToLower(part) != part {
			t.Fatalf("expected lowercase hex, got %q", part)
		}
	}
}

func TestDeriveIsPermutationInvariant(t *testing.T) {
	rng := rand.New(rand.NewSource(7))
	for i := 0; i < 200; i++ {
		pair := randomPair(rng, i)
		want := mustDerive(t, pair)
		for j := 0; j < 5; j++ {
			shuffled := ScenePair{Primary: shuffle(rng, pair.Primary), Secondary: shuffle(rng, pair.Secondary)}
			if got := mustDerive(t, shuffled); got != want {
				t.Fatalf("permutation changed key: %v vs %v", got, want)
			}
		}
	}
}

func TestDeriveHasNoCollisions(t *testing.T) {
	rng := rand.New(rand.NewSource(42))
	seen := make(map[Key]string)
	for i := 0; i < 20000; i++ {
		pair := randomPair(rng, i)
		canon := pair.Canonical()
		content := fmt.Sprint(canon.Primary, canon.Secondary)
		key := mustDerive(t, pair)
		if prev, ok := seen[key]; ok && prev != content {
			t.Fatalf("collision between %s and %s", prev, content)
		}
		seen[key] = content
	}
}

func TestDeriveSeparatesAmbiguousConcatenations(t *testing.T) {
	a := mustDerive(t, ScenePair{Primary: []string{"ab", "c"}, Secondary: []string{"x"}})
	b := mustDerive(t, ScenePair{Primary: []string{"a", "bc"}, Secondary: []string{"x"}})
	if a == b {
		t.Fatal("length prefixing should separate these lists")
	}
	swapped := mustDerive(t, ScenePair{Primary: []string{"x"}, Secondary: []string{"ab", "c"}})
	if swapped == a {
		t.Fatal("swapping primary and secondary must change the key")
	}
}

func TestDerivePreservesDuplicates(t *testing.T) {
	a := mustDerive(t, ScenePair{Primary: []string{"A", "A"}, Secondary: []string{"C"}})
	b := mustDerive(t, ScenePair{Primary: []string{"A"}, Secondary: []string{"C"}})
	if a == b {
		t.Fatal("duplicate scene entries should be part of the identity")
	}
}

func TestDeriveHashesEntriesVerbatim(t *testing.T) {
	padded := mustDerive(t, ScenePair{Primary: []string{"A "}, Secondary: []string{"C"}})
	plain := mustDerive(t, ScenePair{Primary: []string{"A"}, Secondary: []string{"C"}})
	if padded == plain {
		t.Fatal(`"A " and "A" are different scene ids and must not share a key`)
	}
	withBlank := mustDerive(t, ScenePair{Primary: []string{"A", "  "}, Secondary: []string{"C"}})
	if withBlank != plain {
		t.Fatal("blank entries should be dropped before hashing")
	}
}

func TestDeriveRejectsEmptyLists(t *testing.T) {
	cases := []ScenePair{
		{Primary: nil, Secondary: []string{"C"}},
		{Primary: []string{"A"}, Secondary: []string{}},
		{Primary: []string{" ", ""}, Secondary: []string{"C"}},
	}
	for _, pair := range cases {
		if _, err := Derive(pair); !errors.Is(err, services.ErrMalformedRecord) {
			t.Fatalf("Derive(%+v) err = %v, want ErrMalformedRecord", pair, err)
		}
	}
}

func TestFromSource(t *testing.T) {
	raw := json.RawMessage(`{"metadata":{"master_scenes":["B","A"],"slave_scenes":["C"]}}`)
	pair, err := FromSource(raw)
	if err != nil {
		t.Fatalf("FromSource: %v", err)
	}
	if len(pair.Primary) != 2 || pair.Secondary[0] != "C" {
		t.Fatalf("unexpected pair: %+v", pair)
	}
}

func TestFromSourceFallsBackAcrossPaths(t *testing.T) {
	raw := json.RawMessage(`{"job":{"params":{"master_scenes":["A","B"],"slave_scenes":["C"]}}}`)
	key, _, err := DeriveSource(raw, "metadata", "job.params")
	if err != nil {
		t.Fatalf("DeriveSource: %v", err)
	}
	want := mustDerive(t, ScenePair{Primary: []string{"B", "A"}, Secondary: []string{"C"}})
	if key != want {
		t.Fatalf("key = %s, want %s", key, want)
	}
}

func TestFromSourceMalformed(t *testing.T) {
	cases := map[string]string{
		"not json":      `{`,
		"no metadata":   `{"other":1}`,
		"wrong type":    `{"metadata":{"master_scenes":"A","slave_scenes":["C"]}}`,
		"non string":    `{"metadata":{"master_scenes":[1],"slave_scenes":["C"]}}`,
		"metadata list": `{"metadata":[1,2]}`,
	}
	for name, body := range cases {
		t.Run(name, func(t *testing.T) {
			if _, err := FromSource(json.RawMessage(body)); !errors.Is(err, services.ErrMalformedRecord) {
				t.Fatalf("err = %v, want ErrMalformedRecord", err)
			}
		})
	}
	if _, _, err := DeriveSource(json.RawMessage(`{"metadata":{"master_scenes":["A"]}}`)); !errors.Is(err, services.ErrMalformedRecord) {
		t.Fatalf("missing slave list should be malformed, got %v", err)
	}
}

func randomPair(rng *rand.Rand, salt int) ScenePair {
	return ScenePair{
		Primary:   randomScenes(rng, salt, 1+rng.Intn(4)),
		Secondary: randomScenes(rng, salt, 1+rng.Intn(4)),
	}
}

func randomScenes(rng *rand.Rand, salt, n int) []string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("S1A_IW_SLC__1SDV_%d_%08x", salt%97, rng.Uint32())
	}
	return out
}

func shuffle(rng *rand.Rand, values []string) []string {
	out := append([]string(nil), values...)
	rng.Shuffle(len(out), func(i, j int) { out[i], out[j] = out[j], out[i] })
	return out
}
