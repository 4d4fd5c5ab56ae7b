package scenekey

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"ifgsweep/internal/services"
)

// digestBytes is the width of each half of a Key (128 bits).
const digestBytes = 16

// DefaultPaths lists where scene metadata lives inside a record's _source.
var DefaultPaths = []string{"metadata"}

// Key identifies a scene pair independently of record identity.
type Key string

func (k Key) String() string { return string(k) }

// ScenePair holds the master and slave scene lists of a record.
type ScenePair struct {
	Primary   []string `json:"master_scenes"`
	Secondary []string `json:"slave_scenes"`
}

// Canonical returns a copy with blank entries dropped and each list sorted.
// Other entries keep their exact bytes, surrounding whitespace included.
func (p ScenePair) Canonical() ScenePair {
	return ScenePair{Primary: canonicalList(p.Primary), Secondary: canonicalList(p.Secondary)}
}

// Derive builds the key for a scene pair. Either list being empty after
// canonicalization is a malformed record.
func Derive(pair ScenePair) (Key, error) {
	canon := pair.Canonical()
	if len(canon.Primary) == 0 {
		return "", services.Wrap(services.ErrMalformedRecord, "", "derive key", "master_scenes missing or empty", nil)
	}
	if len(canon.Secondary) == 0 {
		return "", services.Wrap(services.ErrMalformedRecord, "", "derive key", "slave_scenes missing or empty", nil)
	}
	return Key(digest(canon.Primary) + "_" + digest(canon.Secondary)), nil
}

// FromSource extracts a ScenePair from a raw _source document. Each path is a
// dot-separated object path tried in order; the first object that carries
// either scene list wins. With no paths, DefaultPaths is used.
func FromSource(raw json.RawMessage, paths ...string) (ScenePair, error) {
	if len(paths) == 0 {
		paths = DefaultPaths
	}
	var doc map[string]any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return ScenePair{}, services.Wrap(services.ErrMalformedRecord, "", "decode source", "", err)
	}
	for _, path := range paths {
		node, ok := lookup(doc, path)
		if !ok {
			continue
		}
		obj, ok := node.(map[string]any)
		if !ok {
			continue
		}
		_, hasPrimary := obj["master_scenes"]
		_, hasSecondary := obj["slave_scenes"]
		if !hasPrimary && !hasSecondary {
			continue
		}
		primary, err := stringList(obj["master_scenes"])
		if err != nil {
			return ScenePair{}, services.Wrap(services.ErrMalformedRecord, "", "decode source", path+".master_scenes", err)
		}
		secondary, err := stringList(obj["slave_scenes"])
		if err != nil {
			return ScenePair{}, services.Wrap(services.ErrMalformedRecord, "", "decode source", path+".slave_scenes", err)
		}
		return ScenePair{Primary: primary, Secondary: secondary}, nil
	}
	return ScenePair{}, services.Wrap(services.ErrMalformedRecord, "", "decode source",
		fmt.Sprintf("no scene metadata under %s", strings.Join(paths, ", ")), nil)
}

// DeriveSource is FromSource followed by Derive.
func DeriveSource(raw json.RawMessage, paths ...string) (Key, ScenePair, error) {
	pair, err := FromSource(raw, paths...)
	if err != nil {
		return "", ScenePair{}, err
	}
	key, err := Derive(pair)
	if err != nil {
		return "", pair, err
	}
	return key, pair, nil
}

// Lookup walks a dot-separated path through nested JSON objects.
func Lookup(doc map[string]any, path string) (any, bool) {
	return lookup(doc, path)
}

func lookup(doc map[string]any, path string) (any, bool) {
	var current any = doc
	for _, part := range strings.Split(path, ".") {
		obj, ok := current.(map[string]any)
		if !ok {
			return nil, false
		}
		current, ok = obj[part]
		if !ok {
			return nil, false
		}
	}
	return current, true
}

func stringList(value any) ([]string, error) {
	if value == nil {
		return nil, nil
	}
	items, ok := value.([]any)
	if !ok {
		return nil, fmt.Errorf("expected list, got %T", value)
	}
	out := make([]string, 0, len(items))
	for i, item := range items {
		s, ok := item.(string)
		if !ok {
			return nil, fmt.Errorf("entry %d: expected string, got %T", i, item)
		}
		out = append(out, s)
	}
	return out, nil
}

func canonicalList(values []string) []string {
	out := make([]string, 0, len(values))
	for _, v := range values {
		// Entries are hashed verbatim; only all-blank ones are dropped.
		if strings.TrimSpace(v) != "" {
			out = append(out, v)
		}
	}
	sort.Strings(out)
	return out
}

// digest hashes a sorted list as count followed by length-prefixed entries,
// so ["ab","c"] and ["a","bc"] cannot collide.
func digest(values []string) string {
	h := sha256.New()
	var buf [8]byte
	binary.BigEndian.PutUint64(buf[:], uint64(len(values)))
	h.Write(buf[:])
	for _, v := range values {
		binary.BigEndian.PutUint64(buf[:], uint64(len(v)))
		h.Write(buf[:])
		h.Write([]byte(v))
	}
	sum := h.Sum(nil)
	return hex.EncodeToString(sum[:digestBytes])
}
