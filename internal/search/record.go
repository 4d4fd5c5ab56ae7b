package search

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
)

// Record is one search hit. Source holds the raw _source document.
type Record struct {
	Index  string          `json:"_index"`
	ID     string          `json:"_id"`
	Source json.RawMessage `json:"_source"`
}

// Label returns a short identifier suitable for logs.
func (r Record) Label() string {
	switch {
	case r.Index != "" && r.ID != "":
		return r.Index + "/" + r.ID
	case r.ID != "":
		return r.ID
	default:
		return "(no id)"
	}
}

type searchResponse struct {
	Hits *struct {
		Total *hitsTotal `json:"total"`
		Hits  []Record   `json:"hits"`
	} `json:"hits"`
}

// hitsTotal accepts both the bare integer form and the {"value", "relation"}
// object. A relation other than "eq" marks Value as a lower bound.
type hitsTotal struct {
	Value int
	Exact bool
}

func (t *hitsTotal) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) == 0 || data[0] != '{' {
		t.Exact = true
		return json.Unmarshal(data, &t.Value)
	}
	var obj struct {
		Value    *int   `json:"value"`
		Relation string `json:"relation"`
	}
	if err := json.Unmarshal(data, &obj); err != nil {
		return err
	}
	if obj.Value == nil {
		return errors.New("hits.total object missing value")
	}
	t.Value = *obj.Value
	t.Exact = obj.Relation == "" || obj.Relation == "eq"
	return nil
}

type page struct {
	hits     []Record
	total    int
	hasTotal bool
}

func decodePage(body []byte) (page, error) {
	var resp searchResponse
	if err := json.Unmarshal(body, &resp); err != nil {
		return page{}, fmt.Errorf("decode response: %w", err)
	}
	if resp.Hits == nil {
		return page{}, errors.New("decode response: missing hits")
	}
	p := page{hits: resp.Hits.Hits}
	if resp.Hits.Total != nil {
		if resp.Hits.Total.Value < 0 {
			return page{}, fmt.Errorf("decode response: negative total %d", resp.Hits.Total.Value)
		}
		// A lower bound cannot end paging; the caller pages until a short page.
		p.total = resp.Hits.Total.Value
		p.hasTotal = resp.Hits.Total.Exact
	}
	return p, nil
}

// dedupe drops repeated (index, id) pairs, keeping the first occurrence.
// Hits without an id are always kept.
func dedupe(records []Record) ([]Record, int) {
	type ident struct{ index, id string }
	seen := make(map[ident]struct{}, len(records))
	out := records[:0:0]
	dropped := 0
	for _, rec := range records {
		if rec.ID != "" {
			k := ident{rec.Index, rec.ID}
			if _, ok := seen[k]; ok {
				dropped++
				continue
			}
			seen[k] = struct{}{}
		}
		out = append(out, rec)
	}
	return out, dropped
}
