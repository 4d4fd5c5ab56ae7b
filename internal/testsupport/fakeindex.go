package testsupport

import (
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
)

// TotalStyle selects how the fake index reports hits.total.
type TotalStyle int

const (
	// TotalInt reports "total": n.
	TotalInt TotalStyle = iota
	// TotalObject reports "total": {"value": n, "relation": "eq"}.
	TotalObject
	// TotalMissing omits the total.
	TotalMissing
	// TotalLowerBound reports {"value": bound, "relation": "gte"}, as ES 7
	// does past its track_total_hits limit. Set it with SetTotalLowerBound.
	TotalLowerBound
)

// Doc is one document stored in the fake index.
type Doc struct {
	Index  string
	ID     string
	Source map[string]any
}

// Request records a _search call received by the fake index.
type Request struct {
	Pattern string
	From    int
	Size    int
	Query   map[string]any
}

// FakeIndex is an httptest server speaking the subset of the _search
// protocol the sweep uses. Documents are grouped by collection pattern;
// match_all, term, and range gte filters are evaluated against _source.
type FakeIndex struct {
	server *httptest.Server

	mu          sync.Mutex
	collections map[string][]Doc
	failures    map[string][]int
	requests    []Request
	style       TotalStyle
	totalDrift  int
	lowerBound  int
	maxPageSize int
	rawBodies   map[string]string
}

// NewFakeIndex starts a fake index and registers its shutdown.
func NewFakeIndex(t testing.TB) *FakeIndex {
	t.Helper()
	f := &FakeIndex{
		collections: make(map[string][]Doc),
		failures:    make(map[string][]int),
		rawBodies:   make(map[string]string),
	}
	f.server = httptest.NewServer(http.HandlerFunc(f.serve))
	t.Cleanup(f.server.Close)
	return f
}

// URL returns the base URL of the fake index.
func (f *FakeIndex) URL() string {
	return f.server.URL
}

// Add appends documents to a collection pattern.
func (f *FakeIndex) Add(pattern string, docs ...Doc) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.collections[pattern] = append(f.collections[pattern], docs...)
}

// FailNext makes the next requests for pattern answer with the given status
// codes, one per request, before serving normally again.
func (f *FakeIndex) FailNext(pattern string, statuses ...int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.failures[pattern] = append(f.failures[pattern], statuses...)
}

// RespondRaw makes every request for pattern answer 200 with body verbatim.
func (f *FakeIndex) RespondRaw(pattern, body string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.rawBodies[pattern] = body
}

// SetTotalStyle changes how hits.total is reported.
func (f *FakeIndex) SetTotalStyle(style TotalStyle) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.style = style
}

// SetTotalDrift adds delta to the reported total on every page after the first.
func (f *FakeIndex) SetTotalDrift(delta int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.totalDrift = delta
}

// SetTotalLowerBound reports hits.total as a "gte" lower bound of at most bound.
func (f *FakeIndex) SetTotalLowerBound(bound int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.style = TotalLowerBound
	f.lowerBound = bound
}

// SetMaxPageSize caps the hits served per request regardless of the
// requested size. Zero removes the cap.
func (f *FakeIndex) SetMaxPageSize(n int) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.maxPageSize = n
}

// Requests returns a copy of every request received so far.
func (f *FakeIndex) Requests() []Request {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Request(nil), f.requests...)
}

// RequestCount returns the number of requests received for pattern.
func (f *FakeIndex) RequestCount(pattern string) int {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, req := range f.requests {
		if req.Pattern == pattern {
			count++
		}
	}
	return count
}

func (f *FakeIndex) serve(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "method not allowed", http.StatusMethodNotAllowed)
		return
	}
	pattern, ok := parseSearchPath(r.URL.Path)
	if !ok {
		http.Error(w, "not found", http.StatusNotFound)
		return
	}
	var body struct {
		Query map[string]any `json:"query"`
		From  int            `json:"from"`
		Size  int            `json:"size"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		http.Error(w, "bad request: "+err.Error(), http.StatusBadRequest)
		return
	}

	f.mu.Lock()
	f.requests = append(f.requests, Request{Pattern: pattern, From: body.From, Size: body.Size, Query: body.Query})
	if queued := f.failures[pattern]; len(queued) > 0 {
		status := queued[0]
		f.failures[pattern] = queued[1:]
		f.mu.Unlock()
		http.Error(w, fmt.Sprintf("injected failure %d", status), status)
		return
	}
	if raw, ok := f.rawBodies[pattern]; ok {
		f.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(raw))
		return
	}
	matched := make([]Doc, 0)
	for _, doc := range f.collections[pattern] {
		if matches(body.Query, doc.Source) {
			matched = append(matched, doc)
		}
	}
	style := f.style
	bound := f.lowerBound
	served := max(body.Size, 0)
	if f.maxPageSize > 0 {
		served = min(served, f.maxPageSize)
	}
	drift := 0
	if body.From > 0 {
		drift = f.totalDrift
	}
	f.mu.Unlock()

	start := min(max(body.From, 0), len(matched))
	end := min(start+served, len(matched))
	hits := make([]map[string]any, 0, end-start)
	for _, doc := range matched[start:end] {
		hits = append(hits, map[string]any{
			"_index":  doc.Index,
			"_id":     doc.ID,
			"_source": doc.Source,
		})
	}
	hitsObj := map[string]any{"hits": hits}
	total := len(matched) + drift
	switch style {
	case TotalInt:
		hitsObj["total"] = total
	case TotalObject:
		hitsObj["total"] = map[string]any{"value": total, "relation": "eq"}
	case TotalLowerBound:
		hitsObj["total"] = map[string]any{"value": min(total, bound), "relation": "gte"}
	}
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(map[string]any{"took": 1, "hits": hitsObj})
}

func parseSearchPath(path string) (string, bool) {
	rest, ok := strings.CutPrefix(path, "/es/")
	if !ok {
		return "", false
	}
	pattern, ok := strings.CutSuffix(rest, "/_search")
	if !ok || pattern == "" {
		return "", false
	}
	return pattern, true
}

// matches evaluates the filter shapes the sweep sends: bool.must lists of
// match_all, term, and range (gte) clauses.
func matches(query map[string]any, source map[string]any) bool {
	if len(query) == 0 {
		return true
	}
	for kind, raw := range query {
		clause, _ := raw.(map[string]any)
		switch kind {
		case "match_all":
		case "bool":
			must, _ := clause["must"].([]any)
			for _, item := range must {
				sub, _ := item.(map[string]any)
				if !matches(sub, source) {
					return false
				}
			}
		case "term":
			for path, want := range clause {
				got, ok := lookupPath(source, path)
				if !ok || fmt.Sprint(got) != fmt.Sprint(want) {
					return false
				}
			}
		case "range":
			for path, bounds := range clause {
				got, ok := lookupPath(source, path)
				if !ok {
					return false
				}
				value, ok := got.(float64)
				if !ok {
					return false
				}
				b, _ := bounds.(map[string]any)
				if gte, ok := b["gte"].(float64); ok && value < gte {
					return false
				}
			}
		default:
			return false
		}
	}
	return true
}

func lookupPath(source map[string]any, path string) (any, bool) {
	var current any = source
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

// SceneDoc builds a config, product, or blacklist document.
func SceneDoc(index, id string, master, slave []string) Doc {
	return Doc{
		Index: index,
		ID:    id,
		Source: map[string]any{
			"metadata": map[string]any{
				"master_scenes": toAny(master),
				"slave_scenes":  toAny(slave),
			},
		},
	}
}

// JobDoc builds a job record carrying scene metadata, job type, and retry count.
func JobDoc(id, jobType string, retryCount int, master, slave []string) Doc {
	doc := SceneDoc("job_status-current", id, master, slave)
	doc.Source["job"] = map[string]any{
		"retry_count": float64(retryCount),
		"job_info": map[string]any{
			"job_payload": map[string]any{"job_type": jobType},
		},
	}
	return doc
}

// SceneDocs builds n distinct scene documents for pagination tests.
func SceneDocs(index string, n int) []Doc {
	docs := make([]Doc, 0, n)
	for i := 0; i < n; i++ {
		docs = append(docs, SceneDoc(index, fmt.Sprintf("doc-%05d", i),
			[]string{fmt.Sprintf("M%05d", i)}, []string{fmt.Sprintf("S%05d", i)}))
	}
	return docs
}

func toAny(values []string) []any {
	out := make([]any, 0, len(values))
	for _, v := range values {
		out = append(out, v)
	}
	return out
}
