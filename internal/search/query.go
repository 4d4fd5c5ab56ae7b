package search

// Query is the filter predicate and paging hint sent with every page request.
type Query struct {
	// Filter is marshalled as the request's "query" member.
	Filter any
	// From is the offset of the first page; zero starts at the beginning.
	From int
	// Size is the page size; zero or negative uses the client default.
	Size int
}

// MatchAll selects every document in a collection.
func MatchAll() Query {
	return Query{Filter: map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"match_all": map[string]any{}},
			},
		},
	}}
}

// FailedJobs selects job records of jobType whose retry count is at least threshold.
func FailedJobs(jobType string, threshold int) Query {
	return Query{Filter: map[string]any{
		"bool": map[string]any{
			"must": []any{
				map[string]any{"term": map[string]any{FieldJobType: jobType}},
				map[string]any{"range": map[string]any{FieldRetryCount: map[string]any{"gte": threshold}}},
			},
		},
	}}
}

// Document paths used by FailedJobs, relative to _source.
const (
	FieldJobType    = "job.job_info.job_payload.job_type"
	FieldRetryCount = "job.retry_count"
)

type requestBody struct {
	Query any `json:"query"`
	From  int `json:"from"`
	Size  int `json:"size"`
}
