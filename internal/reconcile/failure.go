package reconcile

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math"

	"ifgsweep/internal/config"
	"ifgsweep/internal/logging"
	"ifgsweep/internal/scenekey"
	"ifgsweep/internal/search"
	"ifgsweep/internal/services"
)

// JobScenePaths are the _source paths searched for a job's scene lists.
var JobScenePaths = []string{"metadata", "job.params"}

// Searcher is the subset of search.Client used by FailureFilter.
type Searcher interface {
	Search(ctx context.Context, pattern string, q search.Query) ([]search.Record, error)
}

// FailedJob is a job record that has failed at least the threshold.
type FailedJob struct {
	Key        scenekey.Key
	JobType    string
	RetryCount int
	Record     search.Record
}

// FailureFilter narrows missing configs to those with a failed job.
type FailureFilter struct {
	Client  Searcher
	Pattern string
	JobType string
	// MalformedPolicy applies to job records without usable scene lists.
	MalformedPolicy string
	Logger          *slog.Logger
}

// Filter returns the entries of missing whose key matches a failed job.
func (f FailureFilter) Filter(ctx context.Context, missing []Entry, threshold int) ([]Entry, error) {
	failed, err := f.FailedJobs(ctx, threshold)
	if err != nil {
		return nil, err
	}
	return Match(missing, failed), nil
}

// FailedJobs queries the job index and keeps records whose job type equals
// JobType and whose retry count is at least threshold. The query already
// filters on both; the in-memory check guards against a looser index mapping.
func (f FailureFilter) FailedJobs(ctx context.Context, threshold int) ([]FailedJob, error) {
	if threshold <= 0 {
		return nil, services.Wrap(services.ErrValidation, "filter", "failed jobs", fmt.Sprintf("threshold must be positive, got %d", threshold), nil)
	}
	if f.Client == nil {
		return nil, services.Wrap(services.ErrConfiguration, "filter", "failed jobs", "search client is nil", nil)
	}
	logger := logging.WithContext(ctx, logging.NewComponentLogger(f.Logger, "failure-filter"))

	records, err := f.Client.Search(ctx, f.Pattern, search.FailedJobs(f.JobType, threshold))
	if err != nil {
		return nil, err
	}

	failed := make([]FailedJob, 0, len(records))
	for _, rec := range records {
		job, ok, err := parseFailedJob(rec)
		if err != nil {
			if f.MalformedPolicy == config.MalformedAbort {
				return nil, services.Wrap(services.ErrMalformedRecord, "filter", f.Pattern, rec.Label(), err)
			}
			logging.WarnWithContext(logger, "malformed job record skipped", "malformed_record",
				logging.String(logging.FieldRecordID, rec.Label()),
				logging.Error(err),
				logging.String(logging.FieldImpact, "job cannot match a missing config"),
				logging.String(logging.FieldErrorHint, "check the job's scene metadata"),
			)
			continue
		}
		if !ok || job.JobType != f.JobType || job.RetryCount < threshold {
			logger.Debug("job record excluded",
				logging.String(logging.FieldRecordID, rec.Label()),
				logging.String("job_type", job.JobType),
				logging.Int("retry_count", job.RetryCount),
			)
			continue
		}
		failed = append(failed, job)
	}
	logger.Info("failed jobs loaded",
		logging.Int("record_count", len(records)),
		logging.Int("failed_count", len(failed)),
		logging.Int("threshold", threshold),
	)
	return failed, nil
}

// Match returns the entries of missing whose key is among failed, in missing order.
func Match(missing []Entry, failed []FailedJob) []Entry {
	keys := make(map[scenekey.Key]struct{}, len(failed))
	for _, job := range failed {
		keys[job.Key] = struct{}{}
	}
	out := make([]Entry, 0)
	for _, entry := range missing {
		if _, ok := keys[entry.Key]; ok {
			out = append(out, entry)
		}
	}
	return out
}

// parseFailedJob extracts key, job type, and retry count. ok is false when
// the job type or retry count is absent; err is set when scenes are unusable.
func parseFailedJob(rec search.Record) (FailedJob, bool, error) {
	key, _, err := scenekey.DeriveSource(rec.Source, JobScenePaths...)
	if err != nil {
		return FailedJob{}, false, err
	}
	job := FailedJob{Key: key, Record: rec}

	var doc map[string]any
	if err := json.Unmarshal(rec.Source, &doc); err != nil {
		return FailedJob{}, false, err
	}
	jobType, typeOK := lookupString(doc, search.FieldJobType)
	retries, retryOK := lookupInt(doc, search.FieldRetryCount)
	job.JobType = jobType
	job.RetryCount = retries
	return job, typeOK && retryOK, nil
}

func lookupString(doc map[string]any, path string) (string, bool) {
	value, ok := scenekey.Lookup(doc, path)
	if !ok {
		return "", false
	}
	s, ok := value.(string)
	return s, ok
}

func lookupInt(doc map[string]any, path string) (int, bool) {
	value, ok := scenekey.Lookup(doc, path)
	if !ok {
		return 0, false
	}
	f, ok := value.(float64)
	if !ok || f != math.Trunc(f) {
		return 0, false
	}
	return int(f), true
}
