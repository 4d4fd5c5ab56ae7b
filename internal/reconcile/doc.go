// Package reconcile matches configurations against produced, blacklisted,
// and failed-job records by scene key.
//
// Indexer turns search records into key indexes under an explicit collision
// policy, Reconcile computes the missing set, and FailureFilter narrows the
// missing set to configurations whose job has failed at least the threshold
// number of times. Everything except FailureFilter's query is pure.
package reconcile
