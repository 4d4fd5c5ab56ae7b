// Package sweep runs the blacklist candidate pipeline.
//
// A run fetches the configuration, produced, and blacklist collections,
// indexes each by scene key, computes the configurations missing a product,
// keeps those whose job has failed at least count_to_blacklist times, and
// hands the survivors to an Emitter. A file lock under the state directory
// keeps two sweeps on one host from overlapping.
package sweep
