// Package search talks to the document index behind the sweep.
//
// Client.Search POSTs {query, from, size} to <base>/es/<pattern>/_search and
// follows pagination until every hit is collected. Transient failures are
// retried with capped exponential backoff; anything that survives the retries
// fails the whole call. Pages may be fetched in parallel once the total is
// known, and are always merged in page order.
package search
