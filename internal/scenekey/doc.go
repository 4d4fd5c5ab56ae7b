// Package scenekey derives content-based identities for interferogram records.
//
// A record is identified by its master and slave scene lists. Each list is
// trimmed, sorted, and hashed on its own; the two 128-bit digests joined by an
// underscore form the Key. The same scenes in any input order give the same
// Key, which lets configurations, products, blacklist entries, and failed
// jobs be matched across collections that never share a document id.
package scenekey
