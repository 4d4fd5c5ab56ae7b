// Package notifications delivers sweep outcomes to ntfy.
//
// A run that finds blacklist candidates, or fails, publishes one message to
// the configured topic. With no topic configured NewService returns a no-op
// so callers never branch on whether notifications are enabled.
package notifications
