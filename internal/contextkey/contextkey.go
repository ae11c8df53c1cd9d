// Package contextkey defines the unexported-type context keys shared
// across packages, so values stashed by one layer can't collide with
// another package's use of context.WithValue.
package contextkey

type key int

const (
	ContextKeyRequestID key = iota
	ContextKeyUserID
	ContextKeyConnectionID
	ContextKeyCorrelationID
)
