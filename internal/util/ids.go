package util

import "github.com/google/uuid"

// NewID returns a new UUID string. All engine-assigned identifiers (messages,
// tool calls, threads, tasks) are produced here so tests can rely on a single
// shape.
func NewID() string { return uuid.NewString() }
