// Package core defines the shared data model of taskmesh: the role-tagged
// message union, conversation content parts, the tool-call lifecycle record
// (approval and execution states, captured errors), generation metadata and
// token usage, the streaming event taxonomy, and a JSON serialization helper
// that preserves time values across the LLM text boundary.
//
// Everything in this package is plain data. Behaviour (tool execution,
// generation, task orchestration) lives in the tool, generation and team
// packages which all consume these types.
package core
