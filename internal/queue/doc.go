// Package queue is the live help-request queue: an ordered store of entries,
// the state machine that governs them and the engine that serialises every
// mutation.
//
// The engine never performs I/O. Each mutating call returns a Change that the
// caller hands to persistence and broadcast collaborators after the call has
// returned.
package queue
