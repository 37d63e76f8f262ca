// Package runtime drives a conversation state through the turn graph.
//
// The graph is a declarative transition table (see DefaultTransitions). The
// engine runs each stage at most once per turn, applies its delta and hands a
// stage event to the caller's emitter before advancing. Persistence and
// leasing are the caller's concern.
package runtime
