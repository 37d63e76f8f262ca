/*
Package domain contains the core domain models of the threadline orchestrator.

It defines the conversation state carried through a turn, the additive deltas
produced by each stage, the closed set of capabilities, and the events and
errors surfaced to callers. The package is kept pure and free of I/O, network
and persistence concerns.

# Key Entities

  - ConversationState: the per-thread record (messages, current query, verdict, answer).
  - Delta: the additive output of one stage, applied to the state by the engine.
  - CapabilityName: the closed, enumerated set of external operations.
  - Stage: a node of the execution graph (rewrite, grade, tools, answer).
  - Event: the ordered progress notification published after every stage.
*/
package domain
