// Package stages implements the units of work of a conversational turn.
//
// Rewriter, Grader, ToolRouter and Answerer are graph nodes: each reads the
// conversation state and returns an additive domain.Delta. None of them
// mutates the state it receives. Suggester runs outside the graph, on demand.
//
// Failures of the rewrite, grade and tool stages are recovered into
// conservative defaults and recorded as degradation notes on the delta. Only
// the Answerer returns an error for a generation failure, and every node
// returns the context error when the turn is cancelled.
package stages
