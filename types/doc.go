// Package types defines the shared data model for QueryFlow:
// the AgentState record threaded through the workflow state machine,
// retrieved-document and citation shapes, and the framework error type.
//
// Core types:
//   - AgentState — the single mutable record for one query execution
//   - RetrievedDocument / Citation — retrieval and answer-sourcing shapes
//   - Error / ErrorCode — structured errors with retryability metadata
package types
