// Package llm is the actor invocation boundary for the completeness loop.
//
// It exposes a single blocking capability, Client.Complete, behind which
// concrete LLM backends are registered as Backend implementations. Core loop
// logic never inspects backend types; it sends a Request (messages plus tool
// definitions) and receives a Response (text, tool calls, token usage).
// Transient backend failures are retried with exponential backoff via Retry,
// and all backend errors are classified into the typed hierarchy in errors.go
// so callers can distinguish retryable from terminal failures.
package llm
