package crew

// Usage is the token consumption reported by a provider for one turn.
// Metrics do not use it; it is kept for logging and comparison with the
// length-based estimate.
type Usage struct {
	InputTokens  int
	OutputTokens int
}
