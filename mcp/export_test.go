package mcp

// Output helpers exposed for tests.
var (
	CleanOutput = cleanOutput
	ClipTail    = clipTail
)
