package crew

// Theme maps progress UI roles to ANSI palette indices (0-15). Indices
// rather than RGB values keep the UI in the terminal's own palette; a
// negative index leaves the role uncolored.
type Theme struct {
	Stage    int // Running stage accent
	ToolCall int // Tool call status lines
	Error    int // Error messages
	Success  int // Completed stages
	Muted    int // Pending stages, summaries
	CodeBg   int // Code block background
	Accent   int // Headings, focused block
}

// DefaultTheme returns the default ANSI color mapping.
func DefaultTheme() Theme {
	return Theme{
		Stage:    4,
		ToolCall: 3,
		Error:    1,
		Success:  2,
		Muted:    8,
		CodeBg:   0,
		Accent:   5,
	}
}
