package bubbletea

// RenderContent exports renderContent for testing.
func RenderContent(m Model) string {
	return m.renderContent()
}

// Header exports header for testing.
func Header(m Model) string {
	return m.header()
}

// BlockFocus exports the focused block index for testing.
func BlockFocus(m Model) int {
	return m.blockFocus
}

// SetRunningWithCancel puts the model in a running state with a cancel
// function.
func SetRunningWithCancel(m Model, cancel func()) Model {
	m.running = true
	m.cancel = cancel
	return m
}
