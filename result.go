package crew

// AgentRunResult is produced exactly once per agent loop run.
type AgentRunResult struct {
	Agent          AgentName
	RawOutput      string
	IterationCount int
	ToolCallCount  int
}

// PipelineResult is returned only when all three stages succeed.
type PipelineResult struct {
	Plan      AgentRunResult
	Code      AgentRunResult
	Tests     AgentRunResult
	Metrics   MetricsSummary
	Artifacts []string
}

// Stage returns the result of the given stage.
func (r PipelineResult) Stage(agent AgentName) (AgentRunResult, bool) {
	switch agent {
	case AgentPlanner:
		return r.Plan, true
	case AgentDeveloper:
		return r.Code, true
	case AgentTester:
		return r.Tests, true
	}
	return AgentRunResult{}, false
}
