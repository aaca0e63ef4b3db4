package crew

import "fmt"

// AgentName identifies a pipeline stage and its metrics bucket.
type AgentName string

const (
	AgentPlanner   AgentName = "planner"
	AgentDeveloper AgentName = "developer"
	AgentTester    AgentName = "tester"
)

// TotalBucket is the key under which the grand total is reported.
const TotalBucket = "total"

// TotalAgentBucket holds the counters of an agent named TotalBucket.
const TotalAgentBucket AgentName = "total_agent"

// Agents returns the pipeline stages in execution order.
func Agents() []AgentName {
	return []AgentName{AgentPlanner, AgentDeveloper, AgentTester}
}

// Valid reports whether a is one of the known stages.
func (a AgentName) Valid() bool {
	switch a {
	case AgentPlanner, AgentDeveloper, AgentTester:
		return true
	}
	return false
}

// ParseAgentName converts s to an AgentName.
func ParseAgentName(s string) (AgentName, error) {
	a := AgentName(s)
	if !a.Valid() {
		return "", fmt.Errorf("%q: %w", s, ErrUnknownAgent)
	}
	return a, nil
}
