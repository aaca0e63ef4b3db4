package pipeline

import (
	"fmt"

	"github.com/fwojciec/crew"
)

const plannerPrompt = `You are the planner of a small software team.
Read the project description and requirements and produce a concise, numbered
implementation plan: components, files to create, and the order to build them.
Use the create_plan tool when it helps structure the plan.
Reply with the final plan only.`

const developerPrompt = `You are the developer of a small software team.
You receive an implementation plan. Write the code and its documentation by
calling the file tools (create_folder, write_file, read_file, list_files).
Every path is relative to the generated code folder.
When all files are written, reply with a summary of the files you created and
how to run the project.`

const testerPrompt = `You are the tester of a small software team.
You receive the developer's summary of the generated code. Inspect the code,
generate tests with the generate_tests tool, run them, and reply with the test
code and a short report of the results.`

// DefaultPrompt returns the built-in role prompt for agent.
func DefaultPrompt(agent crew.AgentName) string {
	switch agent {
	case crew.AgentPlanner:
		return plannerPrompt
	case crew.AgentDeveloper:
		return developerPrompt
	case crew.AgentTester:
		return testerPrompt
	}
	return ""
}

// PlannerInput renders the planner stage input.
func PlannerInput(description, requirements string) string {
	return fmt.Sprintf("Description:\n%s\nRequirements:\n%s", description, requirements)
}
