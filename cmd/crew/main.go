// Command crew runs a planner, a developer and a tester agent in sequence
// to turn a project description into code and tests.
//
// Usage:
//
//	GEMINI_API_KEY=...    crew run "a todo list CLI" -r "store items in JSON"
//	ANTHROPIC_API_KEY=... crew run --plain "a todo list CLI"
//	crew history
//	crew history show <id>
//	crew metrics show metrics/metrics_20250101_120000.json
//
// Each agent talks to its own MCP tool server, started from the stages
// section of crew.yaml. API keys may be placed in a .env file.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
)

// version is set at build time with -ldflags "-X main.version=...".
var version = "dev"

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "crew: %v\n", err)
		stop()
		os.Exit(1)
	}
}
