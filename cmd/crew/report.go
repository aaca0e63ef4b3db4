package main

import (
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/charmbracelet/lipgloss/table"
	"github.com/fwojciec/crew"
	"github.com/mattn/go-runewidth"
)

var (
	headerStyle = lipgloss.NewStyle().Bold(true).Padding(0, 1)
	cellStyle   = lipgloss.NewStyle().Padding(0, 1)
	totalStyle  = cellStyle.Bold(true)
	titleStyle  = lipgloss.NewStyle().Bold(true)
)

func newTable() *table.Table {
	return table.New().
		Border(lipgloss.NormalBorder()).
		StyleFunc(func(row, col int) lipgloss.Style {
			if row == table.HeaderRow {
				return headerStyle
			}
			return cellStyle
		})
}

// writeSummary prints the metrics of a session: one row per agent, the
// total, the execution time and the average tokens per API call.
func writeSummary(w io.Writer, s crew.MetricsSummary) {
	row := func(name string, m crew.AgentMetrics) []string {
		return []string{
			name,
			strconv.Itoa(m.APICalls),
			strconv.Itoa(m.InputTokens),
			strconv.Itoa(m.OutputTokens),
			strconv.Itoa(m.TotalTokens),
			strconv.Itoa(m.ToolCalls),
			strconv.Itoa(m.Iterations),
			strconv.Itoa(m.Errors),
			fmt.Sprintf("%.1f", m.AverageTokensPerCall()),
		}
	}

	order := s.AgentOrder()
	t := newTable().
		Headers("Agent", "API calls", "Input", "Output", "Tokens", "Tool calls", "Iterations", "Errors", "Avg/call").
		StyleFunc(func(r, c int) lipgloss.Style {
			switch {
			case r == table.HeaderRow:
				return headerStyle
			case r == len(order):
				return totalStyle
			}
			return cellStyle
		})
	for _, a := range order {
		t.Row(row(string(a), s.Agents[a])...)
	}
	t.Row(row(crew.TotalBucket, s.Total)...)

	fmt.Fprintln(w, titleStyle.Render("Metrics "+s.SessionID))
	fmt.Fprintln(w, t.String())
	fmt.Fprintf(w, "Execution time: %.2fs\n", s.ExecutionTimeSeconds())
	fmt.Fprintf(w, "Average tokens per API call: %.1f\n", s.Total.AverageTokensPerCall())
}

// writeResult prints the stage outputs and the artifacts of a run.
func writeResult(w io.Writer, res *crew.PipelineResult) {
	for _, a := range crew.Agents() {
		r, _ := res.Stage(a)
		fmt.Fprintln(w, titleStyle.Render("== "+string(a)+" =="))
		fmt.Fprintln(w, strings.TrimSpace(r.RawOutput))
		fmt.Fprintln(w)
	}
	if len(res.Artifacts) > 0 {
		fmt.Fprintln(w, titleStyle.Render("Artifacts"))
		for _, p := range res.Artifacts {
			fmt.Fprintln(w, "  "+p)
		}
		fmt.Fprintln(w)
	}
}

const descriptionWidth = 40

// writeHistory prints recorded runs, most recent first.
func writeHistory(w io.Writer, runs []crew.Run) {
	if len(runs) == 0 {
		fmt.Fprintln(w, "No runs recorded.")
		return
	}
	t := newTable().Headers("ID", "Started", "Status", "Duration", "Tokens", "Description")
	for _, r := range runs {
		t.Row(
			shortID(r.ID),
			r.StartedAt.Local().Format(time.DateTime),
			string(r.Status),
			fmt.Sprintf("%.1fs", r.Metrics.ExecutionTimeSeconds()),
			strconv.Itoa(r.Metrics.Total.TotalTokens),
			runewidth.Truncate(firstLine(r.Description), descriptionWidth, "…"),
		)
	}
	fmt.Fprintln(w, t.String())
}

// writeRun prints one recorded run in full.
func writeRun(w io.Writer, r crew.Run) {
	fmt.Fprintf(w, "Run:          %s\n", r.ID)
	fmt.Fprintf(w, "Session:      %s\n", r.SessionID)
	fmt.Fprintf(w, "Status:       %s\n", r.Status)
	fmt.Fprintf(w, "Started:      %s\n", r.StartedAt.Local().Format(time.DateTime))
	fmt.Fprintf(w, "Ended:        %s\n", r.EndedAt.Local().Format(time.DateTime))
	if r.Error != "" {
		fmt.Fprintf(w, "Error:        %s\n", r.Error)
	}
	fmt.Fprintf(w, "Description:  %s\n", r.Description)
	if r.Requirements != "" {
		fmt.Fprintf(w, "Requirements: %s\n", r.Requirements)
	}
	fmt.Fprintln(w)
	for _, s := range []struct{ name, out string }{
		{string(crew.AgentPlanner), r.Plan},
		{string(crew.AgentDeveloper), r.Code},
		{string(crew.AgentTester), r.Tests},
	} {
		if s.out == "" {
			continue
		}
		fmt.Fprintln(w, titleStyle.Render("== "+s.name+" =="))
		fmt.Fprintln(w, strings.TrimSpace(s.out))
		fmt.Fprintln(w)
	}
	writeSummary(w, r.Metrics)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

func firstLine(s string) string {
	line, _, _ := strings.Cut(strings.TrimSpace(s), "\n")
	return line
}
