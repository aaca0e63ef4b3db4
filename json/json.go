// Package json persists metrics summaries as versioned JSON documents.
package json

import (
	"encoding/json"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/fwojciec/crew"
)

// totalKey names the grand total inside the metrics map.
const totalKey = "total"

// envelope is the v1 wire format of a persisted metrics session.
type envelope struct {
	Version              int                   `json:"version"`
	SessionID            string                `json:"session_id"`
	StartTime            *time.Time            `json:"start_time"`
	EndTime              *time.Time            `json:"end_time"`
	ExecutionTimeSeconds float64               `json:"execution_time_seconds"`
	Metrics              map[string]metricsDTO `json:"metrics"`
	Timestamp            time.Time             `json:"timestamp"`
}

type metricsDTO struct {
	APICalls     int `json:"api_calls"`
	InputTokens  int `json:"input_tokens"`
	OutputTokens int `json:"output_tokens"`
	TotalTokens  int `json:"total_tokens"`
	ToolCalls    int `json:"tool_calls"`
	Iterations   int `json:"iterations"`
	Errors       int `json:"errors"`
}

func toDTO(m crew.AgentMetrics) metricsDTO {
	return metricsDTO(m)
}

func (d metricsDTO) domain() crew.AgentMetrics {
	return crew.AgentMetrics(d)
}

// Filename returns the conventional file name for a session's metrics.
func Filename(sessionID string) string {
	return "metrics_" + sessionID + ".json"
}

// MarshalSummary serializes a MetricsSummary in v1 envelope format. The
// grand total is stored under the "total" key of the metrics map.
func MarshalSummary(s crew.MetricsSummary) ([]byte, error) {
	env := envelope{
		Version:              1,
		SessionID:            s.SessionID,
		StartTime:            timePtr(s.StartTime),
		EndTime:              timePtr(s.EndTime),
		ExecutionTimeSeconds: s.ExecutionTimeSeconds(),
		Metrics:              make(map[string]metricsDTO, len(s.Agents)+1),
		Timestamp:            s.Timestamp,
	}
	for name, m := range s.Agents {
		if name == crew.TotalBucket {
			return nil, fmt.Errorf("agent name %q collides with the total bucket", name)
		}
		env.Metrics[string(name)] = toDTO(m)
	}
	env.Metrics[totalKey] = toDTO(s.Total)
	return json.MarshalIndent(env, "", "  ")
}

// UnmarshalSummary deserializes a MetricsSummary from v1 envelope format.
func UnmarshalSummary(data []byte) (crew.MetricsSummary, error) {
	var env envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return crew.MetricsSummary{}, fmt.Errorf("unmarshal envelope: %w", err)
	}
	if env.Version != 1 {
		return crew.MetricsSummary{}, fmt.Errorf("unsupported envelope version: %d", env.Version)
	}
	if env.ExecutionTimeSeconds < 0 || math.IsNaN(env.ExecutionTimeSeconds) {
		return crew.MetricsSummary{}, fmt.Errorf("invalid execution time: %v", env.ExecutionTimeSeconds)
	}
	s := crew.MetricsSummary{
		SessionID: env.SessionID,
		Duration:  time.Duration(env.ExecutionTimeSeconds * float64(time.Second)),
		Agents:    make(map[crew.AgentName]crew.AgentMetrics, len(env.Metrics)),
		Timestamp: env.Timestamp,
	}
	if env.StartTime != nil {
		s.StartTime = *env.StartTime
	}
	if env.EndTime != nil {
		s.EndTime = *env.EndTime
	}
	for name, dto := range env.Metrics {
		if name == totalKey {
			s.Total = dto.domain()
			continue
		}
		s.Agents[crew.AgentName(name)] = dto.domain()
	}
	return s, nil
}

// Save writes a summary to path, creating parent directories as needed.
// The file is replaced atomically.
func Save(path string, s crew.MetricsSummary) error {
	data, err := MarshalSummary(s)
	if err != nil {
		return fmt.Errorf("marshal: %w", err)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("create directories: %w", err)
	}
	tmp := path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("write temp file: %w", err)
	}
	if err := os.Rename(tmp, path); err != nil {
		return fmt.Errorf("rename temp file: %w", err)
	}
	return nil
}

// SaveDir writes a summary into dir under [Filename] and returns the path.
func SaveDir(dir string, s crew.MetricsSummary) (string, error) {
	path := filepath.Join(dir, Filename(s.SessionID))
	return path, Save(path, s)
}

// Load reads a summary from a JSON file.
func Load(path string) (crew.MetricsSummary, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return crew.MetricsSummary{}, fmt.Errorf("read file: %w", err)
	}
	return UnmarshalSummary(data)
}

func timePtr(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
