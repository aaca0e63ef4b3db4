package crew

import (
	"slices"
	"sync"
	"time"
)

// SessionIDLayout is the time layout of metrics session identifiers.
const SessionIDLayout = "20060102_150405"

// AgentMetrics holds the counters of one metrics bucket.
type AgentMetrics struct {
	APICalls     int
	InputTokens  int
	OutputTokens int
	TotalTokens  int
	ToolCalls    int
	Iterations   int
	Errors       int
}

// Add returns the pointwise sum of m and o.
func (m AgentMetrics) Add(o AgentMetrics) AgentMetrics {
	return AgentMetrics{
		APICalls:     m.APICalls + o.APICalls,
		InputTokens:  m.InputTokens + o.InputTokens,
		OutputTokens: m.OutputTokens + o.OutputTokens,
		TotalTokens:  m.TotalTokens + o.TotalTokens,
		ToolCalls:    m.ToolCalls + o.ToolCalls,
		Iterations:   m.Iterations + o.Iterations,
		Errors:       m.Errors + o.Errors,
	}
}

// AverageTokensPerCall returns TotalTokens / APICalls, or 0 with no calls.
func (m AgentMetrics) AverageTokensPerCall() float64 {
	if m.APICalls == 0 {
		return 0
	}
	return float64(m.TotalTokens) / float64(m.APICalls)
}

// MetricsObserver is notified after every accumulator mutation.
// Implementations export the counters elsewhere (e.g. OpenTelemetry).
type MetricsObserver interface {
	APICall(agent AgentName, inputTokens, outputTokens int)
	ToolCall(agent AgentName)
	Iteration(agent AgentName)
	Error(agent AgentName)
}

// Metrics accumulates per-agent counters and a grand total for one pipeline
// session. The total always equals the pointwise sum of the agent buckets.
// Methods are safe for concurrent use.
//
// Recording into an agent that has no bucket creates a zeroed one rather
// than failing; WithUnknownAgentHandler observes such names. An agent named
// like the total bucket is recorded under TotalAgentBucket so the two never
// share a key.
type Metrics struct {
	now       func() time.Time
	observer  MetricsObserver
	onUnknown func(AgentName)

	mu        sync.Mutex
	sessionID string
	start     time.Time
	end       time.Time
	agents    map[AgentName]*AgentMetrics
	total     AgentMetrics
}

// MetricsOption configures a Metrics.
type MetricsOption func(*Metrics)

// WithClock sets the time source. Default is time.Now.
func WithClock(now func() time.Time) MetricsOption {
	return func(m *Metrics) { m.now = now }
}

// WithMetricsObserver mirrors every mutation into o.
func WithMetricsObserver(o MetricsObserver) MetricsOption {
	return func(m *Metrics) { m.observer = o }
}

// WithUnknownAgentHandler sets a callback invoked the first time an
// unrecognized agent name creates a bucket.
func WithUnknownAgentHandler(fn func(AgentName)) MetricsOption {
	return func(m *Metrics) { m.onUnknown = fn }
}

// NewMetrics creates a Metrics with zeroed buckets for every stage and a
// session id derived from the current time.
func NewMetrics(opts ...MetricsOption) *Metrics {
	m := &Metrics{now: time.Now}
	for _, o := range opts {
		o(m)
	}
	m.resetLocked()
	return m
}

// SessionID returns the current session identifier.
func (m *Metrics) SessionID() string {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.sessionID
}

// Start records the session start time. Only the first call has effect,
// and none once the session has ended.
func (m *Metrics) Start() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.start.IsZero() && m.end.IsZero() {
		m.start = m.now()
	}
}

// End records the session end time. Only the first call has effect. An
// ended session is frozen: later Start and Record calls are ignored until
// Reset.
func (m *Metrics) End() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.end.IsZero() {
		m.end = m.now()
	}
}

// RecordAPICall counts one model call with its estimated token usage.
// Negative token counts are treated as zero.
func (m *Metrics) RecordAPICall(agent AgentName, inputTokens, outputTokens int) {
	inputTokens, outputTokens = max(0, inputTokens), max(0, outputTokens)
	agent, ok := m.update(agent, func(b *AgentMetrics) {
		b.APICalls++
		b.InputTokens += inputTokens
		b.OutputTokens += outputTokens
		b.TotalTokens += inputTokens + outputTokens
	})
	if ok && m.observer != nil {
		m.observer.APICall(agent, inputTokens, outputTokens)
	}
}

// RecordToolCall counts one tool call request.
func (m *Metrics) RecordToolCall(agent AgentName) {
	agent, ok := m.update(agent, func(b *AgentMetrics) { b.ToolCalls++ })
	if ok && m.observer != nil {
		m.observer.ToolCall(agent)
	}
}

// RecordIteration counts one agent loop iteration.
func (m *Metrics) RecordIteration(agent AgentName) {
	agent, ok := m.update(agent, func(b *AgentMetrics) { b.Iterations++ })
	if ok && m.observer != nil {
		m.observer.Iteration(agent)
	}
}

// RecordError counts one failure.
func (m *Metrics) RecordError(agent AgentName) {
	agent, ok := m.update(agent, func(b *AgentMetrics) { b.Errors++ })
	if ok && m.observer != nil {
		m.observer.Error(agent)
	}
}

// update applies fn to the agent bucket and to the total under one lock,
// so the sum invariant holds after every mutation. It returns the bucket
// name used and false when the session has ended.
func (m *Metrics) update(agent AgentName, fn func(*AgentMetrics)) (AgentName, bool) {
	requested := agent
	if agent == TotalBucket {
		agent = TotalAgentBucket
	}
	m.mu.Lock()
	if !m.end.IsZero() {
		m.mu.Unlock()
		return agent, false
	}
	b, ok := m.agents[agent]
	if !ok {
		b = &AgentMetrics{}
		m.agents[agent] = b
	}
	fn(b)
	fn(&m.total)
	m.mu.Unlock()
	if !ok && m.onUnknown != nil {
		m.onUnknown(requested)
	}
	return agent, true
}

// Agent returns a copy of the agent's bucket. It does not create buckets.
func (m *Metrics) Agent(agent AgentName) AgentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	if b, ok := m.agents[agent]; ok {
		return *b
	}
	return AgentMetrics{}
}

// Total returns a copy of the total bucket.
func (m *Metrics) Total() AgentMetrics {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.total
}

// Summary returns a read-only snapshot of the session.
func (m *Metrics) Summary() MetricsSummary {
	m.mu.Lock()
	defer m.mu.Unlock()
	s := MetricsSummary{
		SessionID: m.sessionID,
		StartTime: m.start,
		EndTime:   m.end,
		Agents:    make(map[AgentName]AgentMetrics, len(m.agents)),
		Total:     m.total,
		Timestamp: m.now(),
	}
	if !m.start.IsZero() && !m.end.IsZero() {
		s.Duration = m.end.Sub(m.start)
	}
	for name, b := range m.agents {
		s.Agents[name] = *b
	}
	return s
}

// Reset zeroes every bucket, clears the timestamps and starts a new session
// id.
func (m *Metrics) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.resetLocked()
}

func (m *Metrics) resetLocked() {
	m.sessionID = m.now().Format(SessionIDLayout)
	m.start = time.Time{}
	m.end = time.Time{}
	m.total = AgentMetrics{}
	m.agents = make(map[AgentName]*AgentMetrics, 3)
	for _, a := range Agents() {
		m.agents[a] = &AgentMetrics{}
	}
}

// MetricsSummary is a snapshot of a metrics session. StartTime and EndTime
// are zero when not recorded; Duration is zero until the session ends.
type MetricsSummary struct {
	SessionID string
	StartTime time.Time
	EndTime   time.Time
	Duration  time.Duration
	Agents    map[AgentName]AgentMetrics
	Total     AgentMetrics
	Timestamp time.Time
}

// ExecutionTimeSeconds returns Duration in seconds.
func (s MetricsSummary) ExecutionTimeSeconds() float64 {
	return s.Duration.Seconds()
}

// AgentOrder returns the bucket names with the pipeline stages first in
// execution order followed by any other names sorted alphabetically.
func (s MetricsSummary) AgentOrder() []AgentName {
	var order, extra []AgentName
	for _, a := range Agents() {
		if _, ok := s.Agents[a]; ok {
			order = append(order, a)
		}
	}
	for name := range s.Agents {
		if !name.Valid() {
			extra = append(extra, name)
		}
	}
	slices.Sort(extra)
	return append(order, extra...)
}

// SumAgents returns the pointwise sum of the agent buckets.
func (s MetricsSummary) SumAgents() AgentMetrics {
	var sum AgentMetrics
	for _, b := range s.Agents {
		sum = sum.Add(b)
	}
	return sum
}
