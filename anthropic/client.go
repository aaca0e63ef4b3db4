package anthropic

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/option"
	"github.com/fwojciec/crew"
)

// Interface compliance check.
var _ crew.Provider = (*Client)(nil)

// Client implements [crew.Provider] for the Anthropic Messages API.
type Client struct {
	inner anthropic.Client
	model anthropic.Model
	now   func() time.Time
}

// Option configures a [Client].
type Option func(*config)

type config struct {
	model      anthropic.Model
	reqOpts    []option.RequestOption
	maxRetries int
}

// WithModel sets the model ID. Default is claude-sonnet-4.
func WithModel(model string) Option {
	return func(c *config) { c.model = anthropic.Model(model) }
}

// WithBaseURL sets the API base URL. Useful for testing with httptest.
func WithBaseURL(url string) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithBaseURL(url)) }
}

// WithHTTPClient sets a custom HTTP client.
func WithHTTPClient(hc *http.Client) Option {
	return func(c *config) { c.reqOpts = append(c.reqOpts, option.WithHTTPClient(hc)) }
}

// WithMaxRetries sets how often the SDK retries failed requests. Default 2.
func WithMaxRetries(n int) Option {
	return func(c *config) { c.maxRetries = n }
}

// New creates a new Anthropic [Client] with the given API key and options.
func New(apiKey string, opts ...Option) *Client {
	cfg := config{model: defaultModel, maxRetries: 2}
	for _, o := range opts {
		o(&cfg)
	}
	reqOpts := append([]option.RequestOption{
		option.WithAPIKey(apiKey),
		option.WithMaxRetries(cfg.maxRetries),
	}, cfg.reqOpts...)
	return &Client{
		inner: anthropic.NewClient(reqOpts...),
		model: cfg.model,
		now:   time.Now,
	}
}

// Generate sends the conversation to the Messages API and returns the
// model's turn.
func (c *Client) Generate(ctx context.Context, req crew.Request) (crew.AssistantMessage, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("anthropic: %w", err)
	}
	resp, err := c.inner.Messages.New(ctx, params)
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("anthropic: %w", err)
	}
	msg := ConvertResponse(resp)
	msg.Timestamp = c.now()
	return msg, nil
}

func (c *Client) buildParams(req crew.Request) (anthropic.MessageNewParams, error) {
	model := c.model
	if req.Model != "" {
		model = anthropic.Model(req.Model)
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	system, rest := crew.SplitSystem(req.Messages)

	tools, err := ConvertTools(req.Tools)
	if err != nil {
		return anthropic.MessageNewParams{}, err
	}
	params := anthropic.MessageNewParams{
		Model:     model,
		MaxTokens: int64(maxTokens),
		Messages:  ConvertMessages(rest),
		Tools:     tools,
	}
	if system != "" {
		params.System = []anthropic.TextBlockParam{{Text: system}}
	}
	if req.Temperature != nil {
		params.Temperature = anthropic.Float(*req.Temperature)
	}
	return params, nil
}

// ConvertMessages converts crew Messages to Anthropic message params.
// System messages travel in the request's system field and are skipped.
// Exported for testing.
func ConvertMessages(msgs []crew.Message) []anthropic.MessageParam {
	var result []anthropic.MessageParam
	// Merge consecutive tool results into the same user message.
	mergeable := false
	for _, msg := range msgs {
		switch m := msg.(type) {
		case crew.HumanMessage:
			result = append(result, anthropic.NewUserMessage(anthropic.NewTextBlock(m.Content)))
			mergeable = false
		case crew.AssistantMessage:
			result = append(result, anthropic.NewAssistantMessage(convertContentBlocks(m.Content)...))
			mergeable = false
		case crew.ToolMessage:
			block := anthropic.NewToolResultBlock(m.ToolCallID, m.Content, m.IsError)
			if mergeable {
				last := &result[len(result)-1]
				last.Content = append(last.Content, block)
				continue
			}
			result = append(result, anthropic.NewUserMessage(block))
			mergeable = true
		}
	}
	return result
}

func convertContentBlocks(blocks []crew.ContentBlock) []anthropic.ContentBlockParamUnion {
	result := make([]anthropic.ContentBlockParamUnion, 0, len(blocks))
	for _, b := range blocks {
		switch bl := b.(type) {
		case crew.TextBlock:
			result = append(result, anthropic.NewTextBlock(bl.Text))
		case crew.ThinkingBlock:
			result = append(result, anthropic.NewThinkingBlock(string(bl.Signature), bl.Thinking))
		case crew.ToolCallBlock:
			args := bl.Arguments
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			result = append(result, anthropic.NewToolUseBlock(bl.ID, args, bl.Name))
		}
	}
	return result
}

// ConvertTools converts crew Tools to Anthropic tool params. Parameters
// must be a JSON object schema; its properties and required list are
// carried over.
// Exported for testing.
func ConvertTools(tools []crew.Tool) ([]anthropic.ToolUnionParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]anthropic.ToolUnionParam, len(tools))
	for i, t := range tools {
		var schema struct {
			Properties any      `json:"properties"`
			Required   []string `json:"required"`
		}
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &schema); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
		}
		input := anthropic.ToolInputSchemaParam{Properties: schema.Properties, Required: schema.Required}
		result[i] = anthropic.ToolUnionParamOfTool(input, t.Name)
		if t.Description != "" {
			result[i].OfTool.Description = anthropic.String(t.Description)
		}
	}
	return result, nil
}

// ConvertResponse converts an Anthropic message into an AssistantMessage.
// Exported for testing.
func ConvertResponse(resp *anthropic.Message) crew.AssistantMessage {
	var msg crew.AssistantMessage
	for _, block := range resp.Content {
		switch b := block.AsAny().(type) {
		case anthropic.TextBlock:
			msg.Content = append(msg.Content, crew.TextBlock{Text: b.Text})
		case anthropic.ThinkingBlock:
			msg.Content = append(msg.Content, crew.ThinkingBlock{Thinking: b.Thinking, Signature: []byte(b.Signature)})
		case anthropic.ToolUseBlock:
			args := json.RawMessage(b.Input)
			if len(args) == 0 {
				args = json.RawMessage(`{}`)
			}
			msg.Content = append(msg.Content, crew.ToolCallBlock{ID: b.ID, Name: b.Name, Arguments: args})
		}
	}
	msg.RawStopReason = string(resp.StopReason)
	msg.StopReason = mapStopReason(resp.StopReason)
	msg.Usage = crew.Usage{
		InputTokens:  int(resp.Usage.InputTokens),
		OutputTokens: int(resp.Usage.OutputTokens),
	}
	return msg
}

func mapStopReason(r anthropic.StopReason) crew.StopReason {
	switch r {
	case anthropic.StopReasonEndTurn, anthropic.StopReasonStopSequence:
		return crew.StopEndTurn
	case anthropic.StopReasonMaxTokens:
		return crew.StopLength
	case anthropic.StopReasonToolUse:
		return crew.StopToolUse
	case anthropic.StopReasonRefusal:
		return crew.StopError
	}
	return crew.StopUnknown
}
