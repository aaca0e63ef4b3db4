package openai

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/fwojciec/crew"
	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Interface compliance check.
var _ crew.Provider = (*Client)(nil)

// Client implements [crew.Provider] for the OpenAI Chat Completions API.
type Client struct {
	inner openai.Client
	model string
	now   func() time.Time
}

// Option configures a [Client].
type Option func(*config)

type config struct {
	model      string
	reqOpts    []option.RequestOption
	maxRetries int
}

// WithModel sets the model ID. Default is gpt-4o-mini.
func WithModel(model string) Option {
	return func(c *config) { c.model = model }
}

// WithBaseURL sets the API base URL, e.g. for OpenAI-compatible servers.
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

// New creates a new OpenAI [Client] with the given API key and options.
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
		inner: openai.NewClient(reqOpts...),
		model: cfg.model,
		now:   time.Now,
	}
}

// Generate sends the conversation to the Chat Completions API and returns
// the model's turn.
func (c *Client) Generate(ctx context.Context, req crew.Request) (crew.AssistantMessage, error) {
	params, err := c.buildParams(req)
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("openai: %w", err)
	}
	resp, err := c.inner.Chat.Completions.New(ctx, params)
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("openai: %w", err)
	}
	msg, err := ConvertResponse(resp)
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("openai: %w", err)
	}
	msg.Timestamp = c.now()
	return msg, nil
}

func (c *Client) buildParams(req crew.Request) (openai.ChatCompletionNewParams, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}
	tools, err := ConvertTools(req.Tools)
	if err != nil {
		return openai.ChatCompletionNewParams{}, err
	}
	params := openai.ChatCompletionNewParams{
		Model:               model,
		Messages:            ConvertMessages(req.Messages),
		MaxCompletionTokens: openai.Int(int64(maxTokens)),
		Tools:               tools,
	}
	if req.Temperature != nil {
		params.Temperature = openai.Float(*req.Temperature)
	}
	return params, nil
}

// ConvertMessages converts crew Messages to OpenAI chat messages. Thinking
// blocks have no Chat Completions equivalent and are dropped.
// Exported for testing.
func ConvertMessages(msgs []crew.Message) []openai.ChatCompletionMessageParamUnion {
	result := make([]openai.ChatCompletionMessageParamUnion, 0, len(msgs))
	for _, msg := range msgs {
		switch m := msg.(type) {
		case crew.SystemMessage:
			result = append(result, openai.SystemMessage(m.Content))
		case crew.HumanMessage:
			result = append(result, openai.UserMessage(m.Content))
		case crew.AssistantMessage:
			calls := m.ToolCalls()
			if len(calls) == 0 {
				result = append(result, openai.AssistantMessage(m.Text()))
				continue
			}
			am := &openai.ChatCompletionAssistantMessageParam{Role: "assistant"}
			if text := m.Text(); text != "" {
				am.Content.OfString = openai.String(text)
			}
			for _, tc := range calls {
				args := string(tc.Arguments)
				if args == "" {
					args = "{}"
				}
				am.ToolCalls = append(am.ToolCalls, openai.ChatCompletionMessageToolCallParam{
					ID:   tc.ID,
					Type: "function",
					Function: openai.ChatCompletionMessageToolCallFunctionParam{
						Name:      tc.Name,
						Arguments: args,
					},
				})
			}
			result = append(result, openai.ChatCompletionMessageParamUnion{OfAssistant: am})
		case crew.ToolMessage:
			content := m.Content
			if m.IsError {
				content = "error: " + content
			}
			result = append(result, openai.ToolMessage(content, m.ToolCallID))
		}
	}
	return result
}

// ConvertTools converts crew Tools to OpenAI function tools.
// Exported for testing.
func ConvertTools(tools []crew.Tool) ([]openai.ChatCompletionToolParam, error) {
	if len(tools) == 0 {
		return nil, nil
	}
	result := make([]openai.ChatCompletionToolParam, len(tools))
	for i, t := range tools {
		var params openai.FunctionParameters
		if len(t.Parameters) > 0 {
			if err := json.Unmarshal(t.Parameters, &params); err != nil {
				return nil, fmt.Errorf("tool %s schema: %w", t.Name, err)
			}
		}
		result[i] = openai.ChatCompletionToolParam{
			Type: "function",
			Function: openai.FunctionDefinitionParam{
				Name:        t.Name,
				Description: openai.String(t.Description),
				Parameters:  params,
			},
		}
	}
	return result, nil
}

// ConvertResponse converts the first choice of a completion into an
// AssistantMessage.
// Exported for testing.
func ConvertResponse(resp *openai.ChatCompletion) (crew.AssistantMessage, error) {
	if len(resp.Choices) == 0 {
		return crew.AssistantMessage{}, errors.New("no choices returned")
	}
	ch0 := resp.Choices[0]

	var msg crew.AssistantMessage
	if ch0.Message.Content != "" {
		msg.Content = append(msg.Content, crew.TextBlock{Text: ch0.Message.Content})
	}
	for _, tc := range ch0.Message.ToolCalls {
		args := json.RawMessage(tc.Function.Arguments)
		if len(args) == 0 {
			args = json.RawMessage(`{}`)
		}
		msg.Content = append(msg.Content, crew.ToolCallBlock{
			ID:        tc.ID,
			Name:      tc.Function.Name,
			Arguments: args,
		})
	}
	msg.RawStopReason = ch0.FinishReason
	msg.StopReason = mapFinishReason(ch0.FinishReason)
	msg.Usage = crew.Usage{
		InputTokens:  int(resp.Usage.PromptTokens),
		OutputTokens: int(resp.Usage.CompletionTokens),
	}
	return msg, nil
}

func mapFinishReason(r string) crew.StopReason {
	switch r {
	case "stop":
		return crew.StopEndTurn
	case "length":
		return crew.StopLength
	case "tool_calls", "function_call":
		return crew.StopToolUse
	case "content_filter":
		return crew.StopError
	}
	return crew.StopUnknown
}
