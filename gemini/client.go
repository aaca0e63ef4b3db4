package gemini

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/fwojciec/crew"
	"github.com/google/uuid"
	"google.golang.org/genai"
)

// Interface compliance check.
var _ crew.Provider = (*Client)(nil)

// Client implements [crew.Provider] for the Google Gemini API.
type Client struct {
	client  *genai.Client
	model   string
	baseURL string
	now     func() time.Time
}

// Option configures a [Client].
type Option func(*Client)

// WithModel sets the model ID. Default is gemini-2.5-flash.
func WithModel(model string) Option {
	return func(c *Client) { c.model = model }
}

// WithBaseURL overrides the API endpoint.
func WithBaseURL(url string) Option {
	return func(c *Client) { c.baseURL = url }
}

// New creates a new Gemini [Client] with the given API key and options.
func New(ctx context.Context, apiKey string, opts ...Option) (*Client, error) {
	c := &Client{
		model: defaultModel,
		now:   time.Now,
	}
	for _, o := range opts {
		o(c)
	}
	cc := &genai.ClientConfig{
		APIKey:  apiKey,
		Backend: genai.BackendGeminiAPI,
	}
	if c.baseURL != "" {
		cc.HTTPOptions = genai.HTTPOptions{BaseURL: c.baseURL}
	}
	gc, err := genai.NewClient(ctx, cc)
	if err != nil {
		return nil, fmt.Errorf("gemini: %w", err)
	}
	c.client = gc
	return c, nil
}

// Generate sends the conversation to the Gemini API and returns the
// model's turn.
func (c *Client) Generate(ctx context.Context, req crew.Request) (crew.AssistantMessage, error) {
	model := req.Model
	if model == "" {
		model = c.model
	}
	system, rest := crew.SplitSystem(req.Messages)

	resp, err := c.client.Models.GenerateContent(ctx, model, ConvertMessages(rest), buildConfig(system, req))
	if err != nil {
		return crew.AssistantMessage{}, fmt.Errorf("gemini: %w", err)
	}
	msg, err := ConvertResponse(resp)
	if err != nil {
		return crew.AssistantMessage{}, err
	}
	msg.Timestamp = c.now()
	return msg, nil
}

func buildConfig(system string, req crew.Request) *genai.GenerateContentConfig {
	maxTokens := req.MaxTokens
	if maxTokens == 0 {
		maxTokens = defaultMaxTokens
	}

	config := &genai.GenerateContentConfig{
		MaxOutputTokens: int32(maxTokens),
		Tools:           ConvertTools(req.Tools),
	}

	if system != "" {
		config.SystemInstruction = &genai.Content{
			Parts: []*genai.Part{{Text: system}},
		}
	}

	if req.Temperature != nil {
		temp := float32(*req.Temperature)
		config.Temperature = &temp
	}

	return config
}

// ConvertMessages converts crew Messages to genai Contents. System
// messages are carried in the request config and skipped here.
// Exported for testing.
func ConvertMessages(msgs []crew.Message) []*genai.Content {
	var result []*genai.Content
	for _, msg := range msgs {
		switch m := msg.(type) {
		case crew.HumanMessage:
			result = append(result, &genai.Content{
				Role:  genai.RoleUser,
				Parts: []*genai.Part{{Text: m.Content}},
			})
		case crew.AssistantMessage:
			result = append(result, &genai.Content{
				Role:  genai.RoleModel,
				Parts: convertParts(m.Content),
			})
		case crew.ToolMessage:
			key := "output"
			if m.IsError {
				key = "error"
			}
			part := &genai.Part{
				FunctionResponse: &genai.FunctionResponse{
					ID:       m.ToolCallID,
					Name:     m.ToolName,
					Response: map[string]any{key: m.Content},
				},
			}
			// Consecutive tool results answer one model turn and travel together.
			if n := len(result); n > 0 && isFunctionResponses(result[n-1]) {
				result[n-1].Parts = append(result[n-1].Parts, part)
				continue
			}
			result = append(result, &genai.Content{Role: genai.RoleUser, Parts: []*genai.Part{part}})
		}
	}
	return result
}

func isFunctionResponses(c *genai.Content) bool {
	if c.Role != genai.RoleUser || len(c.Parts) == 0 {
		return false
	}
	for _, p := range c.Parts {
		if p.FunctionResponse == nil {
			return false
		}
	}
	return true
}

func convertParts(blocks []crew.ContentBlock) []*genai.Part {
	var parts []*genai.Part
	for _, b := range blocks {
		switch bl := b.(type) {
		case crew.TextBlock:
			parts = append(parts, &genai.Part{Text: bl.Text})
		case crew.ThinkingBlock:
			p := &genai.Part{Text: bl.Thinking, Thought: true}
			if bl.Signature != nil {
				p.ThoughtSignature = bl.Signature
			}
			parts = append(parts, p)
		case crew.ToolCallBlock:
			var args map[string]any
			_ = json.Unmarshal(bl.Arguments, &args)
			parts = append(parts, &genai.Part{
				FunctionCall: &genai.FunctionCall{
					ID:   bl.ID,
					Name: bl.Name,
					Args: args,
				},
			})
		}
	}
	return parts
}

// ConvertTools converts crew Tools to genai Tools.
// Exported for testing.
func ConvertTools(tools []crew.Tool) []*genai.Tool {
	if len(tools) == 0 {
		return nil
	}
	decls := make([]*genai.FunctionDeclaration, len(tools))
	for i, t := range tools {
		var schema map[string]any
		_ = json.Unmarshal(t.Parameters, &schema)
		decls[i] = &genai.FunctionDeclaration{
			Name:                 t.Name,
			Description:          t.Description,
			ParametersJsonSchema: schema,
		}
	}
	return []*genai.Tool{{FunctionDeclarations: decls}}
}

// ConvertResponse converts the first candidate of resp into an
// AssistantMessage. Function calls without an ID get a generated one so
// tool results can be correlated.
// Exported for testing.
func ConvertResponse(resp *genai.GenerateContentResponse) (crew.AssistantMessage, error) {
	if resp == nil || len(resp.Candidates) == 0 {
		if resp != nil && resp.PromptFeedback != nil && resp.PromptFeedback.BlockReason != "" {
			return crew.AssistantMessage{}, fmt.Errorf("gemini: prompt blocked: %s", resp.PromptFeedback.BlockReason)
		}
		return crew.AssistantMessage{}, errors.New("gemini: response has no candidates")
	}
	cand := resp.Candidates[0]

	var msg crew.AssistantMessage
	if cand.Content != nil {
		for _, p := range cand.Content.Parts {
			switch {
			case p.FunctionCall != nil:
				id := p.FunctionCall.ID
				if id == "" {
					id = "call_" + uuid.NewString()
				}
				args, err := json.Marshal(p.FunctionCall.Args)
				if err != nil {
					return crew.AssistantMessage{}, fmt.Errorf("gemini: encode arguments of %s: %w", p.FunctionCall.Name, err)
				}
				if p.FunctionCall.Args == nil {
					args = json.RawMessage(`{}`)
				}
				msg.Content = append(msg.Content, crew.ToolCallBlock{ID: id, Name: p.FunctionCall.Name, Arguments: args})
			case p.Thought:
				msg.Content = append(msg.Content, crew.ThinkingBlock{Thinking: p.Text, Signature: p.ThoughtSignature})
			case p.Text != "":
				msg.Content = append(msg.Content, crew.TextBlock{Text: p.Text})
			}
		}
	}

	msg.RawStopReason = string(cand.FinishReason)
	msg.StopReason = mapFinishReason(cand.FinishReason)
	if len(msg.ToolCalls()) > 0 && msg.StopReason == crew.StopEndTurn {
		msg.StopReason = crew.StopToolUse
	}
	if u := resp.UsageMetadata; u != nil {
		msg.Usage = crew.Usage{
			InputTokens:  int(u.PromptTokenCount),
			OutputTokens: int(u.CandidatesTokenCount),
		}
	}
	return msg, nil
}

func mapFinishReason(r genai.FinishReason) crew.StopReason {
	switch r {
	case genai.FinishReasonStop:
		return crew.StopEndTurn
	case genai.FinishReasonMaxTokens:
		return crew.StopLength
	case genai.FinishReasonSafety, genai.FinishReasonRecitation, genai.FinishReasonMalformedFunctionCall:
		return crew.StopError
	}
	return crew.StopUnknown
}
