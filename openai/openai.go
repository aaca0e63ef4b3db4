// Package openai implements [crew.Provider] for the OpenAI Chat Completions
// API using github.com/openai/openai-go.
package openai

import "github.com/openai/openai-go"

const (
	defaultModel     = openai.ChatModelGPT4oMini
	defaultMaxTokens = 8192
)
