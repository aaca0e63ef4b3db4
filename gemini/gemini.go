// Package gemini implements [crew.Provider] for the Google Gemini API.
//
// It wraps the google.golang.org/genai SDK, translating between crew's
// domain types and the Gemini API types. Each Generate call is one
// non-streaming GenerateContent request.
package gemini

const (
	defaultModel     = "gemini-2.5-flash"
	defaultMaxTokens = 8192
)
