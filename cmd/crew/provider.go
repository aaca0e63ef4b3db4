package main

import (
	"context"
	"fmt"
	"strings"

	"github.com/fwojciec/crew"
	"github.com/fwojciec/crew/anthropic"
	"github.com/fwojciec/crew/config"
	"github.com/fwojciec/crew/gemini"
	"github.com/fwojciec/crew/openai"
)

// providerEnv names the environment variable holding each provider's key.
var providerEnv = map[string]string{
	config.ProviderGemini:    "GEMINI_API_KEY",
	config.ProviderAnthropic: "ANTHROPIC_API_KEY",
	config.ProviderOpenAI:    "OPENAI_API_KEY",
}

type resolvedProvider struct {
	name    string
	key     string
	model   string
	baseURL string
}

// resolveConfig selects the provider and its key. Keys come from config, so
// the environment is only read while loading it.
func resolveConfig(pc config.ProviderConfig, keys config.KeysConfig) (resolvedProvider, error) {
	byName := map[string]string{
		config.ProviderGemini:    keys.Gemini,
		config.ProviderAnthropic: keys.Anthropic,
		config.ProviderOpenAI:    keys.OpenAI,
	}
	order := []string{config.ProviderGemini, config.ProviderAnthropic, config.ProviderOpenAI}

	name := pc.Name
	// Auto-detect from the keys present when no provider is named.
	if name == "" && pc.APIKey == "" {
		var found []string
		for _, n := range order {
			if byName[n] != "" {
				found = append(found, n)
			}
		}
		switch len(found) {
		case 0:
			return resolvedProvider{}, fmt.Errorf("no API key found: set GEMINI_API_KEY, ANTHROPIC_API_KEY or OPENAI_API_KEY (or use --provider and --api-key)")
		case 1:
			name = found[0]
		default:
			envs := make([]string, len(found))
			for i, n := range found {
				envs[i] = providerEnv[n]
			}
			return resolvedProvider{}, fmt.Errorf("multiple API keys found (%s): use --provider to select", strings.Join(envs, ", "))
		}
	}
	if name == "" {
		return resolvedProvider{}, fmt.Errorf("--api-key requires --provider")
	}

	env, ok := providerEnv[name]
	if !ok {
		return resolvedProvider{}, fmt.Errorf("unknown provider %q: must be \"gemini\", \"anthropic\" or \"openai\"", name)
	}
	// An explicit key overrides the environment.
	key := pc.APIKey
	if key == "" {
		key = byName[name]
	}
	if key == "" {
		return resolvedProvider{}, fmt.Errorf("%s not set (use --api-key or the environment variable)", env)
	}
	return resolvedProvider{name: name, key: key, model: pc.Model, baseURL: pc.BaseURL}, nil
}

// resolveProvider selects and constructs the provider.
func resolveProvider(ctx context.Context, pc config.ProviderConfig, keys config.KeysConfig) (crew.Provider, string, error) {
	rp, err := resolveConfig(pc, keys)
	if err != nil {
		return nil, "", err
	}
	switch rp.name {
	case config.ProviderAnthropic:
		var opts []anthropic.Option
		if rp.model != "" {
			opts = append(opts, anthropic.WithModel(rp.model))
		}
		if rp.baseURL != "" {
			opts = append(opts, anthropic.WithBaseURL(rp.baseURL))
		}
		return anthropic.New(rp.key, opts...), rp.name, nil
	case config.ProviderOpenAI:
		var opts []openai.Option
		if rp.model != "" {
			opts = append(opts, openai.WithModel(rp.model))
		}
		if rp.baseURL != "" {
			opts = append(opts, openai.WithBaseURL(rp.baseURL))
		}
		return openai.New(rp.key, opts...), rp.name, nil
	default:
		var opts []gemini.Option
		if rp.model != "" {
			opts = append(opts, gemini.WithModel(rp.model))
		}
		if rp.baseURL != "" {
			opts = append(opts, gemini.WithBaseURL(rp.baseURL))
		}
		client, err := gemini.New(ctx, rp.key, opts...)
		if err != nil {
			return nil, "", fmt.Errorf("gemini: %w", err)
		}
		return client, rp.name, nil
	}
}
