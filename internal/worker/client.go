package worker

import (
	"context"
	"time"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"

	"github.com/chatqd/chatqd/internal/engine"
	"github.com/chatqd/chatqd/internal/log"
	"github.com/chatqd/chatqd/internal/tools"
)

// ClientConfig holds the OpenAI-compatible API client settings.
type ClientConfig struct {
	// APIKey may be empty for local backends that do not authenticate.
	APIKey string

	// BaseURL points at an OpenAI-compatible endpoint. Empty selects the
	// default OpenAI API.
	BaseURL string

	// RequestTimeout bounds a single completion call. Tool-heavy jobs
	// issue many calls; this caps each one, not the whole job.
	RequestTimeout time.Duration
}

// apiCompleter adapts the API client to the engine's Completer interface.
type apiCompleter struct {
	client openai.Client
}

func (c apiCompleter) Complete(ctx context.Context, params openai.ChatCompletionNewParams) (*openai.ChatCompletion, error) {
	return c.client.Chat.Completions.New(ctx, params)
}

// OpenAIEngineFactory returns an EngineFactory that constructs the API
// client and completion engine. It runs on the worker goroutine, never
// on the submission path.
func OpenAIEngineFactory(cfg ClientConfig, registry *tools.Registry, logger log.Logger) EngineFactory {
	return func() (*engine.Engine, error) {
		apiKey := cfg.APIKey
		if apiKey == "" {
			apiKey = "not-needed"
		}

		opts := []option.RequestOption{option.WithAPIKey(apiKey)}
		if cfg.BaseURL != "" {
			opts = append(opts, option.WithBaseURL(cfg.BaseURL))
		}
		if cfg.RequestTimeout > 0 {
			opts = append(opts, option.WithRequestTimeout(cfg.RequestTimeout))
		}

		logger.Info("model client initialized", "base_url", cfg.BaseURL)
		return engine.New(apiCompleter{client: openai.NewClient(opts...)}, registry, logger)
	}
}
