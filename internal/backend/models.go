package backend

import (
	"context"
	"fmt"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/option"
)

// Ping validates that Target serves the OpenAI-compatible /v1/models
// endpoint (spec section 6), used by the CLI entrypoint as a best-effort
// startup health check: a failure is logged as a warning and the run still
// begins. It uses the official SDK rather
// than hand-rolled JSON because this call is not part of the streaming
// contract under test and benefits from the SDK's response typing.
func Ping(ctx context.Context, cfg Config) error {
	opts := []option.RequestOption{option.WithBaseURL(cfg.Target)}
	if cfg.APIKey != "" {
		opts = append(opts, option.WithAPIKey(cfg.APIKey))
	}
	if cfg.Organization != "" {
		opts = append(opts, option.WithOrganization(cfg.Organization))
	}
	if cfg.Project != "" {
		opts = append(opts, option.WithProject(cfg.Project))
	}

	client := openai.NewClient(opts...)
	if _, err := client.Models.List(ctx); err != nil {
		return fmt.Errorf("backend target %q did not respond to /v1/models: %w", cfg.Target, err)
	}
	return nil
}
