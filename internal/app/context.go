package app

import (
	"context"
	"errors"
	"fmt"
	"time"

	"peerproof/internal/config"
	"peerproof/internal/domain"
	"peerproof/internal/repo"
)

// ResolveInstanceConfig loads the stored instance config, seeding it from the
// workspace file (or built-in defaults) when the instance has not been
// initialized yet. The acting user gets a profile on first contact.
func ResolveInstanceConfig(ctx context.Context, workspace, actorID string, r repo.Repo) (*config.Config, error) {
	cfg, err := r.GetInstanceConfig(ctx)
	if err != nil {
		if !errors.Is(err, repo.ErrNotFound) {
			return nil, err
		}
		cfg, err = config.LoadOptional(workspace)
		if err != nil {
			return nil, err
		}
		if cfg == nil {
			cfg = config.Default("peerproof")
		}
		if err := r.UpsertInstanceConfig(ctx, cfg); err != nil {
			return nil, fmt.Errorf("seed instance config: %w", err)
		}
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if actorID != "" {
		now := time.Now().UTC().Format(time.RFC3339)
		if err := r.EnsureProfile(ctx, domain.Profile{
			ID:          actorID,
			DisplayName: actorID,
			Role:        "user",
			CreatedAt:   now,
		}); err != nil {
			return nil, fmt.Errorf("ensure profile: %w", err)
		}
	}
	return cfg, nil
}
