package engine

import (
	"context"
	"errors"

	"peerproof/internal/domain"
)

// AdminStats aggregates moderation load and validator activity.
func (e Engine) AdminStats(ctx context.Context) (domain.AdminStats, error) {
	if e.Config == nil {
		return domain.AdminStats{}, errors.New("config not loaded")
	}
	var stats domain.AdminStats
	pending, err := e.Repo.CountPendingReports(ctx)
	if err != nil {
		return stats, err
	}
	stats.PendingReports = pending
	counts, err := e.Repo.CountSubmissionsByStatus(ctx)
	if err != nil {
		return stats, err
	}
	stats.SubmissionCounts = counts
	avg, err := e.Repo.AvgValidationSeconds(ctx)
	if err != nil {
		return stats, err
	}
	stats.AvgValidateSecs = avg
	board, err := e.Repo.ValidatorLeaderboard(ctx, e.Config.Stats.LeaderboardSize)
	if err != nil {
		return stats, err
	}
	stats.Leaderboard = board
	return stats, nil
}
