package jobs

import (
	"context"
	"fmt"

	"github.com/ACodePorter/marketreplay/pkg/logger"

	"github.com/ACodePorter/marketreplay/internal/runstore"
)

// PruneRunsJob deletes persisted runs older than the retention window.
type PruneRunsJob struct {
	repo          *runstore.Repository
	retentionDays int
	logger        *logger.Logger
}

func NewPruneRunsJob(repo *runstore.Repository, retentionDays int, log *logger.Logger) *PruneRunsJob {
	if log == nil {
		log = logger.NewNop()
	}
	return &PruneRunsJob{
		repo:          repo,
		retentionDays: retentionDays,
		logger:        log.WithComponent("jobs.prune_runs"),
	}
}

func (j *PruneRunsJob) Name() string {
	return "prune_runs"
}

// Schedule runs nightly, well outside market hours.
func (j *PruneRunsJob) Schedule() string {
	return "0 3 * * *"
}

func (j *PruneRunsJob) Run(ctx context.Context) error {
	if j.retentionDays <= 0 {
		j.logger.Info("Retention disabled, nothing to prune")
		return nil
	}

	pruned, err := j.repo.Prune(ctx, j.retentionDays)
	if err != nil {
		return fmt.Errorf("prune failed: %w", err)
	}

	j.logger.WithFields(map[string]interface{}{
		"pruned_runs":    pruned,
		"retention_days": j.retentionDays,
	}).Info("Run pruning completed")
	return nil
}
