package jobs

import (
	"context"
	"time"

	"spotalert_backend/internal/config"
	"spotalert_backend/internal/target"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// Refresher reloads the target list.
type Refresher interface {
	Refresh(ctx context.Context) (*target.Snapshot, error)
}

// TargetRefreshJob periodically refreshes the target registry.
type TargetRefreshJob struct {
	refresher     Refresher
	logger        *zap.Logger
	schedule      string
	cronScheduler *cron.Cron
}

// NewTargetRefreshJob creates a new TargetRefreshJob.
func NewTargetRefreshJob(refresher Refresher, logger *zap.Logger, cfg *config.Config) *TargetRefreshJob {
	cronLog := NewCronLogger(logger.Named("cron"))
	scheduler := cron.New(
		cron.WithLogger(cronLog),
		cron.WithChain(cron.SkipIfStillRunning(cronLog)),
	)
	return &TargetRefreshJob{
		refresher:     refresher,
		logger:        logger.Named("TargetRefreshJob"),
		schedule:      cfg.TargetRefreshSchedule,
		cronScheduler: scheduler,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *TargetRefreshJob) SetupAndStart() error {
	if j.schedule == "" {
		j.logger.Warn("Target refresh schedule not defined (TARGET_REFRESH_SCHEDULE). Job will not run.")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(j.schedule, j.runJob)
	if err != nil {
		j.logger.Error("Failed to schedule target refresh job", zap.String("schedule", j.schedule), zap.Error(err))
		return err
	}

	j.logger.Info("Target refresh job scheduled", zap.String("schedule", j.schedule), zap.Any("jobID", jobID))
	j.cronScheduler.Start()
	return nil
}

// runJob refreshes the registry once. A failed refresh keeps the previous list.
func (j *TargetRefreshJob) runJob() {
	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	snap, err := j.refresher.Refresh(ctx)
	if err != nil {
		j.logger.Warn("Target refresh failed, keeping previous list", zap.Error(err))
		return
	}
	j.logger.Info("Target refresh completed", zap.Uint64("version", snap.Version()), zap.Int("targets", snap.Len()))
}

// Stop gracefully stops the cron scheduler.
func (j *TargetRefreshJob) Stop() {
	if j.cronScheduler == nil {
		return
	}
	j.logger.Info("Stopping target refresh job scheduler...")
	stopCtx := j.cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		j.logger.Info("Target refresh job scheduler stopped gracefully.")
	case <-time.After(10 * time.Second):
		j.logger.Warn("Target refresh job scheduler stop timed out.")
	}
}
