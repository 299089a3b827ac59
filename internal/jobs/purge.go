// File: internal/jobs/purge.go
package jobs

import (
	"context"
	"time"

	"notification_hub_backend/internal/config"

	"github.com/robfig/cron/v3"
	"go.uber.org/zap"
)

// ReadPurger deletes notifications read more than olderThan ago.
type ReadPurger interface {
	PurgeRead(ctx context.Context, olderThan time.Duration) (int64, error)
}

// NotificationPurgeJob periodically removes old read notifications from the
// local store so the feed never has to page through them.
type NotificationPurgeJob struct {
	purger        ReadPurger
	logger        *zap.Logger
	schedule      string
	retention     time.Duration
	cronScheduler *cron.Cron
}

// NewNotificationPurgeJob creates a new NotificationPurgeJob.
func NewNotificationPurgeJob(purger ReadPurger, logger *zap.Logger, cfg *config.Config) *NotificationPurgeJob {
	scheduler := cron.New(cron.WithLogger(NewCronLogger(logger.Named("cron"))))

	return &NotificationPurgeJob{
		purger:        purger,
		logger:        logger.Named("NotificationPurgeJob"),
		schedule:      cfg.NotificationPurgeJobSchedule,
		retention:     time.Duration(cfg.NotificationRetentionDays) * 24 * time.Hour,
		cronScheduler: scheduler,
	}
}

// SetupAndStart schedules and starts the cron job.
func (j *NotificationPurgeJob) SetupAndStart() error {
	if j.schedule == "" || j.retention <= 0 {
		j.logger.Warn("Notification purge job disabled (NOTIFICATION_PURGE_JOB_SCHEDULE or NOTIFICATION_RETENTION_DAYS unset).")
		return nil
	}

	jobID, err := j.cronScheduler.AddFunc(j.schedule, func() { j.RunOnce(context.Background()) })
	if err != nil {
		j.logger.Error("Failed to schedule notification purge job", zap.String("spec", j.schedule), zap.Error(err))
		return err
	}

	j.logger.Info("Notification purge job scheduled",
		zap.String("spec", j.schedule),
		zap.Duration("retention", j.retention),
		zap.Any("jobID", jobID),
	)
	j.cronScheduler.Start()
	return nil
}

// RunOnce performs a single purge pass.
func (j *NotificationPurgeJob) RunOnce(ctx context.Context) int64 {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Minute)
	defer cancel()

	purged, err := j.purger.PurgeRead(ctx, j.retention)
	if err != nil {
		j.logger.Error("Notification purge run failed", zap.Error(err))
		return 0
	}
	j.logger.Info("Notification purge run completed", zap.Int64("notifications_purged", purged))
	return purged
}

// Stop gracefully stops the cron scheduler.
func (j *NotificationPurgeJob) Stop() {
	if j.cronScheduler == nil {
		return
	}
	stopCtx := j.cronScheduler.Stop()
	select {
	case <-stopCtx.Done():
		j.logger.Info("Notification purge job scheduler stopped.")
	case <-time.After(10 * time.Second):
		j.logger.Warn("Notification purge job scheduler stop timed out.")
	}
}
