package sweep

import (
	"context"

	"pointsplane/pkg/task"
	"pointsplane/services/settings"

	"github.com/hibiken/asynq"
	"go.uber.org/zap"
)

const (
	TaskTypeExpirySweep   = "loyalty:expiry:sweep"
	TaskTypeReminderSweep = "loyalty:reminder:sweep"
)

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) HandleExpirySweepTask(ctx context.Context, _ *asynq.Task) error {
	_, err := h.svc.RunExpirySweep(ctx)
	return err
}

func (h *Handler) HandleReminderSweepTask(ctx context.Context, _ *asynq.Task) error {
	_, err := h.svc.RunReminderSweep(ctx)
	return err
}

// RegisterSchedules wires the nightly sweeps onto the scheduler using the
// cron specs held in system settings. A malformed spec is logged and skipped
// so one bad setting never blocks the other sweep.
func RegisterSchedules(scheduler *asynq.Scheduler, provider *settings.Provider) {
	expirySpec := provider.StringOr(settings.KeyExpiryCutoffTime, "0 2 * * *")
	reminderSpec := provider.StringOr(settings.KeyReminderNotificationTime, "0 10 * * *")

	task.RegisterEntry(scheduler, expirySpec,
		asynq.NewTask(TaskTypeExpirySweep, nil),
		asynq.Queue("default"),
		asynq.MaxRetry(0),
	)
	task.RegisterEntry(scheduler, reminderSpec,
		asynq.NewTask(TaskTypeReminderSweep, nil),
		asynq.Queue("low"),
		asynq.MaxRetry(0),
	)

	zap.L().Info("registered sweep schedules",
		zap.String("expiry_cron", expirySpec),
		zap.String("reminder_cron", reminderSpec),
	)
}
