package reconcile

import (
	"context"

	"pointsplane/pkg/task"

	"github.com/hibiken/asynq"
)

const TaskTypeReconcile = "loyalty:reconcile"

// Runs after the expiry sweep window so the two never contend for the same
// customer rows.
const reconcileCronSpec = "30 2 * * *"

type Handler struct {
	svc *Service
}

func NewHandler(svc *Service) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) HandleReconcileTask(ctx context.Context, _ *asynq.Task) error {
	_, err := h.svc.Run(ctx)
	return err
}

func RegisterSchedule(scheduler *asynq.Scheduler) {
	task.RegisterEntry(scheduler, reconcileCronSpec,
		asynq.NewTask(TaskTypeReconcile, nil),
		asynq.Queue("low"),
		asynq.MaxRetry(0),
	)
}
