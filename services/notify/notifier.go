package notify

import (
	"context"
	"encoding/json"

	"pointsplane/pkg/task"

	"github.com/hibiken/asynq"
	"go.uber.org/fx"
	"go.uber.org/zap"
)

const TaskTypeNotifyCustomer = "notify:customer"

type NotifyCustomerPayload struct {
	Handle string `json:"handle"`
	Text   string `json:"text"`
}

// Notifier delivers best-effort messages to customers. Implementations must
// never block awards: a failed notification is logged and dropped, never
// retried against the ledger operation that triggered it.
type Notifier interface {
	NotifyCustomer(ctx context.Context, handle, text string) error
}

type asynqNotifier struct {
	enqueuer task.Enqueuer
}

func NewNotifier(enqueuer task.Enqueuer) Notifier {
	return &asynqNotifier{enqueuer: enqueuer}
}

func (n *asynqNotifier) NotifyCustomer(ctx context.Context, handle, text string) error {
	payload, err := json.Marshal(NotifyCustomerPayload{Handle: handle, Text: text})
	if err != nil {
		return err
	}

	_, err = n.enqueuer.Enqueue(
		asynq.NewTask(TaskTypeNotifyCustomer, payload),
		asynq.Queue("low"),
		asynq.MaxRetry(0),
	)
	return err
}

// NopNotifier discards all notifications. Used in tests and offline tools.
type NopNotifier struct{}

func (NopNotifier) NotifyCustomer(ctx context.Context, handle, text string) error {
	return nil
}

var Module = fx.Module("notify",
	fx.Provide(
		NewNotifier,
		NewHandler,
	),
)

// Deliverer is the outbound transport (Telegram, webhook, ...). Message
// formatting and delivery live outside the loyalty core.
type Deliverer interface {
	Deliver(ctx context.Context, handle, text string) error
}

type logDeliverer struct{}

func (logDeliverer) Deliver(ctx context.Context, handle, text string) error {
	zap.L().Info("delivering notification", zap.String("handle", handle), zap.String("text", text))
	return nil
}

type Handler struct {
	deliverer Deliverer
}

type HandlerParams struct {
	fx.In
	Deliverer Deliverer `optional:"true"`
}

func NewHandler(p HandlerParams) *Handler {
	d := p.Deliverer
	if d == nil {
		d = logDeliverer{}
	}
	return &Handler{deliverer: d}
}

// HandleNotifyCustomerTask delivers one queued notification. Delivery
// failures are logged and swallowed so asynq never retries them.
func (h *Handler) HandleNotifyCustomerTask(ctx context.Context, t *asynq.Task) error {
	var payload NotifyCustomerPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		zap.L().Error("invalid notification payload", zap.Error(err))
		return nil
	}

	if err := h.deliverer.Deliver(ctx, payload.Handle, payload.Text); err != nil {
		zap.L().Error("failed to deliver notification",
			zap.String("handle", payload.Handle),
			zap.Error(err),
		)
	}

	return nil
}
