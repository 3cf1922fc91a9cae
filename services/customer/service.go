package customer

import (
	"context"
	"time"

	"pointsplane/pkg/expiry"
	"pointsplane/pkg/repository"
	"pointsplane/services/settings"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	settings  *settings.Provider
	customers repository.Repository[Customer]
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Node     *snowflake.Node
	Settings *settings.Provider
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		settings:  p.Settings,
		customers: repository.ProvideStore[Customer](p.DB),
	}
}

type CreateParams struct {
	ReferrerID     *string
	TelegramUserID *string
}

// Create registers a new customer with the configured initial expiry window.
func (s *Service) Create(ctx context.Context, p CreateParams) (*Customer, error) {
	days := s.settings.IntOr(settings.KeyExpiryDaysNewMember, 30)
	initialExpiry := expiry.StartOfDay(time.Now()).AddDate(0, 0, int(days))

	c := &Customer{
		ID:             s.node.Generate().String(),
		ExpiryDate:     &initialExpiry,
		ReferrerID:     p.ReferrerID,
		TelegramUserID: p.TelegramUserID,
	}

	if err := s.customers.Create(ctx, c); err != nil {
		zap.L().Error("failed to create customer", zap.Error(err))
		return nil, err
	}

	return c, nil
}

// Get returns (nil, nil) for unknown or soft-deleted customers so callers
// can treat a vanished account as a no-op instead of an error.
func (s *Service) Get(ctx context.Context, id string) (*Customer, error) {
	return s.customers.FindOne(ctx, &Customer{ID: id})
}

// Patch applies an atomic field patch. Numeric deltas must be expressed as
// gorm.Expr increments by the caller; plain read-then-write updates on
// points or referral_count lose updates under interleaving.
func (s *Service) Patch(ctx context.Context, id string, fields map[string]any) error {
	fields["updated_at"] = time.Now()
	return s.customers.Update(ctx, id, fields)
}

// FindWithReferrer lists customers that carry a referrer back-reference.
func (s *Service) FindWithReferrer(ctx context.Context) ([]*Customer, error) {
	var rows []*Customer
	if err := s.db.WithContext(ctx).
		Where("referrer_id IS NOT NULL").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
