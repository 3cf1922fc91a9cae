package ledger

import (
	"context"
	"errors"
	"time"

	"pointsplane/pkg/db/option"
	"pointsplane/pkg/errutil"
	"pointsplane/pkg/repository"
	"pointsplane/services/customer"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// ErrDuplicateEntry marks an insert that collided with the
// (customer_id, type, related_id) unique index. Callers treat it as an
// already-applied award, not a failure.
var ErrDuplicateEntry = errors.New("ledger entry already recorded")

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	entries   repository.Repository[PointTransaction]
	customers repository.Repository[customer.Customer]
}

type ServiceParams struct {
	fx.In
	DB   *gorm.DB
	Node *snowflake.Node
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:   p.DB,
		node: p.Node,

		entries:   repository.ProvideStore[PointTransaction](p.DB),
		customers: repository.ProvideStore[customer.Customer](p.DB),
	}
}

type RecordParams struct {
	CustomerID string
	Amount     int64
	Type       TransactionType
	Detail     string
	RelatedID  *string
	Metadata   datatypes.JSON

	// OccurredAt backdates the entry for reconciliation replays. Nil means now.
	OccurredAt *time.Time

	// CustomerPatch is applied to the customer row in the same transaction as
	// the ledger insert and the points delta (expiry date, referral count,
	// campaign tag). Values may be gorm.Expr for atomic increments.
	CustomerPatch map[string]any
}

// Record appends one immutable ledger row and applies the points delta to
// the customer projection in a single transaction. Both commit or both roll
// back; a ledger entry without its balance update is a correctness
// violation. Negative resulting balances are not rejected here - sufficiency
// is the calling handler's policy.
func (s *Service) Record(ctx context.Context, p RecordParams) (string, error) {
	var txID string
	err := s.db.Transaction(func(tx *gorm.DB) error {
		id, err := s.RecordTx(ctx, tx, p)
		if err != nil {
			return err
		}
		txID = id
		return nil
	})
	return txID, err
}

// RecordTx is Record running inside a caller-owned transaction, for
// operations that must commit additional rows atomically with the award.
func (s *Service) RecordTx(ctx context.Context, tx *gorm.DB, p RecordParams) (string, error) {
	span := trace.SpanFromContext(ctx)
	opts := []zap.Field{
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("customer_id", p.CustomerID),
		zap.String("type", p.Type.String()),
	}

	if p.Type.String() == "" {
		return "", errutil.BadRequest("unsupported transaction type", nil)
	}

	code, err := GenerateTransactionCode()
	if err != nil {
		zap.L().With(opts...).Error("failed to generate transaction code", zap.Error(err))
		return "", err
	}

	entry := &PointTransaction{
		ID:         s.node.Generate().String(),
		CustomerID: p.CustomerID,
		Amount:     p.Amount,
		Type:       p.Type,
		Code:       code,
		Detail:     p.Detail,
		RelatedID:  p.RelatedID,
		Metadata:   p.Metadata,
	}
	if p.OccurredAt != nil {
		entry.CreatedAt = *p.OccurredAt
	}

	if err := s.entries.WithTrx(tx).Create(ctx, entry); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			zap.L().With(opts...).Warn("duplicate ledger entry rejected")
			return "", errutil.Conflict("ledger entry already recorded", ErrDuplicateEntry)
		}
		zap.L().With(opts...).Error("failed to create ledger entry", zap.Error(err))
		return "", err
	}

	patch := map[string]any{
		"points":     gorm.Expr("points + ?", p.Amount),
		"updated_at": time.Now(),
	}
	for k, v := range p.CustomerPatch {
		patch[k] = v
	}

	res := tx.WithContext(ctx).Model(&customer.Customer{}).
		Where("id = ?", p.CustomerID).
		Updates(patch)
	if res.Error != nil {
		zap.L().With(opts...).Error("failed to apply balance delta", zap.Error(res.Error))
		return "", res.Error
	}
	if res.RowsAffected == 0 {
		return "", errutil.NotFound("customer not found", nil)
	}

	return entry.ID, nil
}

// bonusTypes share a single at-most-once budget per (customer, related) pair.
// A milestone completion records CAMPAIGN_BONUS instead of REFERRAL_BONUS, so
// either type counts as the pair's award.
var bonusTypes = []TransactionType{TypeReferralBonus, TypeCampaignBonus}

// HasBonusEntry reports whether any bonus entry exists for the pair,
// regardless of which bonus type recorded it.
func (s *Service) HasBonusEntry(ctx context.Context, customerID, relatedID string) (bool, error) {
	return s.HasBonusEntryTx(ctx, s.db, customerID, relatedID)
}

// HasBonusEntryTx is HasBonusEntry inside a caller-owned transaction. The
// unique index cannot span both bonus types, so award paths must run this
// check before inserting.
func (s *Service) HasBonusEntryTx(ctx context.Context, tx *gorm.DB, customerID, relatedID string) (bool, error) {
	var count int64
	if err := tx.WithContext(ctx).
		Model(&PointTransaction{}).
		Where("customer_id = ? AND related_id = ? AND type IN ?", customerID, relatedID, bonusTypes).
		Count(&count).Error; err != nil {
		return false, err
	}
	return count > 0, nil
}

// HasEntry reports whether an award for (customerID, type, relatedID) was
// already committed. This pre-check is advisory only; the unique index is
// the authoritative guard.
func (s *Service) HasEntry(ctx context.Context, customerID string, t TransactionType, relatedID string) (bool, error) {
	existing, err := s.entries.FindOne(ctx, &PointTransaction{
		CustomerID: customerID,
		Type:       t,
		RelatedID:  &relatedID,
	})
	if err != nil {
		return false, err
	}
	return existing != nil, nil
}

// SumAmounts folds the ledger for one customer. The result must equal the
// customer's projected points after every committed operation.
func (s *Service) SumAmounts(ctx context.Context, customerID string) (int64, error) {
	var total int64
	if err := s.db.WithContext(ctx).
		Model(&PointTransaction{}).
		Where("customer_id = ?", customerID).
		Select("COALESCE(SUM(amount), 0)").
		Scan(&total).Error; err != nil {
		return 0, err
	}
	return total, nil
}

// List returns a customer's history, newest first.
func (s *Service) List(ctx context.Context, customerID string) ([]*PointTransaction, error) {
	return s.entries.Find(ctx, &PointTransaction{CustomerID: customerID},
		option.WithSortBy(option.QuerySortBy{
			SortBy:  "created_at",
			OrderBy: "desc",
			Allow:   map[string]bool{"created_at": true},
		}),
	)
}
