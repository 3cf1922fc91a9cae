package referral

import (
	"context"
	"errors"
	"fmt"
	"time"

	"pointsplane/pkg/errutil"
	"pointsplane/pkg/expiry"
	"pointsplane/pkg/repository"
	"pointsplane/services/campaign"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/notify"
	"pointsplane/services/settings"

	"github.com/bwmarrin/snowflake"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

// Hardcoded last-resort bonus amounts, used when neither a campaign nor a
// system setting supplies a value.
const (
	fallbackReferralPoints = 50
	fallbackLinkBonus      = 25

	defaultExtensionDays = 7
	defaultCapDays       = 60
	defaultMinPurchase   = 500
)

type Service struct {
	db   *gorm.DB
	node *snowflake.Node

	settings  *settings.Provider
	customers *customer.Service
	ledger    *ledger.Service
	campaigns *campaign.Service
	notifier  notify.Notifier

	referrals repository.Repository[Referral]
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Node      *snowflake.Node
	Settings  *settings.Provider
	Customers *customer.Service
	Ledger    *ledger.Service
	Campaigns *campaign.Service
	Notifier  notify.Notifier
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		node:      p.Node,
		settings:  p.Settings,
		customers: p.Customers,
		ledger:    p.Ledger,
		campaigns: p.Campaigns,
		notifier:  p.Notifier,
		referrals: repository.ProvideStore[Referral](p.DB),
	}
}

// CreateReferral records that refereeID signed up under referrerID. One
// referral per referee; a second signup link is rejected.
func (s *Service) CreateReferral(ctx context.Context, referrerID, refereeID string) (*Referral, error) {
	r := &Referral{
		ID:         s.node.Generate().String(),
		ReferrerID: referrerID,
		RefereeID:  refereeID,
		Status:     StatusPendingPurchase,
	}

	if err := s.referrals.Create(ctx, r); err != nil {
		if errors.Is(err, gorm.ErrDuplicatedKey) {
			return nil, errutil.Conflict("referee already has a referral", err)
		}
		return nil, err
	}

	return r, nil
}

// AwardReferralBonus credits the referrer for a new referral. Internally
// atomic; at most one bonus entry per (referrer, referee) pair ever commits,
// live or replayed, whichever bonus type recorded it.
func (s *Service) AwardReferralBonus(ctx context.Context, referrerID, refereeID string) error {
	return s.award(ctx, referrerID, refereeID, nil)
}

// AwardReferralBonusAt is the reconciliation entry point: the identical
// award primitive with a historical timestamp on the ledger row.
func (s *Service) AwardReferralBonusAt(ctx context.Context, referrerID, refereeID string, occurredAt time.Time) error {
	return s.award(ctx, referrerID, refereeID, &occurredAt)
}

func (s *Service) award(ctx context.Context, referrerID, refereeID string, occurredAt *time.Time) error {
	span := trace.SpanFromContext(ctx)
	zapLog := zap.L().With(
		zap.String("trace_id", span.SpanContext().TraceID().String()),
		zap.String("referrer_id", referrerID),
		zap.String("referee_id", refereeID),
	)

	referrer, err := s.customers.Get(ctx, referrerID)
	if err != nil {
		return err
	}
	if referrer == nil {
		// Referrer removed; a dangling referral must not fail a sweep.
		zapLog.Warn("referrer not found, skipping award")
		return nil
	}

	camp := s.currentCampaign(ctx, referrer)
	bonus := campaign.ResolveBonus(camp, campaign.KindReferral,
		s.settings.IntOr(settings.KeyStandardReferralPoints, fallbackReferralPoints))

	now := time.Now()
	if occurredAt != nil {
		now = *occurredAt
	}

	patch := s.awardPatch(referrer, camp, now)
	patch["referral_count"] = gorm.Expr("referral_count + ?", 1)

	err = s.db.Transaction(func(tx *gorm.DB) error {
		// A milestone completion records CAMPAIGN_BONUS for the same pair,
		// which the unique index would not catch.
		paid, err := s.ledger.HasBonusEntryTx(ctx, tx, referrerID, refereeID)
		if err != nil {
			return err
		}
		if paid {
			return errutil.Conflict("referral bonus already recorded", ledger.ErrDuplicateEntry)
		}

		_, err = s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
			CustomerID:    referrerID,
			Amount:        bonus,
			Type:          ledger.TypeReferralBonus,
			Detail:        fmt.Sprintf("Referral bonus for referee %s", refereeID),
			RelatedID:     &refereeID,
			OccurredAt:    occurredAt,
			CustomerPatch: patch,
		})
		return err
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			zapLog.Info("referral bonus already awarded")
			return nil
		}
		zapLog.Error("failed to award referral bonus", zap.Error(err))
		return err
	}

	zapLog.Info("referral bonus awarded", zap.Int64("points", bonus))
	s.notifyAward(ctx, referrer, bonus)
	return nil
}

// AwardLinkBonus credits a customer once for linking their account.
func (s *Service) AwardLinkBonus(ctx context.Context, customerID string) error {
	cust, err := s.customers.Get(ctx, customerID)
	if err != nil {
		return err
	}
	if cust == nil {
		zap.L().Warn("customer not found, skipping link bonus", zap.String("customer_id", customerID))
		return nil
	}

	camp := s.currentCampaign(ctx, cust)
	bonus := campaign.ResolveBonus(camp, campaign.KindLink,
		s.settings.IntOr(settings.KeyStandardLinkBonus, fallbackLinkBonus))

	_, err = s.ledger.Record(ctx, ledger.RecordParams{
		CustomerID:    customerID,
		Amount:        bonus,
		Type:          ledger.TypeLinkBonus,
		Detail:        "Account link bonus",
		RelatedID:     &customerID,
		CustomerPatch: s.awardPatch(cust, camp, time.Now()),
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			zap.L().Info("link bonus already awarded", zap.String("customer_id", customerID))
			return nil
		}
		return err
	}

	s.notifyAward(ctx, cust, bonus)
	return nil
}

// CompleteReferral transitions a pending referral to COMPLETED on its first
// qualifying purchase and pays the referrer, with the milestone extra folded
// into the same transaction. Referral, customer and ledger rows commit as
// one atomic unit.
func (s *Service) CompleteReferral(ctx context.Context, refereeID string, purchaseAmount int64) error {
	ref, err := s.referrals.FindOne(ctx, &Referral{RefereeID: refereeID})
	if err != nil {
		return err
	}
	if ref == nil {
		return errutil.NotFound("no referral for referee", nil)
	}
	if ref.Status == StatusCompleted {
		return errutil.Conflict("referral already completed", nil)
	}

	minPurchase := s.settings.IntOr(settings.KeyMinPurchaseForReferral, defaultMinPurchase)
	if purchaseAmount < minPurchase {
		return errutil.UnprocessableEntity("purchase amount below referral minimum", nil,
			errutil.WithDetails(errutil.Detail{
				Field:   "purchase_amount",
				Message: fmt.Sprintf("minimum is %d", minPurchase),
			}))
	}

	referrer, err := s.customers.Get(ctx, ref.ReferrerID)
	if err != nil {
		return err
	}
	if referrer == nil {
		zap.L().Warn("referrer not found, completing referral without bonus",
			zap.String("referrer_id", ref.ReferrerID),
			zap.String("referee_id", refereeID),
		)
		return s.markCompleted(ctx, s.db, ref, purchaseAmount, 0)
	}

	camp := s.currentCampaign(ctx, referrer)
	bonus := campaign.ResolveBonus(camp, campaign.KindReferral,
		s.settings.IntOr(settings.KeyStandardReferralPoints, fallbackReferralPoints))

	txType := ledger.TypeReferralBonus
	if extra := campaign.ResolveMilestone(camp, referrer.ReferralCount+1); extra > 0 {
		bonus += extra
		txType = ledger.TypeCampaignBonus
	}

	now := time.Now()
	patch := s.awardPatch(referrer, camp, now)
	patch["referral_count"] = gorm.Expr("referral_count + ?", 1)

	alreadyPaid := false
	err = s.db.Transaction(func(tx *gorm.DB) error {
		// A link-time award may have paid this pair already, possibly under
		// the other bonus type. The completion still transitions, but without
		// a second credit or count increment.
		paid, err := s.ledger.HasBonusEntryTx(ctx, tx, ref.ReferrerID, refereeID)
		if err != nil {
			return err
		}
		if paid {
			alreadyPaid = true
			return s.markCompleted(ctx, tx, ref, purchaseAmount, 0)
		}

		if _, err := s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
			CustomerID:    ref.ReferrerID,
			Amount:        bonus,
			Type:          txType,
			Detail:        fmt.Sprintf("Completed referral of %s", refereeID),
			RelatedID:     &refereeID,
			CustomerPatch: patch,
		}); err != nil {
			return err
		}

		return s.markCompleted(ctx, tx, ref, purchaseAmount, bonus)
	})
	if err != nil {
		if errors.Is(err, ledger.ErrDuplicateEntry) {
			// A concurrent insert won the index race and the rollback took
			// the status transition with it. The transition must still land.
			zap.L().Info("completion bonus already awarded", zap.String("referee_id", refereeID))
			return s.markCompleted(ctx, s.db, ref, purchaseAmount, 0)
		}
		return err
	}
	if alreadyPaid {
		zap.L().Info("completion bonus already awarded", zap.String("referee_id", refereeID))
		return nil
	}

	s.notifyAward(ctx, referrer, bonus)
	return nil
}

func (s *Service) markCompleted(ctx context.Context, tx *gorm.DB, ref *Referral, purchaseAmount, bonus int64) error {
	now := time.Now()
	return s.referrals.WithTrx(tx).Update(ctx, ref.ID, map[string]any{
		"status":          StatusCompleted,
		"purchase_amount": purchaseAmount,
		"bonus_awarded":   bonus,
		"completed_at":    now,
		"updated_at":      now,
	})
}

// awardPatch builds the customer fields every award sets alongside the
// points delta: the capped expiry extension and the campaign tag.
func (s *Service) awardPatch(cust *customer.Customer, camp *campaign.Campaign, now time.Time) map[string]any {
	extensionDays := s.settings.IntOr(settings.KeyExpiryDaysReferralBonus, defaultExtensionDays)
	capDays := s.settings.IntOr(settings.KeyExpiryDaysLimitMax, defaultCapDays)

	patch := map[string]any{
		"expiry_date": expiry.Compute(cust.ExpiryDate, now, int(extensionDays), int(capDays)),
	}

	if camp != nil {
		patch["active_campaign_tag"] = camp.Name
	} else {
		patch["active_campaign_tag"] = nil
	}

	return patch
}

// currentCampaign resolves the active campaign and applies its eligibility
// expression to the customer. Lookup failures degrade to defaults.
func (s *Service) currentCampaign(ctx context.Context, cust *customer.Customer) *campaign.Campaign {
	camp, err := s.campaigns.FindActive(ctx)
	if err != nil {
		zap.L().Error("failed to resolve active campaign", zap.Error(err))
		return nil
	}
	if camp == nil {
		return nil
	}

	attrs := map[string]any{
		"points":         cust.Points,
		"referral_count": cust.ReferralCount,
	}
	if !campaign.Eligible(camp, attrs) {
		return nil
	}

	return camp
}

func (s *Service) notifyAward(ctx context.Context, cust *customer.Customer, bonus int64) {
	if cust.TelegramUserID == nil {
		return
	}

	text := fmt.Sprintf("You earned %d loyalty points!", bonus)
	if err := s.notifier.NotifyCustomer(ctx, *cust.TelegramUserID, text); err != nil {
		// Best effort only; the award stays committed.
		zap.L().Error("failed to notify customer",
			zap.String("customer_id", cust.ID),
			zap.Error(err),
		)
	}
}

// Get returns the referral record for a referee, nil when absent.
func (s *Service) Get(ctx context.Context, refereeID string) (*Referral, error) {
	return s.referrals.FindOne(ctx, &Referral{RefereeID: refereeID})
}

// FindCompleted lists all completed referrals, oldest first, for
// reconciliation scans.
func (s *Service) FindCompleted(ctx context.Context) ([]*Referral, error) {
	var rows []*Referral
	if err := s.db.WithContext(ctx).
		Where("status = ?", StatusCompleted).
		Order("completed_at ASC").
		Find(&rows).Error; err != nil {
		return nil, err
	}
	return rows, nil
}
