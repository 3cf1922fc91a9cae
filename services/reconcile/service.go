package reconcile

import (
	"context"

	"pointsplane/services/ledger"
	"pointsplane/services/referral"

	"go.uber.org/fx"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

type Summary struct {
	Scanned  int64
	Replayed int64
	Skipped  int64
	Errors   int64
}

// Service replays referral bonuses the ledger never recorded. Completed
// referrals are the source of truth: any without a matching bonus entry of
// either bonus type is re-awarded through the normal engine path, which is
// idempotent, so reconciliation is safe to repeat.
type Service struct {
	db        *gorm.DB
	ledger    *ledger.Service
	referrals *referral.Service
}

type ServiceParams struct {
	fx.In
	DB        *gorm.DB
	Ledger    *ledger.Service
	Referrals *referral.Service
}

func NewService(p ServiceParams) *Service {
	return &Service{
		db:        p.DB,
		ledger:    p.Ledger,
		referrals: p.Referrals,
	}
}

func (s *Service) Run(ctx context.Context) (Summary, error) {
	completed, err := s.referrals.FindCompleted(ctx)
	if err != nil {
		return Summary{}, err
	}

	var summary Summary
	for _, ref := range completed {
		summary.Scanned++

		recorded, err := s.ledger.HasBonusEntry(ctx, ref.ReferrerID, ref.RefereeID)
		if err != nil {
			zap.L().Error("failed to check ledger for referral",
				zap.String("referral_id", ref.ID),
				zap.Error(err),
			)
			summary.Errors++
			continue
		}
		if recorded {
			summary.Skipped++
			continue
		}

		occurredAt := ref.UpdatedAt
		if ref.CompletedAt != nil {
			occurredAt = *ref.CompletedAt
		}
		if err := s.referrals.AwardReferralBonusAt(ctx, ref.ReferrerID, ref.RefereeID, occurredAt); err != nil {
			zap.L().Error("failed to replay referral bonus",
				zap.String("referral_id", ref.ID),
				zap.String("referee_id", ref.RefereeID),
				zap.Error(err),
			)
			summary.Errors++
			continue
		}

		zap.L().Info("replayed missing referral bonus",
			zap.String("referral_id", ref.ID),
			zap.String("referrer_id", ref.ReferrerID),
		)
		summary.Replayed++
	}

	zap.L().Info("reconciliation finished",
		zap.Int64("scanned", summary.Scanned),
		zap.Int64("replayed", summary.Replayed),
		zap.Int64("skipped", summary.Skipped),
		zap.Int64("errors", summary.Errors),
	)

	return summary, nil
}
