package sweep

import (
	"context"
	"fmt"
	"sync/atomic"
	"time"

	"pointsplane/pkg/db/option"
	"pointsplane/pkg/expiry"
	"pointsplane/pkg/rediskey"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/notify"
	"pointsplane/services/settings"

	"github.com/redis/go-redis/v9"
	"go.uber.org/fx"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"gorm.io/gorm"
)

const sweepConcurrency = 8

// reminderMarkerTTL keeps dedup markers alive long past the day they guard.
const reminderMarkerTTL = 48 * time.Hour

type Summary struct {
	Scanned      int64
	SuccessCount int64
	ErrorCount   int64
}

type Service struct {
	db  *gorm.DB
	rdb *redis.Client

	settings *settings.Provider
	ledger   *ledger.Service
	notifier notify.Notifier
	location *time.Location
}

type ServiceParams struct {
	fx.In
	DB       *gorm.DB
	Redis    *redis.Client `optional:"true"`
	Settings *settings.Provider
	Ledger   *ledger.Service
	Notifier notify.Notifier
	Location *time.Location `optional:"true"`
}

func NewService(p ServiceParams) *Service {
	loc := p.Location
	if loc == nil {
		loc = time.UTC
	}
	return &Service{
		db:       p.DB,
		rdb:      p.Redis,
		settings: p.Settings,
		ledger:   p.Ledger,
		notifier: p.Notifier,
		location: loc,
	}
}

func (s *Service) today() time.Time {
	return expiry.StartOfDay(time.Now().In(s.location))
}

// RunExpirySweep zeroes the balance of every customer whose expiry date has
// passed, recording the expired amount as a negative ledger delta. Each
// customer is its own transaction: a row failure is counted and skipped, the
// rest of the batch continues. Re-running immediately is a no-op since
// expired customers then hold zero points.
func (s *Service) RunExpirySweep(ctx context.Context) (Summary, error) {
	today := s.today()

	var stale []*customer.Customer
	if err := s.db.WithContext(ctx).
		Where("expiry_date < ?", today).
		Where("points > ?", 0).
		Find(&stale).Error; err != nil {
		return Summary{}, err
	}

	var success, failed atomic.Int64

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(sweepConcurrency)
	for _, cust := range stale {
		g.Go(func() error {
			if err := s.expireCustomer(gctx, cust.ID, today); err != nil {
				zap.L().Error("failed to expire customer points",
					zap.String("customer_id", cust.ID),
					zap.Error(err),
				)
				failed.Add(1)
				return nil
			}
			success.Add(1)
			return nil
		})
	}
	_ = g.Wait()

	summary := Summary{
		Scanned:      int64(len(stale)),
		SuccessCount: success.Load(),
		ErrorCount:   failed.Load(),
	}

	zap.L().Info("expiry sweep finished",
		zap.Int64("scanned", summary.Scanned),
		zap.Int64("success_count", summary.SuccessCount),
		zap.Int64("error_count", summary.ErrorCount),
	)

	return summary, nil
}

// expireCustomer re-reads the row under lock so the delta always matches the
// balance actually being zeroed, even when an award interleaves with the
// sweep.
func (s *Service) expireCustomer(ctx context.Context, customerID string, today time.Time) error {
	return s.db.Transaction(func(tx *gorm.DB) error {
		var cust customer.Customer
		if err := tx.WithContext(ctx).
			Scopes(option.LockingUpdate).
			Where("id = ?", customerID).
			First(&cust).Error; err != nil {
			return err
		}

		if cust.Points <= 0 || cust.ExpiryDate == nil || !cust.ExpiryDate.Before(today) {
			return nil
		}

		_, err := s.ledger.RecordTx(ctx, tx, ledger.RecordParams{
			CustomerID: cust.ID,
			Amount:     -cust.Points,
			Type:       ledger.TypeOther,
			Detail:     fmt.Sprintf("Points expired on %s", cust.ExpiryDate.Format("2006-01-02")),
		})
		return err
	})
}

// RunReminderSweep notifies customers whose points expire in exactly N days,
// for each configured threshold. A redis SETNX marker dedups per customer,
// threshold and day so an overlapping or re-run sweep never re-notifies.
func (s *Service) RunReminderSweep(ctx context.Context) (Summary, error) {
	today := s.today()
	thresholds := s.settings.IntsOr(settings.KeyReminderDaysBefore, []int{7, 3, 1})

	var summary Summary
	for _, days := range thresholds {
		target := today.AddDate(0, 0, days)

		var due []*customer.Customer
		if err := s.db.WithContext(ctx).
			Where("expiry_date >= ? AND expiry_date < ?", target, target.AddDate(0, 0, 1)).
			Where("points > ?", 0).
			Where("telegram_user_id IS NOT NULL").
			Find(&due).Error; err != nil {
			zap.L().Error("failed to query reminder batch", zap.Int("days_before", days), zap.Error(err))
			summary.ErrorCount++
			continue
		}

		for _, cust := range due {
			summary.Scanned++
			if err := s.remind(ctx, cust, days, today); err != nil {
				summary.ErrorCount++
				continue
			}
			summary.SuccessCount++
		}
	}

	zap.L().Info("reminder sweep finished",
		zap.Int64("scanned", summary.Scanned),
		zap.Int64("success_count", summary.SuccessCount),
		zap.Int64("error_count", summary.ErrorCount),
	)

	return summary, nil
}

func (s *Service) remind(ctx context.Context, cust *customer.Customer, days int, today time.Time) error {
	if s.rdb != nil {
		marker := rediskey.BuildReminderMarkerKey(cust.ID, days, today)
		ok, err := s.rdb.SetNX(ctx, marker, "1", reminderMarkerTTL).Result()
		if err != nil {
			zap.L().Error("failed to set reminder marker", zap.String("customer_id", cust.ID), zap.Error(err))
			return err
		}
		if !ok {
			// Already reminded for this threshold today.
			return nil
		}
	}

	text := fmt.Sprintf("Your %d loyalty points expire in %d days.", cust.Points, days)
	if err := s.notifier.NotifyCustomer(ctx, *cust.TelegramUserID, text); err != nil {
		zap.L().Error("failed to send expiry reminder",
			zap.String("customer_id", cust.ID),
			zap.Error(err),
		)
	}

	return nil
}
