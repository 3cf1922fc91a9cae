package main

import (
	"log"
	"time"

	"github.com/bwmarrin/snowflake"
	"go.uber.org/fx"
	"go.uber.org/fx/fxevent"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pointsplane/pkg/config"
	"pointsplane/pkg/db"
	"pointsplane/pkg/gen"
	"pointsplane/pkg/logger"
	"pointsplane/services/campaign"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/monitor"
	"pointsplane/services/referral"
	"pointsplane/services/settings"
)

func main() {
	opts := []fx.Option{
		config.Module,
		logger.Module,
		db.Module,
		gen.Module,
		fx.Invoke(seed),
		fxLogger,
	}

	if err := fx.ValidateApp(opts...); err != nil {
		log.Fatalf("fx validation failed: %v", err)
	}

	fx.New(opts...).Run()
}

var fxLogger = fx.WithLogger(func(cfg *config.Config, logger *zap.Logger) fxevent.Logger {
	return fxevent.NopLogger
})

var defaultSettings = map[string]string{
	settings.KeyStandardReferralPoints:   "50",
	settings.KeyStandardLinkBonus:        "25",
	settings.KeyExpiryDaysReferralBonus:  "7",
	settings.KeyExpiryDaysLimitMax:       "60",
	settings.KeyExpiryDaysNewMember:      "30",
	settings.KeyExpiryCutoffTime:         "0 2 * * *",
	settings.KeyReminderNotificationTime: "0 10 * * *",
	settings.KeySystemTimezone:           "UTC",
	settings.KeyMinPurchaseForReferral:   "500",
	settings.KeyReminderDaysBefore:       "7,3,1",
}

func seed(db *gorm.DB, node *snowflake.Node, sd fx.Shutdowner) error {
	defer func() {
		if err := sd.Shutdown(); err != nil {
			zap.L().Error("shutdown failed", zap.Error(err))
		}
	}()

	if err := db.AutoMigrate(
		&settings.Setting{},
		&customer.Customer{},
		&ledger.PointTransaction{},
		&campaign.Campaign{},
		&referral.Referral{},
		&monitor.Product{},
		&monitor.Review{},
	); err != nil {
		return err
	}

	for key, value := range defaultSettings {
		setting := settings.Setting{
			ID:    node.Generate().String(),
			Key:   key,
			Value: value,
		}
		err := db.Where("key = ?", key).FirstOrCreate(&setting).Error
		if err != nil {
			return err
		}
	}

	start := time.Now().UTC()
	end := start.AddDate(0, 1, 0)
	demo := campaign.Campaign{
		ID:              node.Generate().String(),
		Name:            "launch-month",
		StartAt:         &start,
		EndAt:           &end,
		BaseReferral:    100,
		MilestoneTarget: 5,
		MilestoneBonus:  250,
		LinkBonus:       50,
		IsActive:        true,
	}
	if err := db.Where("name = ?", demo.Name).FirstOrCreate(&demo).Error; err != nil {
		return err
	}

	zap.L().Info("seed finished",
		zap.Int("settings", len(defaultSettings)),
		zap.String("campaign", demo.Name),
	)

	return nil
}
