package referral

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pointsplane/pkg/errutil"
	"pointsplane/pkg/expiry"
	"pointsplane/services/campaign"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/notify"
	"pointsplane/services/settings"
	"pointsplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type fixture struct {
	db        *gorm.DB
	node      *snowflake.Node
	settings  *settings.Provider
	customers *customer.Service
	ledger    *ledger.Service
	campaigns *campaign.Service
	svc       *Service
}

func newFixture(t *testing.T, settingRows map[string]string) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&settings.Setting{},
		&customer.Customer{},
		&ledger.PointTransaction{},
		&campaign.Campaign{},
		&Referral{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	i := 0
	for key, value := range settingRows {
		i++
		require.NoError(t, db.Create(&settings.Setting{
			ID:    fmt.Sprintf("setting-%02d", i),
			Key:   key,
			Value: value,
		}).Error)
	}

	provider, err := settings.NewProvider(db)
	require.NoError(t, err)

	customers := customer.NewService(customer.ServiceParams{DB: db, Node: node, Settings: provider})
	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	campaigns := campaign.NewService(campaign.ServiceParams{DB: db, Node: node})

	svc := NewService(ServiceParams{
		DB:        db,
		Node:      node,
		Settings:  provider,
		Customers: customers,
		Ledger:    ledgerSvc,
		Campaigns: campaigns,
		Notifier:  notify.NopNotifier{},
	})

	return &fixture{
		db:        db,
		node:      node,
		settings:  provider,
		customers: customers,
		ledger:    ledgerSvc,
		campaigns: campaigns,
		svc:       svc,
	}
}

func (f *fixture) newCustomer(t *testing.T, mutate func(c *customer.Customer)) *customer.Customer {
	t.Helper()

	c := &customer.Customer{ID: f.node.Generate().String()}
	if mutate != nil {
		mutate(c)
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func (f *fixture) reload(t *testing.T, id string) *customer.Customer {
	t.Helper()

	var c customer.Customer
	require.NoError(t, f.db.First(&c, "id = ?", id).Error)
	return &c
}

func TestAwardReferralBonusIsIdempotent(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
	})
	ctx := context.Background()

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))
	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 50, got.Points)
	require.Equal(t, 1, got.ReferralCount)

	sum, err := f.ledger.SumAmounts(ctx, referrer.ID)
	require.NoError(t, err)
	require.Equal(t, got.Points, sum)

	var count int64
	require.NoError(t, f.db.Model(&ledger.PointTransaction{}).
		Where("customer_id = ? AND type = ?", referrer.ID, ledger.TypeReferralBonus).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestAwardExtendsExpiry(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints:  "50",
		settings.KeyExpiryDaysReferralBonus: "7",
		settings.KeyExpiryDaysLimitMax:      "60",
	})
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	current := today.AddDate(0, 0, 3)
	referrer := f.newCustomer(t, func(c *customer.Customer) {
		c.ExpiryDate = &current
	})
	referee := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	got := f.reload(t, referrer.ID)
	require.NotNil(t, got.ExpiryDate)
	require.True(t, got.ExpiryDate.Equal(today.AddDate(0, 0, 10)),
		"expiry %s, want %s", got.ExpiryDate, today.AddDate(0, 0, 10))
}

func TestAwardCapsExpiryExtension(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints:  "50",
		settings.KeyExpiryDaysReferralBonus: "7",
		settings.KeyExpiryDaysLimitMax:      "5",
	})
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	current := today.AddDate(0, 0, 3)
	referrer := f.newCustomer(t, func(c *customer.Customer) {
		c.ExpiryDate = &current
	})
	referee := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	got := f.reload(t, referrer.ID)
	require.NotNil(t, got.ExpiryDate)
	require.True(t, got.ExpiryDate.Equal(today.AddDate(0, 0, 5)))
}

func TestAwardMissingReferrerIsNoop(t *testing.T) {
	f := newFixture(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(context.Background(), "gone", "referee"))

	var count int64
	require.NoError(t, f.db.Model(&ledger.PointTransaction{}).Count(&count).Error)
	require.Zero(t, count)
}

func TestAwardUsesCampaignBonus(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
	})
	ctx := context.Background()

	now := time.Now()
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 1, 0)
	camp, err := f.campaigns.Create(ctx, campaign.CreateParams{
		Name:         "double-points",
		StartAt:      &start,
		EndAt:        &end,
		BaseReferral: 100,
		IsActive:     true,
	})
	require.NoError(t, err)

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 100, got.Points)
	require.NotNil(t, got.ActiveCampaignTag)
	require.Equal(t, camp.Name, *got.ActiveCampaignTag)
}

func TestAwardIneligibleCampaignFallsBack(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
	})
	ctx := context.Background()

	now := time.Now()
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 1, 0)
	_, err := f.campaigns.Create(ctx, campaign.CreateParams{
		Name:            "vip-only",
		StartAt:         &start,
		EndAt:           &end,
		BaseReferral:    100,
		IsActive:        true,
		EligibilityExpr: "points >= 1000",
	})
	require.NoError(t, err)

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 50, got.Points)
	require.Nil(t, got.ActiveCampaignTag)
}

func TestAwardLinkBonusOnce(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardLinkBonus: "25",
	})
	ctx := context.Background()

	cust := f.newCustomer(t, nil)

	require.NoError(t, f.svc.AwardLinkBonus(ctx, cust.ID))
	require.NoError(t, f.svc.AwardLinkBonus(ctx, cust.ID))

	got := f.reload(t, cust.ID)
	require.EqualValues(t, 25, got.Points)
}

func TestCreateReferralRejectsSecondLink(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()

	referrer := f.newCustomer(t, nil)
	other := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	_, err := f.svc.CreateReferral(ctx, referrer.ID, referee.ID)
	require.NoError(t, err)

	_, err = f.svc.CreateReferral(ctx, other.ID, referee.ID)
	require.Error(t, err)

	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestCompleteReferral(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
		settings.KeyMinPurchaseForReferral: "500",
	})
	ctx := context.Background()

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	_, err := f.svc.CreateReferral(ctx, referrer.ID, referee.ID)
	require.NoError(t, err)

	// Unknown referee.
	err = f.svc.CompleteReferral(ctx, "nobody", 1000)
	var be errutil.BaseError
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusNotFound, be.Code)

	// Below the qualifying minimum.
	err = f.svc.CompleteReferral(ctx, referee.ID, 499)
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusUnprocessableEntity, be.Code)

	ref, err := f.svc.Get(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, StatusPendingPurchase, ref.Status)

	// Qualifying purchase completes and pays in one unit.
	require.NoError(t, f.svc.CompleteReferral(ctx, referee.ID, 750))

	ref, err = f.svc.Get(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ref.Status)
	require.EqualValues(t, 750, ref.PurchaseAmount)
	require.EqualValues(t, 50, ref.BonusAwarded)
	require.NotNil(t, ref.CompletedAt)

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 50, got.Points)
	require.Equal(t, 1, got.ReferralCount)

	// A second completion is rejected.
	err = f.svc.CompleteReferral(ctx, referee.ID, 900)
	require.True(t, errors.As(err, &be))
	require.Equal(t, errutil.StatusConflict, be.Code)
}

func TestCompleteReferralAfterLinkTimeAward(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
		settings.KeyMinPurchaseForReferral: "500",
	})
	ctx := context.Background()

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	_, err := f.svc.CreateReferral(ctx, referrer.ID, referee.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))

	// The pair is already paid; the completion must still transition the
	// referral without a second credit.
	require.NoError(t, f.svc.CompleteReferral(ctx, referee.ID, 1000))

	ref, err := f.svc.Get(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ref.Status)
	require.EqualValues(t, 1000, ref.PurchaseAmount)
	require.Zero(t, ref.BonusAwarded)

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 50, got.Points)
	require.Equal(t, 1, got.ReferralCount)

	var count int64
	require.NoError(t, f.db.Model(&ledger.PointTransaction{}).
		Where("customer_id = ? AND related_id = ?", referrer.ID, referee.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCompleteReferralMilestoneAfterLinkTimeAward(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
		settings.KeyMinPurchaseForReferral: "500",
	})
	ctx := context.Background()

	now := time.Now()
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 1, 0)
	_, err := f.campaigns.Create(ctx, campaign.CreateParams{
		Name:            "milestones",
		StartAt:         &start,
		EndAt:           &end,
		MilestoneTarget: 5,
		MilestoneBonus:  250,
		IsActive:        true,
	})
	require.NoError(t, err)

	// Link-time award takes the referrer to four; the completion would be
	// the fifth and switch the entry type for the milestone. The earlier
	// REFERRAL_BONUS row must still block it.
	referrer := f.newCustomer(t, func(c *customer.Customer) {
		c.ReferralCount = 3
	})
	referee := f.newCustomer(t, nil)

	_, err = f.svc.CreateReferral(ctx, referrer.ID, referee.ID)
	require.NoError(t, err)
	require.NoError(t, f.svc.AwardReferralBonus(ctx, referrer.ID, referee.ID))
	require.NoError(t, f.svc.CompleteReferral(ctx, referee.ID, 1000))

	ref, err := f.svc.Get(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ref.Status)

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 50, got.Points)
	require.Equal(t, 4, got.ReferralCount)

	var count int64
	require.NoError(t, f.db.Model(&ledger.PointTransaction{}).
		Where("customer_id = ? AND related_id = ?", referrer.ID, referee.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestCompleteReferralMilestone(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
		settings.KeyMinPurchaseForReferral: "500",
	})
	ctx := context.Background()

	now := time.Now()
	start := now.AddDate(0, 0, -1)
	end := now.AddDate(0, 1, 0)
	_, err := f.campaigns.Create(ctx, campaign.CreateParams{
		Name:            "milestones",
		StartAt:         &start,
		EndAt:           &end,
		MilestoneTarget: 5,
		MilestoneBonus:  250,
		IsActive:        true,
	})
	require.NoError(t, err)

	// The completing referral is the referrer's fifth.
	referrer := f.newCustomer(t, func(c *customer.Customer) {
		c.ReferralCount = 4
	})
	referee := f.newCustomer(t, nil)

	_, err = f.svc.CreateReferral(ctx, referrer.ID, referee.ID)
	require.NoError(t, err)

	require.NoError(t, f.svc.CompleteReferral(ctx, referee.ID, 1000))

	got := f.reload(t, referrer.ID)
	require.EqualValues(t, 300, got.Points)
	require.Equal(t, 5, got.ReferralCount)

	rows, err := f.ledger.List(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.Equal(t, ledger.TypeCampaignBonus, rows[0].Type)
	require.EqualValues(t, 300, rows[0].Amount)
}

func TestCompleteReferralMissingReferrer(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyMinPurchaseForReferral: "500",
	})
	ctx := context.Background()

	referee := f.newCustomer(t, nil)

	require.NoError(t, f.db.Create(&Referral{
		ID:         f.node.Generate().String(),
		ReferrerID: "gone",
		RefereeID:  referee.ID,
		Status:     StatusPendingPurchase,
	}).Error)

	require.NoError(t, f.svc.CompleteReferral(ctx, referee.ID, 800))

	ref, err := f.svc.Get(ctx, referee.ID)
	require.NoError(t, err)
	require.Equal(t, StatusCompleted, ref.Status)
	require.Zero(t, ref.BonusAwarded)
}

func TestAwardReferralBonusAtBackdates(t *testing.T) {
	f := newFixture(t, map[string]string{
		settings.KeyStandardReferralPoints: "50",
	})
	ctx := context.Background()

	referrer := f.newCustomer(t, nil)
	referee := f.newCustomer(t, nil)

	occurredAt := time.Date(2026, 2, 1, 9, 30, 0, 0, time.UTC)
	require.NoError(t, f.svc.AwardReferralBonusAt(ctx, referrer.ID, referee.ID, occurredAt))

	rows, err := f.ledger.List(ctx, referrer.ID)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	require.True(t, rows[0].CreatedAt.Equal(occurredAt))
}
