package campaign

import (
	"context"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"pointsplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

func newTestService(t *testing.T) *Service {
	t.Helper()

	db := testutil.NewTestDB(t, &Campaign{})

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	return NewService(ServiceParams{DB: db, Node: node})
}

func TestResolveBonus(t *testing.T) {
	require.EqualValues(t, 50, ResolveBonus(nil, KindReferral, 50))

	c := &Campaign{BaseReferral: 100, LinkBonus: 0}
	require.EqualValues(t, 100, ResolveBonus(c, KindReferral, 50))
	require.EqualValues(t, 25, ResolveBonus(c, KindLink, 25))
}

func TestResolveMilestone(t *testing.T) {
	require.Zero(t, ResolveMilestone(nil, 5))

	c := &Campaign{MilestoneTarget: 5, MilestoneBonus: 250}
	require.Zero(t, ResolveMilestone(c, 4))
	require.EqualValues(t, 250, ResolveMilestone(c, 5))
	require.Zero(t, ResolveMilestone(c, 6))
	require.EqualValues(t, 250, ResolveMilestone(c, 10))

	disabled := &Campaign{MilestoneTarget: 0, MilestoneBonus: 250}
	require.Zero(t, ResolveMilestone(disabled, 5))
}

func TestEligible(t *testing.T) {
	attrs := map[string]any{
		"points":         int64(120),
		"referral_count": 3,
	}

	require.True(t, Eligible(nil, attrs))
	require.True(t, Eligible(&Campaign{}, attrs))

	matching := &Campaign{Name: "vip", EligibilityExpr: "points >= 100"}
	require.True(t, Eligible(matching, attrs))

	excluding := &Campaign{Name: "vip", EligibilityExpr: "points >= 1000"}
	require.False(t, Eligible(excluding, attrs))

	// A broken expression must never block an award.
	broken := &Campaign{Name: "vip", EligibilityExpr: "points >>> oops"}
	require.True(t, Eligible(broken, attrs))
}

func TestIsCurrent(t *testing.T) {
	now := time.Now()
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(0, 1, 0)

	require.True(t, (&Campaign{IsActive: true}).IsCurrent(now))
	require.True(t, (&Campaign{IsActive: true, StartAt: &past, EndAt: &future}).IsCurrent(now))
	require.False(t, (&Campaign{IsActive: false, StartAt: &past, EndAt: &future}).IsCurrent(now))
	require.False(t, (&Campaign{IsActive: true, StartAt: &future}).IsCurrent(now))
	require.False(t, (&Campaign{IsActive: true, EndAt: &past}).IsCurrent(now))
}

func TestFindActivePicksCurrentCampaign(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	got, err := svc.FindActive(ctx)
	require.NoError(t, err)
	require.Nil(t, got)

	now := time.Now()
	past := now.AddDate(0, -1, 0)
	future := now.AddDate(0, 1, 0)

	_, err = svc.Create(ctx, CreateParams{
		Name:     "ended",
		StartAt:  &past,
		EndAt:    &past,
		IsActive: true,
	})
	require.NoError(t, err)

	_, err = svc.Create(ctx, CreateParams{
		Name:     "inactive",
		StartAt:  &past,
		EndAt:    &future,
		IsActive: false,
	})
	require.NoError(t, err)

	current, err := svc.Create(ctx, CreateParams{
		Name:     "current",
		StartAt:  &past,
		EndAt:    &future,
		IsActive: true,
	})
	require.NoError(t, err)

	got, err = svc.FindActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, current.ID, got.ID)
}

func TestFindActivePrefersLatestStart(t *testing.T) {
	svc := newTestService(t)
	ctx := context.Background()

	now := time.Now()
	older := now.AddDate(0, -2, 0)
	newer := now.AddDate(0, 0, -1)
	future := now.AddDate(0, 1, 0)

	_, err := svc.Create(ctx, CreateParams{
		Name: "older", StartAt: &older, EndAt: &future, IsActive: true,
	})
	require.NoError(t, err)

	latest, err := svc.Create(ctx, CreateParams{
		Name: "newer", StartAt: &newer, EndAt: &future, IsActive: true,
	})
	require.NoError(t, err)

	got, err := svc.FindActive(ctx)
	require.NoError(t, err)
	require.NotNil(t, got)
	require.Equal(t, latest.ID, got.ID)
}
