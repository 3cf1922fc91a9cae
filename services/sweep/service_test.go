package sweep

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/bwmarrin/snowflake"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"gorm.io/gorm"

	"pointsplane/pkg/expiry"
	"pointsplane/services/customer"
	"pointsplane/services/ledger"
	"pointsplane/services/settings"
	"pointsplane/services/testutil"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type captureNotifier struct {
	mu       sync.Mutex
	messages map[string][]string
}

func newCaptureNotifier() *captureNotifier {
	return &captureNotifier{messages: make(map[string][]string)}
}

func (n *captureNotifier) NotifyCustomer(_ context.Context, handle, text string) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.messages[handle] = append(n.messages[handle], text)
	return nil
}

type fixture struct {
	db       *gorm.DB
	node     *snowflake.Node
	ledger   *ledger.Service
	notifier *captureNotifier
	svc      *Service
}

func newFixture(t *testing.T) *fixture {
	t.Helper()

	db := testutil.NewTestDB(t,
		&settings.Setting{},
		&customer.Customer{},
		&ledger.PointTransaction{},
	)

	node, err := snowflake.NewNode(1)
	require.NoError(t, err)

	provider, err := settings.NewProvider(db)
	require.NoError(t, err)

	ledgerSvc := ledger.NewService(ledger.ServiceParams{DB: db, Node: node})
	notifier := newCaptureNotifier()

	svc := NewService(ServiceParams{
		DB:       db,
		Settings: provider,
		Ledger:   ledgerSvc,
		Notifier: notifier,
	})

	return &fixture{
		db:       db,
		node:     node,
		ledger:   ledgerSvc,
		notifier: notifier,
		svc:      svc,
	}
}

func (f *fixture) newCustomer(t *testing.T, points int64, expiryDate time.Time, handle *string) *customer.Customer {
	t.Helper()

	c := &customer.Customer{
		ID:             f.node.Generate().String(),
		Points:         points,
		ExpiryDate:     &expiryDate,
		TelegramUserID: handle,
	}
	require.NoError(t, f.db.Create(c).Error)
	return c
}

func TestExpirySweepZeroesStaleBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	expired := f.newCustomer(t, 0, today.AddDate(0, 0, -1), nil)
	current := f.newCustomer(t, 80, today.AddDate(0, 0, 5), nil)

	_, err := f.ledger.Record(ctx, ledger.RecordParams{
		CustomerID: expired.ID,
		Amount:     120,
		Type:       ledger.TypeAdminAdjust,
		Detail:     "opening balance",
	})
	require.NoError(t, err)

	summary, err := f.svc.RunExpirySweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Scanned)
	require.EqualValues(t, 1, summary.SuccessCount)
	require.Zero(t, summary.ErrorCount)

	var got customer.Customer
	require.NoError(t, f.db.First(&got, "id = ?", expired.ID).Error)
	require.Zero(t, got.Points)

	sum, err := f.ledger.SumAmounts(ctx, expired.ID)
	require.NoError(t, err)
	require.Zero(t, sum)

	rows, err := f.ledger.List(ctx, expired.ID)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	var sweepRow *ledger.PointTransaction
	for _, row := range rows {
		if row.Type == ledger.TypeOther {
			sweepRow = row
		}
	}
	require.NotNil(t, sweepRow)
	require.EqualValues(t, -120, sweepRow.Amount)

	var gotCurrent customer.Customer
	require.NoError(t, f.db.First(&gotCurrent, "id = ?", current.ID).Error)
	require.EqualValues(t, 80, gotCurrent.Points)
}

func TestExpirySweepIsIdempotent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	expired := f.newCustomer(t, 120, today.AddDate(0, 0, -1), nil)

	_, err := f.svc.RunExpirySweep(ctx)
	require.NoError(t, err)

	summary, err := f.svc.RunExpirySweep(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Scanned)

	var count int64
	require.NoError(t, f.db.Model(&ledger.PointTransaction{}).
		Where("customer_id = ?", expired.ID).
		Count(&count).Error)
	require.EqualValues(t, 1, count)
}

func TestReminderSweepNotifiesDueCustomers(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	handle := "tg-due"
	f.newCustomer(t, 90, today.AddDate(0, 0, 3), &handle)

	// No handle, no notification.
	f.newCustomer(t, 40, today.AddDate(0, 0, 3), nil)
	// Outside every threshold.
	farHandle := "tg-far"
	f.newCustomer(t, 70, today.AddDate(0, 0, 20), &farHandle)

	summary, err := f.svc.RunReminderSweep(ctx)
	require.NoError(t, err)
	require.EqualValues(t, 1, summary.Scanned)
	require.EqualValues(t, 1, summary.SuccessCount)

	require.Len(t, f.notifier.messages[handle], 1)
	require.Contains(t, f.notifier.messages[handle][0], "3 days")
	require.Empty(t, f.notifier.messages[farHandle])
}

func TestReminderSweepSkipsZeroBalances(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	today := expiry.StartOfDay(time.Now())
	handle := "tg-zero"
	f.newCustomer(t, 0, today.AddDate(0, 0, 7), &handle)

	summary, err := f.svc.RunReminderSweep(ctx)
	require.NoError(t, err)
	require.Zero(t, summary.Scanned)
	require.Empty(t, f.notifier.messages[handle])
}
