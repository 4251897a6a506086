package expiry

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shaluqa.app/crm/internal/testutil"
	"shaluqa.app/crm/models"
	"shaluqa.app/crm/storage"
)

var madrid = mustLoad("Europe/Madrid")

func mustLoad(name string) *time.Location {
	loc, err := time.LoadLocation(name)
	if err != nil {
		panic(err)
	}
	return loc
}

func fixedClock(t time.Time) Clock {
	return Clock{Now: func() time.Time { return t }, Location: madrid}
}

// failingStore wraps a Store and injects query or bookkeeping failures.
type failingStore struct {
	Store
	queryErr error
	markErr  error
	marked   []string
}

func (f *failingStore) FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error) {
	if f.queryErr != nil {
		return nil, f.queryErr
	}
	return f.Store.FindLicensesExpiringOn(ctx, endDate, status)
}

func (f *failingStore) MarkNotified(ctx context.Context, id, day string) error {
	f.marked = append(f.marked, id)
	if f.markErr != nil {
		return f.markErr
	}
	return f.Store.MarkNotified(ctx, id, day)
}

type fakeRecorder struct {
	outcomes []string
	runs     int
	runErr   error
}

func (r *fakeRecorder) ObserveOutcome(outcome string) { r.outcomes = append(r.outcomes, outcome) }

func (r *fakeRecorder) ObserveRun(d time.Duration, err error) {
	r.runs++
	r.runErr = err
}

func seedLicense(t *testing.T, store storage.Store, id, clientEmail, endDate string, status models.LicenseStatus) {
	t.Helper()
	ctx := context.Background()

	client := testutil.CreateTestClient("client-"+id, "Cliente "+id, clientEmail)
	require.NoError(t, store.SaveClient(ctx, &client))
	product := testutil.CreateTestProduct("product1", "TPV")
	require.NoError(t, store.SaveProduct(ctx, &product))

	license := testutil.CreateTestLicense(id, client.ID, product.ID, endDate)
	license.Status = status
	require.NoError(t, store.SaveLicense(ctx, &license))
}

func TestClock_Days(t *testing.T) {
	tests := []struct {
		name       string
		now        time.Time
		wantToday  string
		wantTarget string
	}{
		{
			name:       "same month",
			now:        time.Date(2025, 6, 3, 10, 0, 0, 0, madrid),
			wantToday:  "2025-06-03",
			wantTarget: "2025-06-10",
		},
		{
			name:       "month rollover",
			now:        time.Date(2025, 1, 28, 10, 0, 0, 0, madrid),
			wantToday:  "2025-01-28",
			wantTarget: "2025-02-04",
		},
		{
			name:       "february in leap year",
			now:        time.Date(2024, 2, 25, 10, 0, 0, 0, madrid),
			wantToday:  "2024-02-25",
			wantTarget: "2024-03-03",
		},
		{
			name:       "year rollover",
			now:        time.Date(2025, 12, 28, 10, 0, 0, 0, madrid),
			wantToday:  "2025-12-28",
			wantTarget: "2026-01-04",
		},
		{
			name:       "late UTC evening is already tomorrow in Madrid",
			now:        time.Date(2025, 6, 2, 23, 30, 0, 0, time.UTC),
			wantToday:  "2025-06-03",
			wantTarget: "2025-06-10",
		},
		{
			name:       "across DST change",
			now:        time.Date(2025, 3, 27, 0, 30, 0, 0, madrid),
			wantToday:  "2025-03-27",
			wantTarget: "2025-04-03",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			today, target := fixedClock(tt.now).Days()
			assert.Equal(t, tt.wantToday, today)
			assert.Equal(t, tt.wantTarget, target)
		})
	}
}

func TestDisplayDate(t *testing.T) {
	tests := map[string]string{
		"2025-06-10":           "10/6/2025",
		"2025-12-01":           "1/12/2025",
		"2025-06-10T00:00:00Z": "10/6/2025",
		"not a date":           "not a date",
		"":                     "",
	}

	for in, want := range tests {
		assert.Equal(t, want, DisplayDate(in), "DisplayDate(%q)", in)
	}
}

func TestRun_SendsAndMarksNotified(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	sender := &testutil.FakeSender{}

	n := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid)))
	report, err := n.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 1, report.Total)
	assert.Equal(t, "Processed 1 licenses.", report.Message)
	require.Len(t, report.Results, 1)
	assert.Equal(t, Result{LicenseID: "L1", Email: "ana@example.com", Outcome: OutcomeSent}, report.Results[0])
	assert.NoError(t, report.Warnings)

	require.Len(t, sender.Sent, 1)
	assert.Equal(t, testutil.SentEmail{
		To:          "ana@example.com",
		ClientName:  "Cliente L1",
		ProductName: "TPV",
		ExpiryDate:  "10/6/2025",
	}, sender.Sent[0])

	license, err := store.GetLicense(context.Background(), "L1")
	require.NoError(t, err)
	require.NotNil(t, license.LastNotificationDate)
	assert.Equal(t, "2025-06-03", *license.LastNotificationDate)
}

func TestRun_SecondRunSameDayIsSkipped(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	sender := &testutil.FakeSender{}
	n := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid)))

	first, err := n.Run(context.Background())
	require.NoError(t, err)
	second, err := n.Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, OutcomeSent, first.Results[0].Outcome)
	assert.Equal(t, Result{LicenseID: "L1", Email: "ana@example.com", Outcome: OutcomeSkipped}, second.Results[0])
	assert.Equal(t, 1, sender.Count())
}

func TestRun_NotifiedOnAnotherDayIsSentAgain(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	require.NoError(t, store.MarkNotified(context.Background(), "L1", "2025-06-02"))
	sender := &testutil.FakeSender{}

	report, err := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, OutcomeSent, report.Results[0].Outcome)
	assert.Equal(t, 1, sender.Count())
}

func TestRun_FilterCorrectness(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	seedLicense(t, store, "L2", "luis@example.com", "2025-06-10", models.StatusInactive)
	seedLicense(t, store, "L3", "eva@example.com", "2025-06-10", models.StatusPendingPayment)
	seedLicense(t, store, "L4", "rosa@example.com", "2025-06-09", models.StatusActive)
	seedLicense(t, store, "L5", "juan@example.com", "2025-06-11", models.StatusActive)
	sender := &testutil.FakeSender{}

	report, err := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 1, report.Total)
	assert.Equal(t, "L1", report.Results[0].LicenseID)
	require.Len(t, sender.Sent, 1)
	assert.Equal(t, "ana@example.com", sender.Sent[0].To)
}

func TestRun_MissingEmailNeverSends(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "", "2025-06-10", models.StatusActive)
	seedLicense(t, store, "L2", "   ", "2025-06-10", models.StatusActive)
	orphan := testutil.CreateTestLicense("L3", "no-such-client", "product1", "2025-06-10")
	require.NoError(t, store.SaveLicense(context.Background(), &orphan))

	f := &failingStore{Store: store}
	sender := &testutil.FakeSender{}

	report, err := NewNotifier(f, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(context.Background())
	require.NoError(t, err)

	require.Equal(t, 3, report.Total)
	for _, r := range report.Results {
		assert.Equal(t, OutcomeMissingEmail, r.Outcome, r.LicenseID)
		assert.Empty(t, r.Email)
	}
	assert.Zero(t, sender.Count())
	assert.Empty(t, f.marked)
}

func TestRun_DefaultNames(t *testing.T) {
	store := storage.NewMemoryStorage()
	ctx := context.Background()

	client := testutil.CreateTestClient("c1", "", "ana@example.com")
	require.NoError(t, store.SaveClient(ctx, &client))
	license := testutil.CreateTestLicense("L1", "c1", "missing-product", "2025-06-10")
	require.NoError(t, store.SaveLicense(ctx, &license))
	sender := &testutil.FakeSender{}

	_, err := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(ctx)
	require.NoError(t, err)

	require.Len(t, sender.Sent, 1)
	assert.Equal(t, "Cliente", sender.Sent[0].ClientName)
	assert.Equal(t, "Producto", sender.Sent[0].ProductName)
}

func TestRun_PartialFailureIsolation(t *testing.T) {
	store := storage.NewMemoryStorage()
	for _, id := range []string{"L1", "L2", "L3", "L4"} {
		seedLicense(t, store, id, id+"@example.com", "2025-06-10", models.StatusActive)
	}
	sender := &testutil.FakeSender{FailFor: map[string]error{
		"L2@example.com": errors.New("smtp: 550 mailbox unavailable"),
	}}

	report, err := NewNotifier(store, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(context.Background())
	require.NoError(t, err)

	require.Len(t, report.Results, 4)
	outcomes := map[string]Result{}
	for _, r := range report.Results {
		outcomes[r.LicenseID] = r
	}
	assert.Equal(t, OutcomeFailed, outcomes["L2"].Outcome)
	assert.Equal(t, "smtp: 550 mailbox unavailable", outcomes["L2"].Error)
	assert.Equal(t, "L2@example.com", outcomes["L2"].Email)
	for _, id := range []string{"L1", "L3", "L4"} {
		assert.Equal(t, OutcomeSent, outcomes[id].Outcome, id)
	}
	assert.Equal(t, 3, sender.Count())

	failed, err := store.GetLicense(context.Background(), "L2")
	require.NoError(t, err)
	assert.Nil(t, failed.LastNotificationDate)
}

func TestRun_MarkNotifiedFailureIsOnlyAWarning(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	seedLicense(t, store, "L2", "luis@example.com", "2025-06-10", models.StatusActive)
	f := &failingStore{Store: store, markErr: errors.New("column last_notification_date does not exist")}
	sender := &testutil.FakeSender{}

	report, err := NewNotifier(f, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid))).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, 2, report.Count(OutcomeSent))
	require.Error(t, report.Warnings)
	assert.Contains(t, report.Warnings.Error(), "2 errors occurred")
	assert.Contains(t, report.Warnings.Error(), "license L1: mark notified")
	assert.ElementsMatch(t, []string{"L1", "L2"}, f.marked)
}

func TestRun_QueryFailureIsFatal(t *testing.T) {
	f := &failingStore{Store: storage.NewMemoryStorage(), queryErr: errors.New("connection refused")}
	sender := &testutil.FakeSender{}
	rec := &fakeRecorder{}

	report, err := NewNotifier(f, sender, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid)), WithRecorder(rec)).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "connection refused")
	assert.Empty(t, report.Results)
	assert.Zero(t, sender.Count())
	assert.Equal(t, 1, rec.runs)
	assert.Error(t, rec.runErr)
}

func TestRun_ZeroMatches(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L2", "luis@example.com", "2025-06-10", models.StatusInactive)
	rec := &fakeRecorder{}

	report, err := NewNotifier(store, &testutil.FakeSender{}, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid)), WithRecorder(rec)).Run(context.Background())
	require.NoError(t, err)

	assert.Zero(t, report.Total)
	assert.Empty(t, report.Results)
	assert.Contains(t, report.Message, "0")
	assert.Equal(t, "2025-06-10", report.TargetDate)
	assert.Equal(t, 1, rec.runs)
	assert.NoError(t, rec.runErr)
}

func TestRun_RecordsOutcomes(t *testing.T) {
	store := storage.NewMemoryStorage()
	seedLicense(t, store, "L1", "ana@example.com", "2025-06-10", models.StatusActive)
	seedLicense(t, store, "L2", "", "2025-06-10", models.StatusActive)
	rec := &fakeRecorder{}

	_, err := NewNotifier(store, &testutil.FakeSender{}, fixedClock(time.Date(2025, 6, 3, 9, 0, 0, 0, madrid)), WithRecorder(rec)).Run(context.Background())
	require.NoError(t, err)

	assert.ElementsMatch(t, []string{"sent", "missing-email"}, rec.outcomes)
}
