package handlers

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shaluqa.app/crm/internal/expiry"
	"shaluqa.app/crm/internal/testutil"
)

func TestCheckLicenses_Report(t *testing.T) {
	env := newTestEnv(t)
	env.checker.report = expiry.Report{
		Message: "Processed 2 licenses.",
		Total:   2,
		Results: []expiry.Result{
			{LicenseID: "license1", Email: "ana@example.com", Outcome: expiry.OutcomeSent},
			{LicenseID: "license4", Outcome: expiry.OutcomeMissingEmail},
		},
		Warnings: errors.New("license license1: mark notified: timeout"),
	}

	w := env.request(http.MethodGet, "/api/cron/check-licenses", nil, "", false)

	require.Equal(t, http.StatusOK, w.Code)
	var body struct {
		Message string          `json:"message"`
		Total   int             `json:"total"`
		Results []expiry.Result `json:"results"`
	}
	decodeBody(t, w, &body)
	assert.Equal(t, "Processed 2 licenses.", body.Message)
	assert.Equal(t, 2, body.Total)
	require.Len(t, body.Results, 2)
	assert.Equal(t, expiry.OutcomeSent, body.Results[0].Outcome)
	assert.Equal(t, expiry.OutcomeMissingEmail, body.Results[1].Outcome)
	assert.Equal(t, 1, env.checker.calls)
}

func TestCheckLicenses_NothingMatched(t *testing.T) {
	env := newTestEnv(t)
	env.checker.report = expiry.Report{Message: "Processed 0 licenses: no licenses expiring in 7 days found."}

	w := env.request(http.MethodPost, "/api/cron/check-licenses", nil, "", false)

	require.Equal(t, http.StatusOK, w.Code)
	var body map[string]interface{}
	decodeBody(t, w, &body)
	assert.Equal(t, map[string]interface{}{"message": "Processed 0 licenses: no licenses expiring in 7 days found."}, body)
}

func TestCheckLicenses_QueryFailure(t *testing.T) {
	env := newTestEnv(t)
	env.checker.err = errors.New("failed to fetch expiring licenses: connection refused")

	w := env.request(http.MethodGet, "/api/cron/check-licenses", nil, "", false)

	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Equal(t, "failed to fetch expiring licenses: connection refused", errorOf(t, w))
}

func TestCheckLicenses_CronSecret(t *testing.T) {
	env := newTestEnv(t, func(d *Dependencies) { d.CronSecret = "s3cret" })

	tests := []struct {
		name   string
		header string
		want   int
	}{
		{name: "missing", want: http.StatusUnauthorized},
		{name: "wrong", header: "Bearer nope", want: http.StatusUnauthorized},
		{name: "no bearer prefix", header: "s3cret", want: http.StatusUnauthorized},
		{name: "valid", header: "Bearer s3cret", want: http.StatusOK},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			req := httptest.NewRequest(http.MethodGet, "/api/cron/check-licenses", nil)
			if tt.header != "" {
				req.Header.Set("Authorization", tt.header)
			}
			w := httptest.NewRecorder()
			env.server.ServeHTTP(w, req)
			assert.Equal(t, tt.want, w.Code)
		})
	}
	assert.Equal(t, 1, env.checker.calls)
}

// The full path from HTTP trigger through the notifier to the store.
func TestCheckLicenses_WithNotifier(t *testing.T) {
	env := newTestEnv(t)
	sender := &testutil.FakeSender{}
	clock := expiry.Clock{
		Now:      func() time.Time { return time.Date(2025, 6, 3, 10, 0, 0, 0, time.UTC) },
		Location: time.UTC,
	}
	env.server.checker = expiry.NewNotifier(env.store, sender, clock)
	require.NoError(t, testutil.SetupTestData(env.store, "2025-06-10"))

	w := env.request(http.MethodGet, "/api/cron/check-licenses", nil, "", false)
	require.Equal(t, http.StatusOK, w.Code)

	var report expiry.Report
	decodeBody(t, w, &report)
	assert.Equal(t, "Processed 1 licenses.", report.Message)
	require.Len(t, report.Results, 1)
	assert.Equal(t, expiry.OutcomeSent, report.Results[0].Outcome)
	require.Len(t, sender.Sent, 1)
	assert.Equal(t, "10/6/2025", sender.Sent[0].ExpiryDate)

	license, err := env.store.GetLicense(context.Background(), "license1")
	require.NoError(t, err)
	require.NotNil(t, license.LastNotificationDate)
	assert.Equal(t, "2025-06-03", *license.LastNotificationDate)

	// Same day again: nothing is re-sent.
	w = env.request(http.MethodGet, "/api/cron/check-licenses", nil, "", false)
	require.Equal(t, http.StatusOK, w.Code)
	decodeBody(t, w, &report)
	assert.Equal(t, expiry.OutcomeSkipped, report.Results[0].Outcome)
	assert.Len(t, sender.Sent, 1)
}
