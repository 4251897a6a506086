// Package expiry finds active licenses that end in LeadDays days and emails
// their clients a renewal notice, at most once per license per day.
package expiry

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/hashicorp/go-multierror"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
)

// LeadDays is how far ahead of the end date clients are notified.
const LeadDays = 7

const (
	defaultClientName  = "Cliente"
	defaultProductName = "Producto"

	// displayLayout renders dates the way es-ES locales do (d/m/yyyy).
	displayLayout = "2/1/2006"
)

type Outcome string

const (
	OutcomeSent         Outcome = "sent"
	OutcomeSkipped      Outcome = "skipped-already-sent"
	OutcomeFailed       Outcome = "failed"
	OutcomeMissingEmail Outcome = "missing-email"
)

// Result is the outcome of one matched license.
type Result struct {
	LicenseID string  `json:"license_id"`
	Email     string  `json:"email,omitempty"`
	Outcome   Outcome `json:"outcome"`
	Error     string  `json:"error,omitempty"`
}

// Report is the outcome of one run. Warnings collects the non-fatal
// bookkeeping failures of the run.
type Report struct {
	Message    string   `json:"message"`
	Total      int      `json:"total"`
	Results    []Result `json:"results"`
	Today      string   `json:"-"`
	TargetDate string   `json:"-"`
	Warnings   error    `json:"-"`
}

// Count returns how many results have outcome o.
func (r Report) Count(o Outcome) int {
	n := 0
	for _, res := range r.Results {
		if res.Outcome == o {
			n++
		}
	}
	return n
}

type Store interface {
	FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error)
	MarkNotified(ctx context.Context, id, day string) error
}

type Sender interface {
	SendLicenseExpiry(ctx context.Context, to, clientName, productName, expiryDate string) error
}

// Recorder receives run metrics. A nil Recorder is allowed.
type Recorder interface {
	ObserveOutcome(outcome string)
	ObserveRun(duration time.Duration, err error)
}

// Clock defines "today". Both the idempotence day and the target date are
// computed from the same instant in the same location.
type Clock struct {
	Now      func() time.Time
	Location *time.Location
}

func NewClock(loc *time.Location) Clock {
	return Clock{Now: time.Now, Location: loc}
}

// Today is midnight of the current day in the clock's location.
func (c Clock) Today() time.Time {
	now := time.Now
	if c.Now != nil {
		now = c.Now
	}
	loc := c.Location
	if loc == nil {
		loc = time.Local
	}

	t := now().In(loc)
	return time.Date(t.Year(), t.Month(), t.Day(), 0, 0, 0, 0, loc)
}

// Days returns today's date and the target end date, both YYYY-MM-DD.
func (c Clock) Days() (today, target string) {
	t := c.Today()
	return t.Format(models.DateLayout), t.AddDate(0, 0, LeadDays).Format(models.DateLayout)
}

type Notifier struct {
	store    Store
	sender   Sender
	clock    Clock
	recorder Recorder
}

type Option func(*Notifier)

func WithRecorder(r Recorder) Option {
	return func(n *Notifier) {
		n.recorder = r
	}
}

func NewNotifier(store Store, sender Sender, clock Clock, opts ...Option) *Notifier {
	n := &Notifier{
		store:  store,
		sender: sender,
		clock:  clock,
	}
	for _, opt := range opts {
		opt(n)
	}
	return n
}

// Run performs one scan. Only a failure of the license query is returned as
// an error; every per-license problem is recorded in the report.
func (n *Notifier) Run(ctx context.Context) (Report, error) {
	start := time.Now()
	today, target := n.clock.Days()

	logger.Info("Checking for expiring licenses", map[string]interface{}{
		"today":       today,
		"target_date": target,
	})

	licenses, err := n.store.FindLicensesExpiringOn(ctx, target, models.StatusActive)
	if err != nil {
		err = fmt.Errorf("failed to fetch expiring licenses: %w", err)
		logger.Error("License expiry scan failed", map[string]interface{}{
			"target_date": target,
			"error":       err.Error(),
		})
		n.observeRun(start, err)
		return Report{}, err
	}

	report := Report{
		Total:      len(licenses),
		Results:    make([]Result, 0, len(licenses)),
		Today:      today,
		TargetDate: target,
	}

	if len(licenses) == 0 {
		report.Message = fmt.Sprintf("Processed 0 licenses: no licenses expiring in %d days found.", LeadDays)
		logger.Info("No licenses found expiring on target date", map[string]interface{}{
			"target_date": target,
		})
		n.observeRun(start, nil)
		return report, nil
	}

	var warnings *multierror.Error
	for i := range licenses {
		result, warning := n.process(ctx, &licenses[i], today)
		if warning != nil {
			warnings = multierror.Append(warnings, warning)
		}
		report.Results = append(report.Results, result)
		if n.recorder != nil {
			n.recorder.ObserveOutcome(string(result.Outcome))
		}
	}

	report.Message = fmt.Sprintf("Processed %d licenses.", len(licenses))
	report.Warnings = warnings.ErrorOrNil()

	logger.Info("License expiry scan finished", map[string]interface{}{
		"target_date":   target,
		"total":         report.Total,
		"sent":          report.Count(OutcomeSent),
		"skipped":       report.Count(OutcomeSkipped),
		"failed":        report.Count(OutcomeFailed),
		"missing_email": report.Count(OutcomeMissingEmail),
	})

	n.observeRun(start, nil)
	return report, nil
}

func (n *Notifier) process(ctx context.Context, license *models.LicenseWithDetails, today string) (Result, error) {
	result := Result{LicenseID: license.ID}

	clientName, productName := defaultClientName, defaultProductName
	if license.Client != nil {
		result.Email = strings.TrimSpace(license.Client.Email)
		if license.Client.Name != "" {
			clientName = license.Client.Name
		}
	}
	if license.Product != nil && license.Product.Name != "" {
		productName = license.Product.Name
	}

	if license.NotifiedOn(today) {
		logger.Debug("Notification already sent today", map[string]interface{}{
			"license_id": license.ID,
		})
		result.Outcome = OutcomeSkipped
		return result, nil
	}

	if result.Email == "" {
		logger.Warn("License has no client email", map[string]interface{}{
			"license_id": license.ID,
		})
		result.Outcome = OutcomeMissingEmail
		return result, nil
	}

	expiryDate := ""
	if license.EndDate != nil {
		expiryDate = DisplayDate(*license.EndDate)
	}

	if err := n.sender.SendLicenseExpiry(ctx, result.Email, clientName, productName, expiryDate); err != nil {
		logger.Error("Failed to send expiry notice", map[string]interface{}{
			"license_id": license.ID,
			"email":      result.Email,
			"error":      err.Error(),
		})
		result.Outcome = OutcomeFailed
		result.Error = err.Error()
		return result, nil
	}

	result.Outcome = OutcomeSent

	if err := n.store.MarkNotified(ctx, license.ID, today); err != nil {
		logger.Warn("Could not update last_notification_date", map[string]interface{}{
			"license_id": license.ID,
			"error":      err.Error(),
		})
		return result, fmt.Errorf("license %s: mark notified: %w", license.ID, err)
	}

	return result, nil
}

func (n *Notifier) observeRun(start time.Time, err error) {
	if n.recorder != nil {
		n.recorder.ObserveRun(time.Since(start), err)
	}
}

// DisplayDate renders a YYYY-MM-DD date as d/m/yyyy. Values that are not
// dates are returned unchanged.
func DisplayDate(date string) string {
	if len(date) > len(models.DateLayout) {
		date = date[:len(models.DateLayout)]
	}
	t, err := time.Parse(models.DateLayout, date)
	if err != nil {
		return date
	}
	return t.Format(displayLayout)
}
