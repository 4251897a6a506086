package models

import "time"

// DateLayout is the layout of date-only columns (start_date, end_date,
// last_notification_date).
const DateLayout = "2006-01-02"

type LicenseType string

const (
	LicenseTypeOneTime   LicenseType = "licencia_unica"
	LicenseTypeRecurring LicenseType = "suscripcion"
)

type LicenseStatus string

const (
	StatusActive         LicenseStatus = "activa"
	StatusInactive       LicenseStatus = "inactiva"
	StatusPendingPayment LicenseStatus = "pendiente_pago"
)

func (s LicenseStatus) Valid() bool {
	switch s {
	case StatusActive, StatusInactive, StatusPendingPayment:
		return true
	}
	return false
}

type License struct {
	ID                   string        `json:"id" db:"id"`
	ClientID             string        `json:"client_id" db:"client_id"`
	ProductID            string        `json:"product_id" db:"product_id"`
	Type                 LicenseType   `json:"type" db:"type"`
	StartDate            string        `json:"start_date" db:"start_date"`
	EndDate              *string       `json:"end_date" db:"end_date"`
	Status               LicenseStatus `json:"status" db:"status"`
	CreatedAt            time.Time     `json:"created_at" db:"created_at"`
	LastNotificationDate *string       `json:"last_notification_date" db:"last_notification_date"`
}

// NotifiedOn reports whether the license was already notified on day
// (YYYY-MM-DD).
func (l *License) NotifiedOn(day string) bool {
	return l.LastNotificationDate != nil && *l.LastNotificationDate == day
}

// LicenseWithDetails is a license joined with its client and product. The
// JSON names match the embedded resources returned by PostgREST.
type LicenseWithDetails struct {
	License
	Client  *ClientSummary  `json:"clients"`
	Product *ProductSummary `json:"products"`
}
