package models

import "time"

type Product struct {
	ID                string    `json:"id" db:"id"`
	Name              string    `json:"name" db:"name"`
	Description       *string   `json:"description" db:"description"`
	PriceOnePayment   float64   `json:"price_one_payment" db:"price_one_payment"`
	PriceSubscription float64   `json:"price_subscription" db:"price_subscription"`
	CreatedAt         time.Time `json:"created_at" db:"created_at"`
}

// ProductSummary is the product projection embedded in license queries.
type ProductSummary struct {
	Name        string  `json:"name"`
	Description *string `json:"description,omitempty"`
}
