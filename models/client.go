package models

import "time"

type Client struct {
	ID        string    `json:"id" db:"id"`
	Name      string    `json:"name" db:"name"`
	Email     string    `json:"email" db:"email"`
	Phone     *string   `json:"phone" db:"phone"`
	Company   *string   `json:"company" db:"company"`
	CreatedAt time.Time `json:"created_at" db:"created_at"`
	CreatedBy *string   `json:"created_by" db:"created_by"`
}

// ClientSummary is the client projection embedded in license queries.
type ClientSummary struct {
	Name    string  `json:"name"`
	Email   string  `json:"email"`
	Company *string `json:"company,omitempty"`
}
