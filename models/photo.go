package models

import "time"

// Photo is an establishment carousel picture (table establecimiento_fotos).
type Photo struct {
	ID              int64     `json:"id" db:"id"`
	EstablishmentID int64     `json:"establecimiento_id" db:"establecimiento_id"`
	ImageURL        string    `json:"imagen_url" db:"imagen_url"`
	Order           int       `json:"orden" db:"orden"`
	Principal       bool      `json:"es_principal" db:"es_principal"`
	Description     *string   `json:"descripcion" db:"descripcion"`
	CreatedAt       time.Time `json:"created_at" db:"created_at"`
}

// PhotoUpdate carries the fields of a partial photo update. Nil fields are
// left untouched.
type PhotoUpdate struct {
	Principal   *bool   `json:"es_principal,omitempty"`
	Order       *int    `json:"orden,omitempty"`
	Description *string `json:"descripcion,omitempty"`
}

func (u PhotoUpdate) Empty() bool {
	return u.Principal == nil && u.Order == nil && u.Description == nil
}
