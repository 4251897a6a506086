package storage

import (
	"context"
	"errors"
	"fmt"

	"shaluqa.app/crm/internal/config"
	"shaluqa.app/crm/internal/supabase"
	"shaluqa.app/crm/models"
)

// ErrNotFound is returned when the requested row does not exist.
var ErrNotFound = errors.New("not found")

type Store interface {
	ListClients(ctx context.Context) ([]models.Client, error)
	GetClient(ctx context.Context, id string) (*models.Client, error)
	SaveClient(ctx context.Context, client *models.Client) error
	DeleteClient(ctx context.Context, id string) error

	ListProducts(ctx context.Context) ([]models.Product, error)
	GetProduct(ctx context.Context, id string) (*models.Product, error)
	SaveProduct(ctx context.Context, product *models.Product) error
	DeleteProduct(ctx context.Context, id string) error

	ListLicenses(ctx context.Context) ([]models.LicenseWithDetails, error)
	GetLicense(ctx context.Context, id string) (*models.License, error)
	SaveLicense(ctx context.Context, license *models.License) error
	DeleteLicense(ctx context.Context, id string) error

	// FindLicensesExpiringOn returns the licenses with the given end date
	// (YYYY-MM-DD) and status, joined with their client and product.
	FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error)
	// MarkNotified sets last_notification_date of license id to day.
	MarkNotified(ctx context.Context, id, day string) error

	ListPhotos(ctx context.Context, establishmentID int64) ([]models.Photo, error)
	GetPhoto(ctx context.Context, id int64) (*models.Photo, error)
	// MaxPhotoOrder is the highest orden of the establishment's photos, 0 if
	// it has none.
	MaxPhotoOrder(ctx context.Context, establishmentID int64) (int, error)
	ClearPrincipal(ctx context.Context, establishmentID int64) error
	CreatePhoto(ctx context.Context, photo *models.Photo) error
	UpdatePhoto(ctx context.Context, id int64, update models.PhotoUpdate) (*models.Photo, error)
	DeletePhoto(ctx context.Context, id int64) error

	Close() error
}

// New opens the store selected by cfg.Store. sb is only used by the
// supabase backend and may be nil otherwise.
func New(cfg *config.Config, sb *supabase.Client) (Store, error) {
	switch cfg.Store {
	case config.StoreMemory:
		return NewMemoryStorage(), nil
	case config.StoreSQLite:
		return NewSQLiteStorage(cfg.SQLitePath)
	case config.StorePostgres:
		return NewPostgresStorage(cfg.DatabaseURL)
	case config.StoreSupabase:
		if sb == nil {
			return nil, errors.New("supabase store requires a supabase client")
		}
		return NewSupabaseStorage(sb), nil
	default:
		return nil, fmt.Errorf("unknown store %q", cfg.Store)
	}
}
