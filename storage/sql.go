package storage

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/golang-migrate/migrate/v4"
	migratesqlite "github.com/golang-migrate/migrate/v4/database/sqlite3"
	"github.com/golang-migrate/migrate/v4/source/iofs"
	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// SQLStorage serves the store from SQLite (local development) or directly
// from the Supabase Postgres database. Queries are written with ? and
// rebound for the driver.
type SQLStorage struct {
	db *sqlx.DB
}

func NewSQLStorage(db *sqlx.DB) *SQLStorage {
	return &SQLStorage{db: db}
}

// NewSQLiteStorage opens (creating if needed) the database at path and
// applies the embedded migrations.
func NewSQLiteStorage(path string) (*SQLStorage, error) {
	db, err := sqlx.Open("sqlite3", path+"?_foreign_keys=on&_busy_timeout=5000")
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)

	if err := migrateSQLite(db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &SQLStorage{db: db}, nil
}

// NewPostgresStorage connects to an existing Postgres database. The schema is
// owned by the hosted project and is not migrated here.
func NewPostgresStorage(dsn string) (*SQLStorage, error) {
	db, err := sqlx.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	return &SQLStorage{db: db}, nil
}

func migrateSQLite(db *sqlx.DB) error {
	source, err := iofs.New(migrationsFS, "migrations")
	if err != nil {
		return err
	}

	driver, err := migratesqlite.WithInstance(db.DB, &migratesqlite.Config{})
	if err != nil {
		return err
	}

	m, err := migrate.NewWithInstance("iofs", source, "sqlite3", driver)
	if err != nil {
		return err
	}

	if err := m.Up(); err != nil && !errors.Is(err, migrate.ErrNoChange) {
		return err
	}

	version, _, _ := m.Version()
	logger.Debug("Database schema ready", map[string]interface{}{
		"version": version,
	})
	return nil
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	return err
}

func (s *SQLStorage) ListClients(ctx context.Context) ([]models.Client, error) {
	clients := []models.Client{}
	query := `SELECT id, name, email, phone, company, created_at, created_by FROM clients ORDER BY created_at DESC, id`
	if err := s.db.SelectContext(ctx, &clients, query); err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return clients, nil
}

func (s *SQLStorage) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var client models.Client
	query := s.db.Rebind(`SELECT id, name, email, phone, company, created_at, created_by FROM clients WHERE id = ?`)
	if err := s.db.GetContext(ctx, &client, query, id); err != nil {
		return nil, notFound(err)
	}
	return &client, nil
}

func (s *SQLStorage) SaveClient(ctx context.Context, client *models.Client) error {
	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO clients (id, name, email, phone, company, created_at, created_by)
		VALUES (:id, :name, :email, :phone, :company, :created_at, :created_by)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			email = excluded.email,
			phone = excluded.phone,
			company = excluded.company`

	if _, err := s.db.NamedExecContext(ctx, query, client); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	return nil
}

func (s *SQLStorage) DeleteClient(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM clients WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (s *SQLStorage) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	query := `SELECT id, name, description, price_one_payment, price_subscription, created_at FROM products ORDER BY created_at DESC, id`
	if err := s.db.SelectContext(ctx, &products, query); err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

func (s *SQLStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var product models.Product
	query := s.db.Rebind(`SELECT id, name, description, price_one_payment, price_subscription, created_at FROM products WHERE id = ?`)
	if err := s.db.GetContext(ctx, &product, query, id); err != nil {
		return nil, notFound(err)
	}
	return &product, nil
}

func (s *SQLStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO products (id, name, description, price_one_payment, price_subscription, created_at)
		VALUES (:id, :name, :description, :price_one_payment, :price_subscription, :created_at)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			description = excluded.description,
			price_one_payment = excluded.price_one_payment,
			price_subscription = excluded.price_subscription`

	if _, err := s.db.NamedExecContext(ctx, query, product); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	return nil
}

func (s *SQLStorage) DeleteProduct(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM products WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

// Date columns are cast to text so that Postgres DATE values scan as
// YYYY-MM-DD strings, the same shape SQLite stores.
const licenseColumns = `l.id, l.client_id, l.product_id, l.type,
	CAST(l.start_date AS TEXT) AS start_date,
	CAST(l.end_date AS TEXT) AS end_date,
	l.status, l.created_at,
	CAST(l.last_notification_date AS TEXT) AS last_notification_date`

const licenseDetailsQuery = `SELECT ` + licenseColumns + `,
	c.id AS client_ref, c.name AS client_name, c.email AS client_email, c.company AS client_company,
	p.id AS product_ref, p.name AS product_name, p.description AS product_description
	FROM licenses l
	LEFT JOIN clients c ON c.id = l.client_id
	LEFT JOIN products p ON p.id = l.product_id`

type licenseRow struct {
	models.License
	ClientRef          sql.NullString `db:"client_ref"`
	ClientName         sql.NullString `db:"client_name"`
	ClientEmail        sql.NullString `db:"client_email"`
	ClientCompany      sql.NullString `db:"client_company"`
	ProductRef         sql.NullString `db:"product_ref"`
	ProductName        sql.NullString `db:"product_name"`
	ProductDescription sql.NullString `db:"product_description"`
}

func (r licenseRow) details() models.LicenseWithDetails {
	d := models.LicenseWithDetails{License: r.License}
	if r.ClientRef.Valid {
		d.Client = &models.ClientSummary{
			Name:    r.ClientName.String,
			Email:   r.ClientEmail.String,
			Company: nullableString(r.ClientCompany),
		}
	}
	if r.ProductRef.Valid {
		d.Product = &models.ProductSummary{
			Name:        r.ProductName.String,
			Description: nullableString(r.ProductDescription),
		}
	}
	return d
}

func nullableString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func (s *SQLStorage) selectLicenses(ctx context.Context, query string, args ...interface{}) ([]models.LicenseWithDetails, error) {
	var rows []licenseRow
	if err := s.db.SelectContext(ctx, &rows, s.db.Rebind(query), args...); err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}

	licenses := make([]models.LicenseWithDetails, 0, len(rows))
	for _, r := range rows {
		licenses = append(licenses, r.details())
	}
	return licenses, nil
}

func (s *SQLStorage) ListLicenses(ctx context.Context) ([]models.LicenseWithDetails, error) {
	return s.selectLicenses(ctx, licenseDetailsQuery+` ORDER BY l.created_at DESC, l.id`)
}

func (s *SQLStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	var license models.License
	query := s.db.Rebind(`SELECT ` + licenseColumns + ` FROM licenses l WHERE l.id = ?`)
	if err := s.db.GetContext(ctx, &license, query, id); err != nil {
		return nil, notFound(err)
	}
	return &license, nil
}

func (s *SQLStorage) SaveLicense(ctx context.Context, license *models.License) error {
	if license.CreatedAt.IsZero() {
		license.CreatedAt = time.Now().UTC()
	}

	query := `INSERT INTO licenses (id, client_id, product_id, type, start_date, end_date, status, created_at, last_notification_date)
		VALUES (:id, :client_id, :product_id, :type, :start_date, :end_date, :status, :created_at, :last_notification_date)
		ON CONFLICT (id) DO UPDATE SET
			client_id = excluded.client_id,
			product_id = excluded.product_id,
			type = excluded.type,
			start_date = excluded.start_date,
			end_date = excluded.end_date,
			status = excluded.status,
			last_notification_date = excluded.last_notification_date`

	if _, err := s.db.NamedExecContext(ctx, query, license); err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	return nil
}

func (s *SQLStorage) DeleteLicense(ctx context.Context, id string) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM licenses WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	return nil
}

func (s *SQLStorage) FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error) {
	return s.selectLicenses(ctx,
		licenseDetailsQuery+` WHERE l.end_date = ? AND l.status = ? ORDER BY l.created_at, l.id`,
		endDate, string(status))
}

func (s *SQLStorage) MarkNotified(ctx context.Context, id, day string) error {
	res, err := s.db.ExecContext(ctx, s.db.Rebind(`UPDATE licenses SET last_notification_date = ? WHERE id = ?`), day, id)
	if err != nil {
		return fmt.Errorf("failed to mark license notified: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

const photoColumns = `id, establecimiento_id, imagen_url, orden, es_principal, descripcion, created_at`

func (s *SQLStorage) ListPhotos(ctx context.Context, establishmentID int64) ([]models.Photo, error) {
	photos := []models.Photo{}
	query := s.db.Rebind(`SELECT ` + photoColumns + ` FROM establecimiento_fotos WHERE establecimiento_id = ? ORDER BY orden, id`)
	if err := s.db.SelectContext(ctx, &photos, query, establishmentID); err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	return photos, nil
}

func (s *SQLStorage) GetPhoto(ctx context.Context, id int64) (*models.Photo, error) {
	var photo models.Photo
	query := s.db.Rebind(`SELECT ` + photoColumns + ` FROM establecimiento_fotos WHERE id = ?`)
	if err := s.db.GetContext(ctx, &photo, query, id); err != nil {
		return nil, notFound(err)
	}
	return &photo, nil
}

func (s *SQLStorage) MaxPhotoOrder(ctx context.Context, establishmentID int64) (int, error) {
	var max int
	query := s.db.Rebind(`SELECT COALESCE(MAX(orden), 0) FROM establecimiento_fotos WHERE establecimiento_id = ?`)
	if err := s.db.GetContext(ctx, &max, query, establishmentID); err != nil {
		return 0, fmt.Errorf("failed to query photo order: %w", err)
	}
	return max, nil
}

func (s *SQLStorage) ClearPrincipal(ctx context.Context, establishmentID int64) error {
	query := s.db.Rebind(`UPDATE establecimiento_fotos SET es_principal = ? WHERE establecimiento_id = ? AND es_principal = ?`)
	if _, err := s.db.ExecContext(ctx, query, false, establishmentID, true); err != nil {
		return fmt.Errorf("failed to clear principal photo: %w", err)
	}
	return nil
}

func (s *SQLStorage) CreatePhoto(ctx context.Context, photo *models.Photo) error {
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}

	query := s.db.Rebind(`INSERT INTO establecimiento_fotos (establecimiento_id, imagen_url, orden, es_principal, descripcion, created_at)
		VALUES (?, ?, ?, ?, ?, ?) RETURNING id`)

	err := s.db.QueryRowxContext(ctx, query,
		photo.EstablishmentID,
		photo.ImageURL,
		photo.Order,
		photo.Principal,
		photo.Description,
		photo.CreatedAt,
	).Scan(&photo.ID)
	if err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	return nil
}

func (s *SQLStorage) UpdatePhoto(ctx context.Context, id int64, update models.PhotoUpdate) (*models.Photo, error) {
	if update.Empty() {
		return s.GetPhoto(ctx, id)
	}

	var sets []string
	args := map[string]interface{}{"id": id}
	if update.Principal != nil {
		sets = append(sets, "es_principal = :es_principal")
		args["es_principal"] = *update.Principal
	}
	if update.Order != nil {
		sets = append(sets, "orden = :orden")
		args["orden"] = *update.Order
	}
	if update.Description != nil {
		sets = append(sets, "descripcion = :descripcion")
		args["descripcion"] = *update.Description
	}

	query := fmt.Sprintf(`UPDATE establecimiento_fotos SET %s WHERE id = :id`, strings.Join(sets, ", "))
	res, err := s.db.NamedExecContext(ctx, query, args)
	if err != nil {
		return nil, fmt.Errorf("failed to update photo: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return nil, ErrNotFound
	}

	return s.GetPhoto(ctx, id)
}

func (s *SQLStorage) DeletePhoto(ctx context.Context, id int64) error {
	if _, err := s.db.ExecContext(ctx, s.db.Rebind(`DELETE FROM establecimiento_fotos WHERE id = ?`), id); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	return nil
}

func (s *SQLStorage) Close() error {
	return s.db.Close()
}
