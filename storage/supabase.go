package storage

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/supabase-community/postgrest-go"

	"shaluqa.app/crm/internal/supabase"
	"shaluqa.app/crm/models"
)

const (
	tableClients  = "clients"
	tableProducts = "products"
	tableLicenses = "licenses"
	tablePhotos   = "establecimiento_fotos"

	licenseDetailsSelect = "*,clients(name,email,company),products(name,description)"

	returnRows    = "representation"
	returnMinimal = "minimal"
)

var (
	newestFirst = &postgrest.OrderOpts{Ascending: false}
	oldestFirst = &postgrest.OrderOpts{Ascending: true}
)

// SupabaseStorage reads and writes through the project's PostgREST API.
type SupabaseStorage struct {
	client *supabase.Client
}

func NewSupabaseStorage(client *supabase.Client) *SupabaseStorage {
	return &SupabaseStorage{client: client}
}

func first[T any](rows []T) (*T, error) {
	if len(rows) == 0 {
		return nil, ErrNotFound
	}
	return &rows[0], nil
}

func idString(id int64) string {
	return strconv.FormatInt(id, 10)
}

func (s *SupabaseStorage) ListClients(ctx context.Context) ([]models.Client, error) {
	clients := []models.Client{}
	_, err := s.client.From(tableClients).Select("*", "", false).Order("created_at", newestFirst).ExecuteTo(&clients)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	return clients, nil
}

func (s *SupabaseStorage) GetClient(ctx context.Context, id string) (*models.Client, error) {
	var rows []models.Client
	if _, err := s.client.From(tableClients).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to query client: %w", err)
	}
	return first(rows)
}

func (s *SupabaseStorage) SaveClient(ctx context.Context, client *models.Client) error {
	row := map[string]interface{}{
		"id":      client.ID,
		"name":    client.Name,
		"email":   client.Email,
		"phone":   client.Phone,
		"company": client.Company,
	}
	if client.CreatedBy != nil {
		row["created_by"] = client.CreatedBy
	}

	var saved []models.Client
	if _, err := s.client.From(tableClients).Insert(row, true, "id", returnRows, "").ExecuteTo(&saved); err != nil {
		return fmt.Errorf("failed to save client: %w", err)
	}
	if len(saved) > 0 {
		*client = saved[0]
	}
	return nil
}

func (s *SupabaseStorage) DeleteClient(ctx context.Context, id string) error {
	if _, _, err := s.client.From(tableClients).Delete(returnMinimal, "").Eq("id", id).Execute(); err != nil {
		return fmt.Errorf("failed to delete client: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) ListProducts(ctx context.Context) ([]models.Product, error) {
	products := []models.Product{}
	_, err := s.client.From(tableProducts).Select("*", "", false).Order("created_at", newestFirst).ExecuteTo(&products)
	if err != nil {
		return nil, fmt.Errorf("failed to query products: %w", err)
	}
	return products, nil
}

func (s *SupabaseStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	var rows []models.Product
	if _, err := s.client.From(tableProducts).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to query product: %w", err)
	}
	return first(rows)
}

func (s *SupabaseStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	row := map[string]interface{}{
		"id":                 product.ID,
		"name":               product.Name,
		"description":        product.Description,
		"price_one_payment":  product.PriceOnePayment,
		"price_subscription": product.PriceSubscription,
	}

	var saved []models.Product
	if _, err := s.client.From(tableProducts).Insert(row, true, "id", returnRows, "").ExecuteTo(&saved); err != nil {
		return fmt.Errorf("failed to save product: %w", err)
	}
	if len(saved) > 0 {
		*product = saved[0]
	}
	return nil
}

func (s *SupabaseStorage) DeleteProduct(ctx context.Context, id string) error {
	if _, _, err := s.client.From(tableProducts).Delete(returnMinimal, "").Eq("id", id).Execute(); err != nil {
		return fmt.Errorf("failed to delete product: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) ListLicenses(ctx context.Context) ([]models.LicenseWithDetails, error) {
	licenses := []models.LicenseWithDetails{}
	_, err := s.client.From(tableLicenses).
		Select(licenseDetailsSelect, "", false).
		Order("created_at", newestFirst).
		ExecuteTo(&licenses)
	if err != nil {
		return nil, fmt.Errorf("failed to query licenses: %w", err)
	}
	return licenses, nil
}

func (s *SupabaseStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	var rows []models.License
	if _, err := s.client.From(tableLicenses).Select("*", "", false).Eq("id", id).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to query license: %w", err)
	}
	return first(rows)
}

func (s *SupabaseStorage) SaveLicense(ctx context.Context, license *models.License) error {
	row := map[string]interface{}{
		"id":                     license.ID,
		"client_id":              license.ClientID,
		"product_id":             license.ProductID,
		"type":                   license.Type,
		"start_date":             license.StartDate,
		"end_date":               license.EndDate,
		"status":                 license.Status,
		"last_notification_date": license.LastNotificationDate,
	}

	var saved []models.License
	if _, err := s.client.From(tableLicenses).Insert(row, true, "id", returnRows, "").ExecuteTo(&saved); err != nil {
		return fmt.Errorf("failed to save license: %w", err)
	}
	if len(saved) > 0 {
		*license = saved[0]
	}
	return nil
}

func (s *SupabaseStorage) DeleteLicense(ctx context.Context, id string) error {
	if _, _, err := s.client.From(tableLicenses).Delete(returnMinimal, "").Eq("id", id).Execute(); err != nil {
		return fmt.Errorf("failed to delete license: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error) {
	var licenses []models.LicenseWithDetails
	_, err := s.client.From(tableLicenses).
		Select(licenseDetailsSelect, "", false).
		Eq("end_date", endDate).
		Eq("status", string(status)).
		Order("created_at", oldestFirst).
		ExecuteTo(&licenses)
	if err != nil {
		return nil, fmt.Errorf("failed to query expiring licenses: %w", err)
	}
	return licenses, nil
}

func (s *SupabaseStorage) MarkNotified(ctx context.Context, id, day string) error {
	var updated []struct {
		ID string `json:"id"`
	}
	_, err := s.client.From(tableLicenses).
		Update(map[string]string{"last_notification_date": day}, returnRows, "").
		Eq("id", id).
		ExecuteTo(&updated)
	if err != nil {
		return fmt.Errorf("failed to mark license notified: %w", err)
	}
	if len(updated) == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *SupabaseStorage) ListPhotos(ctx context.Context, establishmentID int64) ([]models.Photo, error) {
	photos := []models.Photo{}
	_, err := s.client.From(tablePhotos).
		Select("*", "", false).
		Eq("establecimiento_id", idString(establishmentID)).
		Order("orden", oldestFirst).
		ExecuteTo(&photos)
	if err != nil {
		return nil, fmt.Errorf("failed to query photos: %w", err)
	}
	return photos, nil
}

func (s *SupabaseStorage) GetPhoto(ctx context.Context, id int64) (*models.Photo, error) {
	var rows []models.Photo
	if _, err := s.client.From(tablePhotos).Select("*", "", false).Eq("id", idString(id)).ExecuteTo(&rows); err != nil {
		return nil, fmt.Errorf("failed to query photo: %w", err)
	}
	return first(rows)
}

func (s *SupabaseStorage) MaxPhotoOrder(ctx context.Context, establishmentID int64) (int, error) {
	var rows []struct {
		Order int `json:"orden"`
	}
	_, err := s.client.From(tablePhotos).
		Select("orden", "", false).
		Eq("establecimiento_id", idString(establishmentID)).
		Order("orden", newestFirst).
		Limit(1, "").
		ExecuteTo(&rows)
	if err != nil {
		return 0, fmt.Errorf("failed to query photo order: %w", err)
	}
	if len(rows) == 0 {
		return 0, nil
	}
	return rows[0].Order, nil
}

func (s *SupabaseStorage) ClearPrincipal(ctx context.Context, establishmentID int64) error {
	_, _, err := s.client.From(tablePhotos).
		Update(map[string]bool{"es_principal": false}, returnMinimal, "").
		Eq("establecimiento_id", idString(establishmentID)).
		Eq("es_principal", "true").
		Execute()
	if err != nil {
		return fmt.Errorf("failed to clear principal photo: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) CreatePhoto(ctx context.Context, photo *models.Photo) error {
	row := map[string]interface{}{
		"establecimiento_id": photo.EstablishmentID,
		"imagen_url":         photo.ImageURL,
		"orden":              photo.Order,
		"es_principal":       photo.Principal,
		"descripcion":        photo.Description,
		"created_at":         time.Now().UTC(),
	}

	var saved []models.Photo
	if _, err := s.client.From(tablePhotos).Insert(row, false, "", returnRows, "").ExecuteTo(&saved); err != nil {
		return fmt.Errorf("failed to save photo: %w", err)
	}
	if len(saved) > 0 {
		*photo = saved[0]
	}
	return nil
}

func (s *SupabaseStorage) UpdatePhoto(ctx context.Context, id int64, update models.PhotoUpdate) (*models.Photo, error) {
	if update.Empty() {
		return s.GetPhoto(ctx, id)
	}

	var updated []models.Photo
	_, err := s.client.From(tablePhotos).
		Update(update, returnRows, "").
		Eq("id", idString(id)).
		ExecuteTo(&updated)
	if err != nil {
		return nil, fmt.Errorf("failed to update photo: %w", err)
	}
	return first(updated)
}

func (s *SupabaseStorage) DeletePhoto(ctx context.Context, id int64) error {
	if _, _, err := s.client.From(tablePhotos).Delete(returnMinimal, "").Eq("id", idString(id)).Execute(); err != nil {
		return fmt.Errorf("failed to delete photo: %w", err)
	}
	return nil
}

func (s *SupabaseStorage) Close() error {
	return nil
}
