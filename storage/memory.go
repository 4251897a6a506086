package storage

import (
	"context"
	"sort"
	"sync"
	"time"

	"shaluqa.app/crm/models"
)

type MemoryStorage struct {
	mu          sync.RWMutex
	clients     map[string]models.Client
	products    map[string]models.Product
	licenses    map[string]models.License
	photos      map[int64]models.Photo
	nextPhotoID int64
}

func NewMemoryStorage() *MemoryStorage {
	return &MemoryStorage{
		clients:  make(map[string]models.Client),
		products: make(map[string]models.Product),
		licenses: make(map[string]models.License),
		photos:   make(map[int64]models.Photo),
	}
}

func (m *MemoryStorage) ListClients(ctx context.Context) ([]models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	clients := make([]models.Client, 0, len(m.clients))
	for _, c := range m.clients {
		clients = append(clients, c)
	}
	sort.Slice(clients, func(i, j int) bool {
		return newerFirst(clients[i].CreatedAt, clients[j].CreatedAt, clients[i].ID, clients[j].ID)
	})
	return clients, nil
}

func (m *MemoryStorage) GetClient(ctx context.Context, id string) (*models.Client, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	client, exists := m.clients[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &client, nil
}

func (m *MemoryStorage) SaveClient(ctx context.Context, client *models.Client) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if client.CreatedAt.IsZero() {
		client.CreatedAt = time.Now().UTC()
	}
	m.clients[client.ID] = *client
	return nil
}

func (m *MemoryStorage) DeleteClient(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.clients, id)
	return nil
}

func (m *MemoryStorage) ListProducts(ctx context.Context) ([]models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	products := make([]models.Product, 0, len(m.products))
	for _, p := range m.products {
		products = append(products, p)
	}
	sort.Slice(products, func(i, j int) bool {
		return newerFirst(products[i].CreatedAt, products[j].CreatedAt, products[i].ID, products[j].ID)
	})
	return products, nil
}

func (m *MemoryStorage) GetProduct(ctx context.Context, id string) (*models.Product, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	product, exists := m.products[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &product, nil
}

func (m *MemoryStorage) SaveProduct(ctx context.Context, product *models.Product) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if product.CreatedAt.IsZero() {
		product.CreatedAt = time.Now().UTC()
	}
	m.products[product.ID] = *product
	return nil
}

func (m *MemoryStorage) DeleteProduct(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.products, id)
	return nil
}

func (m *MemoryStorage) ListLicenses(ctx context.Context) ([]models.LicenseWithDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	licenses := make([]models.LicenseWithDetails, 0, len(m.licenses))
	for _, l := range m.licenses {
		licenses = append(licenses, m.withDetails(l))
	}
	sort.Slice(licenses, func(i, j int) bool {
		return newerFirst(licenses[i].CreatedAt, licenses[j].CreatedAt, licenses[i].ID, licenses[j].ID)
	})
	return licenses, nil
}

func (m *MemoryStorage) GetLicense(ctx context.Context, id string) (*models.License, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	license, exists := m.licenses[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &license, nil
}

func (m *MemoryStorage) SaveLicense(ctx context.Context, license *models.License) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	if license.CreatedAt.IsZero() {
		license.CreatedAt = time.Now().UTC()
	}
	m.licenses[license.ID] = *license
	return nil
}

func (m *MemoryStorage) DeleteLicense(ctx context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.licenses, id)
	return nil
}

func (m *MemoryStorage) FindLicensesExpiringOn(ctx context.Context, endDate string, status models.LicenseStatus) ([]models.LicenseWithDetails, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var matches []models.LicenseWithDetails
	for _, l := range m.licenses {
		if l.EndDate == nil || *l.EndDate != endDate || l.Status != status {
			continue
		}
		matches = append(matches, m.withDetails(l))
	}
	sort.Slice(matches, func(i, j int) bool {
		if !matches[i].CreatedAt.Equal(matches[j].CreatedAt) {
			return matches[i].CreatedAt.Before(matches[j].CreatedAt)
		}
		return matches[i].ID < matches[j].ID
	})
	return matches, nil
}

func (m *MemoryStorage) MarkNotified(ctx context.Context, id, day string) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	license, exists := m.licenses[id]
	if !exists {
		return ErrNotFound
	}
	license.LastNotificationDate = &day
	m.licenses[id] = license
	return nil
}

// withDetails joins l with its client and product. Callers hold the lock.
func (m *MemoryStorage) withDetails(l models.License) models.LicenseWithDetails {
	details := models.LicenseWithDetails{License: l}
	if c, ok := m.clients[l.ClientID]; ok {
		details.Client = &models.ClientSummary{Name: c.Name, Email: c.Email, Company: c.Company}
	}
	if p, ok := m.products[l.ProductID]; ok {
		details.Product = &models.ProductSummary{Name: p.Name, Description: p.Description}
	}
	return details
}

func (m *MemoryStorage) ListPhotos(ctx context.Context, establishmentID int64) ([]models.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	var photos []models.Photo
	for _, p := range m.photos {
		if p.EstablishmentID == establishmentID {
			photos = append(photos, p)
		}
	}
	sort.Slice(photos, func(i, j int) bool {
		if photos[i].Order != photos[j].Order {
			return photos[i].Order < photos[j].Order
		}
		return photos[i].ID < photos[j].ID
	})
	return photos, nil
}

func (m *MemoryStorage) GetPhoto(ctx context.Context, id int64) (*models.Photo, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	photo, exists := m.photos[id]
	if !exists {
		return nil, ErrNotFound
	}
	return &photo, nil
}

func (m *MemoryStorage) MaxPhotoOrder(ctx context.Context, establishmentID int64) (int, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()

	max := 0
	for _, p := range m.photos {
		if p.EstablishmentID == establishmentID && p.Order > max {
			max = p.Order
		}
	}
	return max, nil
}

func (m *MemoryStorage) ClearPrincipal(ctx context.Context, establishmentID int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	for id, p := range m.photos {
		if p.EstablishmentID == establishmentID && p.Principal {
			p.Principal = false
			m.photos[id] = p
		}
	}
	return nil
}

func (m *MemoryStorage) CreatePhoto(ctx context.Context, photo *models.Photo) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	m.nextPhotoID++
	photo.ID = m.nextPhotoID
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	m.photos[photo.ID] = *photo
	return nil
}

func (m *MemoryStorage) UpdatePhoto(ctx context.Context, id int64, update models.PhotoUpdate) (*models.Photo, error) {
	m.mu.Lock()
	defer m.mu.Unlock()

	photo, exists := m.photos[id]
	if !exists {
		return nil, ErrNotFound
	}
	if update.Principal != nil {
		photo.Principal = *update.Principal
	}
	if update.Order != nil {
		photo.Order = *update.Order
	}
	if update.Description != nil {
		photo.Description = update.Description
	}
	m.photos[id] = photo
	return &photo, nil
}

func (m *MemoryStorage) DeletePhoto(ctx context.Context, id int64) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	delete(m.photos, id)
	return nil
}

func (m *MemoryStorage) Close() error {
	return nil
}

func newerFirst(a, b time.Time, idA, idB string) bool {
	if !a.Equal(b) {
		return a.After(b)
	}
	return idA < idB
}
