package testutil

import (
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"shaluqa.app/crm/internal/supabase"
	"shaluqa.app/crm/models"
	"shaluqa.app/crm/storage"
)

// StrPtr returns a pointer to s.
func StrPtr(s string) *string {
	return &s
}

// CreateTestClient creates a test client with given parameters
func CreateTestClient(id, name, email string) models.Client {
	return models.Client{
		ID:        id,
		Name:      name,
		Email:     email,
		Company:   StrPtr("Empresa " + id),
		CreatedAt: time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// CreateTestProduct creates a test product with given parameters
func CreateTestProduct(id, name string) models.Product {
	return models.Product{
		ID:                id,
		Name:              name,
		Description:       StrPtr("Descripción de " + name),
		PriceOnePayment:   499,
		PriceSubscription: 39.9,
		CreatedAt:         time.Date(2025, 1, 1, 9, 0, 0, 0, time.UTC),
	}
}

// CreateTestLicense creates an active subscription ending on endDate.
func CreateTestLicense(id, clientID, productID, endDate string) models.License {
	return models.License{
		ID:        id,
		ClientID:  clientID,
		ProductID: productID,
		Type:      models.LicenseTypeRecurring,
		StartDate: "2024-01-01",
		EndDate:   StrPtr(endDate),
		Status:    models.StatusActive,
		CreatedAt: time.Date(2025, 1, 2, 9, 0, 0, 0, time.UTC),
	}
}

// SetupTestData stores one product, two clients and these licenses:
// license1 (client1, ends endDate, active), license2 (client2, ends endDate,
// inactive) and license3 (client1, ends the day after endDate, active).
func SetupTestData(store storage.Store, endDate string) error {
	ctx := context.Background()

	product := CreateTestProduct("product1", "TPV Hostelería")
	if err := store.SaveProduct(ctx, &product); err != nil {
		return fmt.Errorf("failed to save product %s: %w", product.ID, err)
	}

	clients := []models.Client{
		CreateTestClient("client1", "Ana García", "ana@example.com"),
		CreateTestClient("client2", "Luis Pérez", "luis@example.com"),
	}
	for _, client := range clients {
		if err := store.SaveClient(ctx, &client); err != nil {
			return fmt.Errorf("failed to save client %s: %w", client.ID, err)
		}
	}

	end, err := time.Parse(models.DateLayout, endDate)
	if err != nil {
		return err
	}

	inactive := CreateTestLicense("license2", "client2", "product1", endDate)
	inactive.Status = models.StatusInactive
	inactive.CreatedAt = inactive.CreatedAt.Add(time.Minute)

	later := CreateTestLicense("license3", "client1", "product1", end.AddDate(0, 0, 1).Format(models.DateLayout))
	later.CreatedAt = later.CreatedAt.Add(2 * time.Minute)

	licenses := []models.License{
		CreateTestLicense("license1", "client1", "product1", endDate),
		inactive,
		later,
	}
	for _, license := range licenses {
		if err := store.SaveLicense(ctx, &license); err != nil {
			return fmt.Errorf("failed to save license %s: %w", license.ID, err)
		}
	}

	return nil
}

// SentEmail is one expiry notice recorded by FakeSender.
type SentEmail struct {
	To          string
	ClientName  string
	ProductName string
	ExpiryDate  string
}

// FakeSender records expiry notices and fails for addresses in FailFor.
type FakeSender struct {
	mu      sync.Mutex
	Sent    []SentEmail
	Welcome []string
	FailFor map[string]error
}

func (f *FakeSender) SendLicenseExpiry(ctx context.Context, to, clientName, productName, expiryDate string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.FailFor[to]; ok {
		return err
	}
	f.Sent = append(f.Sent, SentEmail{To: to, ClientName: clientName, ProductName: productName, ExpiryDate: expiryDate})
	return nil
}

func (f *FakeSender) SendWelcome(ctx context.Context, to, userName string) error {
	f.mu.Lock()
	defer f.mu.Unlock()

	if err, ok := f.FailFor[to]; ok {
		return err
	}
	f.Welcome = append(f.Welcome, to)
	return nil
}

func (f *FakeSender) Count() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.Sent)
}

// FakeFiles is an in-memory object store keyed by "bucket/path".
type FakeFiles struct {
	mu          sync.Mutex
	Buckets     []supabase.Bucket
	Objects     map[string][]byte
	ContentType map[string]string
	Removed     []string
	UploadErr   error
	CreateErr   error
}

func NewFakeFiles(buckets ...string) *FakeFiles {
	f := &FakeFiles{
		Objects:     make(map[string][]byte),
		ContentType: make(map[string]string),
	}
	for _, b := range buckets {
		f.Buckets = append(f.Buckets, supabase.Bucket{ID: b, Name: b, Public: true})
	}
	return f
}

func (f *FakeFiles) ListBuckets(ctx context.Context) ([]supabase.Bucket, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]supabase.Bucket(nil), f.Buckets...), nil
}

func (f *FakeFiles) CreateBucket(ctx context.Context, name string, opts supabase.BucketOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.CreateErr != nil {
		return f.CreateErr
	}
	f.Buckets = append(f.Buckets, supabase.Bucket{ID: name, Name: name, Public: opts.Public})
	return nil
}

func (f *FakeFiles) Upload(ctx context.Context, bucket, path, contentType string, r io.Reader) error {
	data, err := io.ReadAll(r)
	if err != nil {
		return err
	}

	f.mu.Lock()
	defer f.mu.Unlock()
	if f.UploadErr != nil {
		return f.UploadErr
	}
	key := bucket + "/" + path
	if _, exists := f.Objects[key]; exists {
		return &supabase.Error{StatusCode: 409, Message: "The resource already exists"}
	}
	f.Objects[key] = data
	f.ContentType[key] = contentType
	return nil
}

func (f *FakeFiles) Remove(ctx context.Context, bucket string, paths ...string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, p := range paths {
		key := bucket + "/" + p
		delete(f.Objects, key)
		f.Removed = append(f.Removed, key)
	}
	return nil
}

func (f *FakeFiles) PublicURL(bucket, path string) string {
	return "https://files.test/storage/v1/object/public/" + bucket + "/" + path
}

// Keys lists the stored objects whose key starts with prefix.
func (f *FakeFiles) Keys(prefix string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var keys []string
	for k := range f.Objects {
		if strings.HasPrefix(k, prefix) {
			keys = append(keys, k)
		}
	}
	return keys
}

// StoreTestSuite provides a standard test suite for store implementations
type StoreTestSuite struct {
	Store   storage.Store
	Cleanup func()
}

// RunStoreTestSuite runs standard tests on any store implementation
func RunStoreTestSuite(t *testing.T, suite StoreTestSuite) {
	if suite.Cleanup != nil {
		defer suite.Cleanup()
	}

	ctx := context.Background()
	store := suite.Store

	t.Run("ClientOperations", func(t *testing.T) {
		client := CreateTestClient("c-crud", "Marta", "marta@example.com")
		require.NoError(t, store.SaveClient(ctx, &client))

		got, err := store.GetClient(ctx, "c-crud")
		require.NoError(t, err)
		assert.Equal(t, "marta@example.com", got.Email)
		require.NotNil(t, got.Company)
		assert.Equal(t, "Empresa c-crud", *got.Company)

		client.Email = "marta@empresa.es"
		require.NoError(t, store.SaveClient(ctx, &client))
		got, err = store.GetClient(ctx, "c-crud")
		require.NoError(t, err)
		assert.Equal(t, "marta@empresa.es", got.Email)

		clients, err := store.ListClients(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, clients)

		require.NoError(t, store.DeleteClient(ctx, "c-crud"))
		_, err = store.GetClient(ctx, "c-crud")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("ProductOperations", func(t *testing.T) {
		product := CreateTestProduct("p-crud", "Web corporativa")
		require.NoError(t, store.SaveProduct(ctx, &product))

		got, err := store.GetProduct(ctx, "p-crud")
		require.NoError(t, err)
		assert.Equal(t, "Web corporativa", got.Name)
		assert.InDelta(t, 39.9, got.PriceSubscription, 0.001)

		products, err := store.ListProducts(ctx)
		require.NoError(t, err)
		assert.NotEmpty(t, products)

		require.NoError(t, store.DeleteProduct(ctx, "p-crud"))
		_, err = store.GetProduct(ctx, "p-crud")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("ExpiringLicenses", func(t *testing.T) {
		require.NoError(t, SetupTestData(store, "2025-03-17"))

		matches, err := store.FindLicensesExpiringOn(ctx, "2025-03-17", models.StatusActive)
		require.NoError(t, err)
		require.Len(t, matches, 1)

		l := matches[0]
		assert.Equal(t, "license1", l.ID)
		require.NotNil(t, l.EndDate)
		assert.Equal(t, "2025-03-17", *l.EndDate)
		assert.Nil(t, l.LastNotificationDate)
		require.NotNil(t, l.Client)
		assert.Equal(t, "Ana García", l.Client.Name)
		assert.Equal(t, "ana@example.com", l.Client.Email)
		require.NotNil(t, l.Product)
		assert.Equal(t, "TPV Hostelería", l.Product.Name)

		inactive, err := store.FindLicensesExpiringOn(ctx, "2025-03-17", models.StatusInactive)
		require.NoError(t, err)
		require.Len(t, inactive, 1)
		assert.Equal(t, "license2", inactive[0].ID)

		none, err := store.FindLicensesExpiringOn(ctx, "2030-01-01", models.StatusActive)
		require.NoError(t, err)
		assert.Empty(t, none)
	})

	t.Run("MarkNotified", func(t *testing.T) {
		require.NoError(t, store.MarkNotified(ctx, "license1", "2025-03-10"))

		got, err := store.GetLicense(ctx, "license1")
		require.NoError(t, err)
		assert.True(t, got.NotifiedOn("2025-03-10"))
		assert.Equal(t, "2025-03-17", *got.EndDate)

		err = store.MarkNotified(ctx, "missing", "2025-03-10")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("ListLicensesWithDetails", func(t *testing.T) {
		licenses, err := store.ListLicenses(ctx)
		require.NoError(t, err)
		require.Len(t, licenses, 3)
		for _, l := range licenses {
			assert.NotNil(t, l.Client, "license %s", l.ID)
			assert.NotNil(t, l.Product, "license %s", l.ID)
		}

		require.NoError(t, store.DeleteLicense(ctx, "license3"))
		_, err = store.GetLicense(ctx, "license3")
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})

	t.Run("PhotoOperations", func(t *testing.T) {
		const establishment = int64(42)

		max, err := store.MaxPhotoOrder(ctx, establishment)
		require.NoError(t, err)
		assert.Equal(t, 0, max)

		first := models.Photo{EstablishmentID: establishment, ImageURL: "https://cdn/1.jpg", Order: 1, Principal: true}
		require.NoError(t, store.CreatePhoto(ctx, &first))
		assert.NotZero(t, first.ID)

		second := models.Photo{EstablishmentID: establishment, ImageURL: "https://cdn/2.jpg", Order: 2, Description: StrPtr("Terraza")}
		require.NoError(t, store.CreatePhoto(ctx, &second))

		max, err = store.MaxPhotoOrder(ctx, establishment)
		require.NoError(t, err)
		assert.Equal(t, 2, max)

		require.NoError(t, store.ClearPrincipal(ctx, establishment))
		principal := true
		updated, err := store.UpdatePhoto(ctx, second.ID, models.PhotoUpdate{Principal: &principal})
		require.NoError(t, err)
		assert.True(t, updated.Principal)
		assert.Equal(t, "Terraza", *updated.Description)

		photos, err := store.ListPhotos(ctx, establishment)
		require.NoError(t, err)
		require.Len(t, photos, 2)
		assert.Equal(t, first.ID, photos[0].ID)
		assert.False(t, photos[0].Principal)
		assert.True(t, photos[1].Principal)

		_, err = store.UpdatePhoto(ctx, 999999, models.PhotoUpdate{Principal: &principal})
		assert.True(t, errors.Is(err, storage.ErrNotFound))

		require.NoError(t, store.DeletePhoto(ctx, first.ID))
		_, err = store.GetPhoto(ctx, first.ID)
		assert.True(t, errors.Is(err, storage.ErrNotFound))
	})
}
