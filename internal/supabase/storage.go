package supabase

import (
	"context"
	"io"
	"strconv"

	storage_go "github.com/supabase-community/storage-go"
)

type Bucket struct {
	ID     string
	Name   string
	Public bool
}

type BucketOptions struct {
	Public        bool
	FileSizeLimit int64
}

func (c *Client) ListBuckets(ctx context.Context) ([]Bucket, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	found, err := c.files.ListBuckets()
	if err != nil {
		return nil, err
	}

	buckets := make([]Bucket, 0, len(found))
	for _, b := range found {
		buckets = append(buckets, Bucket{ID: b.Id, Name: b.Name, Public: b.Public})
	}
	return buckets, nil
}

func (c *Client) CreateBucket(ctx context.Context, name string, opts BucketOptions) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	options := storage_go.BucketOptions{Public: opts.Public}
	if opts.FileSizeLimit > 0 {
		options.FileSizeLimit = strconv.FormatInt(opts.FileSizeLimit, 10)
	}
	_, err := c.files.CreateBucket(name, options)
	return err
}

// Upload stores r at bucket/path. Existing objects are not overwritten.
func (c *Client) Upload(ctx context.Context, bucket, path, contentType string, r io.Reader) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	cacheControl := "3600"
	upsert := false

	_, err := c.files.UploadFile(bucket, path, r, storage_go.FileOptions{
		ContentType:  &contentType,
		CacheControl: &cacheControl,
		Upsert:       &upsert,
	})
	return err
}

// Remove deletes the given object paths from bucket.
func (c *Client) Remove(ctx context.Context, bucket string, paths ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	_, err := c.files.RemoveFile(bucket, paths)
	return err
}

// PublicURL is the unauthenticated URL of an object in a public bucket.
func (c *Client) PublicURL(bucket, path string) string {
	return c.files.GetPublicUrl(bucket, path).SignedURL
}
