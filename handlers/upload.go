package handlers

import (
	"errors"
	"fmt"
	"mime/multipart"
	"net/http"
	"path"
	"regexp"
	"strings"
	"time"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/internal/supabase"
)

const (
	MaxUploadBytes = 50 * 1024 * 1024

	// multipart envelope on top of the file itself
	uploadOverheadBytes = 1 << 20
	multipartMemory     = 32 << 20

	msgUploadRequired = "Archivo y bucket requeridos"
	msgUploadTooLarge = "El archivo excede 50MB"
)

var (
	unsafeFileChars = regexp.MustCompile(`[^a-zA-Z0-9.-]`)
	fileExtension   = regexp.MustCompile(`\.[^/.]+$`)
)

type UploadResponse struct {
	Success bool   `json:"success"`
	URL     string `json:"url"`
	Path    string `json:"path"`
	Bucket  string `json:"bucket"`
}

// Upload stores a multipart "file" in "bucket", optionally under "path".
// With createBucket=true a missing bucket is created as public.
func (s *Server) Upload(w http.ResponseWriter, r *http.Request) {
	if s.files == nil {
		writeErrorResponse(w, http.StatusServiceUnavailable, "Almacenamiento de archivos no configurado")
		return
	}

	file, header, ok := parseUpload(w, r, "file")
	if !ok {
		return
	}
	if file != nil {
		defer file.Close()
	}

	bucket := strings.TrimSpace(r.FormValue("bucket"))
	if file == nil || bucket == "" {
		writeErrorResponse(w, http.StatusBadRequest, msgUploadRequired)
		return
	}
	if header.Size > MaxUploadBytes {
		writeErrorResponse(w, http.StatusBadRequest, msgUploadTooLarge)
		return
	}

	ctx := r.Context()
	if r.FormValue("createBucket") == "true" {
		if err := s.ensureBucket(r, bucket); err != nil {
			logger.Error("Failed to create bucket", map[string]interface{}{
				"bucket": bucket,
				"error":  err.Error(),
			})
			writeErrorResponse(w, http.StatusInternalServerError, "Error creando bucket: "+errorMessage(err))
			return
		}
	}

	name := uniqueFileName(header.Filename, s.now())
	fullPath := name
	if prefix := strings.Trim(r.FormValue("path"), "/"); prefix != "" {
		fullPath = prefix + "/" + name
	}

	if err := s.files.Upload(ctx, bucket, fullPath, contentType(header), file); err != nil {
		logger.Error("Upload failed", map[string]interface{}{
			"bucket": bucket,
			"path":   fullPath,
			"error":  err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Error subiendo: "+errorMessage(err))
		return
	}

	logger.Info("File uploaded", map[string]interface{}{
		"bucket": bucket,
		"path":   fullPath,
		"size":   header.Size,
	})
	writeJSON(w, http.StatusOK, UploadResponse{
		Success: true,
		URL:     s.files.PublicURL(bucket, fullPath),
		Path:    fullPath,
		Bucket:  bucket,
	})
}

func (s *Server) ensureBucket(r *http.Request, bucket string) error {
	buckets, err := s.files.ListBuckets(r.Context())
	if err != nil {
		return err
	}
	for _, b := range buckets {
		if b.Name == bucket {
			return nil
		}
	}

	err = s.files.CreateBucket(r.Context(), bucket, supabase.BucketOptions{
		Public:        true,
		FileSizeLimit: MaxUploadBytes,
	})
	if err != nil && !strings.Contains(strings.ToLower(err.Error()), "already exists") {
		return err
	}
	return nil
}

// parseUpload parses the multipart form and returns the named file, which
// is nil when the field is absent. It writes the error response itself when
// ok is false.
func parseUpload(w http.ResponseWriter, r *http.Request, field string) (multipart.File, *multipart.FileHeader, bool) {
	r.Body = http.MaxBytesReader(w, r.Body, MaxUploadBytes+uploadOverheadBytes)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			writeErrorResponse(w, http.StatusBadRequest, msgUploadTooLarge)
			return nil, nil, false
		}
		logger.Debug("Invalid multipart body", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusBadRequest, msgInvalidBody)
		return nil, nil, false
	}

	file, header, err := r.FormFile(field)
	if err != nil {
		return nil, nil, true
	}
	return file, header, true
}

// uniqueFileName keeps the safe part of the original name and appends the
// upload time in milliseconds: "My photo.JPG" becomes "My_photo_<ms>.JPG".
func uniqueFileName(original string, now time.Time) string {
	original = path.Base(strings.ReplaceAll(original, "\\", "/"))
	if original == "." || original == "/" {
		original = ""
	}
	safe := fileExtension.ReplaceAllString(unsafeFileChars.ReplaceAllString(original, "_"), "")
	if safe == "" {
		safe = "file"
	}

	name := fmt.Sprintf("%s_%d", safe, now.UnixMilli())
	if ext := extension(original); ext != "" {
		name += "." + ext
	}
	return name
}

func extension(name string) string {
	i := strings.LastIndex(name, ".")
	if i < 0 || i == len(name)-1 {
		return ""
	}
	return unsafeFileChars.ReplaceAllString(name[i+1:], "")
}

func contentType(header *multipart.FileHeader) string {
	if ct := header.Header.Get("Content-Type"); ct != "" {
		return ct
	}
	return "application/octet-stream"
}

// errorMessage prefers the provider's own message over the wrapped chain.
func errorMessage(err error) string {
	var apiErr *supabase.Error
	if errors.As(err, &apiErr) && apiErr.Message != "" {
		return apiErr.Message
	}
	return err.Error()
}
