package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/hashicorp/go-multierror"

	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/models"
	"shaluqa.app/crm/storage"
)

// CarouselBucket holds every establishment carousel, one folder per
// establishment.
const CarouselBucket = "Carruseles"

var (
	unsafeFolderChars = regexp.MustCompile(`[^a-zA-Z0-9áéíóúñÁÉÍÓÚÑ\s]`)
	whitespaceRun     = regexp.MustCompile(`\s+`)
)

type carouselForm struct {
	EstablishmentID string `json:"establecimiento_id" validate:"required,numeric"`
	FolderName      string `json:"folder_name"`
	Description     string `json:"descripcion"`
	Principal       bool   `json:"es_principal"`
}

type DeletePhotoRequest struct {
	ID         int64  `json:"id" validate:"required"`
	BucketName string `json:"bucket_name"`
	FilePath   string `json:"file_path"`
}

type UpdatePhotoRequest struct {
	ID              int64   `json:"id" validate:"required"`
	EstablishmentID *int64  `json:"establecimiento_id"`
	Principal       *bool   `json:"es_principal"`
	Order           *int    `json:"orden" validate:"omitempty,gte=0"`
	Description     *string `json:"descripcion"`
}

type PhotoResponse struct {
	Success bool          `json:"success"`
	Photo   *models.Photo `json:"foto"`
}

// CreatePhoto uploads a carousel picture and appends it to the
// establishment's carousel.
func (s *Server) CreatePhoto(w http.ResponseWriter, r *http.Request) {
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

	form := carouselForm{
		EstablishmentID: strings.TrimSpace(r.FormValue("establecimiento_id")),
		FolderName:      r.FormValue("folder_name"),
		Description:     r.FormValue("descripcion"),
		Principal:       r.FormValue("es_principal") == "true",
	}
	if file == nil || form.EstablishmentID == "" {
		writeErrorResponse(w, http.StatusBadRequest, msgMissingFields)
		return
	}
	if !validateRequest(w, &form) {
		return
	}
	if header.Size > MaxUploadBytes {
		writeErrorResponse(w, http.StatusBadRequest, msgUploadTooLarge)
		return
	}

	establishmentID, err := strconv.ParseInt(form.EstablishmentID, 10, 64)
	if err != nil {
		writeErrorResponse(w, http.StatusBadRequest, "establecimiento_id inválido")
		return
	}

	ctx := r.Context()
	objectPath := fmt.Sprintf("%s/carousel_%d", folderName(form.FolderName), s.now().UnixMilli())
	if ext := extension(header.Filename); ext != "" {
		objectPath += "." + ext
	}

	if err := s.files.Upload(ctx, CarouselBucket, objectPath, contentType(header), file); err != nil {
		logger.Error("Carousel upload failed", map[string]interface{}{
			"establecimiento_id": establishmentID,
			"path":               objectPath,
			"error":              err.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Error subiendo: "+errorMessage(err))
		return
	}

	photo := &models.Photo{
		EstablishmentID: establishmentID,
		ImageURL:        s.files.PublicURL(CarouselBucket, objectPath),
		Principal:       form.Principal,
	}
	if form.Description != "" {
		photo.Description = &form.Description
	}

	if err := s.insertPhoto(r, photo); err != nil {
		var result *multierror.Error
		result = multierror.Append(result, err)
		if rmErr := s.files.Remove(ctx, CarouselBucket, objectPath); rmErr != nil {
			result = multierror.Append(result, fmt.Errorf("remove orphaned object: %w", rmErr))
		}
		logger.Error("Failed to save carousel photo", map[string]interface{}{
			"establecimiento_id": establishmentID,
			"path":               objectPath,
			"error":              result.Error(),
		})
		writeErrorResponse(w, http.StatusInternalServerError, "Error guardando: "+errorMessage(err))
		return
	}

	logger.Info("Carousel photo added", map[string]interface{}{
		"photo_id":           photo.ID,
		"establecimiento_id": establishmentID,
		"orden":              photo.Order,
		"es_principal":       photo.Principal,
	})
	writeJSON(w, http.StatusOK, PhotoResponse{Success: true, Photo: photo})
}

// insertPhoto places the photo after the establishment's last one and keeps
// at most one principal photo per establishment.
func (s *Server) insertPhoto(r *http.Request, photo *models.Photo) error {
	ctx := r.Context()

	maxOrder, err := s.Storage.MaxPhotoOrder(ctx, photo.EstablishmentID)
	if err != nil {
		return err
	}
	photo.Order = maxOrder + 1

	if photo.Principal {
		if err := s.Storage.ClearPrincipal(ctx, photo.EstablishmentID); err != nil {
			return err
		}
	}

	photo.CreatedAt = s.now().UTC()
	return s.Storage.CreatePhoto(ctx, photo)
}

// DeletePhoto removes the photo row and, when both bucket_name and
// file_path are given, its stored object.
func (s *Server) DeletePhoto(w http.ResponseWriter, r *http.Request) {
	var req DeletePhotoRequest
	if !decodePhotoRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	if err := s.Storage.DeletePhoto(ctx, req.ID); err != nil {
		writeInternalError(w, r, "Failed to delete carousel photo", err)
		return
	}

	if req.BucketName != "" && req.FilePath != "" && s.files != nil {
		if err := s.files.Remove(ctx, req.BucketName, req.FilePath); err != nil {
			logger.Warn("Photo row deleted but object removal failed", map[string]interface{}{
				"photo_id": req.ID,
				"bucket":   req.BucketName,
				"path":     req.FilePath,
				"error":    err.Error(),
			})
		}
	}

	logger.Info("Carousel photo deleted", map[string]interface{}{
		"photo_id": req.ID,
	})
	writeJSON(w, http.StatusOK, map[string]bool{"success": true})
}

// UpdatePhoto applies a partial update. Setting es_principal clears the
// other principal photos of the establishment first.
func (s *Server) UpdatePhoto(w http.ResponseWriter, r *http.Request) {
	var req UpdatePhotoRequest
	if !decodePhotoRequest(w, r, &req) {
		return
	}

	ctx := r.Context()
	if req.Principal != nil && *req.Principal {
		establishmentID, err := s.photoEstablishment(r, req)
		if err != nil {
			if errors.Is(err, storage.ErrNotFound) {
				writeErrorResponse(w, http.StatusNotFound, "Foto no encontrada")
				return
			}
			writeInternalError(w, r, "Failed to load carousel photo", err)
			return
		}
		if err := s.Storage.ClearPrincipal(ctx, establishmentID); err != nil {
			writeInternalError(w, r, "Failed to clear principal photo", err)
			return
		}
	}

	photo, err := s.Storage.UpdatePhoto(ctx, req.ID, models.PhotoUpdate{
		Principal:   req.Principal,
		Order:       req.Order,
		Description: req.Description,
	})
	if err != nil {
		if errors.Is(err, storage.ErrNotFound) {
			writeErrorResponse(w, http.StatusNotFound, "Foto no encontrada")
			return
		}
		writeInternalError(w, r, "Failed to update carousel photo", err)
		return
	}

	writeJSON(w, http.StatusOK, PhotoResponse{Success: true, Photo: photo})
}

func (s *Server) photoEstablishment(r *http.Request, req UpdatePhotoRequest) (int64, error) {
	if req.EstablishmentID != nil {
		return *req.EstablishmentID, nil
	}
	photo, err := s.Storage.GetPhoto(r.Context(), req.ID)
	if err != nil {
		return 0, err
	}
	return photo.EstablishmentID, nil
}

// decodePhotoRequest answers a body without id with "ID requerido".
func decodePhotoRequest(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeErrorResponse(w, http.StatusBadRequest, msgIDRequired)
			return false
		}
		writeErrorResponse(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}

	var verrs validator.ValidationErrors
	if err := validate.Struct(dst); errors.As(err, &verrs) {
		for _, fe := range verrs {
			if fe.Field() == "id" {
				writeErrorResponse(w, http.StatusBadRequest, msgIDRequired)
				return false
			}
		}
	}
	return validateRequest(w, dst)
}

func folderName(name string) string {
	folder := unsafeFolderChars.ReplaceAllString(name, "")
	folder = whitespaceRun.ReplaceAllString(strings.TrimSpace(folder), "_")
	if folder == "" {
		return "default"
	}
	return folder
}
