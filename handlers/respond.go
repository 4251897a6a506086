package handlers

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"shaluqa.app/crm/internal/logger"
)

const (
	msgInternal       = "Error interno"
	msgMissingFields  = "Faltan campos requeridos"
	msgInvalidBody    = "Cuerpo de la petición inválido"
	msgIDRequired     = "ID requerido"
	maxJSONBodyBytes  = 1 << 20
	validationMessage = "Datos inválidos"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})
	return v
}

type errorResponse struct {
	Error  string            `json:"error"`
	Fields map[string]string `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		logger.Error("Failed to encode response", map[string]interface{}{
			"error": err.Error(),
		})
	}
}

func writeErrorResponse(w http.ResponseWriter, status int, message string) {
	writeJSON(w, status, errorResponse{Error: message})
}

// writeInternalError logs err and answers with a generic 500.
func writeInternalError(w http.ResponseWriter, r *http.Request, message string, err error) {
	logger.Error(message, map[string]interface{}{
		"path":       r.URL.Path,
		"method":     r.Method,
		"request_id": requestID(r),
		"error":      err.Error(),
	})
	writeErrorResponse(w, http.StatusInternalServerError, msgInternal)
}

// decodeJSON reads a JSON body into dst and validates it. It writes the 400
// response itself and returns false when the body is unusable.
func decodeJSON(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxJSONBodyBytes)
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			writeErrorResponse(w, http.StatusBadRequest, msgMissingFields)
			return false
		}
		logger.Debug("Invalid JSON body", map[string]interface{}{
			"path":  r.URL.Path,
			"error": err.Error(),
		})
		writeErrorResponse(w, http.StatusBadRequest, msgInvalidBody)
		return false
	}

	return validateRequest(w, dst)
}

func validateRequest(w http.ResponseWriter, v interface{}) bool {
	err := validate.Struct(v)
	if err == nil {
		return true
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		writeErrorResponse(w, http.StatusBadRequest, validationMessage)
		return false
	}

	fields := make(map[string]string, len(verrs))
	missing := true
	for _, fe := range verrs {
		fields[fe.Field()] = describe(fe)
		if !strings.HasPrefix(fe.Tag(), "required") {
			missing = false
		}
	}

	message := validationMessage
	if missing {
		message = msgMissingFields
	}
	writeJSON(w, http.StatusBadRequest, errorResponse{Error: message, Fields: fields})
	return false
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required", "required_without":
		return "requerido"
	case "email":
		return "email inválido"
	case "oneof":
		return fmt.Sprintf("debe ser uno de: %s", fe.Param())
	case "datetime":
		return fmt.Sprintf("formato esperado %s", fe.Param())
	case "gte":
		return fmt.Sprintf("debe ser mayor o igual que %s", fe.Param())
	case "min":
		return fmt.Sprintf("longitud mínima %s", fe.Param())
	default:
		return fe.Tag()
	}
}
