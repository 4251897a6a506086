package handlers

import (
	"crypto/subtle"
	"net/http"
	"strings"

	"github.com/getsentry/sentry-go"

	"shaluqa.app/crm/internal/logger"
)

// CheckLicenses runs the license expiry scan. A failed license query is the
// only error answered with 500; per-license problems are in the results.
func (s *Server) CheckLicenses(w http.ResponseWriter, r *http.Request) {
	logger.Info("License expiry check triggered", map[string]interface{}{
		"method":     r.Method,
		"request_id": requestID(r),
	})

	report, err := s.checker.Run(r.Context())
	if err != nil {
		sentry.CaptureException(err)
		writeErrorResponse(w, http.StatusInternalServerError, err.Error())
		return
	}

	if report.Warnings != nil {
		logger.Warn("License expiry check finished with warnings", map[string]interface{}{
			"warnings": report.Warnings.Error(),
		})
	}

	if report.Total == 0 {
		writeJSON(w, http.StatusOK, map[string]string{"message": report.Message})
		return
	}
	writeJSON(w, http.StatusOK, report)
}

// requireCronSecret enforces "Authorization: Bearer <CRON_SECRET>" when a
// secret is configured.
func (s *Server) requireCronSecret(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.cronSecret == "" {
			next.ServeHTTP(w, r)
			return
		}

		token, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
		if !ok || subtle.ConstantTimeCompare([]byte(token), []byte(s.cronSecret)) != 1 {
			logger.Warn("Rejected cron trigger with invalid secret", map[string]interface{}{
				"remote_addr": r.RemoteAddr,
			})
			writeErrorResponse(w, http.StatusUnauthorized, "No autorizado")
			return
		}
		next.ServeHTTP(w, r)
	})
}
