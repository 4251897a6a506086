package handlers

import (
	"context"
	"io"
	"net/http"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"

	"shaluqa.app/crm/internal/auth"
	"shaluqa.app/crm/internal/expiry"
	"shaluqa.app/crm/internal/logger"
	"shaluqa.app/crm/internal/ratelimit"
	"shaluqa.app/crm/internal/supabase"
	"shaluqa.app/crm/storage"
)

// LicenseChecker runs one license expiry scan.
type LicenseChecker interface {
	Run(ctx context.Context) (expiry.Report, error)
}

// FileStorage is the object storage used by uploads and the carousel.
type FileStorage interface {
	ListBuckets(ctx context.Context) ([]supabase.Bucket, error)
	CreateBucket(ctx context.Context, name string, opts supabase.BucketOptions) error
	Upload(ctx context.Context, bucket, path, contentType string, r io.Reader) error
	Remove(ctx context.Context, bucket string, paths ...string) error
	PublicURL(bucket, path string) string
}

type WelcomeSender interface {
	SendWelcome(ctx context.Context, to, userName string) error
}

// Dependencies are the collaborators of the HTTP server. Files, Mailer,
// Metrics and LoginLimiter may be nil.
type Dependencies struct {
	Store        storage.Store
	Checker      LicenseChecker
	Auth         auth.Authenticator
	Files        FileStorage
	Mailer       WelcomeSender
	Metrics      http.Handler
	LoginLimiter ratelimit.RateLimit

	CronSecret     string
	AllowedOrigins []string
	Version        string
}

type Server struct {
	Router  chi.Router
	Storage storage.Store

	checker    LicenseChecker
	auth       auth.Authenticator
	files      FileStorage
	mailer     WelcomeSender
	cronSecret string
	version    string
	now        func() time.Time
}

func NewHttpServer(deps Dependencies) *Server {
	s := &Server{
		Router:     chi.NewRouter(),
		Storage:    deps.Store,
		checker:    deps.Checker,
		auth:       deps.Auth,
		files:      deps.Files,
		mailer:     deps.Mailer,
		cronSecret: deps.CronSecret,
		version:    deps.Version,
		now:        time.Now,
	}
	if s.version == "" {
		s.version = "dev"
	}

	r := s.Router
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(requestLogger)
	r.Use(recoverer)
	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   deps.AllowedOrigins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type", "X-Request-Id"},
		ExposedHeaders:   []string{"X-Request-Id"},
		AllowCredentials: true,
		MaxAge:           300,
	}))

	r.NotFound(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusNotFound, "No encontrado")
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		writeErrorResponse(w, http.StatusMethodNotAllowed, "Método no permitido")
	})

	r.Get("/health", s.Health)
	if deps.Metrics != nil {
		r.Method(http.MethodGet, "/metrics", deps.Metrics)
	}

	r.Route("/api", func(r chi.Router) {
		r.Group(func(r chi.Router) {
			r.Use(s.requireCronSecret)
			r.Get("/cron/check-licenses", s.CheckLicenses)
			r.Post("/cron/check-licenses", s.CheckLicenses)
		})

		r.Route("/auth", func(r chi.Router) {
			r.Group(func(r chi.Router) {
				if deps.LoginLimiter != nil {
					r.Use(ratelimit.Middleware(deps.LoginLimiter))
				}
				r.Post("/login", s.Login)
				r.Post("/register", s.Register)
			})
			r.Post("/logout", s.Logout)
			r.With(auth.Require(s.auth)).Get("/session", s.Session)
		})

		r.Group(func(r chi.Router) {
			r.Use(auth.Require(s.auth))

			r.Post("/upload", s.Upload)

			r.Post("/carousel", s.CreatePhoto)
			r.Patch("/carousel", s.UpdatePhoto)
			r.Delete("/carousel", s.DeletePhoto)

			r.Route("/clients", func(r chi.Router) {
				r.Get("/", s.ListClients)
				r.Post("/", s.CreateClient)
				r.Get("/{id}", s.GetClient)
				r.Put("/{id}", s.UpdateClient)
				r.Delete("/{id}", s.DeleteClient)
			})
			r.Route("/products", func(r chi.Router) {
				r.Get("/", s.ListProducts)
				r.Post("/", s.CreateProduct)
				r.Get("/{id}", s.GetProduct)
				r.Put("/{id}", s.UpdateProduct)
				r.Delete("/{id}", s.DeleteProduct)
			})
			r.Route("/licenses", func(r chi.Router) {
				r.Get("/", s.ListLicenses)
				r.Post("/", s.CreateLicense)
				r.Get("/{id}", s.GetLicense)
				r.Put("/{id}", s.UpdateLicense)
				r.Delete("/{id}", s.DeleteLicense)
			})
		})
	})

	return s
}

func (s *Server) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	s.Router.ServeHTTP(w, r)
}

type HealthResponse struct {
	Status    string    `json:"status"`
	Version   string    `json:"version"`
	Timestamp time.Time `json:"timestamp"`
}

func (s *Server) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, HealthResponse{
		Status:    "healthy",
		Version:   s.version,
		Timestamp: s.now().UTC(),
	})
}

func requestID(r *http.Request) string {
	return middleware.GetReqID(r.Context())
}

func requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
		start := time.Now()

		next.ServeHTTP(ww, r)

		fields := map[string]interface{}{
			"method":      r.Method,
			"path":        r.URL.Path,
			"status":      ww.Status(),
			"bytes":       ww.BytesWritten(),
			"duration_ms": time.Since(start).Milliseconds(),
			"remote_addr": r.RemoteAddr,
			"request_id":  requestID(r),
		}
		switch {
		case ww.Status() >= http.StatusInternalServerError:
			logger.Error("HTTP request", fields)
		case r.URL.Path == "/health" || r.URL.Path == "/metrics":
			logger.Debug("HTTP request", fields)
		default:
			logger.Info("HTTP request", fields)
		}
	})
}

// recoverer turns a panic into a JSON 500 and reports it to Sentry.
func recoverer(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		defer func() {
			rec := recover()
			if rec == nil {
				return
			}
			if rec == http.ErrAbortHandler {
				panic(rec)
			}

			hub := sentry.CurrentHub().Clone()
			hub.Scope().SetRequest(r)
			hub.Scope().SetTag("request_id", requestID(r))
			hub.Recover(rec)

			logger.Error("Panic while serving request", map[string]interface{}{
				"path":       r.URL.Path,
				"method":     r.Method,
				"request_id": requestID(r),
				"panic":      rec,
			})
			writeErrorResponse(w, http.StatusInternalServerError, msgInternal)
		}()

		next.ServeHTTP(w, r)
	})
}
