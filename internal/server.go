package internal

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"net/http"
	"os"
	"time"

	"fieldsales-api/internal/auth"
	"fieldsales-api/internal/config"
	"fieldsales-api/internal/geo"
	"fieldsales-api/internal/handlers"
	"fieldsales-api/internal/logging"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	_ "github.com/jackc/pgx/v5/stdlib"
	"go.uber.org/zap"
)

//go:embed openapi
var openapiFS embed.FS

type Server struct {
	DB         *sql.DB
	Pool       *pgxpool.Pool
	Router     *chi.Mux
	JWTManager *auth.JWTManager
	Metrics    *Metrics
	Logger     *zap.Logger
	Fence      geo.Fence
	Loc        *time.Location

	importMapping string
	now           func() time.Time
}

// Open connects to Postgres and builds a Server on top of it.
func Open(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	if cfg.DatabaseDSN == "" {
		return nil, fmt.Errorf("DB_DSN environment variable is required")
	}

	db, err := sql.Open("pgx", cfg.DatabaseDSN)
	if err != nil {
		return nil, fmt.Errorf("open database: %w", err)
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		db.Close()
		return nil, fmt.Errorf("database ping: %w", err)
	}

	// The importer talks to pgx directly
	pool, err := pgxpool.New(ctx, cfg.DatabaseDSN)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("create pgxpool: %w", err)
	}

	return New(db, pool, cfg, logger)
}

// New builds the router around already-open database handles. db and pool
// may be nil in tests that only exercise request validation.
func New(db *sql.DB, pool *pgxpool.Pool, cfg *config.Config, logger *zap.Logger) (*Server, error) {
	jwtManager := auth.NewJWTManager(cfg.JWTSecret, cfg.JWTIssuer, cfg.JWTAudience, cfg.JWTExpiry)
	if err := jwtManager.ValidateConfig(); err != nil {
		return nil, fmt.Errorf("JWT configuration validation failed: %w", err)
	}

	s := &Server{
		DB:            db,
		Pool:          pool,
		Router:        chi.NewRouter(),
		JWTManager:    jwtManager,
		Metrics:       NewMetrics(),
		Logger:        logger,
		Fence:         cfg.Fence(),
		Loc:           cfg.Location(),
		importMapping: cfg.ImportMapping,
		now:           time.Now,
	}

	s.Router.Use(middleware.RequestID)
	s.Router.Use(middleware.Recoverer)
	s.Router.Use(logging.Middleware(logger))
	if os.Getenv("ENABLE_METRICS") == "true" {
		s.Router.Use(s.Metrics.Middleware())
		s.Router.Get("/metrics", s.Metrics.Handler().ServeHTTP)
	}

	// Public routes
	s.Router.Get("/health", func(w http.ResponseWriter, _ *http.Request) {
		if _, err := w.Write([]byte("ok")); err != nil {
			http.Error(w, err.Error(), http.StatusInternalServerError)
		}
	})
	s.Router.Get("/dbping", s.dbPing)
	s.Router.Post("/auth/login", s.loginUser)
	s.mountDocs(s.Router)

	s.Router.Group(func(r chi.Router) {
		r.Use(auth.AuthMiddleware(s.JWTManager))
		r.Use(s.withRLSSession)
		s.mountProtectedRoutes(r)
	})

	return s, nil
}

// Close properly shuts down the server and cleans up resources
func (s *Server) Close(ctx context.Context) error {
	if s.Pool != nil {
		s.Pool.Close()
	}
	if s.DB != nil {
		return s.DB.Close()
	}
	return nil
}

func (s *Server) dbPing(w http.ResponseWriter, r *http.Request) {
	if s.DB == nil {
		writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database not configured")
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 2*time.Second)
	defer cancel()
	if err := s.DB.PingContext(ctx); err != nil {
		writeError(w, http.StatusServiceUnavailable, "DB_UNAVAILABLE", "database unreachable")
		return
	}
	w.Write([]byte("db: ok"))
}

// withRLSSession middleware for org isolation
func (s *Server) withRLSSession(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		orgID := auth.OrgIDFromContext(r.Context())
		conn, ctx2, err := withDBConn(r.Context(), s.DB, orgID)
		if err != nil {
			s.Logger.Error("db acquire", zap.Int64("org_id", orgID), zap.Error(err))
			writeError(w, http.StatusInternalServerError, "DB_ACQUIRE", "could not acquire database connection")
			return
		}
		if conn != nil {
			defer conn.Close()
		}
		next.ServeHTTP(w, r.WithContext(ctx2))
	})
}

// mountDocs serves the OpenAPI document and Swagger UI
func (s *Server) mountDocs(mux *chi.Mux) {
	if os.Getenv("ENABLE_SWAGGER") != "true" {
		return
	}

	mux.Get("/openapi.yaml", func(w http.ResponseWriter, r *http.Request) {
		data, err := openapiFS.ReadFile("openapi/openapi.yaml")
		if err != nil {
			http.Error(w, "Failed to read OpenAPI document", http.StatusInternalServerError)
			return
		}
		w.Header().Set("Content-Type", "application/x-yaml")
		w.Write(data)
	})

	mux.Get("/docs", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		w.Write([]byte(`<!doctype html>
<html lang="en">
<head>
    <meta charset="utf-8">
    <title>Field Sales API - Documentation</title>
    <link rel="stylesheet" href="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui.css">
</head>
<body>
    <div id="swagger-ui"></div>
    <script src="https://unpkg.com/swagger-ui-dist@5.9.0/swagger-ui-bundle.js"></script>
    <script>
        window.onload = function() {
            window.ui = SwaggerUIBundle({ url: '/openapi.yaml', dom_id: '#swagger-ui', deepLinking: true });
        };
    </script>
</body>
</html>`))
	})
}

// mountProtectedRoutes mounts all protected routes that require authentication
func (s *Server) mountProtectedRoutes(r chi.Router) {
	staff := auth.MustRole(auth.RoleSupervisor, auth.RoleAdmin)
	admin := auth.MustRole(auth.RoleAdmin)

	// Self-service
	r.Get("/auth/profile", s.getUserProfile)
	r.Put("/auth/profile", s.updateUserProfile)
	r.Put("/auth/change-password", s.changePassword)

	// Caller's organization
	r.Get("/org", s.getOrganization)
	r.With(admin).Put("/org", s.updateOrganization)

	// User management
	r.With(admin).Get("/users", s.listUsers)
	r.With(admin).Post("/users", s.createUser)
	r.With(admin).Get("/users/{id}", s.getUser)
	r.With(admin).Put("/users/{id}", s.updateUser)
	r.With(admin).Delete("/users/{id}", s.deleteUser)

	// Retailers and their closing stock
	r.Get("/retailers", s.listRetailers)
	r.Get("/retailers/{id}", s.getRetailer)
	r.With(staff).Post("/retailers", s.createRetailer)
	r.With(staff).Put("/retailers/{id}", s.updateRetailer)
	r.With(admin).Delete("/retailers/{id}", s.deleteRetailer)
	r.Get("/retailers/{id}/closing-stock", s.getClosingStock)
	r.Put("/retailers/{id}/closing-stock", s.updateClosingStock)
	r.Delete("/retailers/{id}/closing-stock/{productID}", s.deleteClosingStockRow)

	// Product catalog
	r.Get("/products", s.listProducts)
	r.Get("/products/{id}", s.getProduct)
	r.With(admin).Post("/products", s.createProduct)
	r.With(admin).Put("/products/{id}", s.updateProduct)
	r.With(admin).Delete("/products/{id}", s.deleteProduct)

	// Visit logs
	r.Post("/visits", s.createVisit)
	r.Get("/visits", s.listVisits)
	r.Get("/visits/summary", s.visitSummary)
	r.Get("/visits/{id}", s.getVisit)

	// Deliveries
	r.Get("/deliveries", s.listDeliveries)
	r.With(staff).Post("/deliveries", s.createDelivery)
	r.Get("/deliveries/{id}", s.getDelivery)
	r.Put("/deliveries/{id}/status", s.updateDeliveryStatus)
	r.Put("/deliveries/{id}/products", s.updateDeliveryProducts)
	r.Delete("/deliveries/{id}/products/{productID}", s.deleteDeliveryProduct)

	// Sales orders
	r.Get("/sales-orders", s.listSalesOrders)
	r.Post("/sales-orders", s.createSalesOrder)
	r.Get("/sales-orders/{id}", s.getSalesOrder)
	r.Put("/sales-orders/{id}/status", s.updateSalesOrderStatus)

	// Receipts
	r.Get("/receipts", s.listReceipts)
	r.Post("/receipts", s.createReceipt)
	r.Get("/receipts/{id}", s.getReceipt)

	// Attendance
	r.Post("/attendance/check-in", s.checkIn)
	r.Post("/attendance/check-out", s.checkOut)
	r.Get("/attendance", s.listAttendance)

	// Reports
	r.With(staff).Get("/reports/dashboard", s.dashboard)
	r.With(staff).Get("/reports/sales", s.salesReport)
	r.With(staff).Get("/reports/sales.xlsx", s.salesReportXLSX)
	r.With(staff).Get("/reports/visits", s.visitReport)

	// Retailer master import
	imports := handlers.NewImportsHandler(s.Pool, s.importMapping, s.Logger)
	r.With(staff).Post("/imports/retailers", imports.UploadRetailers)
}
