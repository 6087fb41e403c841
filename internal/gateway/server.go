package gateway

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"

	"fivecut/internal/config"
	"fivecut/internal/identity"
	"fivecut/internal/logging"
	"fivecut/internal/queue"
	"fivecut/internal/storage"
)

// presigned URLs handed to clients are short-lived
const (
	defaultPresignExpiry = time.Hour
	maxPresignExpiry     = time.Hour
)

// ObjectStore is the storage surface the gateway needs.
type ObjectStore interface {
	Head(ctx context.Context, key string) (storage.ObjectInfo, error)
	GetRange(ctx context.Context, key string, start, end int64) (io.ReadCloser, error)
	List(ctx context.Context, prefix string) ([]storage.ObjectInfo, error)
	Delete(ctx context.Context, key string) error
	PresignGet(ctx context.Context, key string, expiry time.Duration, filename string) (string, error)
	CreateMultipart(ctx context.Context, key string) (string, error)
	PresignUploadPart(ctx context.Context, key, uploadID string, partNumber int32, expiry time.Duration) (string, error)
	CompleteMultipart(ctx context.Context, key, uploadID string, parts []storage.CompletedPart) error
	AbortMultipart(ctx context.Context, key, uploadID string) error
}

// Server hosts the HTTP gateway.
type Server struct {
	cfg      *config.Config
	store    *queue.Store
	objects  ObjectStore
	verifier identity.Verifier
	logger   *slog.Logger
	echo     *echo.Echo
}

// NewServer wires the gateway routes. The caller owns the listener
// lifecycle via Start and Shutdown.
func NewServer(cfg *config.Config, store *queue.Store, objects ObjectStore, verifier identity.Verifier, logger *slog.Logger) *Server {
	if logger == nil {
		logger = logging.NewNop()
	}

	e := echo.New()
	e.HideBanner = true
	e.HidePort = true
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())

	s := &Server{
		cfg:      cfg,
		store:    store,
		objects:  objects,
		verifier: verifier,
		logger:   logger,
		echo:     e,
	}
	s.register()
	return s
}

func (s *Server) register() {
	e := s.echo
	e.HTTPErrorHandler = s.errorHandler

	e.GET("/health", s.health)

	authed := e.Group("", s.authMiddleware)

	authed.POST("/uploads/multipart/create", s.createMultipart)
	authed.POST("/uploads/multipart/sign", s.signPart)
	authed.POST("/uploads/multipart/complete", s.completeMultipart)
	authed.POST("/uploads/multipart/abort", s.abortMultipart)
	authed.DELETE("/uploads/*", s.deleteUpload)
	authed.GET("/uploads/recent", s.recentUploads)
	authed.GET("/admin/uploads/recent", s.adminRecentUploads)

	authed.GET("/downloads/presign/*", s.presignDownload)

	authed.POST("/edits", s.createEdit)
	authed.GET("/edits/:jobID", s.editStatus)
	authed.POST("/edits/:jobID/cancel", s.cancelEdit)

	authed.GET("/videos/stream/*", s.streamVideo)
	authed.HEAD("/videos/stream/*", s.streamVideo)

	authed.GET("/highlights/jobs", s.highlightJobs)
	authed.GET("/highlights/by-jersey", s.highlightsByJersey)
}

// Start serves requests until the listener fails or Shutdown is called.
func (s *Server) Start() error {
	s.logger.Info("gateway listening", logging.String("bind", s.cfg.Paths.APIBind))
	err := s.echo.Start(s.cfg.Paths.APIBind)
	if err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// Shutdown drains in-flight requests.
func (s *Server) Shutdown(ctx context.Context) error {
	return s.echo.Shutdown(ctx)
}

// Handler exposes the root handler for tests.
func (s *Server) Handler() http.Handler {
	return s.echo
}

func (s *Server) health(c echo.Context) error {
	stats, err := s.store.Stats(c.Request().Context())
	if err != nil {
		return echo.NewHTTPError(http.StatusInternalServerError, "queue unavailable")
	}
	return c.JSON(http.StatusOK, map[string]any{"ok": true, "jobs": stats})
}
