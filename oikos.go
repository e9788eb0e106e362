// Package oikos is the content backend of the Oikos consulting site. It
// serves blog posts and project records as JSON over HTTP, with an admin
// API for editing them, backed by a document store.
//
// Records live in one logical table per kind. Listings are paginated with
// opaque cursors derived from the store's continuation keys, and every
// write passes through the validate package first.
package oikos

import (
	"context"
	"fmt"
	"io"
	"log"
	"net/http"
	"os"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/oikos-consulting/oikos/docstore"
)

// App is the central oikos application. It wires together the store,
// stats cache, handlers and middleware.
type App struct {
	Config SiteConfig
	Echo   *echo.Echo
	Store  *Store
	Cache  StatsCache

	loginLimiter *LoginLimiter
	customRoutes []func(*App)
	closers      []io.Closer
	stopBackups  func()
	initialized  bool
}

// New creates a new App with the given configuration.
func New(cfg SiteConfig, opts ...Option) *App {
	cfg.setDefaults()

	a := &App{
		Config: cfg,
		Echo:   echo.New(),
	}
	a.Echo.HideBanner = true

	for _, opt := range opts {
		opt(a)
	}

	return a
}

// OpenStore opens the document store named by cfg.Backend and returns a
// Store over the configured tables.
func OpenStore(ctx context.Context, cfg SiteConfig) (*Store, error) {
	cfg.setDefaults()
	var (
		db  docstore.DB
		err error
	)
	switch cfg.Backend {
	case "sqlite":
		db, err = docstore.OpenSQLite(cfg.DatabasePath)
	case "mongo":
		if cfg.MongoURI == "" {
			return nil, fmt.Errorf("oikos: MongoURI is required for the mongo backend")
		}
		db, err = docstore.OpenMongo(ctx, cfg.MongoURI, cfg.MongoDatabase)
	default:
		return nil, fmt.Errorf("oikos: unknown backend %q", cfg.Backend)
	}
	if err != nil {
		return nil, fmt.Errorf("oikos: open %s store: %w", cfg.Backend, err)
	}
	return NewStore(db, cfg.tables()), nil
}

// Init opens the store and cache if none were supplied and registers the
// middleware and routes. Start calls it; tests call it directly and drive
// a.Echo with httptest.
func (a *App) Init(ctx context.Context) error {
	if a.initialized {
		return nil
	}
	if a.Config.SessionSecret == "" {
		return fmt.Errorf("oikos: SessionSecret is required")
	}
	if a.Config.JWTSecret == "" {
		return fmt.Errorf("oikos: JWTSecret is required")
	}

	if a.Store == nil {
		store, err := OpenStore(ctx, a.Config)
		if err != nil {
			return err
		}
		a.Store = store
		a.closers = append(a.closers, store)
	}
	if a.Config.AutoProvision {
		if err := a.Store.Provision(ctx); err != nil {
			return fmt.Errorf("oikos: provision tables: %w", err)
		}
	}

	if a.Cache == nil {
		if a.Config.RedisURL != "" {
			rc, err := NewRedisCache(ctx, a.Config.RedisURL, a.Config.StatsCacheTTL)
			if err != nil {
				return fmt.Errorf("oikos: init stats cache: %w", err)
			}
			a.Cache = rc
			a.closers = append(a.closers, rc)
		} else {
			a.Cache = NewMemoryCache(a.Config.StatsCacheTTL)
		}
	}

	a.loginLimiter = NewLoginLimiter(5, time.Minute)

	a.setupMiddleware()
	a.setupRoutes()
	for _, fn := range a.customRoutes {
		fn(a)
	}
	a.initialized = true
	return nil
}

// Start initializes the app, schedules backups if configured, and serves
// HTTP until the server is shut down.
func (a *App) Start() error {
	if err := a.Init(context.Background()); err != nil {
		return err
	}
	if a.Config.BackupSchedule != "" {
		stop, err := a.Store.StartBackupScheduler(a.Config.BackupSchedule, a.Config.BackupDir)
		if err != nil {
			return fmt.Errorf("oikos: %w", err)
		}
		a.stopBackups = stop
	}
	if err := a.Echo.Start(a.Config.Addr); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

func (a *App) setupRoutes() {
	e := a.Echo
	public := a.publicRateLimiter()
	admin := a.requireAdmin

	e.GET("/healthz", handleHealth)
	e.GET("/feed.xml", a.handleFeed, public)

	e.POST("/api/auth/login", a.handleLogin)
	e.POST("/api/auth/logout", a.handleLogout)
	e.GET("/api/auth/me", a.handleMe, admin)
	e.POST("/api/auth/change-password", a.handleChangePassword, admin)

	e.GET("/api/blogs", a.handleListBlogs, public)
	e.GET("/api/blogs/stats", a.handleBlogStats, admin)
	e.GET("/api/blogs/slug/:slug", a.handleGetBlogBySlug, public)
	e.GET("/api/blogs/:id", a.handleGetBlog, public)
	e.POST("/api/blogs", a.handleCreateBlog, admin)
	e.PUT("/api/blogs/:id", a.handleUpdateBlog, admin)
	e.DELETE("/api/blogs/:id", a.handleDeleteBlog, admin)

	e.GET("/api/projects", a.handleListProjects, public)
	e.GET("/api/projects/stats", a.handleProjectStats, admin)
	e.POST("/api/projects", a.handleCreateProject, admin)
	e.PUT("/api/projects", a.handleUpdateProject, admin)
	e.DELETE("/api/projects", a.handleDeleteProject, admin)

	e.GET("/api/activity", a.handleActivity, admin)

	e.POST("/api/validate/blog", a.handleValidateBlog, public)
	e.POST("/api/validate/project", a.handleValidateProject, public)
}

// Close cleans up resources. Call this when the app is shutting down.
func (a *App) Close() error {
	if a.stopBackups != nil {
		a.stopBackups()
	}
	if a.loginLimiter != nil {
		a.loginLimiter.Stop()
	}
	for _, c := range a.closers {
		if err := c.Close(); err != nil {
			log.Printf("oikos: close: %v", err)
		}
	}
	return nil
}

// EnvOr returns the value of the environment variable key, or fallback if empty.
func EnvOr(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

// MustEnv returns the value of the environment variable key, or fatally exits if empty.
func MustEnv(key string) string {
	v := os.Getenv(key)
	if v == "" {
		log.Fatalf("oikos: required environment variable %s is not set", key)
	}
	return v
}
