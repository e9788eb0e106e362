package oikos

import "time"

// SiteConfig holds all configuration for an oikos site backend.
type SiteConfig struct {
	Name        string // Site name (default "Oikos")
	URL         string // Canonical URL (default "http://localhost:3000")
	Description string // Site description for the RSS feed

	Addr string // Listen address (default ":3000")

	Backend       string // Document store: "sqlite" (default) or "mongo"
	DatabasePath  string // SQLite path (default "data/oikos.db")
	MongoURI      string // Mongo connection string when Backend is "mongo"
	MongoDatabase string // Mongo database name (default "oikos")
	AutoProvision bool   // Create missing tables on Start

	BlogsTable    string // default "OikosBlogs"
	ProjectsTable string // default "OikosProjects"
	AdminsTable   string // default "OikosAdmins"

	SessionSecret string        // Required: session encryption secret
	JWTSecret     string        // Required: bearer token signing secret
	TokenTTL      time.Duration // Bearer token lifetime (default 12h)
	CookieSecure  bool          // Set true for HTTPS

	RedisURL      string        // Shared stats cache; in-memory when empty
	StatsCacheTTL time.Duration // Stats cache TTL (default 5min)

	BackupDir      string // Table backup directory (default "backups")
	BackupSchedule string // Cron spec for periodic backups; disabled when empty

	AllowedOrigins  []string // CORS origins for the JSON API
	PublicRateLimit float64  // Public API requests per second per IP (default 20)
}

func (c *SiteConfig) setDefaults() {
	if c.Name == "" {
		c.Name = "Oikos"
	}
	if c.URL == "" {
		c.URL = "http://localhost:3000"
	}
	if c.Addr == "" {
		c.Addr = ":3000"
	}
	if c.Backend == "" {
		c.Backend = "sqlite"
	}
	if c.DatabasePath == "" {
		c.DatabasePath = "data/oikos.db"
	}
	if c.MongoDatabase == "" {
		c.MongoDatabase = "oikos"
	}
	if c.BlogsTable == "" {
		c.BlogsTable = "OikosBlogs"
	}
	if c.ProjectsTable == "" {
		c.ProjectsTable = "OikosProjects"
	}
	if c.AdminsTable == "" {
		c.AdminsTable = "OikosAdmins"
	}
	if c.TokenTTL == 0 {
		c.TokenTTL = 12 * time.Hour
	}
	if c.StatsCacheTTL == 0 {
		c.StatsCacheTTL = 5 * time.Minute
	}
	if c.BackupDir == "" {
		c.BackupDir = "backups"
	}
	if c.PublicRateLimit == 0 {
		c.PublicRateLimit = 20
	}
}

func (c SiteConfig) tables() Tables {
	return Tables{Blogs: c.BlogsTable, Projects: c.ProjectsTable, Admins: c.AdminsTable}
}

// Option configures additional App behavior.
type Option func(*App)

// WithCustomRoutes registers additional routes on the Echo instance.
// The callback receives the App before the server starts.
func WithCustomRoutes(fn func(*App)) Option {
	return func(a *App) {
		a.customRoutes = append(a.customRoutes, fn)
	}
}

// WithStore uses an already opened store instead of opening one from the
// configured backend.
func WithStore(s *Store) Option {
	return func(a *App) {
		a.Store = s
	}
}

// WithStatsCache replaces the default in-memory stats cache.
func WithStatsCache(c StatsCache) Option {
	return func(a *App) {
		a.Cache = c
	}
}
