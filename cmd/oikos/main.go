package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/oikos-consulting/oikos"
)

// version is set at build time via ldflags.
var version = "dev"

var envFile string

var rootCmd = &cobra.Command{
	Use:   "oikos",
	Short: "Content backend for the Oikos consulting site",
	Long: `Serves blog posts and project records as JSON, with an admin API for
editing them. Configuration comes from the environment (and an optional
.env file).`,
	SilenceUsage: true,
	PersistentPreRun: func(cmd *cobra.Command, args []string) {
		if err := godotenv.Load(envFile); err != nil {
			log.Printf("No %s file found; using system environment", envFile)
		}
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the HTTP server",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := configFromEnv()
		if err != nil {
			return err
		}
		if cfg.SessionSecret == "" || cfg.JWTSecret == "" {
			return errors.New("SESSION_SECRET and JWT_SECRET must be set")
		}
		app := oikos.New(cfg)
		defer app.Close()

		errc := make(chan error, 1)
		go func() { errc <- app.Start() }()

		stop := make(chan os.Signal, 1)
		signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
		select {
		case err := <-errc:
			return err
		case sig := <-stop:
			log.Printf("received %s, shutting down", sig)
		}
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := app.Echo.Shutdown(ctx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	},
}

var provisionCmd = &cobra.Command{
	Use:   "provision",
	Short: "Create missing tables and indexes",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s *oikos.Store, cfg oikos.SiteConfig) error {
			if err := s.Provision(ctx); err != nil {
				return err
			}
			fmt.Printf("Tables %s, %s and %s are ready\n", cfg.BlogsTable, cfg.ProjectsTable, cfg.AdminsTable)
			return nil
		})
	},
}

var backupCmd = &cobra.Command{
	Use:   "backup",
	Short: "Write a JSON backup of the blogs and projects tables",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s *oikos.Store, cfg oikos.SiteConfig) error {
			paths, err := s.Backup(ctx, cfg.BackupDir)
			if err != nil {
				return err
			}
			for _, p := range paths {
				fmt.Printf("Backup created at %s\n", p)
			}
			return nil
		})
	},
}

var migrateDatesCmd = &cobra.Command{
	Use:   "migrate-project-dates",
	Short: "Convert legacy startDate/completionDate attributes to startYear/endYear",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withStore(cmd.Context(), func(ctx context.Context, s *oikos.Store, cfg oikos.SiteConfig) error {
			report, err := s.MigrateProjectDates(ctx, cfg.BackupDir)
			if err != nil {
				return err
			}
			fmt.Printf("Backup: %s\nProjects: %d migrated, %d already current, %d failed (of %d)\n",
				report.Backup, report.Migrated, report.Skipped, report.Failed, report.Total)
			if report.Failed > 0 {
				return fmt.Errorf("%d projects failed to migrate", report.Failed)
			}
			return nil
		})
	},
}

var adminCmd = &cobra.Command{
	Use:   "admin",
	Short: "Manage dashboard accounts",
}

var adminAddCmd = &cobra.Command{
	Use:   "add <email>",
	Short: "Create or reset an admin account",
	Long:  "Reads the password from OIKOS_ADMIN_PASSWORD, or from the first line of stdin.",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		password := os.Getenv("OIKOS_ADMIN_PASSWORD")
		if password == "" {
			fmt.Fprint(os.Stderr, "Password: ")
			line, err := bufio.NewReader(os.Stdin).ReadString('\n')
			if err != nil && line == "" {
				return fmt.Errorf("read password: %w", err)
			}
			password = strings.TrimRight(line, "\r\n")
		}
		return withStore(cmd.Context(), func(ctx context.Context, s *oikos.Store, cfg oikos.SiteConfig) error {
			if err := s.Provision(ctx); err != nil {
				return err
			}
			if err := s.CreateAdmin(ctx, args[0], password); err != nil {
				return err
			}
			fmt.Printf("Admin %s saved\n", args[0])
			return nil
		})
	},
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the oikos version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("oikos %s\n", version)
	},
}

func withStore(ctx context.Context, fn func(context.Context, *oikos.Store, oikos.SiteConfig) error) error {
	if ctx == nil {
		ctx = context.Background()
	}
	cfg, err := configFromEnv()
	if err != nil {
		return err
	}
	s, err := oikos.OpenStore(ctx, cfg)
	if err != nil {
		return err
	}
	defer s.Close()
	return fn(ctx, s, cfg)
}

func configFromEnv() (oikos.SiteConfig, error) {
	cfg := oikos.SiteConfig{
		Name:           oikos.EnvOr("SITE_NAME", "Oikos"),
		URL:            oikos.EnvOr("SITE_URL", "http://localhost:3000"),
		Description:    oikos.EnvOr("SITE_DESCRIPTION", "Environmental consulting"),
		Addr:           oikos.EnvOr("ADDR", ":3000"),
		Backend:        oikos.EnvOr("STORE_BACKEND", "sqlite"),
		DatabasePath:   oikos.EnvOr("DATABASE_PATH", "data/oikos.db"),
		MongoURI:       os.Getenv("MONGODB_URI"),
		MongoDatabase:  oikos.EnvOr("MONGODB_DATABASE", "oikos"),
		BlogsTable:     os.Getenv("BLOGS_TABLE"),
		ProjectsTable:  os.Getenv("PROJECTS_TABLE"),
		AdminsTable:    os.Getenv("ADMINS_TABLE"),
		SessionSecret:  os.Getenv("SESSION_SECRET"),
		JWTSecret:      os.Getenv("JWT_SECRET"),
		RedisURL:       os.Getenv("REDIS_URL"),
		BackupDir:      oikos.EnvOr("BACKUP_DIR", "backups"),
		BackupSchedule: os.Getenv("BACKUP_SCHEDULE"),
		AllowedOrigins: oikos.FilterEmpty(strings.Split(os.Getenv("ALLOWED_ORIGINS"), ",")),
	}

	var err error
	if cfg.CookieSecure, err = envBool("COOKIE_SECURE"); err != nil {
		return cfg, err
	}
	if cfg.AutoProvision, err = envBool("AUTO_PROVISION"); err != nil {
		return cfg, err
	}
	if cfg.TokenTTL, err = envDuration("TOKEN_TTL"); err != nil {
		return cfg, err
	}
	if cfg.StatsCacheTTL, err = envDuration("STATS_CACHE_TTL"); err != nil {
		return cfg, err
	}
	if v := os.Getenv("PUBLIC_RATE_LIMIT"); v != "" {
		if cfg.PublicRateLimit, err = strconv.ParseFloat(v, 64); err != nil {
			return cfg, fmt.Errorf("PUBLIC_RATE_LIMIT: %w", err)
		}
	}
	return cfg, nil
}

func envBool(key string) (bool, error) {
	v := os.Getenv(key)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("%s: %w", key, err)
	}
	return b, nil
}

func envDuration(key string) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return 0, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("%s: %w", key, err)
	}
	return d, nil
}

func init() {
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "environment file to load before reading configuration")

	adminCmd.AddCommand(adminAddCmd)

	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(provisionCmd)
	rootCmd.AddCommand(backupCmd)
	rootCmd.AddCommand(migrateDatesCmd)
	rootCmd.AddCommand(adminCmd)
	rootCmd.AddCommand(versionCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
