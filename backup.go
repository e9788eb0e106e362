package oikos

import (
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"
	"path/filepath"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/oikos-consulting/oikos/docstore"
	"github.com/oikos-consulting/oikos/model"
)

// Backup writes every item of the blogs and projects tables to dir, one
// JSON file per table, and returns the paths written.
func (s *Store) Backup(ctx context.Context, dir string) ([]string, error) {
	var paths []string
	for _, tb := range []struct {
		label string
		table docstore.Table
	}{
		{"blogs", s.blogs},
		{"projects", s.projects},
	} {
		path, _, err := s.backupTable(ctx, tb.table, tb.label, dir)
		if err != nil {
			return paths, err
		}
		paths = append(paths, path)
	}
	return paths, nil
}

func (s *Store) backupTable(ctx context.Context, t docstore.Table, label, dir string) (string, []docstore.Item, error) {
	items, err := docstore.ScanAll(ctx, t, nil)
	if err != nil {
		return "", nil, fmt.Errorf("scan %s: %w", t.Name(), err)
	}
	if items == nil {
		items = []docstore.Item{}
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", nil, err
	}
	stamp := strings.NewReplacer(":", "-", ".", "-").Replace(s.timestamp())
	path := filepath.Join(dir, fmt.Sprintf("%s-backup-%s.json", label, stamp))
	b, err := json.MarshalIndent(items, "", "  ")
	if err != nil {
		return "", nil, err
	}
	if err := os.WriteFile(path, b, 0o644); err != nil {
		return "", nil, err
	}
	return path, items, nil
}

// MigrationReport summarizes a MigrateProjectDates run.
type MigrationReport struct {
	Backup   string
	Total    int
	Migrated int
	Skipped  int
	Failed   int
}

// MigrateProjectDates rewrites projects that still carry the legacy
// startDate/completionDate attributes to the startYear/endYear form. The
// projects table is backed up to dir first. A project that fails to update
// is logged and counted; the run continues.
func (s *Store) MigrateProjectDates(ctx context.Context, dir string) (MigrationReport, error) {
	var report MigrationReport
	path, items, err := s.backupTable(ctx, s.projects, "projects", dir)
	if err != nil {
		return report, fmt.Errorf("backup projects: %w", err)
	}
	report.Backup = path
	report.Total = len(items)
	log.Printf("oikos: backup created at %s, %d projects", path, len(items))

	thisYear := strconv.Itoa(s.now().UTC().Year())
	for _, it := range items {
		_, legacyStart := it["startDate"]
		_, legacyEnd := it["completionDate"]
		if !legacyStart && !legacyEnd {
			report.Skipped++
			continue
		}
		startDate, _ := it["startDate"].(string)
		completionDate, _ := it["completionDate"].(string)

		startYear := thisYear
		if y := yearOf(startDate); y != "" {
			startYear = y
		}
		var endYear any
		if it["status"] == string(model.ProjectCompleted) {
			if y := yearOf(completionDate); y != "" {
				endYear = y
			}
		}

		_, err := s.projects.Update(ctx, it.ID(), docstore.Item{
			"startYear":      startYear,
			"endYear":        endYear,
			"startDate":      nil,
			"completionDate": nil,
		})
		if err != nil {
			log.Printf("oikos: failed to migrate project %s: %v", it.ID(), err)
			report.Failed++
			continue
		}
		report.Migrated++
	}
	return report, nil
}

var leadingYear = regexp.MustCompile(`^\s*(\d{4})`)

// yearOf extracts the calendar year from a date string such as
// "2021-03-15" or "2021-03-15T00:00:00Z".
func yearOf(date string) string {
	for _, layout := range []string{time.RFC3339Nano, "2006-01-02", "2006-01", "2006"} {
		if t, err := time.Parse(layout, strings.TrimSpace(date)); err == nil {
			return strconv.Itoa(t.UTC().Year())
		}
	}
	if m := leadingYear.FindStringSubmatch(date); m != nil {
		return m[1]
	}
	return ""
}

// StartBackupScheduler runs Backup on the cron schedule spec (five fields,
// e.g. "0 3 * * *") until the returned stop function is called.
func (s *Store) StartBackupScheduler(spec, dir string) (stop func(), err error) {
	c := cron.New()
	_, err = c.AddFunc(spec, func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
		defer cancel()
		paths, err := s.Backup(ctx, dir)
		if err != nil {
			log.Printf("oikos: scheduled backup failed: %v", err)
			return
		}
		log.Printf("oikos: scheduled backup wrote %s", strings.Join(paths, ", "))
	})
	if err != nil {
		return nil, fmt.Errorf("backup schedule %q: %w", spec, err)
	}
	c.Start()
	log.Printf("oikos: backups scheduled %q into %s", spec, dir)
	return func() { <-c.Stop().Done() }, nil
}
