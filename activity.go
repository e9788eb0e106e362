package oikos

import (
	"context"
	"errors"
	"fmt"
	"log"
	"sort"

	"github.com/oikos-consulting/oikos/docstore"
	"github.com/oikos-consulting/oikos/model"
)

const (
	activityPerTable = 10
	activityLimit    = 20
)

// RecentActivity returns the newest changes across projects and posts for
// the dashboard feed, newest first. A table that does not exist contributes
// nothing.
func (s *Store) RecentActivity(ctx context.Context) ([]model.Activity, error) {
	projects, err := s.recentItems(ctx, s.projects)
	if err != nil {
		return nil, err
	}
	blogs, err := s.recentItems(ctx, s.blogs)
	if err != nil {
		return nil, err
	}

	out := make([]model.Activity, 0, len(projects)+len(blogs))
	for _, it := range projects {
		p, err := fromItem[model.Project](it)
		if err != nil {
			return nil, err
		}
		action := "Project started"
		if p.Status == model.ProjectCompleted {
			action = "Project completed"
		}
		out = append(out, model.Activity{
			ID:        "project-" + p.ID,
			Type:      model.ActivityProject,
			Action:    action,
			Title:     p.Title,
			Timestamp: firstNonEmpty(p.UpdatedAt, p.CreatedAt),
		})
	}
	for _, it := range blogs {
		b, err := fromItem[model.BlogPost](it)
		if err != nil {
			return nil, err
		}
		action := "Post drafted"
		if b.Status == model.BlogPublished {
			action = "Post published"
		}
		out = append(out, model.Activity{
			ID:        "blog-" + b.ID,
			Type:      model.ActivityBlog,
			Action:    action,
			Title:     b.Title,
			Timestamp: firstNonEmpty(b.UpdatedAt, b.CreatedAt),
		})
	}

	sort.SliceStable(out, func(i, j int) bool { return out[i].Timestamp > out[j].Timestamp })
	if len(out) > activityLimit {
		out = out[:activityLimit]
	}
	return out, nil
}

// recentItems returns the activityPerTable most recently changed items of t.
func (s *Store) recentItems(ctx context.Context, t docstore.Table) ([]docstore.Item, error) {
	items, err := docstore.ScanAll(ctx, t, nil)
	if errors.Is(err, docstore.ErrTableNotFound) {
		log.Printf("oikos: %s not found, skipping in activity feed", t.Name())
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("scan %s: %w", t.Name(), err)
	}
	sort.SliceStable(items, func(i, j int) bool { return changedAt(items[i]) > changedAt(items[j]) })
	if len(items) > activityPerTable {
		items = items[:activityPerTable]
	}
	return items, nil
}

func changedAt(it docstore.Item) string {
	updated, _ := it["updatedAt"].(string)
	created, _ := it["createdAt"].(string)
	return firstNonEmpty(updated, created)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
