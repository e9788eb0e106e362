package oikos

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"sort"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/oikos-consulting/oikos/cursor"
	"github.com/oikos-consulting/oikos/docstore"
	"github.com/oikos-consulting/oikos/model"
	"github.com/oikos-consulting/oikos/validate"
)

var (
	// ErrNotFound is returned when a requested record does not exist.
	ErrNotFound = errors.New("record not found")
	// ErrInvalidCursor is returned for pagination tokens the store cannot resume from.
	ErrInvalidCursor = errors.New("invalid pagination token")
)

// Page sizes used when a listing request does not name a limit.
const (
	AdminPageSize  = 10
	PublicPageSize = 9
	MaxPageSize    = 100
)

// timeLayout is fixed-width so stored timestamps sort lexically.
const timeLayout = "2006-01-02T15:04:05.000Z"

// Secondary index names.
const (
	slugIndex   = "slug-index"
	statusIndex = "status-index"
)

// Tables names the logical tables the store uses.
type Tables struct {
	Blogs    string
	Projects string
	Admins   string
}

// Store maps blog posts, projects and admin credentials onto document
// tables. It keeps no local state beyond table handles.
type Store struct {
	db       docstore.DB
	specs    []docstore.TableSpec
	blogs    docstore.Table
	projects docstore.Table
	admins   docstore.Table

	now func() time.Time
}

// NewStore returns a store over db. Tables are not created until Provision
// is called.
func NewStore(db docstore.DB, t Tables) *Store {
	blogs := docstore.TableSpec{
		Name: t.Blogs,
		Indexes: []docstore.Index{
			{Name: slugIndex, HashAttr: "slug", RangeAttr: "createdAt"},
			{Name: statusIndex, HashAttr: "status", RangeAttr: "createdAt"},
		},
	}
	projects := docstore.TableSpec{
		Name: t.Projects,
		Indexes: []docstore.Index{
			{Name: statusIndex, HashAttr: "status", RangeAttr: "createdAt"},
		},
	}
	admins := docstore.TableSpec{Name: t.Admins}
	return &Store{
		db:       db,
		specs:    []docstore.TableSpec{blogs, projects, admins},
		blogs:    db.Table(blogs),
		projects: db.Table(projects),
		admins:   db.Table(admins),
		now:      time.Now,
	}
}

// Provision creates any missing tables and indexes.
func (s *Store) Provision(ctx context.Context) error {
	for _, spec := range s.specs {
		if err := s.db.EnsureTable(ctx, spec); err != nil {
			return err
		}
	}
	return nil
}

// Close closes the underlying document store.
func (s *Store) Close() error {
	return s.db.Close()
}

func (s *Store) timestamp() string {
	return s.now().UTC().Format(timeLayout)
}

// --- Blog posts ---

// CreateBlog validates in, assigns id, slug and timestamps, and writes the
// post. The write is unconditional.
func (s *Store) CreateBlog(ctx context.Context, in model.BlogInput) (model.BlogPost, error) {
	if err := validate.Blog(in); err != nil {
		return model.BlogPost{}, err
	}
	id, err := uuid.NewV7()
	if err != nil {
		return model.BlogPost{}, fmt.Errorf("generate id: %w", err)
	}
	slug, err := s.uniqueSlug(ctx, Slugify(in.Title))
	if err != nil {
		return model.BlogPost{}, err
	}
	now := s.timestamp()
	tags := normalizeTags(in.Tags)
	post := model.BlogPost{
		ID:          "blog_" + id.String(),
		Title:       in.Title,
		Excerpt:     in.Excerpt,
		Content:     in.Content,
		Author:      in.Author,
		Tags:        tags,
		Slug:        slug,
		CoverImage:  in.CoverImage,
		Status:      in.Status,
		PublishedAt: in.PublishedAt,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	item, err := toItem(post)
	if err != nil {
		return model.BlogPost{}, err
	}
	if err := s.blogs.Put(ctx, item); err != nil {
		return model.BlogPost{}, fmt.Errorf("put blog: %w", err)
	}
	return post, nil
}

// uniqueSlug returns base, or base with the first free numeric suffix.
func (s *Store) uniqueSlug(ctx context.Context, base string) (string, error) {
	if base == "" {
		base = "post"
	}
	candidate := base
	for n := 2; n < 1000; n++ {
		page, err := s.blogs.Query(ctx, docstore.QueryInput{Index: slugIndex, Value: candidate, Limit: 1})
		if errors.Is(err, docstore.ErrTableNotFound) {
			return candidate, nil
		}
		if err != nil {
			return "", fmt.Errorf("check slug: %w", err)
		}
		if len(page.Items) == 0 {
			return candidate, nil
		}
		candidate = base + "-" + strconv.Itoa(n)
	}
	return "", fmt.Errorf("no free slug for %q", base)
}

// GetBlog returns the post with id or ErrNotFound.
func (s *Store) GetBlog(ctx context.Context, id string) (model.BlogPost, error) {
	item, err := s.blogs.Get(ctx, id)
	if err != nil {
		return model.BlogPost{}, notFound(err)
	}
	return fromItem[model.BlogPost](item)
}

// GetBlogBySlug returns the post with slug. If several posts share the slug
// the earliest created one wins.
func (s *Store) GetBlogBySlug(ctx context.Context, slug string) (model.BlogPost, error) {
	page, err := s.blogs.Query(ctx, docstore.QueryInput{Index: slugIndex, Value: slug, Limit: 1})
	if err != nil {
		return model.BlogPost{}, notFound(err)
	}
	if len(page.Items) == 0 {
		return model.BlogPost{}, ErrNotFound
	}
	return fromItem[model.BlogPost](page.Items[0])
}

// UpdateBlog merges the patch into the stored post and refreshes updatedAt.
// The merged post must pass validation. Concurrent updates are last write
// wins per field.
func (s *Store) UpdateBlog(ctx context.Context, id string, patch model.BlogPatch) (model.BlogPost, error) {
	current, err := s.GetBlog(ctx, id)
	if err != nil {
		return model.BlogPost{}, err
	}
	if err := validate.Blog(patch.Apply(current).Input()); err != nil {
		return model.BlogPost{}, err
	}
	fields := docstore.Item(patch.Fields())
	if tags, ok := fields["tags"].([]string); ok {
		fields["tags"] = normalizeTags(tags)
	}
	fields["updatedAt"] = s.timestamp()
	item, err := s.blogs.Update(ctx, id, fields)
	if err != nil {
		return model.BlogPost{}, notFound(err)
	}
	return fromItem[model.BlogPost](item)
}

// DeleteBlog removes the post. Deleting a missing id succeeds.
func (s *Store) DeleteBlog(ctx context.Context, id string) error {
	if err := s.blogs.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete blog: %w", err)
	}
	return nil
}

// ListOptions selects a page of posts.
type ListOptions struct {
	Status    model.BlogStatus
	Limit     int
	NextToken string
}

// ListBlogs returns one page of posts. With a status the status index is
// queried newest first; without one the table is scanned in key order.
func (s *Store) ListBlogs(ctx context.Context, opts ListOptions) (model.Page[model.BlogPost], error) {
	var out model.Page[model.BlogPost]
	if opts.Status != "" && !opts.Status.Valid() {
		return out, &validate.Error{Fields: []validate.FieldError{
			{Field: "status", Message: fmt.Sprintf("Status must be either %q or %q", model.BlogDraft, model.BlogPublished)},
		}}
	}
	limit := opts.Limit
	if limit <= 0 {
		limit = AdminPageSize
	}
	if limit > MaxPageSize {
		limit = MaxPageSize
	}
	start, err := cursor.Decode(opts.NextToken)
	if err != nil {
		return out, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}

	var page docstore.Page
	if opts.Status != "" {
		page, err = s.blogs.Query(ctx, docstore.QueryInput{
			Index:      statusIndex,
			Value:      string(opts.Status),
			Descending: true,
			Limit:      limit,
			StartKey:   start,
		})
	} else {
		page, err = s.blogs.Scan(ctx, docstore.ScanInput{Limit: limit, StartKey: start})
	}
	if errors.Is(err, docstore.ErrInvalidKey) {
		return out, fmt.Errorf("%w: %v", ErrInvalidCursor, err)
	}
	if err != nil {
		return out, fmt.Errorf("list blogs: %w", err)
	}

	out.Items = make([]model.BlogPost, 0, len(page.Items))
	for _, it := range page.Items {
		post, err := fromItem[model.BlogPost](it)
		if err != nil {
			return out, err
		}
		out.Items = append(out.Items, post)
	}
	token, err := cursor.Encode(page.LastKey)
	if err != nil {
		return out, err
	}
	out.Metadata = model.PageMetadata{
		HasNextPage: page.LastKey != nil,
		NextToken:   token,
		Total:       len(out.Items),
	}
	return out, nil
}

// BlogStats counts posts with a full scan. A table that has not been
// provisioned yet counts as empty.
func (s *Store) BlogStats(ctx context.Context) (model.BlogStats, error) {
	items, err := docstore.ScanAll(ctx, s.blogs, nil)
	if errors.Is(err, docstore.ErrTableNotFound) {
		log.Printf("oikos: %s not found, returning zero counts", s.blogs.Name())
		return model.BlogStats{}, nil
	}
	if err != nil {
		return model.BlogStats{}, fmt.Errorf("blog stats: %w", err)
	}
	stats := model.BlogStats{Total: len(items)}
	for _, it := range items {
		if it["status"] == string(model.BlogPublished) {
			stats.Published++
		}
	}
	return stats, nil
}

// --- Projects ---

// CreateProject validates in and writes a new project.
func (s *Store) CreateProject(ctx context.Context, in model.ProjectInput) (model.Project, error) {
	if err := validate.Project(in, s.now()); err != nil {
		return model.Project{}, err
	}
	now := s.timestamp()
	p := projectFromInput(in)
	p.ID = uuid.NewString()
	p.CreatedAt = now
	p.UpdatedAt = now
	item, err := toItem(p)
	if err != nil {
		return model.Project{}, err
	}
	if err := s.projects.Put(ctx, item); err != nil {
		return model.Project{}, fmt.Errorf("put project: %w", err)
	}
	return p, nil
}

// GetProject returns the project with id or ErrNotFound.
func (s *Store) GetProject(ctx context.Context, id string) (model.Project, error) {
	item, err := s.projects.Get(ctx, id)
	if err != nil {
		return model.Project{}, notFound(err)
	}
	return fromItem[model.Project](item)
}

// UpdateProject overwrites the editable fields of the project named by
// in.ID and refreshes updatedAt.
func (s *Store) UpdateProject(ctx context.Context, in model.ProjectInput) (model.Project, error) {
	if in.ID == "" {
		return model.Project{}, &validate.Error{Fields: []validate.FieldError{{Field: "id", Message: "Project id is required"}}}
	}
	if err := validate.Project(in, s.now()); err != nil {
		return model.Project{}, err
	}
	p := projectFromInput(in)
	fields := docstore.Item{
		"title":       p.Title,
		"client":      p.Client,
		"status":      string(p.Status),
		"description": p.Description,
		"coordinates": []float64{p.Coordinates.Lat(), p.Coordinates.Lng()},
		"sector":      p.Sector,
		"startYear":   p.StartYear,
		"endYear":     nilIfEmpty(p.EndYear),
		"duration":    nilIfEmpty(p.Duration),
		"impact":      nilIfEmptySlice(p.Impact),
		"images":      nilIfEmptySlice(p.Images),
		"updatedAt":   s.timestamp(),
	}
	item, err := s.projects.Update(ctx, in.ID, fields)
	if err != nil {
		return model.Project{}, notFound(err)
	}
	return fromItem[model.Project](item)
}

// DeleteProject removes the project. Deleting a missing id succeeds.
func (s *Store) DeleteProject(ctx context.Context, id string) error {
	if err := s.projects.Delete(ctx, id); err != nil {
		return fmt.Errorf("delete project: %w", err)
	}
	return nil
}

// ProjectFilter narrows a project listing. Empty fields match everything.
type ProjectFilter struct {
	Status model.ProjectStatus
	Sector string
}

// ListProjects returns every matching project: completed ones first by end
// year, then ongoing ones by start year, most recent first.
func (s *Store) ListProjects(ctx context.Context, f ProjectFilter) ([]model.Project, error) {
	if f.Status != "" && !f.Status.Valid() {
		return nil, &validate.Error{Fields: []validate.FieldError{
			{Field: "status", Message: fmt.Sprintf("Status must be either %q or %q", model.ProjectCompleted, model.ProjectOngoing)},
		}}
	}
	var (
		items []docstore.Item
		err   error
	)
	if f.Status != "" {
		items, err = s.queryAll(ctx, s.projects, statusIndex, string(f.Status))
	} else {
		filter := map[string]any{}
		if f.Sector != "" {
			filter["sector"] = f.Sector
		}
		items, err = docstore.ScanAll(ctx, s.projects, filter)
	}
	if err != nil {
		return nil, fmt.Errorf("list projects: %w", err)
	}

	projects := make([]model.Project, 0, len(items))
	for _, it := range items {
		p, err := fromItem[model.Project](it)
		if err != nil {
			return nil, err
		}
		if f.Sector != "" && p.Sector != f.Sector {
			continue
		}
		projects = append(projects, p)
	}
	sortProjects(projects)
	return projects, nil
}

func (s *Store) queryAll(ctx context.Context, t docstore.Table, index string, value any) ([]docstore.Item, error) {
	var (
		all   []docstore.Item
		start docstore.Key
	)
	for {
		page, err := t.Query(ctx, docstore.QueryInput{Index: index, Value: value, Limit: MaxPageSize, StartKey: start})
		if err != nil {
			return nil, err
		}
		all = append(all, page.Items...)
		if page.LastKey == nil {
			return all, nil
		}
		start = page.LastKey
	}
}

// ProjectStats counts projects with a full scan. A table that has not been
// provisioned yet counts as empty.
func (s *Store) ProjectStats(ctx context.Context) (model.ProjectStats, error) {
	items, err := docstore.ScanAll(ctx, s.projects, nil)
	if errors.Is(err, docstore.ErrTableNotFound) {
		log.Printf("oikos: %s not found, returning zero counts", s.projects.Name())
		return model.ProjectStats{}, nil
	}
	if err != nil {
		return model.ProjectStats{}, fmt.Errorf("project stats: %w", err)
	}
	stats := model.ProjectStats{Total: len(items)}
	for _, it := range items {
		if it["status"] == string(model.ProjectOngoing) {
			stats.Ongoing++
		}
	}
	return stats, nil
}

func projectFromInput(in model.ProjectInput) model.Project {
	p := model.Project{
		ID:          in.ID,
		Title:       in.Title,
		Client:      in.Client,
		Sector:      in.Sector,
		Description: in.Description,
		Status:      in.Status,
		StartYear:   in.StartYear,
		Duration:    in.Duration,
		Images:      in.Images,
		Impact:      in.Impact,
	}
	if in.Coordinates != nil {
		p.Coordinates = *in.Coordinates
	}
	if in.Status == model.ProjectCompleted {
		p.EndYear = in.EndYear
	}
	return p
}

// sortProjects orders completed projects before ongoing ones; completed by
// end year and ongoing by start year, newest first.
func sortProjects(ps []model.Project) {
	year := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	less := func(a, b model.Project) bool {
		if a.Status != b.Status {
			return a.Status == model.ProjectCompleted
		}
		if a.Status == model.ProjectCompleted {
			return year(a.EndYear) > year(b.EndYear)
		}
		return year(a.StartYear) > year(b.StartYear)
	}
	sort.SliceStable(ps, func(i, j int) bool { return less(ps[i], ps[j]) })
}

// --- item mapping ---

func toItem(v any) (docstore.Item, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	var item docstore.Item
	if err := json.Unmarshal(b, &item); err != nil {
		return nil, fmt.Errorf("encode record: %w", err)
	}
	return item, nil
}

func fromItem[T any](item docstore.Item) (T, error) {
	var v T
	b, err := json.Marshal(item)
	if err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	if err := json.Unmarshal(b, &v); err != nil {
		return v, fmt.Errorf("decode record: %w", err)
	}
	return v, nil
}

func notFound(err error) error {
	if errors.Is(err, docstore.ErrNotFound) {
		return ErrNotFound
	}
	return err
}

// normalizeTags trims tags and drops blank ones. The result is never nil.
func normalizeTags(tags []string) []string {
	if out := FilterEmpty(tags); out != nil {
		return out
	}
	return []string{}
}

func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nilIfEmptySlice(s []string) any {
	if len(s) == 0 {
		return nil
	}
	return s
}
