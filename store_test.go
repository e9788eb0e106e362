package oikos

import (
	"context"
	"errors"
	"fmt"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/oikos-consulting/oikos/docstore"
	"github.com/oikos-consulting/oikos/model"
	"github.com/oikos-consulting/oikos/validate"
)

var testTables = Tables{Blogs: "OikosBlogs", Projects: "OikosProjects", Admins: "OikosAdmins"}

// newTestStore opens an unprovisioned store in a temp dir. Its clock starts
// at 2025-06-01 and advances one second per reading.
func newTestStore(t *testing.T) *Store {
	t.Helper()
	db, err := docstore.OpenSQLite(filepath.Join(t.TempDir(), "oikos.db"))
	if err != nil {
		t.Fatalf("failed to open sqlite: %v", err)
	}
	s := NewStore(db, testTables)
	clock := time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)
	s.now = func() time.Time {
		clock = clock.Add(time.Second)
		return clock
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func setupTestStore(t *testing.T) *Store {
	t.Helper()
	s := newTestStore(t)
	if err := s.Provision(context.Background()); err != nil {
		t.Fatalf("Provision failed: %v", err)
	}
	return s
}

func blogInput(title string, status model.BlogStatus) model.BlogInput {
	in := model.BlogInput{
		Title:   title,
		Excerpt: "A short summary of the post.",
		Content: strings.Repeat("Field notes from the restoration site. ", 3),
		Author:  "Field Team",
		Tags:    []string{"ecology", " ", "news"},
		Status:  status,
	}
	if status == model.BlogPublished {
		in.CoverImage = "https://images.example.com/cover.jpg"
	}
	return in
}

func projectInput(title string, status model.ProjectStatus, start, end string) model.ProjectInput {
	return model.ProjectInput{
		Title:       title,
		Client:      "River Board",
		Sector:      "Water",
		Description: "Baseline survey and restoration plan.",
		Status:      status,
		Coordinates: &model.Coordinates{15.3647, 75.1240},
		StartYear:   start,
		EndYear:     end,
	}
}

func TestCreateBlog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	post, err := s.CreateBlog(ctx, blogInput("Hello, World!", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	if !strings.HasPrefix(post.ID, "blog_") {
		t.Errorf("ID = %q, want blog_ prefix", post.ID)
	}
	if post.Slug != "hello-world" {
		t.Errorf("Slug = %q, want hello-world", post.Slug)
	}
	if post.CreatedAt == "" || post.CreatedAt != post.UpdatedAt {
		t.Errorf("timestamps = %q / %q, want equal and set", post.CreatedAt, post.UpdatedAt)
	}
	if post.PublishedAt != nil {
		t.Errorf("PublishedAt = %v, adapter must not set it", *post.PublishedAt)
	}
	if len(post.Tags) != 2 {
		t.Errorf("Tags = %v, want blank tags dropped", post.Tags)
	}

	got, err := s.GetBlog(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetBlog failed: %v", err)
	}
	if got.Title != post.Title || got.Slug != post.Slug || got.CreatedAt != post.CreatedAt {
		t.Errorf("GetBlog = %+v, want %+v", got, post)
	}
}

func TestCreateBlogRejectsInvalid(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	in := blogInput("Hi", model.BlogPublished)
	in.CoverImage = ""
	_, err := s.CreateBlog(ctx, in)
	var verr *validate.Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected validation error, got %v", err)
	}
	if !verr.Has("title") || !verr.Has("coverImage") {
		t.Errorf("violations = %v, want title and coverImage", verr.Fields)
	}

	page, err := s.ListBlogs(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListBlogs failed: %v", err)
	}
	if len(page.Items) != 0 {
		t.Errorf("invalid post was stored: %+v", page.Items)
	}
}

func TestSlugCollisionGetsSuffix(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	first, err := s.CreateBlog(ctx, blogInput("Hello, World!", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	second, err := s.CreateBlog(ctx, blogInput("hello world", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	if second.Slug != "hello-world-2" {
		t.Errorf("second slug = %q, want hello-world-2", second.Slug)
	}

	got, err := s.GetBlogBySlug(ctx, "hello-world")
	if err != nil {
		t.Fatalf("GetBlogBySlug failed: %v", err)
	}
	if got.ID != first.ID {
		t.Errorf("GetBlogBySlug returned %s, want %s", got.ID, first.ID)
	}
	if _, err := s.GetBlogBySlug(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlogBySlug(missing) = %v, want ErrNotFound", err)
	}
}

func TestListBlogsByStatusPages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	var want []string
	for i := 1; i <= 3; i++ {
		p, err := s.CreateBlog(ctx, blogInput(fmt.Sprintf("Published post %d", i), model.BlogPublished))
		if err != nil {
			t.Fatalf("CreateBlog failed: %v", err)
		}
		want = append([]string{p.ID}, want...) // newest first
	}
	if _, err := s.CreateBlog(ctx, blogInput("Draft post", model.BlogDraft)); err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}

	page, err := s.ListBlogs(ctx, ListOptions{Status: model.BlogPublished, Limit: 1})
	if err != nil {
		t.Fatalf("ListBlogs failed: %v", err)
	}
	if len(page.Items) != 1 || !page.Metadata.HasNextPage || page.Metadata.NextToken == "" {
		t.Fatalf("first page = %d items, metadata %+v", len(page.Items), page.Metadata)
	}
	if page.Metadata.Total != 1 {
		t.Errorf("Total = %d, want count of this page", page.Metadata.Total)
	}

	var got []string
	seen := map[string]bool{}
	for pages := 0; ; pages++ {
		if pages > 5 {
			t.Fatal("pagination did not terminate")
		}
		for _, p := range page.Items {
			if seen[p.ID] {
				t.Fatalf("post %s returned twice", p.ID)
			}
			if p.Status != model.BlogPublished {
				t.Errorf("post %s has status %s", p.ID, p.Status)
			}
			seen[p.ID] = true
			got = append(got, p.ID)
		}
		if !page.Metadata.HasNextPage {
			if page.Metadata.NextToken != "" {
				t.Errorf("NextToken = %q on last page", page.Metadata.NextToken)
			}
			break
		}
		page, err = s.ListBlogs(ctx, ListOptions{Status: model.BlogPublished, Limit: 1, NextToken: page.Metadata.NextToken})
		if err != nil {
			t.Fatalf("ListBlogs failed: %v", err)
		}
	}
	if strings.Join(got, ",") != strings.Join(want, ",") {
		t.Errorf("order = %v, want %v", got, want)
	}
}

func TestListBlogsScanPages(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 1; i <= 4; i++ {
		if _, err := s.CreateBlog(ctx, blogInput(fmt.Sprintf("Post number %d", i), model.BlogDraft)); err != nil {
			t.Fatalf("CreateBlog failed: %v", err)
		}
	}
	first, err := s.ListBlogs(ctx, ListOptions{Limit: 3})
	if err != nil {
		t.Fatalf("ListBlogs failed: %v", err)
	}
	if len(first.Items) != 3 || !first.Metadata.HasNextPage {
		t.Fatalf("first page = %d items, metadata %+v", len(first.Items), first.Metadata)
	}
	second, err := s.ListBlogs(ctx, ListOptions{Limit: 3, NextToken: first.Metadata.NextToken})
	if err != nil {
		t.Fatalf("ListBlogs failed: %v", err)
	}
	if len(second.Items) != 1 || second.Metadata.HasNextPage {
		t.Fatalf("second page = %d items, metadata %+v", len(second.Items), second.Metadata)
	}
	for _, p := range first.Items {
		if p.ID == second.Items[0].ID {
			t.Errorf("post %s on both pages", p.ID)
		}
	}

	def, err := s.ListBlogs(ctx, ListOptions{})
	if err != nil {
		t.Fatalf("ListBlogs failed: %v", err)
	}
	if len(def.Items) != 4 {
		t.Errorf("default page = %d items, want 4", len(def.Items))
	}
}

func TestListBlogsRejectsBadInput(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	tokens := []string{"garbage", "%7B%22id%22%3A%22x%22%7D"}
	for _, tok := range tokens {
		_, err := s.ListBlogs(ctx, ListOptions{Status: model.BlogPublished, NextToken: tok})
		if !errors.Is(err, ErrInvalidCursor) {
			t.Errorf("ListBlogs(token %q) = %v, want ErrInvalidCursor", tok, err)
		}
	}

	_, err := s.ListBlogs(ctx, ListOptions{Status: "archived"})
	var verr *validate.Error
	if !errors.As(err, &verr) || !verr.Has("status") {
		t.Errorf("ListBlogs(bad status) = %v, want status violation", err)
	}
}

func TestUpdateBlog(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	post, err := s.CreateBlog(ctx, blogInput("Original title", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}

	title := "Completely new title"
	patch := model.BlogPatch{Title: model.Optional[string]{Set: true, Value: &title}}
	got, err := s.UpdateBlog(ctx, post.ID, patch)
	if err != nil {
		t.Fatalf("UpdateBlog failed: %v", err)
	}
	if got.Title != title {
		t.Errorf("Title = %q, want %q", got.Title, title)
	}
	if got.Slug != post.Slug {
		t.Errorf("Slug changed to %q, want %q", got.Slug, post.Slug)
	}
	if got.Excerpt != post.Excerpt || got.Author != post.Author || got.CreatedAt != post.CreatedAt {
		t.Errorf("untouched fields changed: %+v", got)
	}
	if got.UpdatedAt <= post.UpdatedAt {
		t.Errorf("UpdatedAt = %q, want later than %q", got.UpdatedAt, post.UpdatedAt)
	}
}

func TestUpdateBlogNormalizesTags(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	post, err := s.CreateBlog(ctx, blogInput("Tagged post", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	if len(post.Tags) != 2 || post.Tags[0] != "ecology" || post.Tags[1] != "news" {
		t.Errorf("created Tags = %q", post.Tags)
	}

	tags := []string{" wetlands ", "", "  ", "survey"}
	got, err := s.UpdateBlog(ctx, post.ID, model.BlogPatch{Tags: model.Optional[[]string]{Set: true, Value: &tags}})
	if err != nil {
		t.Fatalf("UpdateBlog failed: %v", err)
	}
	if len(got.Tags) != 2 || got.Tags[0] != "wetlands" || got.Tags[1] != "survey" {
		t.Errorf("updated Tags = %q, want [wetlands survey]", got.Tags)
	}

	blank := []string{" "}
	got, err = s.UpdateBlog(ctx, post.ID, model.BlogPatch{Tags: model.Optional[[]string]{Set: true, Value: &blank}})
	if err != nil {
		t.Fatalf("UpdateBlog failed: %v", err)
	}
	if got.Tags == nil || len(got.Tags) != 0 {
		t.Errorf("blank Tags = %#v, want empty list", got.Tags)
	}
}

func TestUpdateBlogValidatesMergedPost(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	post, err := s.CreateBlog(ctx, blogInput("Draft without cover", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	published := model.BlogPublished
	_, err = s.UpdateBlog(ctx, post.ID, model.BlogPatch{Status: model.Optional[model.BlogStatus]{Set: true, Value: &published}})
	var verr *validate.Error
	if !errors.As(err, &verr) || !verr.Has("coverImage") {
		t.Fatalf("UpdateBlog = %v, want coverImage violation", err)
	}

	got, err := s.GetBlog(ctx, post.ID)
	if err != nil {
		t.Fatalf("GetBlog failed: %v", err)
	}
	if got.Status != model.BlogDraft {
		t.Errorf("rejected update was applied: status %s", got.Status)
	}
}

func TestUpdateBlogNotFound(t *testing.T) {
	s := setupTestStore(t)
	title := "Some new title"
	_, err := s.UpdateBlog(context.Background(), "blog_missing", model.BlogPatch{Title: model.Optional[string]{Set: true, Value: &title}})
	if !errors.Is(err, ErrNotFound) {
		t.Fatalf("UpdateBlog = %v, want ErrNotFound", err)
	}
	if _, err := s.GetBlog(context.Background(), "blog_missing"); !errors.Is(err, ErrNotFound) {
		t.Errorf("update created a record: %v", err)
	}
}

func TestDeleteBlogIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	post, err := s.CreateBlog(ctx, blogInput("Short lived post", model.BlogDraft))
	if err != nil {
		t.Fatalf("CreateBlog failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.DeleteBlog(ctx, post.ID); err != nil {
			t.Fatalf("DeleteBlog #%d failed: %v", i+1, err)
		}
	}
	if _, err := s.GetBlog(ctx, post.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetBlog after delete = %v, want ErrNotFound", err)
	}
}

func TestBlogStats(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for _, st := range []model.BlogStatus{model.BlogPublished, model.BlogPublished, model.BlogDraft} {
		if _, err := s.CreateBlog(ctx, blogInput("Post for stats", st)); err != nil {
			t.Fatalf("CreateBlog failed: %v", err)
		}
	}
	stats, err := s.BlogStats(ctx)
	if err != nil {
		t.Fatalf("BlogStats failed: %v", err)
	}
	if stats.Total != 3 || stats.Published != 2 {
		t.Errorf("BlogStats = %+v, want total 3 published 2", stats)
	}
}

func TestAggregatesWithMissingTables(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	bs, err := s.BlogStats(ctx)
	if err != nil || bs != (model.BlogStats{}) {
		t.Errorf("BlogStats = %+v, %v; want zeros", bs, err)
	}
	ps, err := s.ProjectStats(ctx)
	if err != nil || ps != (model.ProjectStats{}) {
		t.Errorf("ProjectStats = %+v, %v; want zeros", ps, err)
	}
	act, err := s.RecentActivity(ctx)
	if err != nil || len(act) != 0 {
		t.Errorf("RecentActivity = %v, %v; want empty", act, err)
	}
	if _, err := s.GetBlog(ctx, "blog_x"); errors.Is(err, ErrNotFound) || err == nil {
		t.Errorf("GetBlog on missing table = %v, want an upstream error", err)
	}
}

func TestCreateProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, projectInput("Wetland survey", model.ProjectCompleted, "2020", "2023"))
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	if p.ID == "" || p.CreatedAt == "" || p.CreatedAt != p.UpdatedAt {
		t.Errorf("CreateProject = %+v, want id and timestamps", p)
	}
	got, err := s.GetProject(ctx, p.ID)
	if err != nil {
		t.Fatalf("GetProject failed: %v", err)
	}
	if got.Coordinates != (model.Coordinates{15.3647, 75.1240}) || got.EndYear != "2023" {
		t.Errorf("GetProject = %+v", got)
	}

	_, err = s.CreateProject(ctx, projectInput("No end year", model.ProjectCompleted, "2020", ""))
	var verr *validate.Error
	if !errors.As(err, &verr) || !strings.Contains(err.Error(), "endYear") {
		t.Errorf("CreateProject(completed without endYear) = %v, want endYear violation", err)
	}
}

func TestUpdateProject(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, projectInput("Grassland monitoring", model.ProjectCompleted, "2019", "2022"))
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}

	in := projectInput("Grassland monitoring, phase 2", model.ProjectOngoing, "2023", "")
	in.ID = p.ID
	in.Impact = []string{"1200 ha surveyed"}
	got, err := s.UpdateProject(ctx, in)
	if err != nil {
		t.Fatalf("UpdateProject failed: %v", err)
	}
	if got.Title != in.Title || got.Status != model.ProjectOngoing || got.StartYear != "2023" {
		t.Errorf("UpdateProject = %+v", got)
	}
	if got.EndYear != "" {
		t.Errorf("EndYear = %q, want removed for ongoing project", got.EndYear)
	}
	if len(got.Impact) != 1 || got.CreatedAt != p.CreatedAt || got.UpdatedAt <= p.UpdatedAt {
		t.Errorf("UpdateProject = %+v", got)
	}

	in.ID = "missing"
	if _, err := s.UpdateProject(ctx, in); !errors.Is(err, ErrNotFound) {
		t.Errorf("UpdateProject(missing) = %v, want ErrNotFound", err)
	}
	in.ID = ""
	var verr *validate.Error
	if _, err := s.UpdateProject(ctx, in); !errors.As(err, &verr) || !verr.Has("id") {
		t.Errorf("UpdateProject(no id) = %v, want id violation", err)
	}
}

func TestListProjects(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	fixtures := []model.ProjectInput{
		projectInput("Ongoing old", model.ProjectOngoing, "2018", ""),
		projectInput("Completed 2021", model.ProjectCompleted, "2019", "2021"),
		projectInput("Ongoing new", model.ProjectOngoing, "2024", ""),
		projectInput("Completed 2024", model.ProjectCompleted, "2022", "2024"),
	}
	forest := projectInput("Forest inventory", model.ProjectOngoing, "2020", "")
	forest.Sector = "Forestry"
	fixtures = append(fixtures, forest)
	for _, in := range fixtures {
		if _, err := s.CreateProject(ctx, in); err != nil {
			t.Fatalf("CreateProject(%s) failed: %v", in.Title, err)
		}
	}

	titles := func(ps []model.Project) string {
		var out []string
		for _, p := range ps {
			out = append(out, p.Title)
		}
		return strings.Join(out, ", ")
	}

	all, err := s.ListProjects(ctx, ProjectFilter{})
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	want := "Completed 2024, Completed 2021, Ongoing new, Forest inventory, Ongoing old"
	if got := titles(all); got != want {
		t.Errorf("order = %s\nwant    %s", got, want)
	}

	water, err := s.ListProjects(ctx, ProjectFilter{Status: model.ProjectOngoing, Sector: "Water"})
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if got := titles(water); got != "Ongoing new, Ongoing old" {
		t.Errorf("filtered = %s", got)
	}

	forestry, err := s.ListProjects(ctx, ProjectFilter{Sector: "Forestry"})
	if err != nil {
		t.Fatalf("ListProjects failed: %v", err)
	}
	if got := titles(forestry); got != "Forest inventory" {
		t.Errorf("sector filter = %s", got)
	}

	stats, err := s.ProjectStats(ctx)
	if err != nil {
		t.Fatalf("ProjectStats failed: %v", err)
	}
	if stats.Total != 5 || stats.Ongoing != 3 {
		t.Errorf("ProjectStats = %+v, want total 5 ongoing 3", stats)
	}
}

func TestDeleteProjectIsIdempotent(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	p, err := s.CreateProject(ctx, projectInput("Short project", model.ProjectOngoing, "2024", ""))
	if err != nil {
		t.Fatalf("CreateProject failed: %v", err)
	}
	for i := 0; i < 2; i++ {
		if err := s.DeleteProject(ctx, p.ID); err != nil {
			t.Fatalf("DeleteProject #%d failed: %v", i+1, err)
		}
	}
	if _, err := s.GetProject(ctx, p.ID); !errors.Is(err, ErrNotFound) {
		t.Errorf("GetProject after delete = %v, want ErrNotFound", err)
	}
}

func TestRecentActivity(t *testing.T) {
	s := setupTestStore(t)
	ctx := context.Background()

	for i := 0; i < 12; i++ {
		if _, err := s.CreateBlog(ctx, blogInput(fmt.Sprintf("Activity post %d", i), model.BlogPublished)); err != nil {
			t.Fatalf("CreateBlog failed: %v", err)
		}
		if _, err := s.CreateProject(ctx, projectInput(fmt.Sprintf("Activity project %d", i), model.ProjectOngoing, "2024", "")); err != nil {
			t.Fatalf("CreateProject failed: %v", err)
		}
	}

	act, err := s.RecentActivity(ctx)
	if err != nil {
		t.Fatalf("RecentActivity failed: %v", err)
	}
	if len(act) != 20 {
		t.Fatalf("len = %d, want 20", len(act))
	}
	titles := map[string]bool{}
	for _, a := range act {
		titles[a.Title] = true
	}
	for _, want := range []string{"Activity post 11", "Activity project 11"} {
		if !titles[want] {
			t.Errorf("newest item %q missing from recent activity", want)
		}
	}
	for _, stale := range []string{"Activity post 0", "Activity project 0"} {
		if titles[stale] {
			t.Errorf("oldest item %q should have been pushed out", stale)
		}
	}
	for i, a := range act {
		if i > 0 && a.Timestamp > act[i-1].Timestamp {
			t.Errorf("entry %d newer than entry %d", i, i-1)
		}
		switch a.Type {
		case model.ActivityBlog:
			if !strings.HasPrefix(a.ID, "blog-") || a.Action != "Post published" {
				t.Errorf("blog entry = %+v", a)
			}
		case model.ActivityProject:
			if !strings.HasPrefix(a.ID, "project-") || a.Action != "Project started" {
				t.Errorf("project entry = %+v", a)
			}
		default:
			t.Errorf("unknown type %q", a.Type)
		}
	}
}
