package validate

import (
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/oikos-consulting/oikos/model"
)

var now = time.Date(2025, time.June, 1, 12, 0, 0, 0, time.UTC)

func validProject() model.ProjectInput {
	return model.ProjectInput{
		Title:       "Wetland restoration",
		Client:      "River Board",
		Sector:      "Water",
		Status:      model.ProjectOngoing,
		Coordinates: &model.Coordinates{15.3647, 75.1240},
		StartYear:   "2021",
	}
}

func validBlog() model.BlogInput {
	return model.BlogInput{
		Title:   "Hello, World!",
		Excerpt: "A first post about the firm.",
		Content: strings.Repeat("Restoring native grassland takes patience. ", 3),
		Author:  "Field Team",
		Tags:    []string{"news"},
		Status:  model.BlogDraft,
	}
}

func fieldErr(t *testing.T, err error) *Error {
	t.Helper()
	var verr *Error
	if !errors.As(err, &verr) {
		t.Fatalf("expected *Error, got %v", err)
	}
	return verr
}

func TestProjectValid(t *testing.T) {
	if err := Project(validProject(), now); err != nil {
		t.Fatalf("expected valid project, got %v", err)
	}

	p := validProject()
	p.Status = model.ProjectCompleted
	p.StartYear = "2020"
	p.EndYear = "2025"
	if err := Project(p, now); err != nil {
		t.Fatalf("expected valid completed project, got %v", err)
	}
}

func TestProjectCompletedWithoutEndYear(t *testing.T) {
	p := validProject()
	p.Status = model.ProjectCompleted
	p.StartYear = "2020"

	verr := fieldErr(t, Project(p, now))
	if !verr.Has("endYear") {
		t.Errorf("expected endYear violation, got %v", verr.Fields)
	}
	if !strings.Contains(verr.Error(), "endYear") {
		t.Errorf("error message %q should name endYear", verr.Error())
	}
}

func TestProjectCoordinateRanges(t *testing.T) {
	tests := []struct {
		name  string
		lat   float64
		lng   float64
		valid bool
	}{
		{"origin", 0, 0, true},
		{"north pole", 90, 0, true},
		{"south pole dateline", -90, -180, true},
		{"east dateline", 12.5, 180, true},
		{"lat too high", 90.0001, 0, false},
		{"lat too low", -91, 0, false},
		{"lng too high", 0, 180.5, false},
		{"lng too low", 0, -181, false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProject()
			p.Coordinates = &model.Coordinates{tt.lat, tt.lng}
			err := Project(p, now)
			if tt.valid && err != nil {
				t.Errorf("expected valid, got %v", err)
			}
			if !tt.valid && (err == nil || !fieldErr(t, err).Has("coordinates")) {
				t.Errorf("expected coordinates violation, got %v", err)
			}
		})
	}
}

func TestProjectMissingCoordinates(t *testing.T) {
	p := validProject()
	p.Coordinates = nil
	if !fieldErr(t, Project(p, now)).Has("coordinates") {
		t.Error("expected coordinates to be required")
	}
}

func TestProjectYears(t *testing.T) {
	tests := []struct {
		name   string
		status model.ProjectStatus
		start  string
		end    string
		field  string
	}{
		{"start before 2000", model.ProjectOngoing, "1999", "", "startYear"},
		{"start too far ahead", model.ProjectOngoing, "2031", "", "startYear"},
		{"start not a number", model.ProjectOngoing, "twenty", "", "startYear"},
		{"start missing", model.ProjectOngoing, "", "", "startYear"},
		{"end before start", model.ProjectCompleted, "2022", "2021", "endYear"},
		{"end in the future", model.ProjectCompleted, "2022", "2026", "endYear"},
		{"end not a number", model.ProjectCompleted, "2022", "soon", "endYear"},
		{"end on ongoing", model.ProjectOngoing, "2022", "2023", "endYear"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := validProject()
			p.Status = tt.status
			p.StartYear = tt.start
			p.EndYear = tt.end
			if !fieldErr(t, Project(p, now)).Has(tt.field) {
				t.Errorf("expected %s violation", tt.field)
			}
		})
	}

	// Upper bound is inclusive.
	p := validProject()
	p.StartYear = "2030"
	if err := Project(p, now); err != nil {
		t.Errorf("start year %s should be allowed, got %v", p.StartYear, err)
	}
}

func TestProjectCollectsAllViolations(t *testing.T) {
	verr := fieldErr(t, Project(model.ProjectInput{Status: "paused"}, now))
	for _, field := range []string{"title", "client", "coordinates", "status", "startYear"} {
		if !verr.Has(field) {
			t.Errorf("expected violation for %s, got %v", field, verr.Fields)
		}
	}
	if verr.Fields[0].Field != "title" {
		t.Errorf("first violation = %s, want title", verr.Fields[0].Field)
	}
}

func TestBlogValid(t *testing.T) {
	if err := Blog(validBlog()); err != nil {
		t.Fatalf("expected valid blog, got %v", err)
	}
}

func TestBlogRules(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*model.BlogInput)
		field  string
	}{
		{"missing title", func(b *model.BlogInput) { b.Title = "  " }, "title"},
		{"short title", func(b *model.BlogInput) { b.Title = "Hi" }, "title"},
		{"short excerpt", func(b *model.BlogInput) { b.Excerpt = "short" }, "excerpt"},
		{"short content", func(b *model.BlogInput) { b.Content = "Too short." }, "content"},
		{"missing author", func(b *model.BlogInput) { b.Author = "" }, "author"},
		{"bad status", func(b *model.BlogInput) { b.Status = "archived" }, "status"},
		{"published without cover", func(b *model.BlogInput) { b.Status = model.BlogPublished }, "coverImage"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			b := validBlog()
			tt.mutate(&b)
			if !fieldErr(t, Blog(b)).Has(tt.field) {
				t.Errorf("expected %s violation", tt.field)
			}
		})
	}
}
