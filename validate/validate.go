// Package validate holds the constraint checks run before every write.
//
// The same functions back the authoritative write handlers and the
// /api/validate endpoints used by the admin forms for early feedback, so
// each rule is defined exactly once.
package validate

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/oikos-consulting/oikos/model"
)

// Blog field length minimums used by the admin editor.
const (
	MinTitleLen   = 5
	MinExcerptLen = 10
	MinContentLen = 50
)

// Project year bounds.
const (
	MinStartYear      = 2000
	MaxStartYearAhead = 5
)

// FieldError is one violated constraint.
type FieldError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Error lists every violated constraint in field order.
type Error struct {
	Fields []FieldError `json:"fields"`
}

func (e *Error) Error() string {
	if len(e.Fields) == 0 {
		return "validation failed"
	}
	return e.Fields[0].Field + ": " + e.Fields[0].Message
}

// Has reports whether field has a violation.
func (e *Error) Has(field string) bool {
	for _, f := range e.Fields {
		if f.Field == field {
			return true
		}
	}
	return false
}

type checker struct {
	errs []FieldError
}

func (c *checker) add(field, format string, args ...any) {
	c.errs = append(c.errs, FieldError{Field: field, Message: fmt.Sprintf(format, args...)})
}

func (c *checker) err() error {
	if len(c.errs) == 0 {
		return nil
	}
	return &Error{Fields: c.errs}
}

func (c *checker) text(field, label, value string, min int) {
	v := strings.TrimSpace(value)
	switch {
	case v == "":
		c.add(field, "%s is required", label)
	case min > 0 && len([]rune(v)) < min:
		c.add(field, "%s is too short (minimum %d characters)", label, min)
	}
}

// Blog checks a post as it will be stored.
func Blog(in model.BlogInput) error {
	var c checker
	c.text("title", "Title", in.Title, MinTitleLen)
	c.text("excerpt", "Excerpt", in.Excerpt, MinExcerptLen)
	c.text("content", "Content", in.Content, MinContentLen)
	c.text("author", "Author", in.Author, 0)
	if !in.Status.Valid() {
		c.add("status", "Status must be either %q or %q", model.BlogDraft, model.BlogPublished)
	}
	if in.Status == model.BlogPublished && strings.TrimSpace(in.CoverImage) == "" {
		c.add("coverImage", "Cover image is required for published posts")
	}
	return c.err()
}

// Project checks a project as it will be stored. now supplies the current
// year for the year ranges.
func Project(in model.ProjectInput, now time.Time) error {
	var c checker
	c.text("title", "Title", in.Title, 0)
	c.text("client", "Client", in.Client, 0)

	if in.Coordinates == nil {
		c.add("coordinates", "Coordinates are required")
	} else {
		if lat := in.Coordinates.Lat(); lat < -90 || lat > 90 {
			c.add("coordinates", "Latitude must be between -90 and 90 degrees")
		}
		if lng := in.Coordinates.Lng(); lng < -180 || lng > 180 {
			c.add("coordinates", "Longitude must be between -180 and 180 degrees")
		}
	}

	switch {
	case in.Status == "":
		c.add("status", "Status is required")
	case !in.Status.Valid():
		c.add("status", "Status must be either %q or %q", model.ProjectCompleted, model.ProjectOngoing)
	}

	currentYear := now.Year()
	start, startOK := 0, false
	if strings.TrimSpace(in.StartYear) == "" {
		c.add("startYear", "Start year is required")
	} else if y, err := strconv.Atoi(strings.TrimSpace(in.StartYear)); err != nil || y < MinStartYear || y > currentYear+MaxStartYearAhead {
		c.add("startYear", "Start year must be between %d and %d", MinStartYear, currentYear+MaxStartYearAhead)
	} else {
		start, startOK = y, true
	}

	endYear := strings.TrimSpace(in.EndYear)
	switch in.Status {
	case model.ProjectCompleted:
		if endYear == "" {
			c.add("endYear", "End year is required for completed projects")
			break
		}
		y, err := strconv.Atoi(endYear)
		if err != nil || y > currentYear || (startOK && y < start) {
			c.add("endYear", "End year must be between start year and current year")
		}
	case model.ProjectOngoing:
		if endYear != "" {
			c.add("endYear", "End year must be empty for ongoing projects")
		}
	}
	return c.err()
}
