// Package model holds the content types served by the site: blog posts and
// project records, plus the listing and dashboard shapes built from them.
package model

import (
	"encoding/json"
	"errors"
)

// BlogStatus is the publication state of a post.
type BlogStatus string

const (
	BlogDraft     BlogStatus = "draft"
	BlogPublished BlogStatus = "published"
)

// Valid reports whether s is a known status.
func (s BlogStatus) Valid() bool {
	return s == BlogDraft || s == BlogPublished
}

// BlogPost is a blog article. The slug is derived from the title when the
// post is created and is not regenerated afterwards.
type BlogPost struct {
	ID          string     `json:"id"`
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	Content     string     `json:"content"`
	Author      string     `json:"author"`
	Tags        []string   `json:"tags"`
	Slug        string     `json:"slug"`
	CoverImage  string     `json:"coverImage,omitempty"`
	Status      BlogStatus `json:"status"`
	PublishedAt *string    `json:"publishedAt"`
	CreatedAt   string     `json:"createdAt"`
	UpdatedAt   string     `json:"updatedAt"`
}

// BlogInput is the caller-supplied part of a post: everything except the
// id, slug and timestamps.
type BlogInput struct {
	Title       string     `json:"title"`
	Excerpt     string     `json:"excerpt"`
	Content     string     `json:"content"`
	Author      string     `json:"author"`
	Tags        []string   `json:"tags"`
	CoverImage  string     `json:"coverImage,omitempty"`
	Status      BlogStatus `json:"status"`
	PublishedAt *string    `json:"publishedAt,omitempty"`
}

// ProjectStatus is the delivery state of a project.
type ProjectStatus string

const (
	ProjectOngoing   ProjectStatus = "ongoing"
	ProjectCompleted ProjectStatus = "completed"
)

// Valid reports whether s is a known status.
func (s ProjectStatus) Valid() bool {
	return s == ProjectOngoing || s == ProjectCompleted
}

// ErrCoordinates is returned when coordinates are not exactly two numbers.
var ErrCoordinates = errors.New("coordinates must be a [latitude, longitude] pair")

// Coordinates is a [latitude, longitude] pair.
type Coordinates [2]float64

// UnmarshalJSON accepts only an array of exactly two numbers.
func (c *Coordinates) UnmarshalJSON(b []byte) error {
	var v []float64
	if err := json.Unmarshal(b, &v); err != nil {
		return err
	}
	if len(v) != 2 {
		return ErrCoordinates
	}
	*c = Coordinates{v[0], v[1]}
	return nil
}

// Lat returns the latitude.
func (c Coordinates) Lat() float64 { return c[0] }

// Lng returns the longitude.
func (c Coordinates) Lng() float64 { return c[1] }

// Project is a consulting engagement shown on the projects map.
type Project struct {
	ID          string        `json:"id"`
	Title       string        `json:"title"`
	Client      string        `json:"client"`
	Sector      string        `json:"sector"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Coordinates Coordinates   `json:"coordinates"`
	StartYear   string        `json:"startYear"`
	EndYear     string        `json:"endYear,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	Images      []string      `json:"images,omitempty"`
	Impact      []string      `json:"impact,omitempty"`
	CreatedAt   string        `json:"createdAt"`
	UpdatedAt   string        `json:"updatedAt"`
}

// ProjectInput is the caller-supplied part of a project. Coordinates is a
// pointer so a missing pair can be told apart from [0, 0].
type ProjectInput struct {
	ID          string        `json:"id,omitempty"`
	Title       string        `json:"title"`
	Client      string        `json:"client"`
	Sector      string        `json:"sector"`
	Description string        `json:"description"`
	Status      ProjectStatus `json:"status"`
	Coordinates *Coordinates  `json:"coordinates"`
	StartYear   string        `json:"startYear"`
	EndYear     string        `json:"endYear,omitempty"`
	Duration    string        `json:"duration,omitempty"`
	Images      []string      `json:"images,omitempty"`
	Impact      []string      `json:"impact,omitempty"`
}

// PageMetadata describes a page of a cursor-paginated listing.
// Total counts the items on this page, not the whole collection.
type PageMetadata struct {
	HasNextPage bool   `json:"hasNextPage"`
	NextToken   string `json:"nextToken,omitempty"`
	Total       int    `json:"total"`
}

// Page is one page of a listing.
type Page[T any] struct {
	Items    []T          `json:"items"`
	Metadata PageMetadata `json:"metadata"`
}

// BlogStats are the dashboard counters for posts.
type BlogStats struct {
	Total     int `json:"total"`
	Published int `json:"published"`
}

// ProjectStats are the dashboard counters for projects.
type ProjectStats struct {
	Total   int `json:"total"`
	Ongoing int `json:"ongoing"`
}

// ActivityType tells which collection an activity entry came from.
type ActivityType string

const (
	ActivityProject ActivityType = "project"
	ActivityBlog    ActivityType = "blog"
)

// Activity is one line of the admin dashboard's recent-activity feed.
type Activity struct {
	ID        string       `json:"id"`
	Type      ActivityType `json:"type"`
	Action    string       `json:"action"`
	Title     string       `json:"title"`
	Timestamp string       `json:"timestamp"`
}
