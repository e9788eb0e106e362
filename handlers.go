package oikos

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"

	"github.com/oikos-consulting/oikos/model"
	"github.com/oikos-consulting/oikos/validate"
)

// maxBodyBytes caps JSON request bodies.
const maxBodyBytes = 1 << 20

func (a *App) handleListBlogs(c echo.Context) error {
	limit, err := queryInt(c, "limit")
	if err != nil {
		return err
	}
	opts := ListOptions{
		Status:    model.BlogStatus(c.QueryParam("status")),
		Limit:     limit,
		NextToken: c.QueryParam("nextToken"),
	}
	if !a.IsAdmin(c) {
		opts.Status = model.BlogPublished
		if opts.Limit <= 0 {
			opts.Limit = PublicPageSize
		}
	}
	page, err := a.Store.ListBlogs(c.Request().Context(), opts)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, page)
}

func (a *App) handleGetBlog(c echo.Context) error {
	post, err := a.Store.GetBlog(c.Request().Context(), c.Param("id"))
	if err != nil {
		return err
	}
	if post.Status != model.BlogPublished && !a.IsAdmin(c) {
		return ErrNotFound
	}
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleGetBlogBySlug(c echo.Context) error {
	post, err := a.Store.GetBlogBySlug(c.Request().Context(), c.Param("slug"))
	if err != nil {
		return err
	}
	if post.Status != model.BlogPublished && !a.IsAdmin(c) {
		return ErrNotFound
	}
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleListProjects(c echo.Context) error {
	projects, err := a.Store.ListProjects(c.Request().Context(), ProjectFilter{
		Status: model.ProjectStatus(c.QueryParam("status")),
		Sector: c.QueryParam("sector"),
	})
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, projects)
}

func (a *App) handleValidateBlog(c echo.Context) error {
	var in model.BlogInput
	if err := decodeJSON(c, &in); err != nil {
		return err
	}
	if err := validate.Blog(in); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

func (a *App) handleValidateProject(c echo.Context) error {
	var in model.ProjectInput
	if err := decodeJSON(c, &in); err != nil {
		return err
	}
	if err := validate.Project(in, a.Store.now()); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]bool{"valid": true})
}

func (a *App) handleFeed(c echo.Context) error {
	page, err := a.Store.ListBlogs(c.Request().Context(), ListOptions{
		Status: model.BlogPublished,
		Limit:  feedSize,
	})
	if err != nil {
		return err
	}
	return a.renderRSS(c, page.Items)
}

func handleHealth(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"status": "ok"})
}

// decodeJSON reads the request body into v. Malformed bodies are a 400.
func decodeJSON(c echo.Context, v any) error {
	body := http.MaxBytesReader(c.Response(), c.Request().Body, maxBodyBytes)
	if err := json.NewDecoder(body).Decode(v); err != nil {
		if errors.Is(err, io.EOF) {
			return echo.NewHTTPError(http.StatusBadRequest, "Request body is required")
		}
		if errors.Is(err, model.ErrCoordinates) {
			return &validate.Error{Fields: []validate.FieldError{
				{Field: "coordinates", Message: "Coordinates must be a [latitude, longitude] pair"},
			}}
		}
		return echo.NewHTTPError(http.StatusBadRequest, "Invalid JSON body").SetInternal(err)
	}
	return nil
}

func queryInt(c echo.Context, name string) (int, error) {
	raw := c.QueryParam(name)
	if raw == "" {
		return 0, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil || n < 0 {
		return 0, echo.NewHTTPError(http.StatusBadRequest, "Invalid "+name)
	}
	return n, nil
}

type errorResponse struct {
	Error  string                `json:"error"`
	Fields []validate.FieldError `json:"fields,omitempty"`
}

func (a *App) httpErrorHandler(err error, c echo.Context) {
	if c.Response().Committed {
		return
	}
	code := http.StatusInternalServerError
	resp := errorResponse{Error: "Internal server error"}

	var (
		verr *validate.Error
		he   *echo.HTTPError
	)
	switch {
	case errors.As(err, &verr):
		code = http.StatusBadRequest
		resp = errorResponse{Error: verr.Error(), Fields: verr.Fields}
	case errors.Is(err, ErrNotFound):
		code = http.StatusNotFound
		resp.Error = "Not found"
	case errors.Is(err, ErrInvalidCursor):
		code = http.StatusBadRequest
		resp.Error = "Invalid nextToken"
	case errors.As(err, &he):
		code = he.Code
		if msg, ok := he.Message.(string); ok && code < 500 {
			resp.Error = msg
		} else if code < 500 {
			resp.Error = http.StatusText(code)
		}
	}

	if code >= 500 {
		c.Logger().Errorf("server error: %v", err)
	}
	if c.Request().Method == http.MethodHead {
		_ = c.NoContent(code)
		return
	}
	_ = c.JSON(code, resp)
}
