package oikos

import (
	"net/http"

	"github.com/labstack/echo/v4"

	"github.com/oikos-consulting/oikos/model"
)

func (a *App) handleCreateBlog(c echo.Context) error {
	var in model.BlogInput
	if err := decodeJSON(c, &in); err != nil {
		return err
	}
	if in.Status == model.BlogPublished && in.PublishedAt == nil {
		ts := a.Store.timestamp()
		in.PublishedAt = &ts
	}
	post, err := a.Store.CreateBlog(c.Request().Context(), in)
	if err != nil {
		return err
	}
	a.Cache.Invalidate(c.Request().Context())
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleUpdateBlog(c echo.Context) error {
	ctx := c.Request().Context()
	id := c.Param("id")
	var patch model.BlogPatch
	if err := decodeJSON(c, &patch); err != nil {
		return err
	}
	if patch.Empty() {
		return echo.NewHTTPError(http.StatusBadRequest, "No fields to update")
	}
	// Publishing stamps publishedAt unless the caller supplied one.
	if patch.Status.Set && patch.Status.Value != nil && *patch.Status.Value == model.BlogPublished && !patch.PublishedAt.Set {
		current, err := a.Store.GetBlog(ctx, id)
		if err != nil {
			return err
		}
		if current.PublishedAt == nil {
			ts := a.Store.timestamp()
			patch.PublishedAt = model.Optional[string]{Set: true, Value: &ts}
		}
	}
	post, err := a.Store.UpdateBlog(ctx, id, patch)
	if err != nil {
		return err
	}
	a.Cache.Invalidate(ctx)
	return c.JSON(http.StatusOK, post)
}

func (a *App) handleDeleteBlog(c echo.Context) error {
	if err := a.Store.DeleteBlog(c.Request().Context(), c.Param("id")); err != nil {
		return err
	}
	a.Cache.Invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleBlogStats(c echo.Context) error {
	stats, err := cached(c.Request().Context(), a.Cache, cacheKeyBlogStats, a.Store.BlogStats)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *App) handleCreateProject(c echo.Context) error {
	var in model.ProjectInput
	if err := decodeJSON(c, &in); err != nil {
		return err
	}
	in.ID = ""
	p, err := a.Store.CreateProject(c.Request().Context(), in)
	if err != nil {
		return err
	}
	a.Cache.Invalidate(c.Request().Context())
	return c.JSON(http.StatusOK, p)
}

func (a *App) handleUpdateProject(c echo.Context) error {
	var in model.ProjectInput
	if err := decodeJSON(c, &in); err != nil {
		return err
	}
	p, err := a.Store.UpdateProject(c.Request().Context(), in)
	if err != nil {
		return err
	}
	a.Cache.Invalidate(c.Request().Context())
	return c.JSON(http.StatusOK, p)
}

func (a *App) handleDeleteProject(c echo.Context) error {
	var req struct {
		ID string `json:"id"`
	}
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if req.ID == "" {
		return echo.NewHTTPError(http.StatusBadRequest, "Project id is required")
	}
	if err := a.Store.DeleteProject(c.Request().Context(), req.ID); err != nil {
		return err
	}
	a.Cache.Invalidate(c.Request().Context())
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleProjectStats(c echo.Context) error {
	stats, err := cached(c.Request().Context(), a.Cache, cacheKeyProjectStats, a.Store.ProjectStats)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, stats)
}

func (a *App) handleActivity(c echo.Context) error {
	items, err := cached(c.Request().Context(), a.Cache, cacheKeyActivity, a.Store.RecentActivity)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, items)
}
