package oikos

import (
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/sessions"
	"github.com/labstack/echo-contrib/session"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/rs/cors"
	"golang.org/x/time/rate"
)

const sessionName = "admin_session"

// adminContextKey holds the authenticated admin email on the echo context.
const adminContextKey = "admin"

func (a *App) setupMiddleware() {
	e := a.Echo

	e.IPExtractor = echo.ExtractIPFromXFFHeader(
		echo.TrustLoopback(true),
		echo.TrustLinkLocal(false),
		echo.TrustPrivateNet(true),
	)

	e.HTTPErrorHandler = a.httpErrorHandler

	e.Pre(middleware.RemoveTrailingSlash())

	e.Use(middleware.RequestLoggerWithConfig(middleware.RequestLoggerConfig{
		LogStatus:  true,
		LogURI:     true,
		LogMethod:  true,
		LogLatency: true,
		LogValuesFunc: func(c echo.Context, v middleware.RequestLoggerValues) error {
			c.Logger().Infof("%s %s -> %d (%s)", v.Method, v.URI, v.Status, v.Latency)
			return nil
		},
	}))

	e.Use(middleware.Recover())

	e.Use(middleware.GzipWithConfig(middleware.GzipConfig{Level: 5}))

	e.Use(middleware.SecureWithConfig(middleware.SecureConfig{
		XSSProtection:         "1; mode=block",
		ContentTypeNosniff:    "nosniff",
		XFrameOptions:         "DENY",
		ReferrerPolicy:        "strict-origin-when-cross-origin",
		ContentSecurityPolicy: "default-src 'none'; frame-ancestors 'none'",
		HSTSMaxAge:            31536000,
		HSTSExcludeSubdomains: false,
	}))

	if len(a.Config.AllowedOrigins) > 0 {
		e.Use(echo.WrapMiddleware(cors.New(cors.Options{
			AllowedOrigins:   a.Config.AllowedOrigins,
			AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete, http.MethodOptions},
			AllowedHeaders:   []string{"Content-Type", "Authorization", "X-CSRF-Token"},
			AllowCredentials: true,
		}).Handler))
	}

	e.Use(session.Middleware(a.newSessionStore()))

	// CSRF only guards requests authenticated by the session cookie.
	e.Use(middleware.CSRFWithConfig(middleware.CSRFConfig{
		ContextKey:     middleware.DefaultCSRFConfig.ContextKey,
		TokenLookup:    "header:X-CSRF-Token",
		CookieName:     "_csrf",
		CookiePath:     "/",
		CookieSameSite: http.SameSiteLaxMode,
		CookieSecure:   a.Config.CookieSecure,
		Skipper: func(c echo.Context) bool {
			if bearerToken(c) != "" || c.Path() == "/api/auth/login" {
				return true
			}
			return !hasSessionCookie(c)
		},
		ErrorHandler: func(err error, c echo.Context) error {
			return echo.NewHTTPError(http.StatusForbidden, "Invalid CSRF token")
		},
	}))

	e.Use(cacheControlMiddleware)
}

func cacheControlMiddleware(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		req := c.Request()
		h := c.Response().Header()
		switch {
		case req.URL.Path == "/feed.xml":
			h.Set("Cache-Control", "public, max-age=3600")
		case req.Method != http.MethodGet || req.Header.Get(echo.HeaderAuthorization) != "":
			h.Set("Cache-Control", "no-store")
		case hasSessionCookie(c):
			h.Set("Cache-Control", "private, no-store")
		default:
			h.Set("Cache-Control", "public, max-age=60")
		}
		return next(c)
	}
}

// publicRateLimiter limits anonymous API traffic per client IP.
func (a *App) publicRateLimiter() echo.MiddlewareFunc {
	limit := rate.Limit(a.Config.PublicRateLimit)
	burst := max(int(2*a.Config.PublicRateLimit), 1)
	return middleware.RateLimiterWithConfig(middleware.RateLimiterConfig{
		Skipper: func(c echo.Context) bool {
			_, ok := a.authenticate(c)
			return ok
		},
		Store: middleware.NewRateLimiterMemoryStoreWithConfig(middleware.RateLimiterMemoryStoreConfig{
			Rate:      limit,
			Burst:     burst,
			ExpiresIn: 3 * time.Minute,
		}),
		IdentifierExtractor: func(c echo.Context) (string, error) {
			return c.RealIP(), nil
		},
		ErrorHandler: func(c echo.Context, err error) error {
			return echo.NewHTTPError(http.StatusForbidden, "Unable to identify client")
		},
		DenyHandler: func(c echo.Context, identifier string, err error) error {
			return echo.NewHTTPError(http.StatusTooManyRequests, "Too many requests. Try again later.")
		},
	})
}

func (a *App) newSessionStore() *sessions.CookieStore {
	store := sessions.NewCookieStore([]byte(a.Config.SessionSecret))
	store.Options = &sessions.Options{
		Path:     "/",
		HttpOnly: true,
		MaxAge:   60 * 60 * 12,
		SameSite: http.SameSiteLaxMode,
		Secure:   a.Config.CookieSecure,
	}
	return store
}

// requireAdmin rejects requests that carry neither a valid bearer token nor
// an authenticated session.
func (a *App) requireAdmin(next echo.HandlerFunc) echo.HandlerFunc {
	return func(c echo.Context) error {
		email, ok := a.authenticate(c)
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
		}
		c.Set(adminContextKey, email)
		return next(c)
	}
}

// authenticate returns the admin email behind the request's bearer token or
// session cookie.
func (a *App) authenticate(c echo.Context) (string, bool) {
	if tok := bearerToken(c); tok != "" {
		claims, err := a.parseToken(tok)
		if err != nil {
			return "", false
		}
		return claims.Email, true
	}
	return sessionAdmin(c)
}

// IsAdmin reports whether the request is authenticated as an admin.
func (a *App) IsAdmin(c echo.Context) bool {
	_, ok := a.authenticate(c)
	return ok
}

func bearerToken(c echo.Context) string {
	h := c.Request().Header.Get(echo.HeaderAuthorization)
	if len(h) < 8 || !strings.EqualFold(h[:7], "Bearer ") {
		return ""
	}
	return strings.TrimSpace(h[7:])
}

func hasSessionCookie(c echo.Context) bool {
	_, err := c.Cookie(sessionName)
	return err == nil
}

func sessionAdmin(c echo.Context) (string, bool) {
	if !hasSessionCookie(c) {
		return "", false
	}
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return "", false
	}
	auth, _ := sess.Values["authenticated"].(bool)
	email, _ := sess.Values["email"].(string)
	return email, auth && email != ""
}

func setAdminSession(c echo.Context, email string) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Values["authenticated"] = true
	sess.Values["email"] = email
	return sess.Save(c.Request(), c.Response())
}

func clearAdminSession(c echo.Context) error {
	sess, err := session.Get(sessionName, c)
	if err != nil {
		return err
	}
	sess.Options.MaxAge = -1
	return sess.Save(c.Request(), c.Response())
}

// CsrfToken extracts the CSRF token from the Echo context.
func CsrfToken(c echo.Context) string {
	token, _ := c.Get(middleware.DefaultCSRFConfig.ContextKey).(string)
	return token
}
