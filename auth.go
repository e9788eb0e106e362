package oikos

import (
	"errors"
	"fmt"
	"math"
	"net/http"
	"strconv"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"

	"github.com/oikos-consulting/oikos/validate"
)

// Claims are the bearer token claims issued at login.
type Claims struct {
	Email string `json:"email"`
	jwt.RegisteredClaims
}

func (a *App) issueToken(email string) (string, time.Time, error) {
	now := time.Now()
	expires := now.Add(a.Config.TokenTTL)
	claims := Claims{
		Email: email,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   email,
			Issuer:    a.Config.Name,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(expires),
		},
	}
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(a.Config.JWTSecret))
	if err != nil {
		return "", time.Time{}, fmt.Errorf("sign token: %w", err)
	}
	return token, expires, nil
}

func (a *App) parseToken(tokenString string) (*Claims, error) {
	claims := &Claims{}
	token, err := jwt.ParseWithClaims(tokenString, claims, func(token *jwt.Token) (any, error) {
		return []byte(a.Config.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil {
		return nil, err
	}
	if !token.Valid || claims.Email == "" {
		return nil, errors.New("invalid token")
	}
	return claims, nil
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

type loginResponse struct {
	Email     string    `json:"email"`
	Token     string    `json:"token"`
	ExpiresAt time.Time `json:"expiresAt"`
}

func (a *App) handleLogin(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		wait := a.loginLimiter.RetryAfter(ip)
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		return echo.NewHTTPError(http.StatusTooManyRequests, "Too many login attempts. Try again later.")
	}
	var req loginRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	admin, err := a.Store.VerifyAdmin(c.Request().Context(), req.Email, req.Password)
	if errors.Is(err, ErrInvalidCredentials) {
		a.loginLimiter.Record(ip)
		return echo.NewHTTPError(http.StatusUnauthorized, "Invalid email or password")
	}
	if err != nil {
		return err
	}
	a.loginLimiter.Reset(ip)

	if err := setAdminSession(c, admin.Email); err != nil {
		return err
	}
	token, expires, err := a.issueToken(admin.Email)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, loginResponse{Email: admin.Email, Token: token, ExpiresAt: expires})
}

func (a *App) handleLogout(c echo.Context) error {
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.NoContent(http.StatusNoContent)
}

func (a *App) handleMe(c echo.Context) error {
	email, _ := c.Get(adminContextKey).(string)
	return c.JSON(http.StatusOK, map[string]string{
		"email":     email,
		"csrfToken": CsrfToken(c),
	})
}

type changePasswordRequest struct {
	CurrentPassword string `json:"currentPassword"`
	NewPassword     string `json:"newPassword"`
}

// handleChangePassword replaces the signed-in admin's password and ends the
// session. Wrong current passwords count against the login limiter.
func (a *App) handleChangePassword(c echo.Context) error {
	ip := c.RealIP()
	if !a.loginLimiter.Check(ip) {
		wait := a.loginLimiter.RetryAfter(ip)
		c.Response().Header().Set("Retry-After", strconv.Itoa(int(math.Ceil(wait.Seconds()))))
		return echo.NewHTTPError(http.StatusTooManyRequests, "Too many attempts. Try again later.")
	}
	var req changePasswordRequest
	if err := decodeJSON(c, &req); err != nil {
		return err
	}
	if len(req.NewPassword) < MinPasswordLen {
		return &validate.Error{Fields: []validate.FieldError{
			{Field: "newPassword", Message: fmt.Sprintf("New password must be at least %d characters", MinPasswordLen)},
		}}
	}
	email, _ := c.Get(adminContextKey).(string)
	ctx := c.Request().Context()
	if _, err := a.Store.VerifyAdmin(ctx, email, req.CurrentPassword); err != nil {
		if errors.Is(err, ErrInvalidCredentials) {
			a.loginLimiter.Record(ip)
			return &validate.Error{Fields: []validate.FieldError{
				{Field: "currentPassword", Message: "Current password is incorrect"},
			}}
		}
		return err
	}
	if err := a.Store.CreateAdmin(ctx, email, req.NewPassword); err != nil {
		return err
	}
	a.loginLimiter.Reset(ip)
	if err := clearAdminSession(c); err != nil {
		return err
	}
	return c.JSON(http.StatusOK, map[string]string{"message": "Password updated"})
}
