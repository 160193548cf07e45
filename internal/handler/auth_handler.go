package handler

import (
	"net/http"
	"time"

	"storefront-service/internal/middleware"
	"storefront-service/internal/model"
	"storefront-service/internal/service"
	"storefront-service/pkg/jwtutil"
	"storefront-service/pkg/logger"
	"storefront-service/prometheus"

	"github.com/labstack/echo/v4"
	"go.uber.org/zap"
)

// AuthHandler issues and clears session cookies
type AuthHandler struct {
	customers    *service.CustomerService
	tokens       *jwtutil.JWTUtil
	cookieName   string
	secureCookie bool
}

// NewAuthHandler creates an AuthHandler. secureCookie marks the session
// cookie HTTPS-only.
func NewAuthHandler(customers *service.CustomerService, tokens *jwtutil.JWTUtil, cookieName string, secureCookie bool) *AuthHandler {
	return &AuthHandler{
		customers:    customers,
		tokens:       tokens,
		cookieName:   cookieName,
		secureCookie: secureCookie,
	}
}

type sessionView struct {
	Customer  *model.Customer `json:"customer"`
	Token     string          `json:"token"`
	ExpiresAt time.Time       `json:"expiresAt"`
}

func (h *AuthHandler) startSession(c echo.Context, customer *model.Customer, status int) error {
	token, expiresAt, err := h.tokens.GenerateToken(customer.ID, customer.Email, customer.Role.String())
	if err != nil {
		prometheus.RecordAuthError("token_generation_failed")
		return err
	}

	c.SetCookie(&http.Cookie{
		Name:     h.cookieName,
		Value:    token,
		Path:     "/",
		Expires:  expiresAt,
		MaxAge:   int(h.tokens.TTL().Seconds()),
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return respond(c, status, sessionView{Customer: customer, Token: token, ExpiresAt: expiresAt})
}

// Register creates an account and signs it in
func (h *AuthHandler) Register(c echo.Context) error {
	log := logger.FromEcho(c)

	var req RegisterRequest
	if err := bind(c, &req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return err
	}

	customer, err := h.customers.Register(c.Request().Context(), service.RegisterInput{
		Email:    req.Email,
		Password: req.Password,
		Name:     req.Name,
		Phone:    req.Phone,
	})
	if err != nil {
		log.Warn("Registration failed", zap.String("email", req.Email), zap.Error(err))
		return err
	}

	log.Info("Customer registered", zap.Uint("customer_id", customer.ID))
	return h.startSession(c, customer, http.StatusCreated)
}

// Login checks credentials and sets the session cookie
func (h *AuthHandler) Login(c echo.Context) error {
	log := logger.FromEcho(c)

	var req LoginRequest
	if err := bind(c, &req); err != nil {
		prometheus.RecordAuthError("invalid_request")
		return err
	}

	customer, err := h.customers.Authenticate(c.Request().Context(), req.Email, req.Password)
	if err != nil {
		log.Warn("Login failed", zap.String("email", req.Email), zap.Error(err))
		return err
	}

	log.Info("Login successful",
		zap.Uint("customer_id", customer.ID),
		zap.String("role", customer.Role.String()))
	return h.startSession(c, customer, http.StatusOK)
}

// Logout clears the session cookie
func (h *AuthHandler) Logout(c echo.Context) error {
	c.SetCookie(&http.Cookie{
		Name:     h.cookieName,
		Value:    "",
		Path:     "/",
		Expires:  time.Unix(0, 0),
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   h.secureCookie,
		SameSite: http.SameSiteLaxMode,
	})
	return respond(c, http.StatusOK, echo.Map{"loggedOut": true})
}

// Me returns the signed in customer with loyalty standing
func (h *AuthHandler) Me(c echo.Context) error {
	session, ok := middleware.SessionFrom(c)
	if !ok {
		return echo.NewHTTPError(http.StatusUnauthorized, "Authentication required")
	}
	customer, err := h.customers.GetCustomer(c.Request().Context(), session.CustomerID)
	if err != nil {
		return err
	}
	return respond(c, http.StatusOK, customer)
}
