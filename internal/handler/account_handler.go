package handler

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"email-auth-service/internal/models"
	"email-auth-service/internal/service"
	"email-auth-service/internal/util"
)

// AccountService is the slice of the lifecycle manager the HTTP layer needs.
type AccountService interface {
	Register(ctx context.Context, req *service.RegisterRequest) error
	VerifyOTP(ctx context.Context, email, otp string) error
	Login(ctx context.Context, email, password string) (string, *models.PublicAccount, error)
}

// AccountHandler handles HTTP requests for the account lifecycle.
type AccountHandler struct {
	accountService AccountService
	logger         *zap.Logger
}

func NewAccountHandler(accountService AccountService, logger *zap.Logger) *AccountHandler {
	return &AccountHandler{
		accountService: accountService,
		logger:         logger,
	}
}

type messageResponse struct {
	Message string `json:"message"`
}

type loginResponse struct {
	Token string                `json:"token"`
	User  *models.PublicAccount `json:"user"`
}

type verifyOTPRequest struct {
	Email string `json:"email"`
	OTP   string `json:"otp"`
}

type loginRequest struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// RegisterRoutes registers the lifecycle routes.
func (h *AccountHandler) RegisterRoutes(router chi.Router) {
	router.Post("/register", h.Register)
	router.Post("/verify-otp", h.VerifyOTP)
	router.Post("/login", h.Login)
}

// Register handles account registration.
func (h *AccountHandler) Register(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.RegisterRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.accountService.Register(ctx, &req); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusCreated, messageResponse{
		Message: "Account registered. Please check your email for the OTP.",
	})
	h.logger.Info("Registration handled",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Register"),
	)
}

// VerifyOTP handles OTP confirmation.
func (h *AccountHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req verifyOTPRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	if err := h.accountService.VerifyOTP(ctx, req.Email, req.OTP); err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, messageResponse{
		Message: "Email verified successfully.",
	})
	h.logger.Info("OTP verification handled",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "VerifyOTP"),
	)
}

// Login handles authentication and token issuance.
func (h *AccountHandler) Login(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req loginRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondWithError(w, http.StatusBadRequest, "invalid request body", err)
		return
	}

	sessionToken, user, err := h.accountService.Login(ctx, req.Email, req.Password)
	if err != nil {
		h.respondWithServiceError(w, err)
		return
	}

	h.respondWithJSON(w, http.StatusOK, loginResponse{
		Token: sessionToken,
		User:  user,
	})
	h.logger.Info("Login handled",
		util.Duration("duration", time.Since(startTime)),
		util.String("method", "Login"),
	)
}

// Helper Methods

func (h *AccountHandler) respondWithJSON(w http.ResponseWriter, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}

func (h *AccountHandler) respondWithError(w http.ResponseWriter, statusCode int, message string, err error) {
	h.logger.Warn("HTTP error response",
		util.ErrorField(err),
		util.Int("status_code", statusCode),
		util.String("message", message),
	)
	h.respondWithJSON(w, statusCode, messageResponse{Message: message})
}

// respondWithServiceError maps service errors to status codes. Business
// failures carry their own client-actionable message; anything unexpected
// becomes a generic 500 with the cause logged, never echoed.
func (h *AccountHandler) respondWithServiceError(w http.ResponseWriter, err error) {
	statusCode := getStatusCode(err)
	if statusCode == http.StatusInternalServerError {
		h.logger.Error("Unexpected service failure", util.ErrorField(err))
		h.respondWithJSON(w, statusCode, messageResponse{Message: "internal server error"})
		return
	}
	h.respondWithError(w, statusCode, err.Error(), err)
}

func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrInvalidInput),
		errors.Is(err, service.ErrOTPInvalid),
		errors.Is(err, service.ErrOTPExpired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrInvalidCredentials):
		return http.StatusUnauthorized
	case errors.Is(err, service.ErrAccountNotVerified):
		return http.StatusForbidden
	case errors.Is(err, service.ErrAccountNotFound):
		return http.StatusNotFound
	case errors.Is(err, service.ErrEmailAlreadyRegistered):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}
