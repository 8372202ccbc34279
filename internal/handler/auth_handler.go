package handler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

// AuthService is the phone OTP flow consumed by AuthHandler.
type AuthService interface {
	InitiatePhoneAuth(ctx context.Context, req service.InitiateRequest, device service.DeviceInfo) (*service.InitiateResult, error)
	VerifyOTP(ctx context.Context, req service.VerifyRequest, device service.DeviceInfo) (*service.VerifyResult, error)
}

// AuthHandler handles HTTP requests for phone authentication
type AuthHandler struct {
	auth       AuthService
	logger     *zap.Logger
	exposeErrs bool
}

// NewAuthHandler creates a new auth handler. exposeErrors adds the
// underlying failure detail to 500 responses and is meant for development.
func NewAuthHandler(auth AuthService, logger *zap.Logger, exposeErrors bool) *AuthHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AuthHandler{auth: auth, logger: logger, exposeErrs: exposeErrors}
}

// Response represents a standard API response
type Response struct {
	Success bool        `json:"success"`
	Message string      `json:"message,omitempty"`
	Data    interface{} `json:"data,omitempty"`
	Error   interface{} `json:"error,omitempty"`
}

// successResponse creates a successful response
func successResponse(data interface{}, message string) Response {
	return Response{
		Success: true,
		Data:    data,
		Message: message,
	}
}

// RegisterRoutes registers the public auth routes. initiateMiddleware runs
// on the initiate route only.
func (h *AuthHandler) RegisterRoutes(router chi.Router, initiateMiddleware ...func(http.Handler) http.Handler) {
	router.With(initiateMiddleware...).Post("/phone/initiate", h.InitiatePhoneAuth)
	router.Post("/phone/verify", h.VerifyOTP)
}

// InitiatePhoneAuth handles OTP issuance
// @Summary Send a one-time code to a phone number
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.InitiateRequest true "Initiate request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 403 {object} Response
// @Failure 429 {object} Response
// @Failure 500 {object} Response
// @Router /auth/phone/initiate [post]
func (h *AuthHandler) InitiatePhoneAuth(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.InitiateRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.InitiatePhoneAuth(ctx, req, DeviceFromContext(ctx))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, successResponse(res, res.Message))
	h.logger.Debug("OTP initiated via HTTP",
		util.Phone("phone", req.PhoneNumber),
		util.Duration("duration", time.Since(startTime)),
	)
}

// VerifyOTP handles code verification
// @Summary Verify a one-time code and obtain a token
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.VerifyRequest true "Verify request"
// @Success 200 {object} Response
// @Failure 400 {object} Response
// @Failure 401 {object} Response
// @Failure 403 {object} Response
// @Failure 500 {object} Response
// @Router /auth/phone/verify [post]
func (h *AuthHandler) VerifyOTP(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	startTime := time.Now()

	var req service.VerifyRequest
	if !h.decode(w, r, &req) {
		return
	}

	res, err := h.auth.VerifyOTP(ctx, req, DeviceFromContext(ctx))
	if err != nil {
		h.respondWithError(w, err)
		return
	}

	writeJSON(w, h.logger, http.StatusOK, successResponse(res, res.Message))
	h.logger.Debug("OTP verified via HTTP",
		util.String("user_id", res.User.UserID),
		util.Duration("duration", time.Since(startTime)),
	)
}

func (h *AuthHandler) decode(w http.ResponseWriter, r *http.Request, dst interface{}) bool {
	err := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes)).Decode(dst)
	if err == nil {
		return true
	}
	msg := "Invalid request body"
	if errors.Is(err, io.EOF) {
		msg = "Request body is required"
	}
	writeJSON(w, h.logger, http.StatusBadRequest, Response{Success: false, Message: msg})
	return false
}

func (h *AuthHandler) respondWithError(w http.ResponseWriter, err error) {
	respondWithAuthError(w, h.logger, err, h.exposeErrs)
}

// respondWithAuthError writes err as an error envelope with the status
// mapped from its kind.
func respondWithAuthError(w http.ResponseWriter, logger *zap.Logger, err error, exposeErrs bool) {
	statusCode := getStatusCode(err)
	resp := Response{Success: false, Message: "Internal server error"}

	if ae, ok := service.AsAuthError(err); ok {
		resp.Message = ae.Message
		if data := errorData(ae); data != nil {
			resp.Data = data
		}
		switch {
		case len(ae.Fields) > 0:
			resp.Error = ae.Fields
		case ae.Err != nil && exposeErrs:
			resp.Error = ae.Err.Error()
		}
	} else if exposeErrs {
		resp.Error = err.Error()
	}

	if statusCode >= http.StatusInternalServerError {
		logger.Error("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	} else {
		logger.Debug("HTTP error response", util.ErrorField(err), util.Int("status_code", statusCode))
	}
	writeJSON(w, logger, statusCode, resp)
}

func errorData(ae *service.AuthError) map[string]interface{} {
	data := map[string]interface{}{}
	switch {
	case errors.Is(ae, service.ErrOTPAlreadyActive):
		data["remainingSeconds"] = ae.RemainingSeconds
	case errors.Is(ae, service.ErrTemporarilyBlocked):
		if ae.BlockedUntil != nil {
			data["blockedUntil"] = ae.BlockedUntil.UTC()
		}
		data["remainingTime"] = ae.RemainingTime
	case errors.Is(ae, service.ErrOTPMismatch):
		data["attemptsRemaining"] = ae.AttemptsRemaining
	}
	if len(data) == 0 {
		return nil
	}
	return data
}

// getStatusCode determines the appropriate HTTP status code for an error
func getStatusCode(err error) int {
	switch {
	case errors.Is(err, service.ErrValidationFailed),
		errors.Is(err, service.ErrOTPNotFound),
		errors.Is(err, service.ErrOTPExpired):
		return http.StatusBadRequest
	case errors.Is(err, service.ErrRateLimited),
		errors.Is(err, service.ErrOTPAlreadyActive):
		return http.StatusTooManyRequests
	case errors.Is(err, service.ErrTemporarilyBlocked),
		errors.Is(err, service.ErrPermanentlyBlocked),
		errors.Is(err, service.ErrSuspiciousActivity):
		return http.StatusForbidden
	case errors.Is(err, service.ErrOTPMismatch),
		errors.Is(err, service.ErrOTPAttemptsExceeded):
		return http.StatusUnauthorized
	default:
		return http.StatusInternalServerError
	}
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, statusCode int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(statusCode)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Error("Failed to encode JSON response", util.ErrorField(err))
	}
}
