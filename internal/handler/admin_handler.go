package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"phone-auth-service/internal/blocking"
	"phone-auth-service/internal/models"
	"phone-auth-service/internal/service"
	"phone-auth-service/internal/util"
)

// AdminService is the operator surface over the block state machine.
type AdminService interface {
	Unblock(ctx context.Context, phone string) (bool, error)
	ListBlocked(ctx context.Context) ([]blocking.BlockedEntity, error)
	BlockStatus(ctx context.Context, phone string) (*service.BlockStatus, error)
	RecentEvents(ctx context.Context, phone string, limit int) ([]models.SecurityEvent, error)
}

// AdminHandler handles operator requests. Routes are mounted behind
// RequireAdminKey.
type AdminHandler struct {
	admin      AdminService
	logger     *zap.Logger
	exposeErrs bool
}

func NewAdminHandler(admin AdminService, logger *zap.Logger, exposeErrors bool) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{admin: admin, logger: logger, exposeErrs: exposeErrors}
}

func (h *AdminHandler) RegisterRoutes(router chi.Router) {
	router.Get("/blocked", h.ListBlocked)
	router.Get("/blocked/{phoneNumber}", h.BlockStatus)
	router.Delete("/blocked/{phoneNumber}", h.Unblock)
	router.Get("/security-events/{phoneNumber}", h.RecentEvents)
}

// ListBlocked handles listing of blocked numbers
// @Summary List phone numbers that are blocked right now
// @Tags admin
// @Produce json
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /auth/admin/blocked [get]
func (h *AdminHandler) ListBlocked(w http.ResponseWriter, r *http.Request) {
	list, err := h.admin.ListBlocked(r.Context())
	if err != nil {
		respondWithAuthError(w, h.logger, err, h.exposeErrs)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, successResponse(list, "Blocked numbers retrieved successfully"))
}

// BlockStatus handles lookup of one number
// @Summary Get the block state of a phone number
// @Tags admin
// @Produce json
// @Param phoneNumber path string true "Phone number in E.164"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /auth/admin/blocked/{phoneNumber} [get]
func (h *AdminHandler) BlockStatus(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)

	status, err := h.admin.BlockStatus(r.Context(), phone)
	if err != nil {
		respondWithAuthError(w, h.logger, err, h.exposeErrs)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, successResponse(status, "Block status retrieved successfully"))
}

// Unblock handles removal of a block
// @Summary Clear every block on a phone number
// @Tags admin
// @Produce json
// @Param phoneNumber path string true "Phone number in E.164"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 404 {object} Response
// @Failure 500 {object} Response
// @Router /auth/admin/blocked/{phoneNumber} [delete]
func (h *AdminHandler) Unblock(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)

	ok, err := h.admin.Unblock(r.Context(), phone)
	if err != nil {
		respondWithAuthError(w, h.logger, err, h.exposeErrs)
		return
	}
	if !ok {
		writeJSON(w, h.logger, http.StatusNotFound, Response{Success: false, Message: "No block record for phone number"})
		return
	}

	h.logger.Info("Phone unblocked via HTTP", util.Phone("phone", phone))
	writeJSON(w, h.logger, http.StatusOK, successResponse(nil, "Phone number unblocked successfully"))
}

// RecentEvents handles security event lookup
// @Summary List recent security events for a phone number
// @Tags admin
// @Produce json
// @Param phoneNumber path string true "Phone number in E.164"
// @Param limit query int false "Maximum number of events"
// @Success 200 {object} Response
// @Failure 401 {object} Response
// @Failure 500 {object} Response
// @Router /auth/admin/security-events/{phoneNumber} [get]
func (h *AdminHandler) RecentEvents(w http.ResponseWriter, r *http.Request) {
	phone := phoneParam(r)
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))

	list, err := h.admin.RecentEvents(r.Context(), phone, limit)
	if err != nil {
		respondWithAuthError(w, h.logger, err, h.exposeErrs)
		return
	}
	writeJSON(w, h.logger, http.StatusOK, successResponse(list, "Security events retrieved successfully"))
}

func phoneParam(r *http.Request) string {
	return util.SanitizePhoneNumber(chi.URLParam(r, "phoneNumber"))
}
