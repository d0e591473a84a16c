// Package handler contains HTTP handlers for the soundloft API.
//
// This file implements the quota endpoints used by the mobile client.
//
// Routes (all require a bearer session):
//   - GET  /api/quota             -> GetQuota
//   - GET  /api/storage           -> GetStorage
//   - POST /api/storage/check     -> CheckStorage
//   - POST /api/quota/invalidate  -> InvalidateQuota
package handler

import (
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/DukeRupert/soundloft/internal/auth"
	"github.com/DukeRupert/soundloft/internal/domain"
	"github.com/DukeRupert/soundloft/internal/format"
	"github.com/DukeRupert/soundloft/internal/service"
)

// maxCheckBody bounds the storage check request body.
const maxCheckBody = 4096

// RefreshLimiter decides whether a caller may bypass the quota cache.
type RefreshLimiter interface {
	Allow(key string) bool
}

// QuotaHandler serves the quota API.
type QuotaHandler struct {
	uploads service.UploadQuotaService
	storage service.StorageQuotaService
	refresh RefreshLimiter
	logger  *slog.Logger
}

// NewQuotaHandler creates a new QuotaHandler. refresh may be nil, in which
// case forced refreshes are never limited.
func NewQuotaHandler(
	uploads service.UploadQuotaService,
	storage service.StorageQuotaService,
	refresh RefreshLimiter,
	logger *slog.Logger,
) *QuotaHandler {
	return &QuotaHandler{
		uploads: uploads,
		storage: storage,
		refresh: refresh,
		logger:  logger,
	}
}

// RegisterRoutes registers the quota routes, each wrapped in requireSession.
func (h *QuotaHandler) RegisterRoutes(mux *http.ServeMux, requireSession func(http.Handler) http.Handler) {
	mux.Handle("GET /api/quota", requireSession(http.HandlerFunc(h.GetQuota)))
	mux.Handle("GET /api/storage", requireSession(http.HandlerFunc(h.GetStorage)))
	mux.Handle("POST /api/storage/check", requireSession(http.HandlerFunc(h.CheckStorage)))
	mux.Handle("POST /api/quota/invalidate", requireSession(http.HandlerFunc(h.InvalidateQuota)))
}

// =============================================================================
// GET /api/quota
// =============================================================================

// GetQuota returns the reconciled upload quota. ?refresh=1 bypasses the
// cache unless the caller has refreshed too often, in which case the cached
// answer is served.
func (h *QuotaHandler) GetQuota(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSession(r.Context())

	force := wantsRefresh(r)
	if force && h.refresh != nil && !h.refresh.Allow(sess.UserID().String()) {
		h.logger.Info("forced quota refresh limited", "user_id", sess.UserID())
		w.Header().Set("X-Quota-Refresh", "limited")
		force = false
	}

	quota := h.uploads.GetUploadQuota(r.Context(), sess, force)
	if quota == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	writeJSON(w, http.StatusOK, quota)
}

// =============================================================================
// GET /api/storage
// =============================================================================

// StorageResponse is the storage quota plus display hints.
type StorageResponse struct {
	*domain.StorageQuota
	UsedFormatted     string              `json:"used_formatted"`
	LimitFormatted    string              `json:"limit_formatted"`
	WarningLevel      domain.WarningLevel `json:"warning_level"`
	WarningMessage    string              `json:"warning_message,omitempty"`
	UpgradeSuggestion *string             `json:"upgrade_suggestion"`
}

// GetStorage returns the storage quota for the caller's reconciled tier.
func (h *QuotaHandler) GetStorage(w http.ResponseWriter, r *http.Request) {
	sess := auth.GetSession(r.Context())

	quota := h.uploads.GetUploadQuota(r.Context(), sess, false)
	if quota == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	storage := h.storage.GetStorageQuotaCached(r.Context(), sess.UserID(), quota.Tier, false)

	writeJSON(w, http.StatusOK, StorageResponse{
		StorageQuota:      storage,
		UsedFormatted:     format.Bytes(storage.Used),
		LimitFormatted:    format.Bytes(storage.Limit),
		WarningLevel:      service.StorageWarningLevel(storage.PercentUsed),
		WarningMessage:    service.StorageWarningMessage(storage),
		UpgradeSuggestion: service.UpgradeSuggestion(storage),
	})
}

// =============================================================================
// POST /api/storage/check
// =============================================================================

type checkRequest struct {
	FileSize json.RawMessage `json:"file_size"`
}

// CheckStorage reports whether a prospective upload fits. file_size is a
// byte count or a string such as "12 MB".
func (h *QuotaHandler) CheckStorage(w http.ResponseWriter, r *http.Request) {
	const op = "quota.check_storage"
	sess := auth.GetSession(r.Context())

	size, err := decodeFileSize(io.LimitReader(r.Body, maxCheckBody))
	if err != nil {
		ErrorResponse(w, r, h.logger, domain.Invalid(op, err.Error()))
		return
	}

	quota := h.uploads.GetUploadQuota(r.Context(), sess, false)
	if quota == nil {
		UnauthorizedResponse(w, r, h.logger)
		return
	}

	check := h.storage.CheckStorageQuota(r.Context(), sess.UserID(), quota.Tier, size)
	writeJSON(w, http.StatusOK, check)
}

func decodeFileSize(body io.Reader) (int64, error) {
	var req checkRequest
	if err := json.NewDecoder(body).Decode(&req); err != nil {
		return 0, errors.New("request body must be JSON with a file_size field")
	}
	if len(req.FileSize) == 0 || string(req.FileSize) == "null" {
		return 0, errors.New("file_size is required")
	}

	var n json.Number
	if err := json.Unmarshal(req.FileSize, &n); err == nil {
		size, err := strconv.ParseInt(n.String(), 10, 64)
		if err != nil || size <= 0 {
			return 0, errors.New("file_size must be a positive whole number of bytes")
		}
		return size, nil
	}

	var s string
	if err := json.Unmarshal(req.FileSize, &s); err != nil {
		return 0, errors.New("file_size must be a number or a size string")
	}
	size := format.ParseBytes(s)
	if size <= 0 {
		return 0, errors.New("file_size could not be parsed, use a value like \"12 MB\"")
	}
	return size, nil
}

// =============================================================================
// POST /api/quota/invalidate
// =============================================================================

// InvalidateQuota clears both quota caches. Clients call it after an upload
// or delete.
func (h *QuotaHandler) InvalidateQuota(w http.ResponseWriter, r *http.Request) {
	h.uploads.InvalidateQuotaCache()
	h.logger.Debug("quota cache invalidated", "user_id", auth.GetSession(r.Context()).UserID())
	w.WriteHeader(http.StatusNoContent)
}

func wantsRefresh(r *http.Request) bool {
	switch strings.ToLower(r.URL.Query().Get("refresh")) {
	case "1", "true", "yes":
		return true
	default:
		return false
	}
}
