package handler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/timeseal/timeseal-go/internal/middleware"
	"github.com/timeseal/timeseal-go/internal/model"
	"github.com/timeseal/timeseal-go/internal/service"
	"github.com/timeseal/timeseal-go/internal/storage"
)

// CapsuleHandler handles HTTP requests for the capsule lifecycle. blobs may
// be nil, in which case deleted capsules' attachments are left in place.
type CapsuleHandler struct {
	service *service.CapsuleService
	blobs   *storage.S3Storage
}

// NewCapsuleHandler creates a new CapsuleHandler.
func NewCapsuleHandler(svc *service.CapsuleService, blobs *storage.S3Storage) *CapsuleHandler {
	return &CapsuleHandler{service: svc, blobs: blobs}
}

// HandleSeal handles POST /api/v1/capsules requests.
func (h *CapsuleHandler) HandleSeal(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}
	email, _ := middleware.UserEmailFromContext(r.Context())

	var req model.SealCapsuleRequest
	if !decodeBody(w, r, &req, 1<<20) {
		return
	}

	resp, err := h.service.Seal(r.Context(), userID, email, req)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusCreated, resp)
}

// HandleList handles GET /api/v1/capsules requests with limit/offset paging.
func (h *CapsuleHandler) HandleList(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	offset, _ := strconv.Atoi(r.URL.Query().Get("offset"))

	capsules, err := h.service.List(r.Context(), userID, limit, offset)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}
	if capsules == nil {
		capsules = []model.CapsuleResponse{}
	}

	writeJSON(w, http.StatusOK, capsules)
}

// HandleGet handles GET /api/v1/capsules/{capsule_id} requests.
func (h *CapsuleHandler) HandleGet(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	id := chi.URLParam(r, "capsule_id")
	if id == "" || len(id) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid capsule id"))
		return
	}

	resp, err := h.service.Get(r.Context(), userID, id)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleRename handles PATCH /api/v1/capsules/{capsule_id} requests.
func (h *CapsuleHandler) HandleRename(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	id := chi.URLParam(r, "capsule_id")
	if id == "" || len(id) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid capsule id"))
		return
	}

	var req model.RenameCapsuleRequest
	if !decodeBody(w, r, &req, 1<<20) {
		return
	}

	resp, err := h.service.Rename(r.Context(), userID, id, req.Name)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleDelete handles DELETE /api/v1/capsules/{capsule_id} requests.
// The attachment blob, if any, is removed best-effort after the record.
func (h *CapsuleHandler) HandleDelete(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	id := chi.URLParam(r, "capsule_id")
	if id == "" || len(id) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid capsule id"))
		return
	}

	attachment, err := h.service.Delete(r.Context(), userID, id)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	if attachment != nil && h.blobs != nil {
		if err := h.blobs.Delete(r.Context(), attachment.FileID); err != nil {
			slog.Warn("failed to delete capsule attachment blob",
				"capsule_id", id, "file_id", attachment.FileID, "error", err)
		}
	}

	w.WriteHeader(http.StatusNoContent)
}

// HandleUnlock handles POST /api/v1/capsules/{capsule_id}/unlock requests.
func (h *CapsuleHandler) HandleUnlock(w http.ResponseWriter, r *http.Request) {
	id := chi.URLParam(r, "capsule_id")
	if id == "" || len(id) > 36 {
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid capsule id"))
		return
	}

	var req model.UnlockRequest
	if !decodeBody(w, r, &req, 1<<20) {
		return
	}

	resp, err := h.service.Unlock(r.Context(), id, req.Code, req.Footprint)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleUnlockByEmail handles POST /api/v1/unlock requests: the public
// unlock form that identifies a capsule by the sealer's email.
func (h *CapsuleHandler) HandleUnlockByEmail(w http.ResponseWriter, r *http.Request) {
	var req model.UnlockByEmailRequest
	if !decodeBody(w, r, &req, 1<<20) {
		return
	}
	if req.Email == "" {
		writeJSON(w, http.StatusBadRequest, errorResponse("email is required"))
		return
	}

	resp, err := h.service.UnlockByEmail(r.Context(), req.Email, req.Code, req.Footprint)
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, resp)
}

// HandleStats handles GET /api/v1/stats requests.
func (h *CapsuleHandler) HandleStats(w http.ResponseWriter, r *http.Request) {
	stats, err := h.service.Stats(r.Context())
	if err != nil {
		respondCapsuleError(w, err)
		return
	}

	writeJSON(w, http.StatusOK, stats)
}

// respondCapsuleError maps lifecycle engine errors to HTTP responses.
// StillLocked and LocationMismatch carry extra fields for client display.
func respondCapsuleError(w http.ResponseWriter, err error) {
	var stillLocked *service.StillLockedError
	var mismatch *service.LocationMismatchError

	switch {
	case errors.Is(err, service.ErrCapsuleNotFound):
		writeJSON(w, http.StatusNotFound, errorResponse(err.Error()))
	case errors.Is(err, service.ErrCapsuleExists),
		errors.Is(err, service.ErrQuotaExceeded),
		errors.Is(err, service.ErrCapsuleOpened):
		writeJSON(w, http.StatusConflict, errorResponse(err.Error()))
	case errors.As(err, &stillLocked):
		writeJSON(w, http.StatusLocked, map[string]any{
			"error":        "capsule is still locked",
			"locked_until": stillLocked.LockedUntil,
		})
	case errors.Is(err, service.ErrInvalidCode):
		writeJSON(w, http.StatusUnauthorized, errorResponse(err.Error()))
	case errors.Is(err, service.ErrLocationRequired):
		writeJSON(w, http.StatusPreconditionRequired, errorResponse(err.Error()))
	case errors.As(err, &mismatch):
		writeJSON(w, http.StatusForbidden, map[string]any{
			"error":      "you must be at the sealing location to open this capsule",
			"distance_m": mismatch.DistanceM,
		})
	case isSealValidationError(err):
		writeJSON(w, http.StatusBadRequest, errorResponse(err.Error()))
	default:
		writeJSON(w, http.StatusInternalServerError, errorResponse("internal server error"))
	}
}

func isSealValidationError(err error) bool {
	return errors.Is(err, service.ErrNameInvalid) ||
		errors.Is(err, service.ErrMessageRequired) ||
		errors.Is(err, service.ErrMessageTooLong) ||
		errors.Is(err, service.ErrCodeInvalid) ||
		errors.Is(err, service.ErrLockYearsInvalid)
}

// decodeBody decodes a size-limited JSON request body, writing the error
// response itself when decoding fails.
func decodeBody(w http.ResponseWriter, r *http.Request, v any, maxBytes int64) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBytes)

	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		if err.Error() == "http: request body too large" {
			writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("request body too large"))
			return false
		}
		writeJSON(w, http.StatusBadRequest, errorResponse("invalid request body"))
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

func errorResponse(msg string) map[string]string {
	return map[string]string{"error": msg}
}
