package handler

import (
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/timeseal/timeseal-go/internal/middleware"
	"github.com/timeseal/timeseal-go/internal/model"
	"github.com/timeseal/timeseal-go/internal/storage"
)

// maxAttachmentBytes caps capsule media at 5MB.
const maxAttachmentBytes = 5 << 20

// AttachmentHandler handles capsule media uploads. It produces the opaque
// attachment metadata that the lifecycle engine stores with a capsule.
type AttachmentHandler struct {
	blobs *storage.S3Storage
}

// NewAttachmentHandler creates a new AttachmentHandler.
func NewAttachmentHandler(blobs *storage.S3Storage) *AttachmentHandler {
	return &AttachmentHandler{blobs: blobs}
}

// HandleUpload handles POST /api/v1/attachments multipart requests. One
// image, audio or video file up to 5MB.
func (h *AttachmentHandler) HandleUpload(w http.ResponseWriter, r *http.Request) {
	userID, ok := middleware.UserIDFromContext(r.Context())
	if !ok {
		writeJSON(w, http.StatusUnauthorized, errorResponse("unauthorized"))
		return
	}

	r.Body = http.MaxBytesReader(w, r.Body, maxAttachmentBytes+(1<<20))
	if err := r.ParseMultipartForm(maxAttachmentBytes); err != nil {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("file too large (max 5MB)"))
		return
	}

	file, header, err := r.FormFile("file")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorResponse("missing file field"))
		return
	}
	defer file.Close()

	if header.Size > maxAttachmentBytes {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse("file too large (max 5MB)"))
		return
	}

	contentType := header.Header.Get("Content-Type")
	if !allowedAttachmentType(contentType) {
		writeJSON(w, http.StatusUnsupportedMediaType, errorResponse("only image, audio and video attachments are allowed"))
		return
	}

	key := fmt.Sprintf("%d/%s", userID, uuid.NewString())
	if err := h.blobs.Upload(r.Context(), key, file, contentType); err != nil {
		writeJSON(w, http.StatusInternalServerError, errorResponse("failed to store attachment"))
		return
	}

	writeJSON(w, http.StatusCreated, model.Attachment{
		FileID:       key,
		Name:         header.Filename,
		Size:         header.Size,
		Type:         contentType,
		LastModified: time.Now().UTC().UnixMilli(),
		URL:          h.blobs.ObjectURL(key),
	})
}

func allowedAttachmentType(contentType string) bool {
	return strings.HasPrefix(contentType, "image/") ||
		strings.HasPrefix(contentType, "audio/") ||
		strings.HasPrefix(contentType, "video/")
}
