package handlers

import (
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"

	"github.com/marmos91/pixstore/internal/logger"
	"github.com/marmos91/pixstore/pkg/upload"
	"github.com/marmos91/pixstore/pkg/upload/service"
)

var validate = validator.New()

// UploadHandler handles the upload lifecycle endpoints.
type UploadHandler struct {
	orchestrator  *service.Orchestrator
	maxUploadSize int64
}

// NewUploadHandler creates a new UploadHandler.
//
// maxUploadSize caps the declared size of new uploads in bytes. Zero
// disables the check.
func NewUploadHandler(orchestrator *service.Orchestrator, maxUploadSize int64) *UploadHandler {
	return &UploadHandler{orchestrator: orchestrator, maxUploadSize: maxUploadSize}
}

// CreateUploadRequest is the request body for POST /uploads.
type CreateUploadRequest struct {
	Filename          string `json:"filename" validate:"required"`
	ContentType       string `json:"content_type,omitempty"`
	ExpectedSizeBytes int64  `json:"expected_size_bytes,omitempty" validate:"gte=0"`
}

// CreateUploadResponse is the response body for POST /uploads.
type CreateUploadResponse struct {
	UploadID  string          `json:"upload_id"`
	URL       string          `json:"url"`
	ExpiresAt time.Time       `json:"expires_at"`
	Staging   StorageLocation `json:"staging"`
}

// StorageLocation is a blob address in API responses.
type StorageLocation struct {
	Bucket string `json:"bucket"`
	Key    string `json:"key"`
}

// UploadResponse is the upload record as rendered by the API.
type UploadResponse struct {
	ID                string           `json:"id"`
	Status            string           `json:"status"`
	Filename          string           `json:"filename,omitempty"`
	ContentType       string           `json:"content_type,omitempty"`
	ExpectedSizeBytes int64            `json:"expected_size_bytes,omitempty"`
	ActualSizeBytes   int64            `json:"actual_size_bytes,omitempty"`
	CreatedAt         time.Time        `json:"created_at"`
	UpdatedAt         time.Time        `json:"updated_at"`
	QueuedAt          *time.Time       `json:"queued_at,omitempty"`
	FinalizedAt       *time.Time       `json:"finalized_at,omitempty"`
	Final             *StorageLocation `json:"final,omitempty"`
	FailureReason     string           `json:"failure_reason,omitempty"`
}

// CompleteUploadResponse is the response body for POST /uploads/{id}/complete.
type CompleteUploadResponse struct {
	Status string `json:"status"`
}

func recordToResponse(record *upload.Record) UploadResponse {
	resp := UploadResponse{
		ID:                string(record.ID),
		Status:            string(record.Status),
		Filename:          record.Filename,
		ContentType:       record.ContentType,
		ExpectedSizeBytes: record.ExpectedSizeBytes,
		ActualSizeBytes:   record.ActualSizeBytes,
		CreatedAt:         record.CreatedAt,
		UpdatedAt:         record.UpdatedAt,
		QueuedAt:          record.QueuedAt,
		FinalizedAt:       record.FinalizedAt,
		FailureReason:     record.FailureReason,
	}
	if record.Final != nil {
		resp.Final = &StorageLocation{
			Bucket: record.Final.Bucket,
			Key:    record.Final.Key,
		}
	}
	return resp
}

// Create handles POST /uploads.
//
// Issues a presigned staging URL and records the upload.
func (h *UploadHandler) Create(w http.ResponseWriter, r *http.Request) {
	var req CreateUploadRequest
	if !decodeJSONBody(w, r, &req) {
		return
	}
	if err := validate.Struct(req); err != nil {
		BadRequest(w, "Invalid request: "+err.Error())
		return
	}
	if h.maxUploadSize > 0 && req.ExpectedSizeBytes > h.maxUploadSize {
		writeJSON(w, http.StatusRequestEntityTooLarge, errorResponse{
			Error: fmt.Sprintf("Expected size %d exceeds the %d byte upload limit", req.ExpectedSizeBytes, h.maxUploadSize),
		})
		return
	}

	created, err := h.orchestrator.CreateUpload(r.Context(), service.CreateInput{
		Filename:          req.Filename,
		ContentType:       req.ContentType,
		ExpectedSizeBytes: req.ExpectedSizeBytes,
	})
	if err != nil {
		logger.Error("failed to create upload", logger.Err(err))
		InternalServerError(w, "Failed to create upload")
		return
	}

	WriteJSONCreated(w, CreateUploadResponse{
		UploadID:  string(created.UploadID),
		URL:       created.Presigned.URL,
		ExpiresAt: created.Presigned.ExpiresAt,
		Staging: StorageLocation{
			Bucket: created.Presigned.Ref.Bucket,
			Key:    created.Presigned.Ref.Key,
		},
	})
}

// Get handles GET /uploads/{uploadId}.
func (h *UploadHandler) Get(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}

	record, err := h.orchestrator.GetUpload(r.Context(), id)
	if err != nil {
		logger.Error("failed to get upload", logger.UploadID(string(id)), logger.Err(err))
		InternalServerError(w, "Failed to get upload")
		return
	}
	if record == nil {
		NotFound(w, "Upload not found")
		return
	}

	WriteJSONOK(w, recordToResponse(record))
}

// Complete handles POST /uploads/{uploadId}/complete.
//
// Status mapping: queued is 202 (work is pending), already_queued and
// finalized are 200 (nothing left to do), failed is 409, not_found 404.
func (h *UploadHandler) Complete(w http.ResponseWriter, r *http.Request) {
	id, ok := parseUploadID(w, r)
	if !ok {
		return
	}

	result, err := h.orchestrator.CompleteUpload(r.Context(), id)
	if err != nil {
		logger.Error("failed to complete upload", logger.UploadID(string(id)), logger.Err(err))
		InternalServerError(w, "Failed to complete upload")
		return
	}

	switch result.Outcome {
	case service.CompleteQueued:
		WriteJSONAccepted(w, CompleteUploadResponse{Status: result.Outcome.String()})
	case service.CompleteAlreadyQueued, service.CompleteFinalized:
		WriteJSONOK(w, CompleteUploadResponse{Status: result.Outcome.String()})
	case service.CompleteFailed:
		Conflict(w, "Upload failed: "+result.Reason)
	case service.CompleteNotFound:
		NotFound(w, "Upload not found")
	default:
		InternalServerError(w, "Unexpected completion outcome")
	}
}

// parseUploadID extracts and validates the uploadId path parameter.
func parseUploadID(w http.ResponseWriter, r *http.Request) (upload.ID, bool) {
	raw := chi.URLParam(r, "uploadId")
	id, err := upload.ParseID(raw)
	if err != nil {
		BadRequest(w, "Invalid upload id")
		return "", false
	}
	return id, true
}
