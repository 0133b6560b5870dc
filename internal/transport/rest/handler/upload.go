package handler

import (
	"errors"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"

	"github.com/gorilla/mux"

	"gradeflow/internal/model"
	"gradeflow/internal/service"
	"gradeflow/internal/transport/rest/middleware"
)

const (
	maxBatchFiles   = 100
	multipartMemory = 32 << 20
)

// UploadHandler handles answer sheet uploads
type UploadHandler struct {
	uploadSvc *service.UploadService
	maxBytes  int64
}

// NewUploadHandler creates a new upload handler. maxBytes bounds a single file.
func NewUploadHandler(uploadSvc *service.UploadService, maxBytes int64) *UploadHandler {
	if maxBytes <= 0 {
		maxBytes = service.DefaultMaxUploadBytes
	}
	return &UploadHandler{uploadSvc: uploadSvc, maxBytes: maxBytes}
}

// Upload handles POST /v1/exams/{examId}/sheets (multipart "file", optional "studentId")
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r, 1); err != nil {
		writeServiceError(w, err)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeServiceError(w, service.NewValidationError("file", "a file is required"))
		return
	}
	file, err := h.readFile(headers[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	summary, err := h.uploadSvc.Upload(r.Context(), mux.Vars(r)["examId"], middleware.GetUserID(r.Context()),
		file, r.FormValue("studentId"))
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, summary)
}

// BatchUpload handles POST /v1/exams/{examId}/sheets/batch (multipart "files")
func (h *UploadHandler) BatchUpload(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r, maxBatchFiles); err != nil {
		writeServiceError(w, err)
		return
	}
	headers := r.MultipartForm.File["files"]
	if len(headers) > maxBatchFiles {
		writeServiceError(w, service.NewValidationError("files", fmt.Sprintf("at most %d files per batch", maxBatchFiles)))
		return
	}

	// unreadable parts stay in the batch so the service reports and counts them
	files := make([]service.UploadFile, 0, len(headers))
	unreadable := 0
	for _, fh := range headers {
		f, err := h.readFile(fh)
		if err != nil {
			f = service.UploadFile{FileName: fh.Filename, ReadErr: err}
			unreadable++
		}
		files = append(files, f)
	}
	if len(files) > 0 && unreadable == len(files) {
		writeServiceError(w, service.NewValidationError("files", "none of the files could be read"))
		return
	}

	result, err := h.uploadSvc.BatchUpload(r.Context(), mux.Vars(r)["examId"], middleware.GetUserID(r.Context()), files)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// Detect handles POST /v1/exams/{examId}/sheets/detect. Nothing is stored.
func (h *UploadHandler) Detect(w http.ResponseWriter, r *http.Request) {
	if err := h.parseForm(w, r, 1); err != nil {
		writeServiceError(w, err)
		return
	}
	headers := r.MultipartForm.File["file"]
	if len(headers) == 0 {
		writeServiceError(w, service.NewValidationError("file", "a file is required"))
		return
	}
	file, err := h.readFile(headers[0])
	if err != nil {
		writeServiceError(w, err)
		return
	}

	result, err := h.uploadSvc.DetectAndMatch(r.Context(), mux.Vars(r)["examId"], middleware.GetUserID(r.Context()), file)
	if err != nil {
		writeServiceError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// parseForm caps the body at files*maxBytes plus room for form overhead
func (h *UploadHandler) parseForm(w http.ResponseWriter, r *http.Request, files int64) error {
	r.Body = http.MaxBytesReader(w, r.Body, files*h.maxBytes+1<<20)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return service.NewValidationError("file", fmt.Sprintf("%s: request exceeds %d bytes", model.FlagSizeTooLarge, tooLarge.Limit))
		}
		return service.NewValidationError("body", "expected a multipart/form-data body")
	}
	return nil
}

func (h *UploadHandler) readFile(fh *multipart.FileHeader) (service.UploadFile, error) {
	f, err := fh.Open()
	if err != nil {
		return service.UploadFile{}, service.NewValidationError("file", fmt.Sprintf("%s: %v", model.FlagCorruptedFile, err))
	}
	defer f.Close()

	// one extra byte lets the service report SIZE_TOO_LARGE
	data, err := io.ReadAll(io.LimitReader(f, h.maxBytes+1))
	if err != nil {
		return service.UploadFile{}, service.NewValidationError("file", fmt.Sprintf("%s: %v", model.FlagCorruptedFile, err))
	}
	return service.UploadFile{FileName: fh.Filename, Data: data}, nil
}
