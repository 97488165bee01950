package handlers

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/adi-253/fellowship/internal/format"
	"github.com/adi-253/fellowship/internal/models"
)

// multipartOverhead is allowed on top of the file for form boundaries and fields
const multipartOverhead = 1 << 20

// UploadHandler stores chat and folder attachments on local disk.
type UploadHandler struct {
	dir     string
	maxSize int64
	baseURL string
	log     zerolog.Logger
}

// NewUploadHandler creates an UploadHandler writing into dir. Stored files are
// served under baseURL + "/uploads/".
func NewUploadHandler(dir string, maxSize int64, baseURL string, log zerolog.Logger) *UploadHandler {
	return &UploadHandler{
		dir:     dir,
		maxSize: maxSize,
		baseURL: strings.TrimRight(baseURL, "/"),
		log:     log.With().Str("handler", "uploads").Logger(),
	}
}

// Upload handles POST /api/uploads
// Accepts a multipart form with a "file" field and returns the stored
// attachment.
func (h *UploadHandler) Upload(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxSize+multipartOverhead)

	file, header, err := r.FormFile("file")
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			h.tooLarge(w)
			return
		}
		writeError(w, http.StatusBadRequest, "file is required")
		return
	}
	defer file.Close()

	// Validate file size
	if header.Size > h.maxSize {
		h.tooLarge(w)
		return
	}

	if err := os.MkdirAll(h.dir, 0755); err != nil {
		h.log.Error().Err(err).Msg("Failed to create upload directory")
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	ext := strings.ToLower(filepath.Ext(header.Filename))
	stored := uuid.New().String() + ext
	dst, err := os.Create(filepath.Join(h.dir, stored))
	if err != nil {
		h.log.Error().Err(err).Msg("Failed to create upload file")
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}
	defer dst.Close()

	written, err := io.Copy(dst, file)
	if err != nil {
		h.log.Error().Err(err).Str("file", stored).Msg("Failed to write upload")
		os.Remove(dst.Name())
		writeError(w, http.StatusInternalServerError, "failed to save file")
		return
	}

	contentType := header.Header.Get("Content-Type")
	if contentType == "" {
		contentType = mime.TypeByExtension(ext)
	}
	if contentType == "" {
		contentType = "application/octet-stream"
	}

	h.log.Info().Str("file", stored).Str("size", format.FileSize(written)).Msg("Stored upload")
	writeJSON(w, http.StatusCreated, models.Attachment{
		URL:         h.baseURL + "/uploads/" + stored,
		Name:        filepath.Base(header.Filename),
		Size:        written,
		ContentType: contentType,
	})
}

// Files serves stored uploads under /uploads/. Uploads come from users, so
// they are always downloaded, never rendered by the browser.
func (h *UploadHandler) Files() http.Handler {
	files := http.StripPrefix("/uploads/", http.FileServer(http.Dir(h.dir)))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Content-Type-Options", "nosniff")
		w.Header().Set("Content-Disposition", "attachment")
		w.Header().Set("Content-Security-Policy", "default-src 'none'; sandbox")
		files.ServeHTTP(w, r)
	})
}

func (h *UploadHandler) tooLarge(w http.ResponseWriter) {
	writeError(w, http.StatusRequestEntityTooLarge,
		fmt.Sprintf("file too large, max size is %s", format.FileSize(h.maxSize)))
}
