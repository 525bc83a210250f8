package api

import (
	"io"
	"net/http"
	"path/filepath"
	"strings"

	"github.com/starford/ansuz/internal/router"
)

const maxUploadBytes = 50 << 20 // 50 MB

// Transcribe handles POST /api/transcriptions (multipart/form-data, file
// field "audio", optional text field "fileExtension"). The extension falls
// back to the uploaded file name's.
//
//	@Summary		Transcribe an audio recording
//	@Tags			operations
//	@Accept			multipart/form-data
//	@Produce		json
//	@Param			audio			formData	file	true	"Audio recording"
//	@Param			fileExtension	formData	string	false	"Audio format, e.g. webm"
//	@Success		200				{object}	TranscriptionResponse
//	@Failure		400				{object}	errResponse
//	@Failure		502				{object}	errResponse
//	@Security		BearerAuth
//	@Router			/transcriptions [post]
func (h *Handler) Transcribe(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxUploadBytes)

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("file too large or invalid multipart"))
		return
	}

	file, header, err := r.FormFile("audio")
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("missing 'audio' field in multipart form"))
		return
	}
	defer file.Close()

	audio, err := io.ReadAll(file)
	if err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody("failed to read audio"))
		return
	}

	ext := r.FormValue("fileExtension")
	if ext == "" {
		ext = strings.TrimPrefix(filepath.Ext(header.Filename), ".")
	}

	res, err := h.run(r.Context(), router.OpTranscription, router.Request{Audio: audio, FileExtension: ext}, h.routing.Routing())
	if err != nil {
		writeOperationError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, TranscriptionResponse{Transcript: res.Text})
}
