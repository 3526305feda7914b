package web

import (
	"fmt"
	"io"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/gfranca/notastream/internal/process"
	"github.com/gfranca/notastream/internal/receipt"
)

// handleSubmitBatch accepts a multipart batch of PDF documents and starts
// processing. The response carries the batch ID used to open the event
// channel.
func (s *Server) handleSubmitBatch(w http.ResponseWriter, r *http.Request) {
	maxSize := s.cfg.Upload.MaxFileSize
	r.Body = http.MaxBytesReader(w, r.Body, maxSize*int64(s.cfg.Upload.MaxFilesPerBatch))

	if err := r.ParseMultipartForm(maxSize); err != nil {
		writeError(w, r, http.StatusBadRequest, "batch too large or invalid form")
		return
	}

	headers := r.MultipartForm.File["files"]
	if len(headers) == 0 {
		writeError(w, r, http.StatusBadRequest, "no files provided")
		return
	}
	if len(headers) > s.cfg.Upload.MaxFilesPerBatch {
		writeError(w, r, http.StatusBadRequest,
			fmt.Sprintf("batch exceeds %d files", s.cfg.Upload.MaxFilesPerBatch))
		return
	}

	files := make([]process.UploadedFile, 0, len(headers))
	for _, header := range headers {
		f, err := header.Open()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unreadable file in batch")
			return
		}
		data, err := io.ReadAll(f)
		f.Close()
		if err != nil {
			writeError(w, r, http.StatusBadRequest, "unreadable file in batch")
			return
		}
		files = append(files, process.UploadedFile{Name: header.Filename, Data: data})
	}

	batchID, err := s.service.StartBatch(r.Context(), files)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, err.Error())
		return
	}

	writeJSON(w, map[string]string{"batchId": batchID})
}

// handleBatchEvents streams a batch's upsert events via server-sent events.
// Each frame carries one wire envelope; an `end` frame closes the channel
// when the batch completes.
func (s *Server) handleBatchEvents(w http.ResponseWriter, r *http.Request) {
	batchID := chi.URLParam(r, "batchID")
	if batchID == "" {
		writeError(w, r, http.StatusBadRequest, "missing batch ID")
		return
	}

	events, err := s.service.Subscribe(batchID)
	if err != nil {
		writeError(w, r, http.StatusNotFound, err.Error())
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")

	flusher, ok := w.(http.Flusher)
	if !ok {
		writeError(w, r, http.StatusInternalServerError, "streaming not supported")
		return
	}
	flusher.Flush()

	for {
		select {
		case ev, ok := <-events:
			if !ok {
				fmt.Fprint(w, "event: end\ndata: {}\n\n")
				flusher.Flush()
				return
			}
			frame, err := receipt.EncodeEvent(ev)
			if err != nil {
				// Should not happen for events the service emits.
				continue
			}
			fmt.Fprintf(w, "event: update\ndata: %s\n\n", frame)
			flusher.Flush()

		case <-r.Context().Done():
			return
		}
	}
}
