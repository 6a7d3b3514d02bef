package api

import (
	"context"
	"errors"
	"fmt"
	"io"
	"math"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/aweris/imgcas"
	"github.com/aweris/imgcas/internal/hasher"
	"github.com/dustin/go-humanize"
	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog"
)

const (
	msgStored    = "File uploaded successfully"
	msgDuplicate = "File uploaded successfully (duplicate detected - storage reused)"
)

type handler struct {
	store   Store
	sweeper Sweeper
	cfg     Config
	log     zerolog.Logger
}

func (h *handler) health(w http.ResponseWriter, _ *http.Request) {
	h.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (h *handler) upload(w http.ResponseWriter, r *http.Request) {
	if h.cfg.MaxObjectSize > 0 {
		r.Body = http.MaxBytesReader(w, r.Body, int64(h.cfg.MaxObjectSize)+multipartSlack)
	}

	part, err := filePart(r)
	if err != nil {
		h.uploadError(w, err)
		return
	}
	defer part.Close()

	res, err := h.store.Store(r.Context(), part, part.FileName(), part.Header.Get("Content-Type"))
	if err != nil {
		h.uploadError(w, err)
		return
	}

	msg := msgStored
	if res.Duplicate() {
		msg = msgDuplicate
	}
	h.writeJSON(w, http.StatusOK, uploadResponse{
		Success:     true,
		FileID:      res.LogicalID,
		Digest:      res.Digest,
		IsDuplicate: res.Duplicate(),
		Message:     msg,
	})
}

var errNoFile = errors.New("no file provided")

// filePart returns the first multipart part named "file" without buffering
// the body.
func filePart(r *http.Request) (*multipart.Part, error) {
	mr, err := r.MultipartReader()
	if err != nil {
		return nil, fmt.Errorf("%w: %w", errNoFile, err)
	}
	for {
		part, err := mr.NextPart()
		if errors.Is(err, io.EOF) {
			return nil, errNoFile
		}
		if err != nil {
			return nil, err
		}
		if part.FormName() == "file" {
			return part, nil
		}
		_ = part.Close()
	}
}

func (h *handler) uploadError(w http.ResponseWriter, err error) {
	var verr *imgcas.ValidationError
	var maxErr *http.MaxBytesError
	switch {
	case errors.As(err, &verr):
		h.writeError(w, http.StatusBadRequest, verr.Reason)
	case errors.As(err, &maxErr):
		h.writeError(w, http.StatusBadRequest, fmt.Sprintf("file size exceeds %s limit", humanize.IBytes(h.cfg.MaxObjectSize)))
	case errors.Is(err, errNoFile):
		h.writeError(w, http.StatusBadRequest, errNoFile.Error())
	default:
		h.log.Error().Err(err).Msg("upload failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
	}
}

func (h *handler) stats(w http.ResponseWriter, _ *http.Request) {
	s := h.store.Stats()
	h.writeJSON(w, http.StatusOK, statsResponse{
		UniqueFiles:    s.UniqueObjects,
		TotalSizeBytes: s.TotalBytes,
		TotalSizeMB:    math.Round(float64(s.TotalBytes)/(1<<20)*100) / 100,
		TotalUploads:   s.TotalUploads,
	})
}

func (h *handler) cleanup(w http.ResponseWriter, r *http.Request) {
	// A started sweep runs to completion even if the client goes away.
	deleted := h.sweeper.RunSweep(context.WithoutCancel(r.Context()), h.cfg.Clock(), h.cfg.RetentionWindow)
	h.writeJSON(w, http.StatusOK, cleanupResponse{
		Success:        true,
		Message:        "Cleanup completed",
		Deleted:        deleted,
		RemainingFiles: h.store.Stats().UniqueObjects,
	})
}

func (h *handler) getObject(w http.ResponseWriter, r *http.Request) {
	digest, ok := h.digestParam(w, r)
	if !ok {
		return
	}
	rec, found := h.store.Get(digest)
	if !found {
		h.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	h.writeJSON(w, http.StatusOK, rec)
}

func (h *handler) getContent(w http.ResponseWriter, r *http.Request) {
	digest, ok := h.digestParam(w, r)
	if !ok {
		return
	}
	rc, rec, err := h.store.Open(digest)
	if errors.Is(err, imgcas.ErrNotFound) {
		h.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	if err != nil {
		h.log.Error().Err(err).Str("digest", digest).Msg("open object failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	defer rc.Close()

	w.Header().Set("Content-Type", rec.MimeType)
	w.Header().Set("Content-Length", strconv.FormatUint(rec.SizeBytes, 10))
	w.Header().Set("ETag", `"`+rec.Digest+`"`)
	w.Header().Set("Cache-Control", "public, max-age=31536000, immutable")
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, rc); err != nil {
		h.log.Warn().Err(err).Str("digest", digest).Msg("content write interrupted")
	}
}

func (h *handler) deleteObject(w http.ResponseWriter, r *http.Request) {
	digest, ok := h.digestParam(w, r)
	if !ok {
		return
	}
	deleted, err := h.store.Delete(r.Context(), digest)
	if err != nil {
		h.log.Error().Err(err).Str("digest", digest).Msg("delete failed")
		h.writeError(w, http.StatusInternalServerError, "Internal server error")
		return
	}
	if !deleted {
		h.writeError(w, http.StatusNotFound, "object not found")
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *handler) digestParam(w http.ResponseWriter, r *http.Request) (string, bool) {
	digest := chi.URLParam(r, "digest")
	if !hasher.Valid(digest) {
		h.writeError(w, http.StatusBadRequest, "invalid digest")
		return "", false
	}
	return digest, true
}
