package api

import (
	"bytes"
	"encoding/json"
	"net/http"
)

type uploadResponse struct {
	Success     bool   `json:"success"`
	FileID      string `json:"fileId"`
	Digest      string `json:"digest"`
	IsDuplicate bool   `json:"isDuplicate"`
	Message     string `json:"message"`
}

type statsResponse struct {
	UniqueFiles    int     `json:"uniqueFiles"`
	TotalSizeBytes uint64  `json:"totalSizeBytes"`
	TotalSizeMB    float64 `json:"totalSizeMB"`
	TotalUploads   uint64  `json:"totalUploads"`
}

type cleanupResponse struct {
	Success        bool   `json:"success"`
	Message        string `json:"message"`
	Deleted        int    `json:"deleted"`
	RemainingFiles int    `json:"remainingFiles"`
}

type errorResponse struct {
	Success bool   `json:"success"`
	Error   string `json:"error"`
}

// writeJSON encodes data before writing headers so encoding failures can
// still produce a 500.
func (h *handler) writeJSON(w http.ResponseWriter, status int, data any) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(data); err != nil {
		h.log.Error().Err(err).Msg("failed to encode response")
		http.Error(w, `{"success":false,"error":"failed to encode response"}`, http.StatusInternalServerError)
		return
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}

func (h *handler) writeError(w http.ResponseWriter, status int, msg string) {
	h.writeJSON(w, status, errorResponse{Success: false, Error: msg})
}
