package server

import (
	"errors"
	"io"
	"net/http"
	"slices"
	"strconv"

	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
	"roverscope.com/camserver/storage"
)

// handleLatest answers {"image_name": "NNNN.bmp"}, or {} before the first frame.
func (s *Server) handleLatest(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	setNoCacheHeaders(w)
	resp := map[string]string{}
	if name, ok := s.latest.GetLatest(); ok {
		resp["image_name"] = name
	}
	writeJSON(w, resp)
}

func (s *Server) handleFrame(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	name := r.PathValue("name")
	f, err := s.store.Open(name)
	if err != nil {
		switch {
		case errors.Is(err, storage.ErrInvalidName):
			log.WithField("name", name).Warn("Rejected frame name")
		case errors.Is(err, storage.ErrNotFound):
		default:
			log.WithError(err).WithField("name", name).Error("Cannot open frame")
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	setNoCacheHeaders(w)
	w.Header().Set("Content-Type", "image/bmp")
	if info, err := f.Stat(); err == nil {
		w.Header().Set("Content-Length", strconv.FormatInt(info.Size(), 10))
	}
	w.WriteHeader(http.StatusOK)
	if _, err := io.Copy(w, f); err != nil {
		log.WithError(err).WithField("name", name).Warn("Error streaming frame")
	}
}

// handleHistory lists recent frames, oldest first.
func (s *Server) handleHistory(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	setNoCacheHeaders(w)
	limit := len(s.history.records)
	if v := r.URL.Query().Get("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = n
	}

	if r.URL.Query().Get("source") == "catalog" {
		if s.opts.Catalog == nil {
			http.Error(w, "catalog not configured", http.StatusNotFound)
			return
		}
		records, err := s.opts.Catalog.Recent(r.Context(), limit)
		if err != nil {
			log.WithError(err).Error("Catalog query failed")
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		// Recent is newest first.
		slices.Reverse(records)
		writeJSON(w, append([]frame.Record{}, records...))
		return
	}

	records := s.history.GetAll()
	if len(records) > limit {
		records = records[len(records)-limit:]
	}
	writeJSON(w, append([]frame.Record{}, records...))
}
