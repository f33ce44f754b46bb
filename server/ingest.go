package server

import (
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/bitmap"
	"roverscope.com/camserver/frame"
)

const (
	headerDeviceIP = "X-Device-IP"
	headerSequence = "X-Image-Sequence"
	headerRequest  = "X-Request-ID"
)

// handleUpload stores one RGB565 envelope as the next NNNN.bmp.
//
// Example usage:
//
//	curl -X POST -H "Content-Type: application/octet-stream" \
//	  --data-binary @frame.raw http://localhost:8000/upload
func (s *Server) handleUpload(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	requestID := uuid.NewString()
	w.Header().Set(headerRequest, requestID)
	logger := log.WithFields(log.Fields{
		"request_id": requestID,
		"device":     r.Header.Get(headerDeviceIP),
		"sequence":   r.Header.Get(headerSequence),
	})

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, s.opts.MaxBodyBytes))
	if err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			logger.WithField("limit", tooLarge.Limit).Warn("Frame body too large")
			w.WriteHeader(http.StatusRequestEntityTooLarge)
			return
		}
		logger.WithError(err).Warn("Failed to read frame body")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	f, err := frame.Decode(body)
	if err != nil {
		logger.WithError(err).Warn("Rejected frame")
		w.WriteHeader(http.StatusBadRequest)
		return
	}

	raster := frame.ConvertRGB565(f)
	data := bitmap.EncodeWith(int(f.Width), int(f.Height), raster.Data, bitmap.Options{MirrorRows: s.opts.MirrorRows})

	staged, err := s.store.Stage(data)
	if err != nil {
		logger.WithError(err).Error("Cannot store frame")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}
	name, err := s.latest.Publish(func(name string) error {
		return s.store.Commit(staged, name)
	})
	if err != nil {
		s.store.Discard(staged)
		logger.WithError(err).Error("Cannot store frame")
		w.WriteHeader(http.StatusInternalServerError)
		return
	}

	rec := frame.Record{
		Name:         name,
		DeviceID:     r.Header.Get(headerDeviceIP),
		SequenceHint: r.Header.Get(headerSequence),
		Width:        f.Width,
		Height:       f.Height,
		Size:         len(data),
		RequestID:    requestID,
		StoredAt:     time.Now().UTC(),
	}
	s.rasters.put(name, raster)
	s.history.Add(rec)
	s.notify(rec)
	logger.WithFields(log.Fields{
		"image":  name,
		"width":  f.Width,
		"height": f.Height,
	}).Info("Frame stored")
	w.WriteHeader(http.StatusOK)
}
