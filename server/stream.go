package server

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/textproto"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/image/bmp"

	"roverscope.com/camserver/frame"
)

const streamBoundary = "frame"

// serveStream is a multipart MJPEG feed of stored frames, starting with
// the current latest one.
func (s *Server) serveStream(w http.ResponseWriter, r *http.Request) {
	s.setCORSHeaders(w)
	records, cancel := s.hub.Subscribe()
	defer cancel()

	w.Header().Set("Content-Type", "multipart/x-mixed-replace; boundary="+streamBoundary)
	setNoCacheHeaders(w)
	w.WriteHeader(http.StatusOK)

	mw := multipart.NewWriter(w)
	if err := mw.SetBoundary(streamBoundary); err != nil {
		log.WithError(err).Error("Bad stream boundary")
		return
	}
	// the stream outlives the server write timeout
	rc := http.NewResponseController(w)
	if err := rc.SetWriteDeadline(time.Time{}); err != nil && !errors.Is(err, http.ErrNotSupported) {
		log.WithError(err).Warn("Cannot clear stream write deadline")
	}
	rc.Flush()

	var last string
	send := func(name string) bool {
		if name == last {
			return true
		}
		last = name
		img, err := s.frameImage(name)
		if err != nil {
			log.WithError(err).WithField("image", name).Warn("Cannot load frame for stream")
			return true
		}
		if img.Bounds().Empty() {
			return true
		}
		if err := writeJPEGFrame(mw, img, s.opts.JPEGQuality); err != nil {
			log.WithError(err).Debug("Stream viewer gone")
			return false
		}
		rc.Flush()
		return true
	}

	if name, ok := s.latest.GetLatest(); ok && !send(name) {
		return
	}
	for {
		select {
		case <-r.Context().Done():
			return
		case <-s.hub.done:
			return
		case rec := <-records:
			if !send(rec.Name) {
				return
			}
		}
	}
}

// rasterCache holds the raster of the newest stored frame so live viewers
// do not read back the file that was just written.
type rasterCache struct {
	mu     sync.Mutex
	name   string
	raster frame.Raster
}

// put keeps r unless a later frame is already cached.
func (c *rasterCache) put(name string, r frame.Raster) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if len(name) < len(c.name) || len(name) == len(c.name) && name < c.name {
		return
	}
	c.name, c.raster = name, r
}

func (c *rasterCache) get(name string) (frame.Raster, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.raster, c.name == name && name != ""
}

// frameImage renders name from the cached raster when it is the newest
// frame, otherwise from the stored bitmap.
func (s *Server) frameImage(name string) (image.Image, error) {
	if r, ok := s.rasters.get(name); ok {
		return r.Image(s.opts.MirrorRows), nil
	}
	return s.loadFrame(name)
}

func (s *Server) loadFrame(name string) (image.Image, error) {
	f, err := s.store.Open(name)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return bmp.Decode(f)
}

func writeJPEGFrame(mw *multipart.Writer, img image.Image, quality int) error {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: quality}); err != nil {
		return err
	}

	header := textproto.MIMEHeader{}
	header.Set("Content-Type", "image/jpeg")
	header.Set("Content-Length", fmt.Sprintf("%d", buf.Len()))

	part, err := mw.CreatePart(header)
	if err != nil {
		return err
	}
	_, err = part.Write(buf.Bytes())
	return err
}
