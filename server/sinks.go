package server

import (
	"context"
	"time"

	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
)

const sinkTimeout = 5 * time.Second

// Sink is told about every stored frame. Errors are logged only.
type Sink interface {
	FrameStored(ctx context.Context, rec frame.Record) error
}

// RecentLister is a durable source of stored frame records.
type RecentLister interface {
	Recent(ctx context.Context, limit int) ([]frame.Record, error)
}

// notify queues rec for the sinks without blocking the upload.
func (s *Server) notify(rec frame.Record) {
	select {
	case s.records <- rec:
	default:
		log.WithField("image", rec.Name).Warn("Sink queue full, record dropped")
	}
}

func (s *Server) runSinks(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case rec := <-s.records:
			for _, sink := range s.sinks {
				sinkCtx, cancel := context.WithTimeout(ctx, sinkTimeout)
				if err := sink.FrameStored(sinkCtx, rec); err != nil {
					log.WithError(err).WithField("image", rec.Name).Warnf("Sink %T failed", sink)
				}
				cancel()
			}
		}
	}
}
