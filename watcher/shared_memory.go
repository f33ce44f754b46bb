// Package watcher picks up frames that a capture process drops into a
// shared memory directory.
package watcher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	log "github.com/sirupsen/logrus"

	"roverscope.com/camserver/frame"
)

const DefaultShmDir = "/dev/shm"

var ErrNoFrame = errors.New("no valid shared memory file found")

// SharedMemoryReceiver watches one file holding a frame envelope and
// emits every new frame written to it.
type SharedMemoryReceiver struct {
	shmPath string
	watcher *fsnotify.Watcher
	Frames  chan frame.Frame

	mu        sync.Mutex
	actualFps float64
}

func NewSharedMemoryReceiver(dir, name string) (*SharedMemoryReceiver, error) {
	if dir == "" {
		dir = DefaultShmDir
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	// Watch the directory so the file can be replaced by rename.
	if err := watcher.Add(dir); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("cannot watch %s: %w", dir, err)
	}
	return &SharedMemoryReceiver{
		shmPath: filepath.Join(dir, name),
		watcher: watcher,
		Frames:  make(chan frame.Frame, 10),
	}, nil
}

func (smr *SharedMemoryReceiver) Path() string {
	return smr.shmPath
}

// ReadFrameFromShm reads and decodes the current frame file.
func (smr *SharedMemoryReceiver) ReadFrameFromShm() (frame.Frame, error) {
	data, err := os.ReadFile(smr.shmPath)
	if errors.Is(err, os.ErrNotExist) {
		return frame.Frame{}, ErrNoFrame
	}
	if err != nil {
		return frame.Frame{}, err
	}
	return frame.Decode(data)
}

func (smr *SharedMemoryReceiver) ActualFps() float64 {
	smr.mu.Lock()
	defer smr.mu.Unlock()
	return smr.actualFps
}

func (smr *SharedMemoryReceiver) logStats(f frame.Frame) {
	log.WithFields(log.Fields{
		"fps":    fmt.Sprintf("%.1f", smr.ActualFps()),
		"width":  f.Width,
		"height": f.Height,
		"bytes":  len(f.Data),
	}).Debug("New frame received")
}

// WatchSharedMemory runs until ctx is done or the watcher is closed.
func (smr *SharedMemoryReceiver) WatchSharedMemory(ctx context.Context) {
	log.WithField("path", smr.shmPath).Info("Starting shared memory watcher")
	var lastFrameData []byte
	startTime := time.Now()
	frameCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-smr.watcher.Events:
			if !ok {
				return
			}
			if event.Name != smr.shmPath || !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
				continue
			}
			f, err := smr.ReadFrameFromShm()
			if err != nil {
				// a writer may still be mid-frame; the next event retries
				log.WithError(err).Debug("Error reading frame from shared memory")
				continue
			}
			// skip the same event triggered twice
			if bytes.Equal(f.Data, lastFrameData) && lastFrameData != nil {
				continue
			}
			lastFrameData = f.Data
			frameCount++
			if elapsed := time.Since(startTime); elapsed > time.Second {
				smr.mu.Lock()
				smr.actualFps = float64(frameCount) / elapsed.Seconds()
				smr.mu.Unlock()
				frameCount = 0
				startTime = time.Now()
			}
			smr.logStats(f)
			select {
			case smr.Frames <- f:
			case <-ctx.Done():
				return
			}
		case err, ok := <-smr.watcher.Errors:
			if !ok {
				return
			}
			log.WithError(err).Warn("Watcher error")
		}
	}
}

func (smr *SharedMemoryReceiver) Close() {
	if smr.watcher != nil {
		smr.watcher.Close()
	}
}
