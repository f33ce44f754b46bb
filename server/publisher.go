package server

import (
	"errors"
	"os"
	"sync"

	"roverscope.com/camserver/storage"
)

// LatestFramePublisher holds the name of the newest stored frame and the
// sequence number the next frame will get. Both change together under mu.
type LatestFramePublisher struct {
	mu     sync.Mutex
	latest string
	set    bool
	next   int
}

func NewLatestFramePublisher(first int) *LatestFramePublisher {
	if first < 1 {
		first = 1
	}
	return &LatestFramePublisher{next: first}
}

func (p *LatestFramePublisher) GetLatest() (string, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.latest, p.set
}

func (p *LatestFramePublisher) SetLatest(name string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.latest = name
	p.set = true
}

// maxTakenNames bounds how many names already present on disk one
// Publish call skips.
const maxTakenNames = 16

// Publish names the next frame and calls commit with that name while
// holding the lock. On success the name becomes the latest frame and the
// counter advances. A name that is already taken is skipped for good and
// the next one is tried. Any other failure changes nothing.
func (p *LatestFramePublisher) Publish(commit func(name string) error) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	var err error
	for range maxTakenNames {
		name := storage.FileName(p.next)
		err = commit(name)
		if err == nil {
			p.latest = name
			p.set = true
			p.next++
			return name, nil
		}
		if !errors.Is(err, os.ErrExist) {
			return "", err
		}
		p.next++
	}
	return "", err
}

// Next is the sequence number the next published frame will get.
func (p *LatestFramePublisher) Next() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.next
}
