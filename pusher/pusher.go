// Package pusher sends frames to a camserver the way the camera device does.
package pusher

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"
	"time"

	"roverscope.com/camserver/frame"
)

var ErrRejected = errors.New("frame rejected by server")

// Uploader posts frame envelopes to <server>/upload.
type Uploader struct {
	endpoint string
	deviceID string
	client   *http.Client
}

func NewUploader(serverURL, deviceID string, timeout time.Duration) *Uploader {
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	return &Uploader{
		endpoint: strings.TrimRight(serverURL, "/") + "/upload",
		deviceID: deviceID,
		client:   &http.Client{Timeout: timeout},
	}
}

// Upload sends f with seq as the advisory sequence number.
func (u *Uploader) Upload(ctx context.Context, f frame.Frame, seq int) error {
	return u.UploadEnvelope(ctx, f.Encode(), seq)
}

// UploadEnvelope sends an already encoded envelope as is.
func (u *Uploader) UploadEnvelope(ctx context.Context, envelope []byte, seq int) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, u.endpoint, bytes.NewReader(envelope))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/octet-stream")
	req.Header.Set("X-Image-Sequence", strconv.Itoa(seq))
	if u.deviceID != "" {
		req.Header.Set("X-Device-IP", u.deviceID)
	}
	resp, err := u.client.Do(req)
	if err != nil {
		return fmt.Errorf("upload failed: %w", err)
	}
	defer resp.Body.Close()
	io.Copy(io.Discard, resp.Body)
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("%w: %s", ErrRejected, resp.Status)
	}
	return nil
}
