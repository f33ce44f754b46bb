package server

import (
	"context"
	"encoding/json"
	"image/color"
	"image/jpeg"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"roverscope.com/camserver/frame"
)

func readImageName(t *testing.T, conn *websocket.Conn) string {
	t.Helper()
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, message, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("Failed to read websocket message: %v", err)
	}
	var got map[string]string
	if err := json.Unmarshal(message, &got); err != nil {
		t.Fatalf("Invalid message %s: %v", message, err)
	}
	return got["image_name"]
}

func TestWebSocketReceivesNewFrames(t *testing.T) {
	ts := newTestServer(t, Options{})
	upload(t, ts.URL, testFrame(2, 2))

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if name := readImageName(t, conn); name != "0001.bmp" {
		t.Fatalf("Expected current latest first, got %q", name)
	}

	upload(t, ts.URL, testFrame(2, 2))
	// the broadcast for 0001 may still be in flight
	for {
		name := readImageName(t, conn)
		if name == "0002.bmp" {
			break
		}
		if name != "0001.bmp" {
			t.Fatalf("Unexpected frame name %q", name)
		}
	}
}

func TestHubSubscribe(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	records, unsubscribe := hub.Subscribe()
	rec := testRecord("0005.bmp")
	if err := hub.FrameStored(ctx, rec); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-records:
		if got.Name != rec.Name {
			t.Errorf("Expected %s, got %s", rec.Name, got.Name)
		}
	case <-time.After(time.Second):
		t.Fatal("Timeout waiting for record")
	}

	unsubscribe()
	if err := hub.FrameStored(ctx, testRecord("0006.bmp")); err != nil {
		t.Fatal(err)
	}
	select {
	case got := <-records:
		t.Errorf("Unsubscribed channel received %s", got.Name)
	case <-time.After(50 * time.Millisecond):
	}
}

func TestHubStopsWithContext(t *testing.T) {
	hub := NewHub(nil)
	ctx, cancel := context.WithCancel(context.Background())
	go hub.Run(ctx)
	cancel()
	select {
	case <-hub.done:
	case <-time.After(time.Second):
		t.Fatal("Hub did not stop")
	}
	if err := hub.FrameStored(context.Background(), testRecord("0001.bmp")); err != nil {
		t.Errorf("Expected a stopped hub to drop records quietly, got %v", err)
	}
}

func TestStreamServesLatestAsJPEG(t *testing.T) {
	ts := newTestServer(t, Options{JPEGQuality: 90})
	upload(t, ts.URL, testFrame(8, 6))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, _ := http.NewRequestWithContext(ctx, http.MethodGet, ts.URL+"/stream", nil)
	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatal(err)
	}
	defer resp.Body.Close()
	if ct := resp.Header.Get("Content-Type"); ct != "multipart/x-mixed-replace; boundary=frame" {
		t.Fatalf("Unexpected content type %q", ct)
	}

	mr := multipart.NewReader(resp.Body, "frame")
	part, err := mr.NextPart()
	if err != nil {
		t.Fatal(err)
	}
	if part.Header.Get("Content-Type") != "image/jpeg" {
		t.Errorf("Expected image/jpeg part, got %q", part.Header.Get("Content-Type"))
	}
	img, err := jpeg.Decode(part)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 8 || b.Dy() != 6 {
		t.Errorf("Expected 8x6 image, got %v", b)
	}

	upload(t, ts.URL, testFrame(4, 2))
	part, err = mr.NextPart()
	if err != nil {
		t.Fatal(err)
	}
	img, err = jpeg.Decode(part)
	if err != nil {
		t.Fatal(err)
	}
	if b := img.Bounds(); b.Dx() != 4 || b.Dy() != 2 {
		t.Errorf("Expected 4x2 image, got %v", b)
	}
}

func TestStreamImageMatchesStoredFrame(t *testing.T) {
	for _, mirror := range []bool{true, false} {
		ts := newTestServer(t, Options{MirrorRows: mirror})
		upload(t, ts.URL, testFrame(5, 3))
		name, _ := ts.Latest().GetLatest()

		if _, ok := ts.rasters.get(name); !ok {
			t.Fatalf("Expected %s to be cached", name)
		}
		cached, err := ts.frameImage(name)
		if err != nil {
			t.Fatal(err)
		}
		stored, err := ts.loadFrame(name)
		if err != nil {
			t.Fatal(err)
		}
		for y := 0; y < 3; y++ {
			for x := 0; x < 5; x++ {
				want := color.RGBAModel.Convert(stored.At(x, y))
				if got := color.RGBAModel.Convert(cached.At(x, y)); got != want {
					t.Errorf("mirror=%v (%d,%d): expected %v, got %v", mirror, x, y, want, got)
				}
			}
		}
	}
}

func TestRasterCacheKeepsNewest(t *testing.T) {
	var c rasterCache
	c.put("0002.bmp", frame.Raster{Width: 2})
	c.put("0001.bmp", frame.Raster{Width: 1})
	if _, ok := c.get("0001.bmp"); ok {
		t.Error("An older frame replaced the cached one")
	}
	c.put("10000.bmp", frame.Raster{Width: 3})
	if r, ok := c.get("10000.bmp"); !ok || r.Width != 3 {
		t.Errorf("Expected 10000.bmp to be cached, got %+v", r)
	}
}

func TestHubSendsLatestAfterRegistration(t *testing.T) {
	var hub *Hub
	hub = NewHub(func() string {
		// runs in the hub goroutine, so the client set can be read
		if len(hub.clients) == 0 {
			t.Error("Latest frame read before the viewer was registered")
		}
		return "0003.bmp"
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go hub.Run(ctx)

	ts := httptest.NewServer(http.HandlerFunc(hub.ServeWS))
	defer ts.Close()
	conn, _, err := websocket.DefaultDialer.Dial("ws"+strings.TrimPrefix(ts.URL, "http"), nil)
	if err != nil {
		t.Fatal(err)
	}
	defer conn.Close()

	if name := readImageName(t, conn); name != "0003.bmp" {
		t.Fatalf("Expected 0003.bmp first, got %q", name)
	}
	if err := hub.FrameStored(ctx, testRecord("0004.bmp")); err != nil {
		t.Fatal(err)
	}
	if name := readImageName(t, conn); name != "0004.bmp" {
		t.Errorf("Expected 0004.bmp, got %q", name)
	}
}
