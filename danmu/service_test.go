package danmu

import (
	"context"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/streamrec/core/model"
)

type testProtocol struct {
	stubProtocol
	url        string
	sawRoomID  atomic.Value
	decodeFunc func(raw []byte) ([]Message, []byte, error)
}

func (p *testProtocol) WebSocketURL(ctx context.Context, roomID string) (string, error) {
	p.sawRoomID.Store(roomID)
	return p.url, nil
}

func (p *testProtocol) DecodeMessage(raw []byte, roomID string) ([]Message, []byte, error) {
	if p.decodeFunc != nil {
		return p.decodeFunc(raw)
	}
	return []Message{{Text: string(raw)}}, nil, nil
}

var _ Protocol = (*testProtocol)(nil)

var upgrader = websocket.Upgrader{}

func TestServiceStartCapturesOneMessageThenFinalizes(t *testing.T) {
	sent := make(chan struct{})
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		_ = conn.WriteMessage(websocket.BinaryMessage, []byte("chat line"))
		close(sent)
		// hold the connection open until the client tears it down
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	wsURL := "ws" + strings.TrimPrefix(srv.URL, "http")
	proto := &testProtocol{
		stubProtocol: stubProtocol{platform: "test", prefix: "https://test.invalid/"},
		url:          wsURL,
	}

	reg := NewRegistry()
	reg.Register("test", proto)

	svc := NewService(reg)
	svc.DialTimeout = time.Second

	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "stream_001.flv")

	h, err := svc.Start(context.Background(), model.StreamInfo{URL: "https://test.invalid/room1"}, model.DanmuConfig{Enabled: true, SampleEveryN: 1}, segmentPath)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	select {
	case <-sent:
	case <-time.After(2 * time.Second):
		t.Fatal("server never sent its message")
	}
	// give the client a moment to decode and flush before finalizing
	time.Sleep(50 * time.Millisecond)

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()
	if err := h.Finalize(ctx); err != nil {
		t.Fatalf("Finalize: %v", err)
	}

	data, err := os.ReadFile(filepath.Join(dir, "stream_001.xml"))
	if err != nil {
		t.Fatalf("reading xml sidecar: %v", err)
	}
	if !strings.Contains(string(data), "chat line") {
		t.Fatalf("expected the captured message in the sidecar, got: %s", data)
	}
	if room := proto.sawRoomID.Load(); room != "room1" {
		t.Fatalf("expected room id room1, got %v", room)
	}
}

func TestServiceStartFailsForUnregisteredPlatform(t *testing.T) {
	reg := NewRegistry()
	svc := NewService(reg)

	_, err := svc.Start(context.Background(), model.StreamInfo{URL: "https://nowhere.invalid/x"}, model.DanmuConfig{Enabled: true}, "/tmp/seg.flv")
	if err == nil {
		t.Fatal("expected an error when no protocol is registered for the url")
	}
}

func TestCaptureLoopGivesUpAfterMaxReconnectAttempts(t *testing.T) {
	proto := &testProtocol{
		stubProtocol: stubProtocol{platform: "test", prefix: "https://test.invalid/"},
		url:          "ws://127.0.0.1:1/unreachable",
	}
	reg := NewRegistry()
	reg.Register("test", proto)

	svc := NewService(reg)
	svc.DialTimeout = 20 * time.Millisecond
	svc.Reconnect = model.RetryConfig{
		MaxRetries:        2,
		InitialDelay:      time.Millisecond,
		MaxDelay:          5 * time.Millisecond,
		BackoffMultiplier: 2,
	}

	dir := t.TempDir()
	segmentPath := filepath.Join(dir, "stream_002.flv")

	h, err := svc.Start(context.Background(), model.StreamInfo{URL: "https://test.invalid/room2"}, model.DanmuConfig{Enabled: true, SampleEveryN: 1}, segmentPath)
	if err != nil {
		t.Fatalf("Start: %v", err)
	}

	// Wait for the reconnect loop to exhaust its attempts on its own,
	// rather than cancelling it via Finalize, so the give-up error
	// actually has a chance to occur before the context is torn down.
	hd := h.(*handle)
	select {
	case <-hd.done:
	case <-time.After(5 * time.Second):
		t.Fatal("capture loop never gave up on the unreachable endpoint")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()
	if err := h.Finalize(ctx); err == nil {
		t.Fatal("expected Finalize to surface the exhausted-reconnect-attempts error")
	}
}
