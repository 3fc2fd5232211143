package notify

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"discowatch/pkg/logx"
)

// fakeBotAPI emulates the Bot API just enough for the retry and chunking
// contracts: every sendMessage answers with the next status in sequence
// (the last one repeating).
type fakeBotAPI struct {
	statuses []int
	calls    atomic.Int64
}

func (f *fakeBotAPI) handler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		n := f.calls.Add(1)
		idx := int(n) - 1
		if idx >= len(f.statuses) {
			idx = len(f.statuses) - 1
		}
		status := f.statuses[idx]
		if status == http.StatusOK {
			fmt.Fprint(w, `{"ok":true,"result":{"message_id":1,"chat":{"id":1,"type":"private"},"photo":[{"file_id":"f","file_unique_id":"u","width":1,"height":1}]}}`)
			return
		}
		w.WriteHeader(status)
		fmt.Fprintf(w, `{"ok":false,"error_code":%d,"description":"synthetic failure %d"}`, status, status)
	}
}

func newTestSender(t *testing.T, cfg Config, statuses ...int) (*Sender, *fakeBotAPI) {
	t.Helper()
	api := &fakeBotAPI{statuses: statuses}
	srv := httptest.NewServer(api.handler())
	t.Cleanup(srv.Close)

	cfg.Token = "test-token"
	cfg.APIURL = srv.URL
	if cfg.ChatID == 0 {
		cfg.ChatID = 1
	}
	s, err := New(cfg, logx.Nop())
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	s.sleep = func(context.Context, time.Duration) error { return nil }
	return s, api
}

func TestChunkTextBoundaries(t *testing.T) {
	chunks := chunkText(strings.Repeat("a", 9000), maxChunkRunes)
	want := []int{4096, 4096, 808}
	if len(chunks) != len(want) {
		t.Fatalf("got %d chunks, want %d", len(chunks), len(want))
	}
	for i, n := range want {
		if len([]rune(chunks[i])) != n {
			t.Fatalf("chunk %d has %d runes, want %d", i, len([]rune(chunks[i])), n)
		}
	}

	if got := chunkText("short", maxChunkRunes); len(got) != 1 || got[0] != "short" {
		t.Fatalf("short text must stay a single chunk: %q", got)
	}
}

func TestSendTextDeliversEveryChunk(t *testing.T) {
	s, api := newTestSender(t, Config{}, http.StatusOK)
	if err := s.SendText(context.Background(), strings.Repeat("a", 9000), false); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := api.calls.Load(); got != 3 {
		t.Fatalf("sendMessage called %d times, want 3", got)
	}
}

func TestServerErrorRetriedExactlyThreeTimes(t *testing.T) {
	s, api := newTestSender(t, Config{}, http.StatusServiceUnavailable)
	err := s.SendText(context.Background(), "hello", false)
	if err == nil {
		t.Fatalf("persistent 503 must fail the send")
	}
	if got := api.calls.Load(); got != 3 {
		t.Fatalf("sendMessage called %d times, want exactly 3", got)
	}
}

func TestServerErrorRecoversMidRetry(t *testing.T) {
	s, api := newTestSender(t, Config{},
		http.StatusServiceUnavailable, http.StatusOK)
	if err := s.SendText(context.Background(), "hello", false); err != nil {
		t.Fatalf("send should recover on the second attempt: %v", err)
	}
	if got := api.calls.Load(); got != 2 {
		t.Fatalf("sendMessage called %d times, want 2", got)
	}
}

func TestClientErrorFailsImmediately(t *testing.T) {
	s, api := newTestSender(t, Config{}, http.StatusBadRequest)
	err := s.SendText(context.Background(), "hello", false)
	if err == nil {
		t.Fatalf("400 must fail the send")
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("non-retryable rejection was retried: %d calls", got)
	}
}

func TestUnauthorizedNoticeSentOnce(t *testing.T) {
	s, api := newTestSender(t,
		Config{ChatID: 99, AllowedUserIDs: []int64{42}},
		http.StatusOK)

	if err := s.SendText(context.Background(), "one", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("first rejection must send exactly the notice, got %d calls", got)
	}

	if err := s.SendText(context.Background(), "two", false); !errors.Is(err, ErrUnauthorized) {
		t.Fatalf("err = %v, want ErrUnauthorized", err)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("later rejections must be silent, got %d calls", got)
	}
}

func TestAllowedDestinationPasses(t *testing.T) {
	s, api := newTestSender(t,
		Config{ChatID: 42, AllowedUserIDs: []int64{42}},
		http.StatusOK)
	if err := s.SendText(context.Background(), "hi", false); err != nil {
		t.Fatalf("SendText: %v", err)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("calls = %d, want 1", got)
	}
}

func TestClassifyMedia(t *testing.T) {
	cases := []struct {
		name        string
		contentType string
		filename    string
		want        MediaKind
	}{
		{"png by type", "image/png", "x.bin", MediaPhoto},
		{"jpeg by extension", "", "photo.jpg", MediaPhoto},
		{"gif beats generic image", "image/gif", "anim.gif", MediaAnimation},
		{"gif by extension", "", "anim.gif", MediaAnimation},
		{"mp4", "video/mp4", "clip.mp4", MediaVideo},
		{"ogg is voice", "audio/ogg", "note.ogg", MediaVoice},
		{"mp3 is audio", "audio/mpeg", "song.mp3", MediaAudio},
		{"unknown falls back to document", "application/octet-stream", "data.bin", MediaDocument},
		{"no signals at all", "", "", MediaDocument},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			if got := ClassifyMedia(tc.contentType, tc.filename); got != tc.want {
				t.Fatalf("ClassifyMedia(%q, %q) = %v, want %v", tc.contentType, tc.filename, got, tc.want)
			}
		})
	}
}

func TestSendMediaDownloadFailureNotRetried(t *testing.T) {
	var downloads atomic.Int64
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		downloads.Add(1)
		w.WriteHeader(http.StatusNotFound)
	}))
	t.Cleanup(cdn.Close)

	s, api := newTestSender(t, Config{}, http.StatusOK)
	err := s.SendMedia(context.Background(), cdn.URL+"/gone.png", "caption")
	if err == nil {
		t.Fatalf("vanished attachment must fail the call")
	}
	if got := downloads.Load(); got != 1 {
		t.Fatalf("download attempted %d times, want 1", got)
	}
	if got := api.calls.Load(); got != 0 {
		t.Fatalf("nothing should reach the Bot API after a failed download")
	}
}

func TestSendMediaPostsOnce(t *testing.T) {
	cdn := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "image/png")
		_, _ = w.Write([]byte("not-really-a-png"))
	}))
	t.Cleanup(cdn.Close)

	s, api := newTestSender(t, Config{}, http.StatusOK)
	if err := s.SendMedia(context.Background(), cdn.URL+"/pic.png", "caption"); err != nil {
		t.Fatalf("SendMedia: %v", err)
	}
	if got := api.calls.Load(); got != 1 {
		t.Fatalf("upload posted %d times, want exactly 1", got)
	}
}
