package transfer

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/mediaget/media-downloader/internal/fsutil"
	"github.com/mediaget/media-downloader/internal/model"
)

func testEngine() *Engine {
	return NewEngine(nil, Options{
		ProgressInterval:  time.Millisecond,
		ProgressByteDelta: 1,
		StallTimeout:      5 * time.Second,
	})
}

// rangeHandler serves body honoring Range requests
func rangeHandler(body string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		rng := r.Header.Get("Range")
		if rng == "" {
			w.Header().Set("Content-Length", fmt.Sprint(len(body)))
			w.WriteHeader(http.StatusOK)
			io.WriteString(w, body)
			return
		}
		var offset int
		fmt.Sscanf(rng, "bytes=%d-", &offset)
		if offset >= len(body) {
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		w.Header().Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", offset, len(body)-1, len(body)))
		w.Header().Set("Content-Length", fmt.Sprint(len(body)-offset))
		w.WriteHeader(http.StatusPartialContent)
		io.WriteString(w, body[offset:])
	}
}

func TestTransferCompletes(t *testing.T) {
	body := strings.Repeat("abcdefgh", 1024)
	server := httptest.NewServer(rangeHandler(body))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	var mu sync.Mutex
	var updates int
	var lastBytes int64

	engine := testEngine()
	result, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
		Sink: func(downloaded, total int64, speed float64) {
			mu.Lock()
			updates++
			lastBytes = downloaded
			mu.Unlock()
		},
	})
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if result.Outcome != OutcomeCompleted {
		t.Errorf("Expected OutcomeCompleted, got %v", result.Outcome)
	}
	if result.BytesDownloaded != int64(len(body)) {
		t.Errorf("Expected %d bytes, got %d", len(body), result.BytesDownloaded)
	}
	if result.FinalPath != dest {
		t.Errorf("Expected final path %s, got %s", dest, result.FinalPath)
	}

	data, err := os.ReadFile(dest)
	if err != nil {
		t.Fatalf("Final file missing: %v", err)
	}
	if string(data) != body {
		t.Error("Final file content does not match the source")
	}

	if _, err := os.Stat(fsutil.StagingPath(dest)); !errors.Is(err, os.ErrNotExist) {
		t.Error("Staging file should be gone after completion")
	}

	mu.Lock()
	defer mu.Unlock()
	if updates == 0 {
		t.Error("Expected at least the final progress update")
	}
	if lastBytes != int64(len(body)) {
		t.Errorf("Final progress update should carry full byte count, got %d", lastBytes)
	}
}

func TestTransferResumesFromOffset(t *testing.T) {
	body := "0123456789abcdef"
	server := httptest.NewServer(rangeHandler(body))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	staging := fsutil.StagingPath(dest)
	if err := os.WriteFile(staging, []byte(body[:6]), 0644); err != nil {
		t.Fatal(err)
	}

	offset := VerifyStaging(dest)
	if offset != 6 {
		t.Fatalf("VerifyStaging = %d, expected 6", offset)
	}

	engine := testEngine()
	result, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
		ResumeOffset:    offset,
	})
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if result.RestartedFromZero {
		t.Error("Range-capable server should not force a restart")
	}
	if result.BytesDownloaded != int64(len(body)) {
		t.Errorf("Expected %d bytes, got %d", len(body), result.BytesDownloaded)
	}

	data, _ := os.ReadFile(dest)
	if string(data) != body {
		t.Errorf("Resumed file corrupt: %q", data)
	}
}

func TestTransferRestartsWhenRangeUnsupported(t *testing.T) {
	body := "full-body-no-ranges"
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		// Ignores Range entirely
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, body)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := os.WriteFile(fsutil.StagingPath(dest), []byte("stale-part"), 0644); err != nil {
		t.Fatal(err)
	}

	engine := testEngine()
	result, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
		ResumeOffset:    10,
	})
	if err != nil {
		t.Fatalf("Transfer returned error: %v", err)
	}

	if !result.RestartedFromZero {
		t.Error("Expected RestartedFromZero flag")
	}
	data, _ := os.ReadFile(dest)
	if string(data) != body {
		t.Errorf("Restarted file should contain exactly the fresh body, got %q", data)
	}
}

func TestTransferRangeRejected(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	engine := testEngine()
	_, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
		ResumeOffset:    100,
	})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if terr.Kind != KindRangeRejected {
		t.Errorf("Expected KindRangeRejected, got %v", terr.Kind)
	}
}

func TestTransferShortBodyIsNetworkError(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", "100")
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, "only ten b")
	}))
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	engine := testEngine()
	_, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
	})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error, got %v", err)
	}
	if terr.Kind != KindNetwork {
		t.Errorf("Expected KindNetwork for truncated body, got %v", terr.Kind)
	}
	if !terr.Retryable() {
		t.Error("Network errors should be retryable")
	}
}

// slowServer streams the head bytes, then holds the connection open until the
// client goes away.
func slowServer(head string) *httptest.Server {
	return httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Length", fmt.Sprint(len(head)+1000))
		w.WriteHeader(http.StatusOK)
		io.WriteString(w, head)
		if f, ok := w.(http.Flusher); ok {
			f.Flush()
		}
		<-r.Context().Done()
	}))
}

func TestTransferPausePreservesStaging(t *testing.T) {
	head := "partial-bytes"
	server := slowServer(head)
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	ctl := NewControl()
	sawBytes := make(chan struct{})
	var once sync.Once

	engine := testEngine()
	done := make(chan struct{})
	var result *Result
	var terr error
	go func() {
		defer close(done)
		result, terr = engine.Transfer(context.Background(), Request{
			Descriptor:      model.FetchDescriptor{URL: server.URL},
			DestinationPath: dest,
			Control:         ctl,
			Sink: func(downloaded, total int64, speed float64) {
				if downloaded > 0 {
					once.Do(func() { close(sawBytes) })
				}
			},
		})
	}()

	select {
	case <-sawBytes:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for first bytes")
	}
	ctl.Pause()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Transfer did not stop after pause")
	}

	if terr != nil {
		t.Fatalf("Pause should not be an error, got %v", terr)
	}
	if result.Outcome != OutcomePaused {
		t.Fatalf("Expected OutcomePaused, got %v", result.Outcome)
	}
	if result.BytesDownloaded != int64(len(head)) {
		t.Errorf("Expected %d paused bytes, got %d", len(head), result.BytesDownloaded)
	}

	data, err := os.ReadFile(fsutil.StagingPath(dest))
	if err != nil {
		t.Fatalf("Staging file should survive a pause: %v", err)
	}
	if string(data) != head {
		t.Errorf("Staging content %q does not match received bytes %q", data, head)
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("No final file may exist after a pause")
	}
}

func TestTransferCancelRemovesStaging(t *testing.T) {
	server := slowServer("some-bytes")
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	ctl := NewControl()
	sawBytes := make(chan struct{})
	var once sync.Once

	engine := testEngine()
	done := make(chan struct{})
	var result *Result
	var terr error
	go func() {
		defer close(done)
		result, terr = engine.Transfer(context.Background(), Request{
			Descriptor:      model.FetchDescriptor{URL: server.URL},
			DestinationPath: dest,
			Control:         ctl,
			Sink: func(downloaded, total int64, speed float64) {
				if downloaded > 0 {
					once.Do(func() { close(sawBytes) })
				}
			},
		})
	}()

	select {
	case <-sawBytes:
	case <-time.After(5 * time.Second):
		t.Fatal("Timed out waiting for first bytes")
	}
	ctl.Cancel()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("Transfer did not stop after cancel")
	}

	if terr != nil {
		t.Fatalf("Cancel should not be an error, got %v", terr)
	}
	if result.Outcome != OutcomeCancelled {
		t.Fatalf("Expected OutcomeCancelled, got %v", result.Outcome)
	}
	if _, err := os.Stat(fsutil.StagingPath(dest)); !errors.Is(err, os.ErrNotExist) {
		t.Error("Staging file must be removed on cancel")
	}
	if _, err := os.Stat(dest); !errors.Is(err, os.ErrNotExist) {
		t.Error("No final file may exist after a cancel")
	}
}

func TestTransferStallTimeout(t *testing.T) {
	server := slowServer("head")
	defer server.Close()

	dest := filepath.Join(t.TempDir(), "file.bin")
	engine := NewEngine(nil, Options{
		ProgressInterval:  time.Millisecond,
		ProgressByteDelta: 1,
		StallTimeout:      200 * time.Millisecond,
	})

	_, err := engine.Transfer(context.Background(), Request{
		Descriptor:      model.FetchDescriptor{URL: server.URL},
		DestinationPath: dest,
	})

	var terr *Error
	if !errors.As(err, &terr) {
		t.Fatalf("Expected *Error for stalled transfer, got %v", err)
	}
	if terr.Kind != KindNetwork {
		t.Errorf("Stall should surface as KindNetwork, got %v", terr.Kind)
	}
}

func TestControlPauseThenCancelUpgrades(t *testing.T) {
	ctl := NewControl()
	ctl.Pause()
	if ctl.Mode() != ModePause {
		t.Fatalf("Expected ModePause, got %v", ctl.Mode())
	}
	ctl.Cancel()
	if ctl.Mode() != ModeCancel {
		t.Errorf("Cancel should upgrade a pause, got %v", ctl.Mode())
	}

	// Cancel is final
	ctl2 := NewControl()
	ctl2.Cancel()
	ctl2.Pause()
	if ctl2.Mode() != ModeCancel {
		t.Errorf("Pause must not downgrade a cancel, got %v", ctl2.Mode())
	}

	select {
	case <-ctl.Done():
	default:
		t.Error("Done should be closed after a signal")
	}
}

func TestDiscardStaging(t *testing.T) {
	dest := filepath.Join(t.TempDir(), "file.bin")
	if err := DiscardStaging(dest); err != nil {
		t.Errorf("DiscardStaging on missing file should be nil, got %v", err)
	}

	if err := os.WriteFile(fsutil.StagingPath(dest), []byte("x"), 0644); err != nil {
		t.Fatal(err)
	}
	if err := DiscardStaging(dest); err != nil {
		t.Errorf("DiscardStaging returned error: %v", err)
	}
	if _, err := os.Stat(fsutil.StagingPath(dest)); !errors.Is(err, os.ErrNotExist) {
		t.Error("Staging file should be removed")
	}
}
