package transport

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"
)

func sseHandler(t *testing.T, chunks ...string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		flusher, ok := w.(http.Flusher)
		if !ok {
			t.Error("response writer is not a flusher")
			return
		}
		w.Header().Set("Content-Type", "text/event-stream")
		w.WriteHeader(http.StatusOK)
		for _, chunk := range chunks {
			fmt.Fprint(w, chunk)
			flusher.Flush()
		}
		<-r.Context().Done()
	}
}

func TestSSEDialer_ReceiveSkipsKeepalives(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		": keepalive\n\n",
		"data: {\"type\": \"message_event\"}\n\n",
	))
	defer srv.Close()

	d := &SSEDialer{URL: srv.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	raw, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	updates, err := normalizePush(raw)
	if err != nil {
		t.Fatalf("normalizePush(%s): %v", raw, err)
	}
	if len(updates) != 1 || !updates[0].CounterIncrement {
		t.Fatalf("updates = %+v, want counter increment", updates)
	}
}

func TestSSEStream_MultiLineData(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t,
		"id: 7\nevent: update\ndata: {\"type\":\ndata: \"message_event\"}\n\n",
	))
	defer srv.Close()

	d := &SSEDialer{URL: srv.URL}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()

	stream, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	raw, err := stream.Receive(ctx)
	if err != nil {
		t.Fatalf("Receive: %v", err)
	}
	want := "{\"type\":\n\"message_event\"}"
	if string(raw) != want {
		t.Fatalf("payload = %q, want %q", raw, want)
	}
}

func TestSSEDialer_RejectsWrongContentType(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		fmt.Fprint(w, "{}")
	}))
	defer srv.Close()

	d := &SSEDialer{URL: srv.URL}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected content-type error")
	}
}

func TestSSEDialer_RejectsErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "down", http.StatusServiceUnavailable)
	}))
	defer srv.Close()

	d := &SSEDialer{URL: srv.URL}
	if _, err := d.Dial(context.Background()); err == nil {
		t.Fatal("expected status error")
	}
}

func TestSSEStream_CancelUnblocksReceive(t *testing.T) {
	srv := httptest.NewServer(sseHandler(t, ": hello\n\n"))
	defer srv.Close()

	ctx, cancel := context.WithCancel(context.Background())
	d := &SSEDialer{URL: srv.URL}
	stream, err := d.Dial(ctx)
	if err != nil {
		t.Fatalf("Dial: %v", err)
	}
	defer stream.Close()

	done := make(chan error, 1)
	go func() {
		_, err := stream.Receive(ctx)
		done <- err
	}()
	time.Sleep(20 * time.Millisecond)
	cancel()

	select {
	case err := <-done:
		if err == nil {
			t.Fatal("expected error from cancelled receive")
		}
	case <-time.After(3 * time.Second):
		t.Fatal("receive did not unblock on cancel")
	}
}
