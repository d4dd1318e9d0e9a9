package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
)

// capture records what the stub upstream saw on its single endpoint.
type capture struct {
	mu      sync.Mutex
	method  string
	headers http.Header
	body    []byte
}

func stubProvider(t *testing.T, status int, reply string) (*httptest.Server, *capture) {
	t.Helper()
	saw := &capture{}
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		saw.mu.Lock()
		saw.method = r.Method
		saw.headers = r.Header.Clone()
		saw.body, _ = io.ReadAll(r.Body)
		saw.mu.Unlock()
		w.WriteHeader(status)
		_, _ = w.Write([]byte(reply))
	}))
	t.Cleanup(ts.Close)
	return ts, saw
}

func TestDoRequestPostsJSON(t *testing.T) {
	ts, saw := stubProvider(t, http.StatusOK, `{"message":"hello"}`)

	body, err := DoRequest(context.Background(), ts.Client(), ts.URL, map[string]string{"key": "val"}, nil)
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}

	if saw.method != http.MethodPost {
		t.Errorf("upstream saw method %s, want POST", saw.method)
	}
	if ct := saw.headers.Get("Content-Type"); ct != "application/json" {
		t.Errorf("Content-Type = %q, want application/json", ct)
	}
	if !bytes.Contains(saw.body, []byte(`"key":"val"`)) {
		t.Errorf("payload not sent: upstream saw %s", saw.body)
	}

	var got map[string]string
	if err := json.Unmarshal(body, &got); err != nil {
		t.Fatalf("response not JSON: %v", err)
	}
	if got["message"] != "hello" {
		t.Errorf("message = %q, want hello", got["message"])
	}
}

func TestDoRequestSendsCallerHeaders(t *testing.T) {
	ts, saw := stubProvider(t, http.StatusOK, `{}`)

	headers := map[string]string{
		"Authorization": "Bearer tok",
		"X-Title":       "Raeburn",
	}
	if _, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, headers); err != nil {
		t.Fatalf("DoRequest: %v", err)
	}

	for k, want := range headers {
		if got := saw.headers.Get(k); got != want {
			t.Errorf("header %s = %q, want %q", k, got, want)
		}
	}
}

func TestDoRequestSurfacesUpstreamStatus(t *testing.T) {
	ts, _ := stubProvider(t, http.StatusInternalServerError, `{"error":"something broke"}`)

	_, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, nil)

	var se *StatusError
	if !errors.As(err, &se) {
		t.Fatalf("want *StatusError, got %T: %v", err, err)
	}
	if se.StatusCode != http.StatusInternalServerError {
		t.Errorf("StatusCode = %d, want 500", se.StatusCode)
	}
	if !strings.Contains(se.Body, "something broke") {
		t.Errorf("Body = %q, want the upstream error text", se.Body)
	}
}

func TestSessionIDHeader(t *testing.T) {
	t.Run("forwarded from context", func(t *testing.T) {
		ts, saw := stubProvider(t, http.StatusOK, `{}`)

		ctx := WithSessionID(context.Background(), "sess_abc12345")
		if _, err := DoRequest(ctx, ts.Client(), ts.URL, struct{}{}, nil); err != nil {
			t.Fatalf("DoRequest: %v", err)
		}
		if got := saw.headers.Get("X-Session-ID"); got != "sess_abc12345" {
			t.Errorf("X-Session-ID = %q, want sess_abc12345", got)
		}
	})

	t.Run("absent without context value", func(t *testing.T) {
		ts, saw := stubProvider(t, http.StatusOK, `{}`)

		if _, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, nil); err != nil {
			t.Fatalf("DoRequest: %v", err)
		}
		if got := saw.headers.Get("X-Session-ID"); got != "" {
			t.Errorf("X-Session-ID should be unset, got %q", got)
		}
	})
}

func TestDoRequestRejectsUnmarshalablePayload(t *testing.T) {
	// Channels have no JSON encoding, so the request never leaves.
	_, err := DoRequest(context.Background(), http.DefaultClient, "http://localhost", make(chan int), nil)
	if err == nil {
		t.Fatal("want a marshal error")
	}
	if !strings.Contains(err.Error(), "marshal") {
		t.Errorf("error = %q, want it to mention marshal", err)
	}
}

func TestDoRequestRejectsBadURL(t *testing.T) {
	if _, err := DoRequest(context.Background(), http.DefaultClient, "://bad", struct{}{}, nil); err == nil {
		t.Fatal("want an error for an unparsable URL")
	}
}

func TestDoRequestReturnsRawBytes(t *testing.T) {
	// The helper hands back whatever the upstream sent; adapters parse.
	ts, _ := stubProvider(t, http.StatusOK, "plain text body")

	body, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, nil)
	if err != nil {
		t.Fatalf("DoRequest: %v", err)
	}
	if string(body) != "plain text body" {
		t.Errorf("body = %q, want the raw upstream bytes", body)
	}
}

func TestDoRequestParallelCalls(t *testing.T) {
	var hits atomic.Int64
	ts := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hits.Add(1)
		_, _ = w.Write([]byte(`{"ok":true}`))
	}))
	t.Cleanup(ts.Close)

	const n = 20
	var wg sync.WaitGroup
	var failed atomic.Int64
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := DoRequest(context.Background(), ts.Client(), ts.URL, struct{}{}, nil); err != nil {
				failed.Add(1)
			}
		}()
	}
	wg.Wait()

	if failed.Load() != 0 {
		t.Errorf("%d of %d parallel requests failed", failed.Load(), n)
	}
	if hits.Load() != n {
		t.Errorf("upstream saw %d requests, want %d", hits.Load(), n)
	}
}

func TestStatusErrorMessage(t *testing.T) {
	se := &StatusError{StatusCode: 503, Body: "service unavailable"}
	msg := se.Error()
	for _, want := range []string{"503", "service unavailable"} {
		if !strings.Contains(msg, want) {
			t.Errorf("Error() = %q, want it to contain %q", msg, want)
		}
	}
}

func TestDecodeErrorUnwraps(t *testing.T) {
	inner := errors.New("unexpected end of JSON input")
	de := &DecodeError{Err: inner}
	if !errors.Is(de, inner) {
		t.Error("DecodeError should unwrap to the inner error")
	}
	if !strings.Contains(de.Error(), "malformed response") {
		t.Errorf("Error() = %q", de.Error())
	}
}
