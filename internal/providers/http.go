package providers

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/trace"
)

// buildJSONRequest assembles the POST request for one provider call: JSON
// body, Content-Type, caller headers, session correlation, and W3C trace
// propagation.
func buildJSONRequest(ctx context.Context, url string, payload any, headers map[string]string) (*http.Request, error) {
	body, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal request body: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("build request: %w", err)
	}
	req.Header.Set("Content-Type", "application/json")
	for k, v := range headers {
		req.Header.Set(k, v)
	}
	if sid := SessionID(ctx); sid != "" {
		req.Header.Set("X-Session-ID", sid)
	}
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(req.Header))
	return req, nil
}

// DoRequest POSTs a JSON payload and returns the raw response bytes; callers
// decode the body themselves. Non-200 statuses come back as *StatusError so
// the retry loop can classify them. Every exchange runs under a client span
// when tracing is enabled.
func DoRequest(ctx context.Context, client *http.Client, url string, payload any, headers map[string]string) ([]byte, error) {
	ctx, span := otel.Tracer("raeburn.providers").Start(ctx, "provider.request",
		trace.WithSpanKind(trace.SpanKindClient),
		trace.WithAttributes(attribute.String("http.url", url)),
	)
	defer span.End()

	req, err := buildJSONRequest(ctx, url, payload, headers)
	if err != nil {
		return nil, spanFail(span, err)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("send request: %w", err))
	}
	defer func() { _ = resp.Body.Close() }()
	span.SetAttributes(attribute.Int("http.status_code", resp.StatusCode))

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, spanFail(span, fmt.Errorf("read response: %w", err))
	}
	if resp.StatusCode != http.StatusOK {
		return nil, spanFail(span, &StatusError{StatusCode: resp.StatusCode, Body: string(body)})
	}

	span.SetStatus(codes.Ok, "")
	return body, nil
}

// spanFail records err on the span and passes it through.
func spanFail(span trace.Span, err error) error {
	span.RecordError(err)
	span.SetStatus(codes.Error, err.Error())
	return err
}
