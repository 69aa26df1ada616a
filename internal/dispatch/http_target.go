package dispatch

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"golang.org/x/time/rate"

	scxml "github.com/scxml-go/runtime"
)

var httpTracer = otel.Tracer("github.com/scxml-go/runtime/internal/dispatch")

// envelopeRequest is the JSON body posted to an http:/https: target
// (spec.md §6 "Event envelope for HTTP targets").
type envelopeRequest struct {
	Event     string `json:"event"`
	SendID    string `json:"sendid,omitempty"`
	Timestamp int64  `json:"timestamp"`
	Data      any    `json:"data,omitempty"`
	Target    string `json:"target,omitempty"`
	Type      string `json:"type"`
	Processor string `json:"processor"`
}

// envelopeResponse is what comes back from the HTTP target.
type envelopeResponse struct {
	Body json.RawMessage `json:"body"`
}

// httpLimiter throttles outbound sends so a misbehaving machine can't
// hammer a remote endpoint; grounded on the teacher's own
// golang.org/x/time/rate usage for provider rate limits.
var httpLimiter = rate.NewLimiter(rate.Limit(50), 10)

// httpFactory builds a Target that POSTs the event envelope and raises
// http.success/http.error back on the origin session (spec.md §6).
func httpFactory(log *slog.Logger) Factory {
	client := &http.Client{Timeout: 10 * time.Second}
	return func(ctx context.Context, rawTarget string, origin Origin) (Target, error) {
		url := rawTarget
		return targetFunc(func(ctx context.Context, e *scxml.Event) error {
			ctx, span := httpTracer.Start(ctx, "dispatch.http.deliver",
				trace.WithAttributes(
					attribute.String("scxml.event", e.Name),
					attribute.String("scxml.target", url),
				))
			defer span.End()

			if err := httpLimiter.Wait(ctx); err != nil {
				span.RecordError(err)
				return err
			}

			body, err := json.Marshal(envelopeRequest{
				Event:     e.Name,
				SendID:    e.SendID,
				Timestamp: e.Timestamp.UnixMilli(),
				Data:      e.Data,
				Target:    url,
				Type:      "scxml.event",
				Processor: "BasicHTTPEventProcessor",
			})
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("dispatch: marshal envelope: %w", err)
			}

			req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, bytes.NewReader(body))
			if err != nil {
				span.RecordError(err)
				return fmt.Errorf("dispatch: build request: %w", err)
			}
			req.Header.Set("Content-Type", "application/json")

			resp, err := client.Do(req)
			if err != nil {
				span.RecordError(err)
				origin.Raise(ctx, &scxml.Event{
					Name: "error.communication", Type: scxml.EventTypeInternal,
					Data: map[string]any{"message": err.Error(), "target": url},
				})
				return &scxml.PlatformError{EventName: "error.communication", Message: "http send failed", Cause: err}
			}
			defer resp.Body.Close()
			raw, _ := io.ReadAll(resp.Body)

			var parsed any
			if len(raw) > 0 {
				if err := json.Unmarshal(raw, &parsed); err != nil {
					parsed = string(raw)
				}
			}

			name := "http.success"
			if resp.StatusCode < 200 || resp.StatusCode >= 300 {
				name = "http.error"
				log.Warn("dispatch: http target returned non-2xx", "status", resp.StatusCode, "target", url)
			}
			origin.Raise(ctx, &scxml.Event{
				Name: name,
				Type: scxml.EventTypeExternal,
				Data: map[string]any{"body": parsed, "status": resp.StatusCode},
			})
			return nil
		}), nil
	}
}
