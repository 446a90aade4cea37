package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/mohammad-safakhou/vizier/internal/broadcast"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

type subscribeFunc func(ctx context.Context, userID, id string) (*broadcast.Subscription, error)

// stream serves a process's progress as Server-Sent Events. The first event
// is the latest known stage; the response ends when the process reaches a
// terminal stage, the subscriber is dropped, or the client goes away.
func (s *Server) stream(c echo.Context, subscribe subscribeFunc) error {
	req := c.Request()
	ctx, span := tracer.Start(req.Context(), "Server.stream")
	defer span.End()
	id := c.Param("id")
	span.SetAttributes(attribute.String("process_id", id))

	flusher, ok := c.Response().Writer.(http.Flusher)
	if !ok {
		return echo.NewHTTPError(http.StatusServiceUnavailable, "streaming unsupported")
	}
	sub, err := subscribe(ctx, userID(c), id)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
		return httpError(err)
	}
	defer sub.Close()

	resp := c.Response()
	resp.Header().Set(echo.HeaderContentType, "text/event-stream")
	resp.Header().Set(echo.HeaderCacheControl, "no-cache")
	resp.Header().Set("Connection", "keep-alive")
	resp.Header().Set("X-Accel-Buffering", "no")
	resp.WriteHeader(http.StatusOK)
	flusher.Flush()

	heartbeat := time.NewTicker(s.heartbeat)
	defer heartbeat.Stop()
	sent := 0
	for {
		select {
		case ev, open := <-sub.Events():
			if !open {
				if err := sub.Err(); err != nil {
					s.logger.Printf("stream %s (%s) closed after %d events: %v", id, sub.ID(), sent, err)
				}
				span.SetAttributes(attribute.Int("events_sent", sent))
				return nil
			}
			if err := writeEvent(resp, ev); err != nil {
				return nil
			}
			flusher.Flush()
			sent++
		case <-heartbeat.C:
			if _, err := fmt.Fprint(resp, ": keepalive\n\n"); err != nil {
				return nil
			}
			flusher.Flush()
		case <-ctx.Done():
			return nil
		}
	}
}

func writeEvent(w http.ResponseWriter, ev broadcast.Event) error {
	raw, err := json.Marshal(ev)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintf(w, "event: message\ndata: %s\n\n", raw)
	return err
}
