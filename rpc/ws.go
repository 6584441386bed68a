package rpc

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"
	"strconv"
	"strings"
	"time"

	"nhooyr.io/websocket"

	"stakeledger/journal"
)

const (
	wsWriteTimeout = 10 * time.Second
	liveOnlyCursor = -1
)

// eventPayload is one committed ledger event on the websocket stream. Cursor
// is the value to pass back when reconnecting.
type eventPayload struct {
	Cursor     string            `json:"cursor"`
	Sequence   int64             `json:"sequence"`
	ID         string            `json:"id"`
	Type       string            `json:"type"`
	Account    string            `json:"account,omitempty"`
	Attributes map[string]string `json:"attributes"`
	Timestamp  int64             `json:"ts"`
}

func eventPayloadFrom(entry journal.Entry) eventPayload {
	return eventPayload{
		Cursor:     strconv.FormatInt(entry.Sequence, 10),
		Sequence:   entry.Sequence,
		ID:         entry.ID,
		Type:       entry.Type,
		Account:    entry.Account,
		Attributes: entry.Attributes,
		Timestamp:  entry.RecordedAt.Unix(),
	}
}

// parseCursor reads the resume point. Without one the stream is live only.
func parseCursor(raw string) (int64, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return liveOnlyCursor, nil
	}
	cursor, err := strconv.ParseInt(trimmed, 10, 64)
	if err != nil || cursor < 0 {
		return 0, errors.New("cursor must be a non-negative journal sequence")
	}
	return cursor, nil
}

func (s *Server) handleEventsWS(w http.ResponseWriter, r *http.Request) {
	if s == nil || s.node == nil {
		http.Error(w, "node unavailable", http.StatusServiceUnavailable)
		return
	}
	if !s.limiter.Allow(clientID(r)) {
		http.Error(w, "rate limit exceeded", http.StatusTooManyRequests)
		return
	}
	cursor, err := parseCursor(r.URL.Query().Get("cursor"))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: []string{"*"}})
	if err != nil {
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "stream closed")

	// The stream is write-only; CloseRead answers control frames and ends ctx
	// when the client goes away.
	ctx := conn.CloseRead(r.Context())
	err = s.streamEvents(ctx, conn, cursor)
	switch {
	case errors.Is(err, errSubscriberLagged):
		_ = conn.Close(websocket.StatusTryAgainLater, "subscriber lagged; reconnect with last cursor")
	case err != nil && websocket.CloseStatus(err) == -1 && ctx.Err() == nil:
		s.logger.Warn("event stream failed", slog.Any("error", err))
		_ = conn.Close(websocket.StatusInternalError, "stream error")
	}
}

var errSubscriberLagged = errors.New("event subscriber lagged")

func (s *Server) streamEvents(ctx context.Context, conn *websocket.Conn, cursor int64) error {
	updates, cancel, backlog, err := s.node.SubscribeEvents(ctx, cursor)
	if err != nil {
		return err
	}
	defer cancel()

	for _, entry := range backlog {
		if err := writeEvent(ctx, conn, entry); err != nil {
			return err
		}
	}
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case entry, ok := <-updates:
			if !ok {
				if ctx.Err() != nil {
					return ctx.Err()
				}
				return errSubscriberLagged
			}
			if err := writeEvent(ctx, conn, entry); err != nil {
				return err
			}
		}
	}
}

func writeEvent(ctx context.Context, conn *websocket.Conn, entry journal.Entry) error {
	data, err := json.Marshal(eventPayloadFrom(entry))
	if err != nil {
		return err
	}
	writeCtx, cancel := context.WithTimeout(ctx, wsWriteTimeout)
	defer cancel()
	return conn.Write(writeCtx, websocket.MessageText, data)
}
