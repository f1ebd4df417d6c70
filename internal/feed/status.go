package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"

	"cnsniper/internal/model"
	"cnsniper/internal/realtime"
)

// StatusEvent is a decoded message of the status, highlight-sync or auth
// channels: HealthEvent, HighlightNumbersEvent, ForceLogoutEvent or
// UnknownMessage.
type StatusEvent interface {
	isStatusEvent()
}

// HealthEvent reports the scanner's health.
type HealthEvent struct {
	Status model.HealthStatus
}

// HighlightNumbersEvent carries the backend's copy of the highlight numbers.
type HighlightNumbersEvent struct {
	Numbers []int
}

// ForceLogoutEvent asks the client to drop its session.
type ForceLogoutEvent struct {
	Reason string
}

func (HealthEvent) isStatusEvent()           {}
func (HighlightNumbersEvent) isStatusEvent() {}
func (ForceLogoutEvent) isStatusEvent()      {}
func (UnknownMessage) isStatusEvent()        {}

type statusEnvelope struct {
	Type       string            `json:"type"`
	UptimeSec  json.RawMessage   `json:"uptime_sec"`
	Scanning   model.Flag        `json:"scanning"`
	NextScanIn json.RawMessage   `json:"next_scan_in"`
	Numbers    []json.RawMessage `json:"numbers"`
	Reason     string            `json:"reason"`
}

// DecodeStatus parses one status channel message. An untyped message with
// an uptime_sec field is a health report.
func DecodeStatus(data []byte) (StatusEvent, error) {
	var env statusEnvelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decode status: %w", err)
	}
	if env.Type == "" && len(env.UptimeSec) > 0 {
		env.Type = "status"
	}
	switch env.Type {
	case "status":
		return HealthEvent{Status: model.HealthStatus{
			UptimeSec:  model.Timestamp(env.UptimeSec),
			Scanning:   bool(env.Scanning),
			NextScanIn: model.Timestamp(env.NextScanIn),
		}}, nil
	case "highlight_numbers":
		numbers := make([]int, 0, len(env.Numbers))
		for _, raw := range env.Numbers {
			if n, ok := model.Integer(raw); ok {
				numbers = append(numbers, n)
			}
		}
		return HighlightNumbersEvent{Numbers: numbers}, nil
	case "force_logout":
		return ForceLogoutEvent{Reason: env.Reason}, nil
	default:
		return UnknownMessage{Type: env.Type, Raw: json.RawMessage(data)}, nil
	}
}

// Status is a connection to one of the status channels. Every decoded event
// is passed to the handler on the socket's reader goroutine.
type Status struct {
	conn   *realtime.Conn
	handle func(StatusEvent)
	logger *slog.Logger
}

// NewStatus creates a Status channel. opts.OnMessage is replaced.
func NewStatus(opts realtime.Options, handle func(StatusEvent), logger *slog.Logger) *Status {
	s := &Status{handle: handle, logger: logger}
	opts.OnMessage = s.onMessage
	s.conn = realtime.New(opts, logger)
	return s
}

// Connect opens the channel.
func (s *Status) Connect(ctx context.Context) { s.conn.Connect(ctx) }

// Close stops the channel.
func (s *Status) Close() { s.conn.Close() }

// Done is closed when the socket loop has stopped.
func (s *Status) Done() <-chan struct{} { return s.conn.Done() }

func (s *Status) onMessage(data []byte) {
	ev, err := DecodeStatus(data)
	if err != nil {
		s.logger.Warn("drop malformed status message", "error", err)
		return
	}
	if u, ok := ev.(UnknownMessage); ok {
		s.logger.Debug("ignore status message", "type", u.Type)
		return
	}
	s.handle(ev)
}
