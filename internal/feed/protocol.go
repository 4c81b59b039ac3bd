package feed

import (
	"bytes"
	"encoding/json"
	"fmt"
	"time"

	"github.com/site-tracker/backend/internal/models"
)

// Wire message types of the vendor protocol.
const (
	WireTagPosition = "onRecvTagPos"
	WireTagPower    = "onRecvTagPower"
	WireAlarm       = "onRecvAlarm"
	WireSetAccount  = "SetAccount"
)

// Envelope is one JSON frame of the vendor feed.
type Envelope struct {
	Type    string          `json:"type"`
	Payload json.RawMessage `json:"payload"`
}

type wireTagPosition struct {
	TagID     string  `json:"tagId"`
	ID        string  `json:"id"`
	X         float64 `json:"x"`
	Y         float64 `json:"y"`
	Z         float64 `json:"z"`
	Timestamp int64   `json:"timestamp,omitempty"` // unix ms
}

type wireTagPower struct {
	TagID     string `json:"tagId"`
	ID        string `json:"id"`
	Battery   *int   `json:"battery"`
	Power     *int   `json:"power"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

type wireAlarm struct {
	TagID     string `json:"tagId"`
	ID        string `json:"id"`
	Type      string `json:"type"`
	AlarmType string `json:"alarmType"`
	Level     string `json:"level"`
	Message   string `json:"message"`
	Info      string `json:"info"`
	Timestamp int64  `json:"timestamp,omitempty"`
}

func tagID(primary, alt string) string {
	if primary != "" {
		return primary
	}
	return alt
}

func wireTime(ms int64, now time.Time) time.Time {
	if ms > 0 {
		return time.UnixMilli(ms)
	}
	return now
}

// DecodeFrame decodes one frame into typed events. Unknown message types
// yield no events and no error. Entries without a tag id are dropped.
func DecodeFrame(data []byte, now time.Time) ([]Event, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return nil, fmt.Errorf("decoding envelope: %w", err)
	}
	return env.Events(now)
}

// Events maps the envelope onto the closed set of internal events.
func (env Envelope) Events(now time.Time) ([]Event, error) {
	switch env.Type {
	case WireTagPosition:
		var entries []wireTagPosition
		if err := decodeList(env.Payload, &entries); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		events := make([]Event, 0, len(entries))
		for _, e := range entries {
			id := tagID(e.TagID, e.ID)
			if id == "" {
				continue
			}
			events = append(events, TagPositionEvent{Position: models.TagPosition{
				TagID:     id,
				X:         e.X,
				Y:         e.Y,
				Z:         e.Z,
				Timestamp: wireTime(e.Timestamp, now),
			}})
		}
		return events, nil

	case WireTagPower:
		var entries []wireTagPower
		if err := decodeList(env.Payload, &entries); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		events := make([]Event, 0, len(entries))
		for _, e := range entries {
			id := tagID(e.TagID, e.ID)
			level := e.Battery
			if level == nil {
				level = e.Power
			}
			if id == "" || level == nil {
				continue
			}
			events = append(events, BatteryEvent{Power: models.TagPower{
				TagID:     id,
				Battery:   *level,
				Timestamp: wireTime(e.Timestamp, now),
			}})
		}
		return events, nil

	case WireAlarm:
		var entries []wireAlarm
		if err := decodeList(env.Payload, &entries); err != nil {
			return nil, fmt.Errorf("decoding %s payload: %w", env.Type, err)
		}
		events := make([]Event, 0, len(entries))
		for _, e := range entries {
			msg := e.Message
			if msg == "" {
				msg = e.Info
			}
			events = append(events, AlarmEvent{Alarm: models.Alarm{
				TagID:     tagID(e.TagID, e.ID),
				Type:      tagID(e.AlarmType, e.Type),
				Level:     e.Level,
				Message:   msg,
				Timestamp: wireTime(e.Timestamp, now),
			}})
		}
		return events, nil

	default:
		return nil, nil
	}
}

// decodeList accepts either an array or a single object.
func decodeList[T any](raw json.RawMessage, out *[]T) error {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		*out = nil
		return nil
	}
	if trimmed[0] == '[' {
		return json.Unmarshal(trimmed, out)
	}
	var one T
	if err := json.Unmarshal(trimmed, &one); err != nil {
		return err
	}
	*out = []T{one}
	return nil
}

// accountMessage is the login frame sent after the socket opens.
func accountMessage(username, password string) ([]byte, error) {
	payload, err := json.Marshal(map[string]string{
		"username": username,
		"password": password,
	})
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: WireSetAccount, Payload: payload})
}
