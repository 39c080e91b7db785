package order

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
	"time"
)

// Event is a validated order change request as it arrives from the broker.
type Event struct {
	ID          int64
	Version     int64
	Name        string // trimmed
	Description *string
	EffectiveAt *time.Time // keeps the offset it was sent with
	Status      Status
}

type wireEvent struct {
	ID            *int64  `json:"id"`
	Version       *int64  `json:"version"`
	Name          *string `json:"name"`
	Description   *string `json:"description"`
	EffectiveDate *string `json:"effectiveDate"`
	Status        *string `json:"status"`
}

// WireEvent is the JSON shape published on the broker.
type WireEvent struct {
	ID            int64   `json:"id"`
	Version       int64   `json:"version"`
	Name          string  `json:"name"`
	Description   *string `json:"description,omitempty"`
	EffectiveDate string  `json:"effectiveDate,omitempty"`
	Status        string  `json:"status"`
}

// Decode parses and validates a raw event payload. It has no side effects.
func Decode(raw []byte) (Event, error) {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) {
		return Event{}, malformed(errors.New("empty payload"))
	}

	var w wireEvent
	if err := json.Unmarshal(trimmed, &w); err != nil {
		return Event{}, malformed(err)
	}

	if w.ID == nil {
		return Event{}, invalidField("id", errors.New("required"))
	}
	if *w.ID <= 0 {
		return Event{}, invalidField("id", errors.New("must be positive"))
	}
	if w.Version == nil {
		return Event{}, invalidField("version", errors.New("required"))
	}
	if *w.Version < 0 {
		return Event{}, invalidField("version", errors.New("must not be negative"))
	}
	if w.Name == nil {
		return Event{}, invalidField("name", errors.New("required"))
	}
	name := strings.TrimSpace(*w.Name)
	if name == "" {
		return Event{}, invalidField("name", errors.New("must not be blank"))
	}
	if w.Status == nil {
		return Event{}, invalidField("status", errors.New("required"))
	}
	status, err := ParseStatus(*w.Status)
	if err != nil {
		return Event{}, invalidField("status", err)
	}

	evt := Event{
		ID:          *w.ID,
		Version:     *w.Version,
		Name:        name,
		Description: w.Description,
		Status:      status,
	}

	if w.EffectiveDate != nil {
		at, err := time.Parse(time.RFC3339Nano, *w.EffectiveDate)
		if err != nil {
			return Event{}, invalidField("effectiveDate", err)
		}
		evt.EffectiveAt = &at
	}

	return evt, nil
}

// Wire converts an event back to its broker representation.
func (e Event) Wire() WireEvent {
	out := WireEvent{
		ID:          e.ID,
		Version:     e.Version,
		Name:        e.Name,
		Description: e.Description,
		Status:      e.Status.String(),
	}
	if e.EffectiveAt != nil {
		out.EffectiveDate = e.EffectiveAt.Format(time.RFC3339)
	}
	return out
}
