package models

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
	"time"
)

// WebhookEvent is the POST /webhook payload sent by WHOOP.
// The provider only sends identifiers; the resource body is fetched separately.
type WebhookEvent struct {
	UserID  int64      `json:"user_id"`
	ID      ResourceID `json:"id"`
	Type    string     `json:"type"`
	TraceID string     `json:"trace_id,omitempty"`
}

// ResourceID accepts both string (v2 UUIDs) and numeric (v1) resource ids.
type ResourceID string

func (r *ResourceID) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || bytes.Equal(b, []byte("null")) {
		*r = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*r = ResourceID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("resource id must be a string or number: %w", err)
	}
	if i, err := n.Int64(); err == nil {
		*r = ResourceID(strconv.FormatInt(i, 10))
		return nil
	}
	*r = ResourceID(n.String())
	return nil
}

func (r ResourceID) String() string { return string(r) }

// SplitType splits a "<domain>.<action>" event type. Segments past the
// second are ignored.
func SplitType(eventType string) (domain, action string, err error) {
	parts := strings.Split(eventType, ".")
	if len(parts) < 2 || parts[0] == "" || parts[1] == "" {
		return "", "", fmt.Errorf("%w: event type %q", ErrMalformedEvent, eventType)
	}
	return parts[0], parts[1], nil
}

const (
	ActionUpdated = "updated"
	ActionDeleted = "deleted"

	DomainSleep = "sleep"
)

// EventRecord is an append-only audit row for every accepted webhook.
type EventRecord struct {
	ID         string    `json:"id"`
	UserID     int64     `json:"userId"`
	ResourceID string    `json:"resourceId"`
	EventType  string    `json:"eventType"`
	TraceID    string    `json:"traceId,omitempty"`
	RawBody    string    `json:"raw"`
	ReceivedAt time.Time `json:"receivedAt"`
}

// ResourceKey identifies one external resource revision marker.
type ResourceKey struct {
	UserID     int64
	ResourceID string
	Domain     string
}

// ResourceEntry is the single current ledger row for a ResourceKey.
type ResourceEntry struct {
	ResourceKey
	CreatedAt time.Time `json:"createdAt"`
	UpdatedAt time.Time `json:"updatedAt"`
}
