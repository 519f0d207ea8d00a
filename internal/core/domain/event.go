package domain

import "time"

// EventType names a gateway notification.
type EventType string

const (
	EventConnectionCreated EventType = "connection.created"
	EventConnectionUpdated EventType = "connection.updated"
	EventConnectionDeleted EventType = "connection.deleted"
	EventRequestSucceeded  EventType = "request.succeeded"
	EventRequestFailed     EventType = "request.failed"
	EventOAuth2Connected   EventType = "oauth2.connected"
	EventOAuth2Refreshed   EventType = "oauth2.refreshed"
	EventOAuth2Revoked     EventType = "oauth2.revoked"
)

// Event is emitted to observers. Attributes never carry secrets.
type Event struct {
	Type         EventType
	TenantID     string
	ConnectionID string
	StatusCode   int
	Duration     time.Duration
	Attributes   map[string]string
	At           time.Time
}
