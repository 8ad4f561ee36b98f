package ws

import "time"

// ConnInfo identifies the party behind a realtime connection.
type ConnInfo struct {
	ConnID      string
	UserID      string
	Role        string
	DeviceID    string
	IP          string
	RequestID   string
	TraceID     string
	ConnectedAt time.Time
}
