package models

// Frame is the unit exchanged over a realtime connection. All data values are
// strings; server-side fields are folded into Data["message"] by the router.
type Frame struct {
	Event string            `json:"event"`
	Data  map[string]string `json:"data"`
}

const (
	FieldRoom    = "room"
	FieldMessage = "message"
	FieldError   = "error"
)

// NewFrame builds a frame addressed to room with an optional message field.
func NewFrame(event, room, message string) Frame {
	data := map[string]string{FieldRoom: room}
	if message != "" {
		data[FieldMessage] = message
	}
	return Frame{Event: event, Data: data}
}

// Room returns the room field of the frame.
func (f Frame) Room() string {
	return f.Data[FieldRoom]
}

// Message returns the message field of the frame.
func (f Frame) Message() string {
	return f.Data[FieldMessage]
}
