package ws

import (
	"errors"
	"strings"

	"coach-chat/internal/apperr"
	"coach-chat/internal/models"
)

// EventError is sent to a single session when one of its frames is rejected.
const EventError = "error"

// ErrorFrame renders err for the session that caused it. Only validation
// messages are echoed verbatim.
func ErrorFrame(room string, err error) models.Frame {
	frame := models.NewFrame(EventError, room, "")
	msg := "internal error"
	var e *apperr.Error
	switch {
	case errors.As(err, &e) && e.Kind == apperr.KindValidation:
		msg = strings.TrimPrefix(err.Error(), e.Op+": ")
	case apperr.Is(err, apperr.KindPersistence):
		msg = "message could not be stored"
	}
	frame.Data[models.FieldError] = msg
	return frame
}
