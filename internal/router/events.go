package router

import (
	"fmt"

	"coach-chat/internal/models"
)

// Inbound event names. Outbound frames reuse the inbound name.
const (
	EventUserMessage     = "user_message"
	EventOperatorMessage = "operator_message"
	EventDoctorMessage   = "doctor_message"
	EventUserError       = "user_error"
	EventImageMessage    = "image_message"
	EventWidgetCancel    = "widget_cancel"
	EventUserTyping      = "user_typing"
	EventOperatorTyping  = "operator_typing"
	EventOperatorConnect = "operator_connect"
	EventOperatorOnline  = "operator_online"
	EventOperatorOffline = "operator_offline"
)

type kind int

const (
	kindMessage kind = iota
	kindUserError
	kindImage
	kindWidget
	kindPassthrough
	kindTyping
	kindPresenceConnect
	kindPresenceOnline
	kindPresenceOffline
)

func (k kind) persisted() bool {
	switch k {
	case kindMessage, kindUserError, kindImage, kindWidget:
		return true
	}
	return false
}

type eventSpec struct {
	kind        kind
	origin      models.Origin
	decodeReply bool
	widget      *widget
	request     bool
}

var catalog = buildCatalog()

func buildCatalog() map[string]eventSpec {
	c := map[string]eventSpec{
		EventUserMessage:     {kind: kindMessage, origin: models.OriginUser, decodeReply: true},
		EventOperatorMessage: {kind: kindMessage, origin: models.OriginOperator, decodeReply: true},
		EventDoctorMessage:   {kind: kindMessage, origin: models.OriginDoctor},
		EventUserError:       {kind: kindUserError, origin: models.OriginUser},
		EventImageMessage:    {kind: kindImage, origin: models.OriginOperator},
		EventWidgetCancel:    {kind: kindPassthrough},
		EventUserTyping:      {kind: kindTyping},
		EventOperatorTyping:  {kind: kindTyping},
		EventOperatorConnect: {kind: kindPresenceConnect},
		EventOperatorOnline:  {kind: kindPresenceOnline},
		EventOperatorOffline: {kind: kindPresenceOffline},
	}
	for i := range widgets {
		w := &widgets[i]
		c[WidgetRequestEvent(w.name)] = eventSpec{kind: kindWidget, origin: models.OriginOperator, widget: w, request: true}
		c[WidgetResponseEvent(w.name)] = eventSpec{kind: kindWidget, origin: models.OriginUser, widget: w}
	}
	return c
}

// Known reports whether name is a routable event.
func Known(name string) bool {
	_, ok := catalog[name]
	return ok
}

// Persisted reports whether the event produces a stored message.
func Persisted(name string) bool {
	spec, ok := catalog[name]
	return ok && spec.kind.persisted()
}

type widget struct {
	name     string
	request  string
	response string
}

var widgets = []widget{
	{name: "mood", request: "How are you feeling today?", response: "My mood today: %s"},
	{name: "pulse", request: "Please measure your pulse.", response: "My pulse: %s bpm"},
	{name: "weight", request: "Please enter your current weight.", response: "My weight: %s kg"},
	{name: "pressure", request: "Please measure your blood pressure.", response: "My blood pressure: %s mmHg"},
	{name: "distance", request: "How far did you walk today?", response: "I walked %s km today"},
}

// WidgetRequestEvent is the operator-sent event name for a widget.
func WidgetRequestEvent(name string) string { return name + "_request" }

// WidgetResponseEvent is the user-response event name for a widget.
func WidgetResponseEvent(name string) string { return name + "_response" }

func (w *widget) sentence(request bool, value string) string {
	if request {
		return w.request
	}
	return fmt.Sprintf(w.response, value)
}
