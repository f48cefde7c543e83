package pipeline

import (
	"encoding/base64"
	"encoding/json"
)

// NotificationEnvelope is the outer wrapper the queueing transport delivers:
// a single message carrying a base64-encoded json payload.
type NotificationEnvelope struct {
	Message      *NotificationMessage `json:"message"`
	Subscription string               `json:"subscription,omitempty"`
}

type NotificationMessage struct {
	Data        string `json:"data"`
	MessageId   string `json:"messageId,omitempty"`
	PublishTime string `json:"publishTime,omitempty"`
}

// ObjectEvent is the decoded payload referencing the uploaded object. Some
// producers put the object identifier under objectId instead of name.
type ObjectEvent struct {
	Bucket   string `json:"bucket"`
	Name     string `json:"name"`
	ObjectId string `json:"objectId"`
}

// ObjectName returns the object identifier regardless of which key the
// producer used.
func (e ObjectEvent) ObjectName() string {
	if e.Name != "" {
		return e.Name
	}
	return e.ObjectId
}

// DecodeEnvelope parses and validates an inbound request body into the
// object event it references. Parsing only; no side effects.
func DecodeEnvelope(body []byte) (ObjectEvent, error) {
	if len(body) == 0 {
		return ObjectEvent{}, ErrMalformedEnvelope
	}

	var envelope NotificationEnvelope
	if err := json.Unmarshal(body, &envelope); err != nil {
		return ObjectEvent{}, ErrMalformedEnvelope
	}

	if envelope.Message == nil || envelope.Message.Data == "" {
		return ObjectEvent{}, ErrMissingPayload
	}

	payload, err := base64.StdEncoding.DecodeString(envelope.Message.Data)
	if err != nil {
		return ObjectEvent{}, &DecodeError{Err: err}
	}

	var event ObjectEvent
	if err := json.Unmarshal(payload, &event); err != nil {
		return ObjectEvent{}, &DecodeError{Err: err}
	}

	return event, nil
}
