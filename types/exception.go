package types

import (
	"encoding/json"
	"errors"
)

// Exception is the decoded form of a non-200 response body.
// The transport delivers the raw body; this type exists for logging and display.
type Exception struct {
	Code        string `json:"code"`
	Description string `json:"description"`
}

type exceptionBody struct {
	Payload *Exception `json:"payload"`
}

// ErrNoExceptionPayload is returned when a body decodes but carries no payload object.
var ErrNoExceptionPayload = errors.New("exception body has no payload")

// ParseException decodes the payload.code and payload.description fields of
// an exception body.
func ParseException(raw string) (*Exception, error) {
	var body exceptionBody
	if err := json.Unmarshal([]byte(raw), &body); err != nil {
		return nil, err
	}
	if body.Payload == nil {
		return nil, ErrNoExceptionPayload
	}
	return body.Payload, nil
}
