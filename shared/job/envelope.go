// Package job defines the unit of work carried through the broker between the
// api-service and the worker-service.
package job

import (
	"math"
	"strconv"
)

// Message header names
const (
	HeaderRequestID  = "request_id"
	HeaderRetryCount = "x-retry-count"
)

// DeliveryMode is the durability hint of a message. Values match AMQP 0-9-1.
type DeliveryMode uint8

const (
	Transient  DeliveryMode = 1
	Persistent DeliveryMode = 2
)

// Envelope is a job in flight: an opaque image payload plus the metadata the
// worker needs to process, retry or drop it.
type Envelope struct {
	CorrelationID string
	Payload       []byte
	ContentType   string
	RetryCount    int
	DeliveryMode  DeliveryMode
}

// New creates a fresh persistent envelope with a zero retry count.
func New(correlationID string, payload []byte, contentType string) *Envelope {
	return &Envelope{
		CorrelationID: correlationID,
		Payload:       payload,
		ContentType:   contentType,
		RetryCount:    0,
		DeliveryMode:  Persistent,
	}
}

// Valid reports whether the envelope can be joined back to a request.
func (e *Envelope) Valid() bool {
	return e != nil && e.CorrelationID != ""
}

// Retry returns a copy of the envelope for the next attempt. The receiver is not modified.
func (e *Envelope) Retry() *Envelope {
	next := *e
	next.RetryCount = e.RetryCount + 1
	if next.DeliveryMode == 0 {
		next.DeliveryMode = Persistent
	}
	return &next
}

// Headers returns the message headers for the envelope.
func (e *Envelope) Headers() map[string]interface{} {
	return map[string]interface{}{
		HeaderRequestID:  e.CorrelationID,
		HeaderRetryCount: int64(e.RetryCount),
	}
}

// FromHeaders rebuilds an envelope from a received message.
// A missing request id yields an envelope that is not Valid.
func FromHeaders(headers map[string]interface{}, body []byte, contentType string, mode DeliveryMode) *Envelope {
	env := &Envelope{
		Payload:      body,
		ContentType:  contentType,
		DeliveryMode: mode,
	}

	if headers == nil {
		return env
	}

	switch id := headers[HeaderRequestID].(type) {
	case string:
		env.CorrelationID = id
	case []byte:
		env.CorrelationID = string(id)
	}

	env.RetryCount = ParseRetryCount(headers[HeaderRetryCount])
	return env
}

// ParseRetryCount converts a header value of any integer width into a retry count.
// Missing, negative or unparsable values read as 0.
func ParseRetryCount(v interface{}) int {
	var n int64
	switch value := v.(type) {
	case int:
		n = int64(value)
	case int8:
		n = int64(value)
	case int16:
		n = int64(value)
	case int32:
		n = int64(value)
	case int64:
		n = value
	case uint8:
		n = int64(value)
	case uint16:
		n = int64(value)
	case uint32:
		n = int64(value)
	case uint64:
		if value > math.MaxInt32 {
			return math.MaxInt32
		}
		n = int64(value)
	case float32:
		n = int64(value)
	case float64:
		n = int64(value)
	case string:
		parsed, err := strconv.ParseInt(value, 10, 64)
		if err != nil {
			return 0
		}
		n = parsed
	default:
		return 0
	}

	if n < 0 {
		return 0
	}
	if n > math.MaxInt32 {
		return math.MaxInt32
	}
	return int(n)
}
