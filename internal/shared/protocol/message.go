package protocol

import (
	"strconv"
	"strings"
)

// Event names a tunnel channel message
type Event string

const (
	// EventSubdomainPrepared carries the public URL assigned to the client
	EventSubdomainPrepared Event = "onSubdomainPrepared"
	// EventCredentialPrepared carries a freshly issued resumption token
	EventCredentialPrepared Event = "onSsPrepared"
	// EventRequest is sent from broker to client when a public request arrives
	EventRequest Event = "onRequest"
	// EventResponse is sent from client to broker with the result for a request
	EventResponse Event = "onResponse"
)

// String returns the string representation
func (e Event) String() string {
	return string(e)
}

// Envelope is the frame every channel message is wrapped in
type Envelope struct {
	Event Event `json:"event"`
	Data  any   `json:"data,omitempty"`
}

// InboundRequest is the snapshot of a public HTTP request sent to the client
type InboundRequest struct {
	ID             string              `json:"id"`
	Headers        map[string]string   `json:"headers"`
	DeletedHeaders map[string]string   `json:"deleted_headers"`
	Query          map[string][]string `json:"query"`
	Body           []byte              `json:"body"`
	Path           string              `json:"path"`
	Method         string              `json:"method"`
	Origin         string              `json:"origin"`
}

// OutboundResult is the client's answer to an InboundRequest.
// Status and header values are loosely typed on the wire; use StatusCode
// and HeaderValues to read them.
type OutboundResult struct {
	ID           string         `json:"id"`
	Status       any            `json:"status,omitempty"`
	Headers      map[string]any `json:"headers,omitempty"`
	BinaryData   []byte         `json:"binary_data,omitempty"`
	ResponseText string         `json:"response_text,omitempty"`
}

// DefaultResultStatus is used when a result carries no usable status code
const DefaultResultStatus = 404

// StatusCode returns the result's status, or DefaultResultStatus when the
// status is missing, non-numeric, or outside 100-999.
func (r *OutboundResult) StatusCode() int {
	code, ok := toInt(r.Status)
	if !ok || code < 100 || code > 999 {
		return DefaultResultStatus
	}
	return code
}

// IsBinary reports whether the result carries a binary payload
func (r *OutboundResult) IsBinary() bool {
	return r.BinaryData != nil
}

// Payload returns the binary payload if present, else the text payload
func (r *OutboundResult) Payload() []byte {
	if r.IsBinary() {
		return r.BinaryData
	}
	return []byte(r.ResponseText)
}

// HeaderValues normalizes the wire headers into name -> values.
// A header may arrive as a single scalar or a list of scalars.
func (r *OutboundResult) HeaderValues() map[string][]string {
	out := make(map[string][]string, len(r.Headers))
	for name, raw := range r.Headers {
		var values []string
		switch v := raw.(type) {
		case nil:
			continue
		case []any:
			for _, item := range v {
				if s, ok := scalarString(item); ok {
					values = append(values, s)
				}
			}
		case []string:
			values = append(values, v...)
		default:
			if s, ok := scalarString(v); ok {
				values = append(values, s)
			}
		}
		if len(values) > 0 {
			out[name] = values
		}
	}
	return out
}

func scalarString(v any) (string, bool) {
	switch t := v.(type) {
	case string:
		return t, true
	case bool:
		return strconv.FormatBool(t), true
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64), true
	case float32:
		return strconv.FormatFloat(float64(t), 'f', -1, 32), true
	}
	if n, ok := toInt(v); ok {
		return strconv.FormatInt(int64(n), 10), true
	}
	return "", false
}

// toInt accepts every numeric type the JSON and msgpack decoders produce,
// plus numeric strings.
func toInt(v any) (int, bool) {
	switch t := v.(type) {
	case int:
		return t, true
	case int8:
		return int(t), true
	case int16:
		return int(t), true
	case int32:
		return int(t), true
	case int64:
		return int(t), true
	case uint:
		return int(t), true
	case uint8:
		return int(t), true
	case uint16:
		return int(t), true
	case uint32:
		return int(t), true
	case uint64:
		return int(t), true
	case float32:
		return int(t), true
	case float64:
		return int(t), true
	case string:
		n, err := strconv.Atoi(strings.TrimSpace(t))
		if err != nil {
			return 0, false
		}
		return n, true
	}
	return 0, false
}
