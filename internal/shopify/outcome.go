package shopify

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
)

// OutcomeKind tags the variant held by an [Outcome].
type OutcomeKind int

const (
	// OutcomeOK means the request succeeded and Data holds the response data.
	OutcomeOK OutcomeKind = iota

	// OutcomeGraphQLError means the platform answered with an error list or
	// error object, or with a non-success HTTP status.
	OutcomeGraphQLError

	// OutcomeTransportError means no usable response was received.
	OutcomeTransportError
)

// String returns the kind's label used in logs and metrics.
func (k OutcomeKind) String() string {
	switch k {
	case OutcomeOK:
		return "ok"
	case OutcomeGraphQLError:
		return "graphql"
	case OutcomeTransportError:
		return "transport"
	default:
		return "unknown"
	}
}

// Outcome is the normalised result of one GraphQL request. Response error
// shapes are decoded once, when the Outcome is built, so callers only ever
// switch on Kind.
type Outcome struct {
	Kind OutcomeKind

	// Data is the raw "data" member for OutcomeOK.
	Data json.RawMessage

	// Messages lists the error messages for OutcomeGraphQLError.
	Messages []string

	// HTTPStatus is the HTTP status of the response, or 0 when unknown.
	HTTPStatus int

	// Cause is the underlying error for OutcomeTransportError.
	Cause error

	// Body is the raw response body, kept for the operation log.
	Body json.RawMessage
}

// OK builds a successful outcome.
func OK(data json.RawMessage) Outcome {
	return Outcome{Kind: OutcomeOK, Data: data, HTTPStatus: http.StatusOK}
}

// GraphQLFailure builds a platform error outcome.
func GraphQLFailure(httpStatus int, messages ...string) Outcome {
	return Outcome{Kind: OutcomeGraphQLError, Messages: messages, HTTPStatus: httpStatus}
}

// TransportFailure builds a transport error outcome.
func TransportFailure(cause error) Outcome {
	return Outcome{Kind: OutcomeTransportError, Cause: cause}
}

// OK reports whether the outcome is successful.
func (o Outcome) OK() bool { return o.Kind == OutcomeOK }

// Decode unmarshals the data of a successful outcome into v.
func (o Outcome) Decode(v any) error {
	if o.Kind != OutcomeOK {
		return fmt.Errorf("shopify: decode: outcome is %s, not ok", o.Kind)
	}
	if len(o.Data) == 0 || bytes.Equal(o.Data, []byte("null")) {
		return fmt.Errorf("shopify: decode: response carried no data")
	}
	if err := json.Unmarshal(o.Data, v); err != nil {
		return fmt.Errorf("shopify: decode: %w", err)
	}
	return nil
}

// Summary renders the failure as a single line. It returns "" for OK.
func (o Outcome) Summary() string {
	switch o.Kind {
	case OutcomeGraphQLError:
		if len(o.Messages) > 0 {
			return strings.Join(o.Messages, "; ")
		}
		if o.HTTPStatus != 0 {
			return "HTTP " + strconv.Itoa(o.HTTPStatus)
		}
		return "Unknown GraphQL error"
	case OutcomeTransportError:
		if o.Cause != nil {
			return o.Cause.Error()
		}
		return "transport error"
	}
	return ""
}

// ── response decoding ─────────────────────────────────────────────────────────

// envelope is the GraphQL response body.
type envelope struct {
	Data       json.RawMessage `json:"data"`
	Errors     json.RawMessage `json:"errors"`
	Extensions json.RawMessage `json:"extensions"`
}

// errorItem is one entry of an error list.
type errorItem struct {
	Message    string `json:"message"`
	Extensions struct {
		Code string `json:"code"`
	} `json:"extensions"`
}

// errorObject is the object form of "errors".
type errorObject struct {
	NetworkStatusCode int         `json:"networkStatusCode"`
	Message           string      `json:"message"`
	GraphQLErrors     []errorItem `json:"graphQLErrors"`
}

// DecodeResponse normalises an HTTP response into an [Outcome]. It accepts
// "errors" as a list of {message}, as an object carrying
// {networkStatusCode, message, graphQLErrors}, or as a bare string.
// A THROTTLED error code is reported as HTTP 429.
func DecodeResponse(status int, body []byte) Outcome {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		if status < 200 || status > 299 {
			o := GraphQLFailure(status)
			o.Body = rawOrString(body)
			return o
		}
		return TransportFailure(fmt.Errorf("shopify: malformed response body: %w", err))
	}

	if msgs, code, ok := decodeErrors(env.Errors); ok {
		if code != 0 {
			status = code
		}
		o := GraphQLFailure(status, msgs...)
		o.Body = body
		return o
	}
	if status < 200 || status > 299 {
		o := GraphQLFailure(status)
		o.Body = body
		return o
	}

	o := OK(env.Data)
	o.HTTPStatus = status
	o.Body = body
	return o
}

// decodeErrors reports the messages held by raw and an HTTP status implied
// by it (0 if none). ok is false when raw is absent, null or an empty list.
func decodeErrors(raw json.RawMessage) (msgs []string, status int, ok bool) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return nil, 0, false
	}

	switch raw[0] {
	case '[':
		var items []errorItem
		if err := json.Unmarshal(raw, &items); err != nil {
			return []string{string(raw)}, 0, true
		}
		if len(items) == 0 {
			return nil, 0, false
		}
		for _, it := range items {
			msgs = append(msgs, it.Message)
			if it.Extensions.Code == "THROTTLED" {
				status = http.StatusTooManyRequests
			}
		}
		return msgs, status, true

	case '{':
		var obj errorObject
		if err := json.Unmarshal(raw, &obj); err != nil {
			return []string{string(raw)}, 0, true
		}
		if obj.Message != "" {
			msgs = append(msgs, obj.Message)
		}
		for _, it := range obj.GraphQLErrors {
			msgs = append(msgs, it.Message)
			if it.Extensions.Code == "THROTTLED" {
				status = http.StatusTooManyRequests
			}
		}
		if obj.NetworkStatusCode != 0 {
			status = obj.NetworkStatusCode
		}
		if len(msgs) == 0 && status == 0 {
			msgs = append(msgs, string(raw))
		}
		return msgs, status, true

	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			s = string(raw)
		}
		return []string{s}, 0, true
	}
	return []string{string(raw)}, 0, true
}

// rawOrString returns body when it is valid JSON, else body as a JSON string.
func rawOrString(body []byte) json.RawMessage {
	if json.Valid(body) {
		return body
	}
	b, _ := json.Marshal(string(body))
	return b
}

// ── scalar helpers ────────────────────────────────────────────────────────────

// Count decodes an UnsignedInt64 count, which the Admin API serialises as a
// string, while also accepting a plain JSON number.
type Count int64

// UnmarshalJSON implements json.Unmarshaler.
func (c *Count) UnmarshalJSON(b []byte) error {
	s := strings.Trim(string(b), `"`)
	if s == "" || s == "null" {
		*c = 0
		return nil
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if err != nil {
		return fmt.Errorf("shopify: invalid count %s: %w", b, err)
	}
	*c = Count(n)
	return nil
}
