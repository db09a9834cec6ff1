package workflow

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/MrWong99/shopify-store-mcp/internal/poll"
	"github.com/MrWong99/shopify-store-mcp/internal/shopify"
)

// Steps named in errors and logs.
const (
	StepStage    = "stagedUploadsCreate"
	StepTransfer = "transfer"
	StepStart    = "start"
	StepCreate   = "fileCreate"
	StepLookup   = "lookup"
	StepCreateMO = "metaobjectCreate"
	StepUpdateMO = "metaobjectUpdate"
	StepDeleteMO = "metaobjectDelete"
	StepCancel   = "bulkOperationCancel"
	StepPoll     = "poll"
	StepQuery    = "query"
	StepSchema   = "metaobjectDefinitions"
)

// PreconditionError reports invalid input detected before any remote call.
type PreconditionError struct {
	Message string
}

func (e *PreconditionError) Error() string { return e.Message }

func precondition(format string, args ...any) error {
	return &PreconditionError{Message: fmt.Sprintf(format, args...)}
}

// RequestError reports a request that did not produce usable data.
type RequestError struct {
	Step    string
	Outcome shopify.Outcome
}

func (e *RequestError) Error() string {
	return fmt.Sprintf("%s request failed: %s", e.Step, strings.Join(e.details(), "; "))
}

// Unwrap returns the transport cause, if any.
func (e *RequestError) Unwrap() error { return e.Outcome.Cause }

// HTTPStatus returns the status carried by the outcome, 0 if none.
func (e *RequestError) HTTPStatus() int { return e.Outcome.HTTPStatus }

func (e *RequestError) details() []string {
	o := e.Outcome
	if o.Kind == shopify.OutcomeTransportError {
		return []string{o.Summary()}
	}
	var parts []string
	if o.HTTPStatus != 0 && o.HTTPStatus != http.StatusOK {
		parts = append(parts, fmt.Sprintf("HTTP %d", o.HTTPStatus))
		if g := guidance(o.HTTPStatus); g != "" {
			parts = append(parts, g)
		}
	}
	parts = append(parts, o.Messages...)
	if len(parts) == 0 {
		parts = append(parts, "Unknown GraphQL error")
	}
	return parts
}

func guidance(status int) string {
	switch status {
	case http.StatusUnauthorized:
		return "The access token is invalid or expired. Check SHOPIFY_ACCESS_TOKEN."
	case http.StatusForbidden:
		return "The access token lacks required scopes. Update your custom app's API access scopes in Shopify Admin."
	case http.StatusTooManyRequests:
		return "Rate limited by Shopify. Wait a moment and retry."
	}
	return ""
}

// UserErrors carries field-level validation errors returned by a mutation.
type UserErrors struct {
	Step   string
	Errors []shopify.UserError
}

func (e *UserErrors) Error() string {
	msgs := make([]string, len(e.Errors))
	for i, ue := range e.Errors {
		msgs[i] = ue.FieldPath() + ": " + ue.Message
	}
	return fmt.Sprintf("%s rejected: %s", e.Step, strings.Join(msgs, "; "))
}

// StateError reports a remote resource that reached a terminal failure
// state or a response missing the expected resource.
type StateError struct {
	Step    string
	Message string
}

func (e *StateError) Error() string { return e.Step + ": " + e.Message }

// TransferError reports a staged upload the storage target refused.
type TransferError struct {
	Status     int
	StatusText string
	Body       string
}

func (e *TransferError) Error() string {
	return fmt.Sprintf("transfer failed: %d %s", e.Status, e.StatusText)
}

// TimeoutError reports a poll deadline. The remote operation may still be
// running.
type TimeoutError struct {
	Resource string
	ID       string
	Timeout  time.Duration
}

func (e *TimeoutError) Error() string {
	return fmt.Sprintf("%s %s did not finish within %s", e.Resource, e.ID, e.Timeout)
}

// Render formats err as the text shown to the agent.
func Render(err error) string {
	var (
		pre *PreconditionError
		req *RequestError
		ue  *UserErrors
		st  *StateError
		tr  *TransferError
		to  *TimeoutError
	)
	switch {
	case errors.As(err, &pre):
		return "Error: " + pre.Message
	case errors.As(err, &req):
		return fmt.Sprintf("Error: %s request failed\n%s", req.Step, strings.Join(req.details(), "\n"))
	case errors.As(err, &ue):
		var b strings.Builder
		fmt.Fprintf(&b, "Error: %s rejected by Shopify\nShopify validation errors:", ue.Step)
		for _, e := range ue.Errors {
			fmt.Fprintf(&b, "\n- %s: %s", e.FieldPath(), e.Message)
		}
		return b.String()
	case errors.As(err, &st):
		return fmt.Sprintf("Error: %s: %s", st.Step, st.Message)
	case errors.As(err, &tr):
		s := fmt.Sprintf("Error: %s failed: %d %s", StepTransfer, tr.Status, tr.StatusText)
		if tr.Body != "" {
			s += "\n" + tr.Body
		}
		return s
	case errors.As(err, &to):
		return fmt.Sprintf("Error: %s %s did not finish within %s. It may still be running; check its status later using ID %s.",
			to.Resource, to.ID, to.Timeout, to.ID)
	}
	return "Error: " + err.Error()
}

// pollError maps a poller error onto the workflow error types.
func pollError(err error, resource, id string) error {
	var te *poll.TimeoutError
	if errors.As(err, &te) {
		return &TimeoutError{Resource: resource, ID: id, Timeout: te.Timeout}
	}
	var fe *poll.FailedError
	if errors.As(err, &fe) {
		if fe.Err != nil {
			return fe.Err
		}
		return &StateError{Step: StepPoll, Message: fe.Reason}
	}
	return err
}
