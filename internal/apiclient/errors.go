package apiclient

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// Fallback texts shown when the server gives no usable message.
const (
	GenericLoadMessage   = "Could not load data. Please try again."
	GenericSubmitMessage = "Something went wrong. Please try again."
)

// ErrUploadTooLarge is returned before any network call when a file exceeds
// the upload ceiling.
var ErrUploadTooLarge = errors.New("upload too large")

// StatusError is an HTTP error answer from the API.
type StatusError struct {
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("api error (status %d): %s", e.Status, e.Body)
}

// LoadError reports a failed fetch. Message is safe to show to the user.
type LoadError struct {
	Op      string
	Message string
	Err     error
}

func (e *LoadError) Error() string { return e.Op + ": " + e.Message }
func (e *LoadError) Unwrap() error { return e.Err }

// SubmitError reports a failed create, update or delete. Message is safe to
// show to the user.
type SubmitError struct {
	Op      string
	Message string
	Err     error
}

func (e *SubmitError) Error() string { return e.Op + ": " + e.Message }
func (e *SubmitError) Unwrap() error { return e.Err }

func loadError(op string, err error) error {
	return &LoadError{Op: op, Message: userMessage(err, GenericLoadMessage), Err: err}
}

func submitError(op string, err error) error {
	return &SubmitError{Op: op, Message: userMessage(err, GenericSubmitMessage), Err: err}
}

// userMessage extracts the server's explanation from err, falling back to
// generic when there is none.
func userMessage(err error, generic string) string {
	var status *StatusError
	if !errors.As(err, &status) {
		return generic
	}

	var body struct {
		Error   string `json:"error"`
		Message string `json:"message"`
		Mensaje string `json:"mensaje"`
	}
	if json.Unmarshal([]byte(status.Body), &body) == nil {
		for _, msg := range []string{body.Message, body.Mensaje, body.Error} {
			if msg = strings.TrimSpace(msg); msg != "" {
				return msg
			}
		}
	}
	return generic
}
