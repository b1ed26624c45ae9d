package api

import (
	"errors"
	"fmt"
)

var (
	// ErrNetwork covers transport failures and every non-2xx status.
	ErrNetwork      = errors.New("backend: request failed")
	ErrUnauthorized = errors.New("backend: unauthorized")
	ErrBadResponse  = errors.New("backend: malformed response")
)

// Error carries the operation and HTTP details of a failed backend call.
type Error struct {
	Sentinel error
	Op       string
	Status   int
	Detail   string // backend "detail" message, when it sent one
	Err      error
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("%s: %v", e.Op, e.Sentinel)
	if e.Status > 0 {
		msg = fmt.Sprintf("%s (HTTP %d)", msg, e.Status)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Err != nil {
		msg = fmt.Sprintf("%s: %v", msg, e.Err)
	}
	return msg
}

// Is lets a 401/403 match both ErrUnauthorized and ErrNetwork.
func (e *Error) Is(target error) bool {
	if target == e.Sentinel {
		return true
	}
	return e.Sentinel == ErrUnauthorized && target == ErrNetwork
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Message is the text shown to the user for a failed call.
func Message(err error) string {
	var apiErr *Error
	if errors.As(err, &apiErr) && apiErr.Detail != "" {
		return apiErr.Detail
	}
	switch {
	case errors.Is(err, ErrUnauthorized):
		return "Please sign in again."
	case errors.Is(err, ErrBadResponse):
		return "The server sent an unexpected response."
	case errors.Is(err, ErrNetwork):
		return "Could not load videos. Check your connection and try again."
	}
	if err != nil {
		return err.Error()
	}
	return ""
}
