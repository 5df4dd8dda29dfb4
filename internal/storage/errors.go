package storage

import "errors"

var (
	ErrNotFound     = errors.New("not found")
	ErrUserNotFound = &notFoundError{what: "user"}
	ErrChatNotFound = &notFoundError{what: "chat"}
)

type notFoundError struct {
	what string
}

func (e *notFoundError) Error() string { return e.what + " not found" }

func (e *notFoundError) Unwrap() error { return ErrNotFound }
