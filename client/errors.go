package client

import "errors"

var (
	ErrThrottled             = errors.New("sending is paused by the server rate limit")
	ErrClosed                = errors.New("connection closed")
	ErrMissingHandle         = errors.New("required session handle missing")
	ErrEncryptionUnavailable = errors.New("encryption unavailable")
	ErrUnknownFile           = errors.New("unknown file reference")
	ErrNotLoggedIn           = errors.New("no session credentials, log in first")
)
