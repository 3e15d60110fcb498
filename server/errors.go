package server

import "errors"

var (
	ErrUnauthorized  = errors.New("unauthorized")
	ErrInvalidToken  = errors.New("invalid token")
	ErrNotFound      = errors.New("not found")
	ErrAccountExists = errors.New("account already exists")
)
