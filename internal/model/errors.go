package model

import "errors"

var (
	ErrNotFound          = errors.New("not found")
	ErrItemExists        = errors.New("item already exists")
	ErrInvalidState      = errors.New("invalid item state")
	ErrStaleTransition   = errors.New("item is no longer in the expected state")
	ErrInvalidTransition = errors.New("transition not allowed")
)
