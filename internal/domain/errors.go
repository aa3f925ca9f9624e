package domain

import "errors"

var (
	ErrMissingRecipient = errors.New("missing recipient")
	ErrEmptyContent     = errors.New("empty content")
	ErrContentTooLarge  = errors.New("content too large")
	ErrMessageNotFound  = errors.New("message not found")
	ErrInvalidInput     = errors.New("invalid input")
)
