package domain

import (
	"errors"
)

// Upload validation errors, all reported to the client as 400
var (
	ErrMissingImage       = errors.New("image is required")
	ErrEmptyPayload       = errors.New("image is empty")
	ErrInvalidContentType = errors.New("content type must be image/*")
	ErrPayloadTooLarge    = errors.New("image exceeds the maximum upload size")
)

const (
	// ImageFormField is the multipart part carrying the image
	ImageFormField = "image"

	DefaultPageSize = 20
	MaxPageSize     = 100
)
