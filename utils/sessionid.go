package utils

import (
	"github.com/google/uuid"
)

// NewSessionID identifies one connection attempt of an endpoint.
func NewSessionID() string {
	return uuid.NewString()
}
