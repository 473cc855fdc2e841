// Package verify proves possession of a phone number by issuing a one-time
// code and checking the code the user sends back.
package verify

import (
	"context"
	"errors"
)

// ErrThrottled indicates codes were requested for a phone too quickly.
var ErrThrottled = errors.New("too many verification codes requested")

// Provider issues and checks one-time codes.
type Provider interface {
	// Issue sends a fresh code to phone. A nil error means dispatch succeeded.
	Issue(ctx context.Context, phone string) error
	// Check reports whether code is currently valid for phone.
	Check(ctx context.Context, phone, code string) (bool, error)
}
