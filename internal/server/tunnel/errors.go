package tunnel

import "errors"

var (
	// ErrConnectionClosed is returned when trying to use a closed connection
	ErrConnectionClosed = errors.New("connection is closed")

	// ErrSendTimeout is returned when the send queue stays full past the send timeout
	ErrSendTimeout = errors.New("send operation timed out")

	// ErrSubdomainTaken is returned when a subdomain is already registered
	ErrSubdomainTaken = errors.New("subdomain is already taken")

	// ErrAllocationExhausted is returned when no free subdomain was found
	ErrAllocationExhausted = errors.New("no free subdomain found")
)
