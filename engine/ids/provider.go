package ids

import "context"

// Provider mints new IDs. Applications inject a Provider rather than calling
// New directly, mirroring the teacher's ports.IDGenerator / UUIDGenerator
// split (an explicit provider object, not a global static registry).
type Provider interface {
	NewID(ctx context.Context) (ID, error)
}

// UUIDv7Provider is the default Provider implementation.
type UUIDv7Provider struct{}

func (UUIDv7Provider) NewID(_ context.Context) (ID, error) {
	return New()
}
