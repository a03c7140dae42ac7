package studio

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// Header names carrying the caller's Lightning credentials.
const (
	HeaderUserID = "LIGHTNING_USER_ID"
	HeaderAPIKey = "LIGHTNING_API_KEY"
)

// ErrMissingCredentials is returned when a credential is absent.
var ErrMissingCredentials = errors.New("missing required credential")

// Studio is the serialized view of a remote studio.
type Studio struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Teamspace   string    `json:"teamspace"`
	User        string    `json:"user"`
	TeamspaceID string    `json:"teamspace_id,omitempty"`
	Status      string    `json:"status,omitempty"`
	Machine     string    `json:"machine,omitempty"`
	URL         string    `json:"url"`
	CreatedAt   time.Time `json:"created_at,omitzero"`
}

// Ref identifies a studio by name within a teamspace owned by a user.
type Ref struct {
	Name      string `json:"name"`
	Teamspace string `json:"teamspace"`
	User      string `json:"user"`
}

// Credentials authenticate a caller against the backend.
type Credentials struct {
	UserID string
	APIKey string
}

// Validate reports which credential is missing, if any.
func (c Credentials) Validate() error {
	if c.UserID == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, HeaderUserID)
	}
	if c.APIKey == "" {
		return fmt.Errorf("%w: %s", ErrMissingCredentials, HeaderAPIKey)
	}
	return nil
}

// Provisioner performs the remote start and stop calls.
type Provisioner interface {
	StartStudio(ctx context.Context, creds Credentials, ref Ref) (Studio, error)
	StopStudio(ctx context.Context, creds Credentials, studioID string) error
}

// Clock returns the current time (useful for testing).
type Clock interface {
	Now() time.Time
}

// IDGenerator produces operation IDs.
type IDGenerator interface {
	NewID() (string, error)
}

type requestIDKey struct{}

// WithRequestID attaches an inbound request ID to ctx.
func WithRequestID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, requestIDKey{}, id)
}

// RequestIDFrom returns the request ID stored by WithRequestID.
func RequestIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(requestIDKey{}).(string)
	return id
}
