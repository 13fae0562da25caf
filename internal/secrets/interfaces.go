package secrets

import "context"

// Credentials holds a retrieved username and password pair.
type Credentials struct {
	Username string
	Password string
}

// SecretManager abstracts the secret backend so database credentials never
// have to live in environment files on the warehouse host.
type SecretManager interface {
	// GetCredentials reads database credentials from the backend.
	// pathOrID locates the secret; usernameKey and passwordKey select the
	// fields inside it.
	GetCredentials(ctx context.Context, pathOrID string, usernameKey string, passwordKey string) (*Credentials, error)

	// IsEnabled reports whether this backend is configured and usable.
	IsEnabled() bool
}
