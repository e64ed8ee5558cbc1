package network

import (
	"context"
	"sync"
)

// Credentials are the secrets a connection authenticated with
type Credentials struct {
	Username  string
	Password  string
	Source    string
	Mechanism string
	Props     map[string]string
}

// AuthContext is retained by a transport after its handshake so the
// connection can be reauthenticated later.
type AuthContext struct {
	Credentials      *Credentials
	ServerParameters map[string]string
}

// AuthProvider runs a reauthentication round-trip for one mechanism
type AuthProvider interface {
	Reauth(ctx context.Context, conn *PooledConnection, auth *AuthContext) error
}

// AuthProviderFunc adapts a function to an AuthProvider
type AuthProviderFunc func(ctx context.Context, conn *PooledConnection, auth *AuthContext) error

// Reauth implements AuthProvider.
func (f AuthProviderFunc) Reauth(ctx context.Context, conn *PooledConnection, auth *AuthContext) error {
	return f(ctx, conn, auth)
}

var (
	authProvidersMu sync.RWMutex
	authProviders   = map[string]AuthProvider{}
)

// RegisterAuthProvider makes a reauthentication provider available for a
// mechanism name. Registering the same name again replaces the provider.
func RegisterAuthProvider(mechanism string, provider AuthProvider) {
	authProvidersMu.Lock()
	defer authProvidersMu.Unlock()
	if provider == nil {
		delete(authProviders, mechanism)
		return
	}
	authProviders[mechanism] = provider
}

func lookupAuthProvider(mechanism string) (AuthProvider, bool) {
	authProvidersMu.RLock()
	defer authProvidersMu.RUnlock()
	p, ok := authProviders[mechanism]
	return p, ok
}

// UnitOfWork is an operation run against a managed connection
type UnitOfWork func(ctx context.Context, conn *PooledConnection) error

// WithConnection runs fn against pinned, or against a freshly checked-out
// connection when pinned is nil. If fn fails because the server requires
// reauthentication, the connection is reauthenticated once and fn retried
// once. A freshly checked-out connection is always checked back in; a pinned
// one never is.
func (p *Pool) WithConnection(ctx context.Context, pinned *PooledConnection, fn UnitOfWork) error {
	if pinned != nil {
		return p.runWithReauth(ctx, pinned, fn)
	}

	conn, err := p.CheckOut(ctx)
	if err != nil {
		return err
	}
	defer p.CheckIn(conn)

	return p.runWithReauth(ctx, conn, fn)
}

func (p *Pool) runWithReauth(ctx context.Context, conn *PooledConnection, fn UnitOfWork) error {
	err := fn(ctx, conn)
	if err == nil || !IsReauthenticationRequired(err) {
		return err
	}

	if rerr := p.reauthenticate(ctx, conn); rerr != nil {
		return rerr
	}
	return fn(ctx, conn)
}

func (p *Pool) reauthenticate(ctx context.Context, conn *PooledConnection) error {
	auth := conn.AuthContext()
	if auth == nil {
		return &ConnectionPoolError{Op: "reauthenticate", Address: p.address, Err: ErrNoAuthContext}
	}
	if auth.Credentials == nil {
		return &ConnectionPoolError{Op: "reauthenticate", Address: p.address, Err: ErrMissingCredentials}
	}
	provider, ok := lookupAuthProvider(auth.Credentials.Mechanism)
	if !ok {
		return &ConnectionPoolError{Op: "reauthenticate", Address: p.address, Err: ErrMissingCredentials}
	}

	p.log.Debug("reauthenticating connection", "connection_id", conn.id,
		"mechanism", auth.Credentials.Mechanism)
	if err := provider.Reauth(ctx, conn, auth); err != nil {
		return &ConnectionPoolError{Op: "reauthenticate", Address: p.address, Err: err}
	}
	return nil
}
