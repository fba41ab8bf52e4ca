package hub

import "errors"

var (
	// ErrNotConnected is returned by Invoke when no connection is live.
	ErrNotConnected = errors.New("hub: not connected")
	// ErrHandshake wraps a rejected or malformed protocol handshake.
	ErrHandshake = errors.New("hub: handshake failed")
	// ErrConnectionClosed is reported when the server or transport ends the
	// connection.
	ErrConnectionClosed = errors.New("hub: connection closed")
	// ErrNoToken is recorded when a reconnect attempt finds no token.
	ErrNoToken = errors.New("hub: no access token")
	// ErrStopped is returned by a Start that was overtaken by Stop.
	ErrStopped = errors.New("hub: stopped")
	// ErrInvocation wraps an error completion returned by the server.
	ErrInvocation = errors.New("hub: invocation failed")
)
