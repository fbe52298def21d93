package bridge

import "errors"

var (
	// ErrNoActiveBinding is returned when a command references a channel the
	// connection has no remote socket for.
	ErrNoActiveBinding = errors.New("no active binding for channel")

	// ErrAlreadyBound is returned by Registry.Bind when the connection already
	// owns a socket for the channel.
	ErrAlreadyBound = errors.New("channel already bound")

	// ErrMalformedEnvelope is returned when a remote envelope is missing the
	// fields its type requires.
	ErrMalformedEnvelope = errors.New("malformed envelope")

	// ErrTransport wraps failures of the remote socket.
	ErrTransport = errors.New("remote transport error")
)
