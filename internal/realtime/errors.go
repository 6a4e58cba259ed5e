package realtime

import "errors"

var (
	// ErrDuplicateConnection is returned when a connection id is registered twice.
	ErrDuplicateConnection = errors.New("connection id already registered")
	// ErrUnknownConnection is returned for room operations on an unregistered connection.
	ErrUnknownConnection = errors.New("unknown connection")
	// ErrNotMember is returned when a sender does not belong to the target room.
	ErrNotMember = errors.New("user is not a room member")
	// ErrInvalidRecipient is returned when a user acknowledges a message they
	// are not a recipient of, including a sender reading their own message.
	ErrInvalidRecipient = errors.New("invalid recipient for message")
	// ErrUnknownMessage is returned for acknowledgements referencing a message
	// the tracker has never fanned out.
	ErrUnknownMessage = errors.New("unknown message")
	// ErrConnectionGone is reported by transports when the target connection
	// disappeared between resolution and write.
	ErrConnectionGone = errors.New("connection gone")
)
