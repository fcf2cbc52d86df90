package transport

import "errors"

var (
	ErrAlreadyConnected = errors.New("transport: already connected")
	ErrNotConnected      = errors.New("transport: not connected")
	ErrDatagramTooLarge  = errors.New("transport: datagram exceeds maximum size")
	ErrClosed            = errors.New("transport: connection closed")
)
