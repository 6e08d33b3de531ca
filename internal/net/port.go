package net

import (
	"fmt"
	"net"
)

// ListenEphemeral returns a listener bound to a free localhost port along with that port.
// The caller owns the listener.
func ListenEphemeral() (net.Listener, int, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, 0, fmt.Errorf("listening on ephemeral port: %w", err)
	}
	return listener, listener.Addr().(*net.TCPAddr).Port, nil
}

// FreePort returns a localhost port that was free when it was checked.
// Another process may take it before the caller binds it.
func FreePort() (int, error) {
	listener, port, err := ListenEphemeral()
	if err != nil {
		return 0, err
	}
	if err := listener.Close(); err != nil {
		return 0, fmt.Errorf("releasing port %d: %w", port, err)
	}
	return port, nil
}
