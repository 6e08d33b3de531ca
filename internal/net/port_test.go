package net

import (
	"fmt"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestListenEphemeral(t *testing.T) {
	l, port, err := ListenEphemeral()
	require.NoError(t, err)
	defer l.Close()
	assert.NotZero(t, port)

	conn, err := net.Dial("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	conn.Close()
}

func TestFreePort(t *testing.T) {
	port, err := FreePort()
	require.NoError(t, err)

	l, err := net.Listen("tcp", fmt.Sprintf("127.0.0.1:%d", port))
	require.NoError(t, err)
	l.Close()
}
