package controlsock

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/containerkit/netcore/pkg/nerr"
)

func TestPidRoundTrip(t *testing.T) {
	master, sock, err := NewPair()
	require.NoError(t, err)
	defer master.Close()
	defer sock.Close()

	require.NoError(t, sock.SendPid(4242))
	pid, err := master.RecvPid()
	require.NoError(t, err)
	assert.EqualValues(t, 4242, pid)
}

func TestAckRoundTrip(t *testing.T) {
	master, sock, err := NewPair()
	require.NoError(t, err)
	defer master.Close()
	defer sock.Close()

	require.NoError(t, master.SendAck())
	assert.NoError(t, sock.RecvAck())
}

func TestErrorPayloadRoundTrip(t *testing.T) {
	master, sock, err := NewPair()
	require.NoError(t, err)
	defer master.Close()
	defer sock.Close()

	want := ErrorPayload{Kind: nerr.ResourceNotAvailable, Errno: 28, Text: "no space left on device"}
	require.NoError(t, sock.SendError(want))

	got, err := master.RecvError()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}

func TestErrorPayloadRoundTripEmptyText(t *testing.T) {
	master, sock, err := NewPair()
	require.NoError(t, err)
	defer master.Close()
	defer sock.Close()

	want := ErrorPayload{Kind: nerr.Success, Errno: 0, Text: ""}
	require.NoError(t, sock.SendError(want))

	got, err := master.RecvError()
	require.NoError(t, err)
	assert.Equal(t, want, got)
}
