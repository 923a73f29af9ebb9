package utils

import (
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVerifyPortAvailable(t *testing.T) {
	assert.NoError(t, VerifyPortAvailable("127.0.0.1", "0"))
}

func TestVerifyPortAvailableRejectsBoundPort(t *testing.T) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	defer ln.Close()

	_, port, err := net.SplitHostPort(ln.Addr().String())
	require.NoError(t, err)

	assert.Error(t, VerifyPortAvailable("127.0.0.1", port))
}

func TestVerifyPortAvailableRejectsNonNumericPort(t *testing.T) {
	assert.Error(t, VerifyPortAvailable("127.0.0.1", "http"))
}
