package utils

import (
	"fmt"
	"net"
	"strconv"
)

// VerifyPortAvailable probes host:port with a short-lived TCP listener so an
// address conflict surfaces before the API server starts.
func VerifyPortAvailable(host, port string) error {
	portNum, err := strconv.Atoi(port)
	if err != nil {
		return fmt.Errorf("invalid port number %q: %w", port, err)
	}

	ln, err := net.Listen("tcp", net.JoinHostPort(host, strconv.Itoa(portNum)))
	if err != nil {
		return fmt.Errorf("port %s is not available: %w", port, err)
	}
	if closeErr := ln.Close(); closeErr != nil {
		return fmt.Errorf("failed to close listener: %w", closeErr)
	}
	return nil
}
