package netutil

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
)

// ErrNoBindAddr is returned when neither the preferred address nor any
// candidate can be listened on.
var ErrNoBindAddr = errors.New("no available bind addresses")

// ListenTCP listens on preferred, or on the first free candidate when
// preferred is busy and autoFallback is set. A candidate without a host
// ("8181" or ":8181") takes the host of preferred. The listener is returned
// open so the address cannot be lost between probing and serving.
func ListenTCP(preferred string, candidates []string, autoFallback bool) (net.Listener, error) {
	host := "127.0.0.1"
	if preferred != "" {
		h, _, err := net.SplitHostPort(preferred)
		if err != nil {
			return nil, fmt.Errorf("bind address %q: %w", preferred, err)
		}
		if h != "" {
			host = h
		}
		ln, err := net.Listen("tcp", preferred)
		if err == nil {
			return ln, nil
		}
		if !autoFallback {
			return nil, fmt.Errorf("preferred bind address in use: %s", preferred)
		}
		slog.Warn("preferred bind address busy, trying candidates", "addr", preferred, "error", err)
	}

	for _, c := range candidates {
		addr := candidateAddr(host, c)
		ln, err := net.Listen("tcp", addr)
		if err != nil {
			slog.Debug("bind candidate busy", "addr", addr, "error", err)
			continue
		}
		return ln, nil
	}
	return nil, ErrNoBindAddr
}

func candidateAddr(host, c string) string {
	if h, port, err := net.SplitHostPort(c); err == nil {
		if h == "" {
			return net.JoinHostPort(host, port)
		}
		return c
	}
	return net.JoinHostPort(host, c)
}
