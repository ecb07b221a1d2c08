// Package launch holds the pure rules for starting the server process on a
// platform-assigned port.
package launch

import (
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// PortEnv is the environment variable the hosting platform uses to hand the
// process its listening port.
const PortEnv = "PORT"

// DefaultHost binds every network interface.
const DefaultHost = "0.0.0.0"

var (
	// ErrPortUnset is returned when no port was supplied.
	ErrPortUnset = errors.New("listening port is not set")

	// ErrPortInvalid is returned when the supplied port is not a usable TCP port.
	ErrPortInvalid = errors.New("listening port is invalid")
)

// ResolvePort parses the raw port value handed over by the platform.
// The result is exactly the number supplied; there is no fallback port.
//
// Example:
//
//	ResolvePort("8080") // returns 8080, nil
//	ResolvePort("")     // returns 0, ErrPortUnset
func ResolvePort(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, ErrPortUnset
	}

	port, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %q is not a number", ErrPortInvalid, raw)
	}
	if port < 1 || port > 65535 {
		return 0, fmt.Errorf("%w: %d is outside 1-65535", ErrPortInvalid, port)
	}

	return port, nil
}

// BindAddress returns the host:port the server listens on.
// An empty host binds all interfaces.
func BindAddress(host string, port int) string {
	if host == "" {
		host = DefaultHost
	}
	return net.JoinHostPort(host, strconv.Itoa(port))
}
