// File: internal/transport/address.go
package transport

import (
	"errors"
	"fmt"
	"net/url"
	"strconv"
	"strings"
)

// DefaultPath is appended to legacy tcp:// addresses that carry no path.
const DefaultPath = "/agent"

// ConnectError reports a controller address that can never be dialed.
type ConnectError struct {
	Address string
	Err     error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("invalid controller address %q: %v", e.Address, e.Err)
}

func (e *ConnectError) Unwrap() error { return e.Err }

var (
	errNoHost        = errors.New("missing host")
	errUnknownScheme = errors.New("scheme must be ws, wss or tcp")
)

// ParseAddress validates a controller address. ws:// and wss:// are used as is.
// The legacy tcp://host:port form maps to ws://host:port/agent.
func ParseAddress(address string) (*url.URL, error) {
	trimmed := strings.TrimSpace(address)
	if trimmed == "" {
		return nil, &ConnectError{Address: address, Err: errors.New("empty address")}
	}
	u, err := url.Parse(trimmed)
	if err != nil {
		return nil, &ConnectError{Address: address, Err: err}
	}

	switch strings.ToLower(u.Scheme) {
	case "ws", "wss":
		u.Scheme = strings.ToLower(u.Scheme)
	case "tcp":
		u.Scheme = "ws"
		if u.Path == "" || u.Path == "/" {
			u.Path = DefaultPath
		}
	default:
		return nil, &ConnectError{Address: address, Err: errUnknownScheme}
	}
	if u.Hostname() == "" {
		return nil, &ConnectError{Address: address, Err: errNoHost}
	}
	if port := u.Port(); port != "" {
		if _, err := parsePort(port); err != nil {
			return nil, &ConnectError{Address: address, Err: err}
		}
	}
	return u, nil
}

func parsePort(port string) (int, error) {
	n, err := strconv.Atoi(port)
	if err != nil || n <= 0 || n > 65535 {
		return 0, fmt.Errorf("port %q out of range", port)
	}
	return n, nil
}
