package followers

import (
	"errors"
	"fmt"

	"github.com/bridgyfollowers/bridgyfollowers/bsky"
	"github.com/bridgyfollowers/bridgyfollowers/webfinger"
)

var (
	// A remote call failed: network, timeout, or an HTTP-level error.
	ErrTransport = errors.New("transport error")

	// A response didn't have the expected shape, or an identity or address
	// failed to parse.
	ErrProtocol = errors.New("protocol error")

	// The ignore list, follow set or bridge settings were malformed.
	ErrConfiguration = errors.New("configuration error")
)

// Wraps a collaborator error in exactly one of the error classes above.
func classifyErr(op string, err error) error {
	switch {
	case errors.Is(err, ErrTransport), errors.Is(err, ErrProtocol), errors.Is(err, ErrConfiguration):
		return fmt.Errorf("%s: %w", op, err)
	case errors.Is(err, bsky.ErrMalformedResponse), errors.Is(err, bsky.ErrInvalidSyntax), errors.Is(err, webfinger.ErrBadAddress):
		return fmt.Errorf("%w: %s: %w", ErrProtocol, op, err)
	default:
		return fmt.Errorf("%w: %s: %w", ErrTransport, op, err)
	}
}

func configErr(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrConfiguration, fmt.Sprintf(format, args...))
}
