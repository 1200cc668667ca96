package bsky

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ErrInvalidSyntax is wrapped by every DID or handle parse failure.
var ErrInvalidSyntax = errors.New("invalid identifier syntax")

var (
	didRegex    = regexp.MustCompile(`^did:[a-z]+:[a-zA-Z0-9._:%-]*[a-zA-Z0-9._-]$`)
	handleRegex = regexp.MustCompile(`^([a-zA-Z0-9]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?\.)+[a-zA-Z]([a-zA-Z0-9-]{0,61}[a-zA-Z0-9])?$`)
)

// Stable account identifier on the source network. The primary key for
// deduplication and relationship lookups.
//
// Always use [ParseDID] instead of wrapping strings directly, especially when working with input.
type DID string

func ParseDID(raw string) (DID, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: expected DID, got empty string", ErrInvalidSyntax)
	}
	if len(raw) > 2*1024 {
		return "", fmt.Errorf("%w: DID is too long (2048 chars max)", ErrInvalidSyntax)
	}
	if !didRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: DID syntax didn't validate via regex: %s", ErrInvalidSyntax, raw)
	}
	return DID(raw), nil
}

func (d DID) String() string {
	return string(d)
}

func (d *DID) UnmarshalText(text []byte) error {
	did, err := ParseDID(string(text))
	if err != nil {
		return err
	}
	*d = did
	return nil
}

// Human-readable, mutable account alias. Case-insensitive as a name, but
// kept exactly as the server returned it: ignore lists compare against that
// original form.
type Handle string

func ParseHandle(raw string) (Handle, error) {
	if raw == "" {
		return "", fmt.Errorf("%w: expected handle, got empty string", ErrInvalidSyntax)
	}
	if len(raw) > 253 {
		return "", fmt.Errorf("%w: handle is too long (253 chars max)", ErrInvalidSyntax)
	}
	if !handleRegex.MatchString(raw) {
		return "", fmt.Errorf("%w: handle syntax didn't validate via regex: %s", ErrInvalidSyntax, raw)
	}
	return Handle(raw), nil
}

func (h Handle) Normalize() Handle {
	return Handle(strings.ToLower(string(h)))
}

func (h Handle) String() string {
	return string(h)
}

func (h *Handle) UnmarshalText(text []byte) error {
	handle, err := ParseHandle(string(text))
	if err != nil {
		return err
	}
	*h = handle
	return nil
}

// BridgedAddress is the account address ("user@domain") under which a
// bridge serving domain exposes this handle, lower-cased.
func (h Handle) BridgedAddress(domain string) string {
	return strings.ToLower(string(h) + "@" + domain)
}

// Parses a user-supplied actor reference: a DID or a handle, optionally
// prefixed with '@'. Exactly one of the returned values is non-empty.
func ParseActor(raw string) (DID, Handle, error) {
	raw = strings.TrimPrefix(strings.TrimSpace(raw), "@")
	if strings.HasPrefix(raw, "did:") {
		did, err := ParseDID(raw)
		return did, "", err
	}
	handle, err := ParseHandle(raw)
	return "", handle, err
}
