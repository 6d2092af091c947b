package model

import (
	"bytes"
	"encoding/hex"
	"fmt"
	"net"
	"strconv"
	"strings"
)

// Token is an opaque ring position, ordered byte-lexicographically.
// It is a string so that Host stays comparable.
type Token string

// TokenFromBytes copies b into a token.
func TokenFromBytes(b []byte) Token {
	return Token(b)
}

// ParseToken decodes a hex token.
func ParseToken(s string) (Token, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return "", fmt.Errorf("invalid token %q: %w", s, err)
	}
	return Token(b), nil
}

// DeriveToken returns the ring token used when a host has no configured one.
func DeriveToken(address string, port int) Token {
	return Token(hashBytes([]byte(net.JoinHostPort(address, strconv.Itoa(port)))))
}

// Compare orders tokens byte-lexicographically.
func (t Token) Compare(other Token) int {
	return bytes.Compare([]byte(t), []byte(other))
}

// Bytes returns a copy of the raw token.
func (t Token) Bytes() []byte {
	return []byte(t)
}

func (t Token) String() string {
	return hex.EncodeToString([]byte(t))
}

// Host is a ring member. Equality is by address, port and token.
type Host struct {
	Address string
	Port    int
	Token   Token
}

// NewHost returns a host.
func NewHost(address string, port int, token Token) Host {
	return Host{Address: address, Port: port, Token: token}
}

// Addr returns the dialable address of the host.
func (h Host) Addr() string {
	return net.JoinHostPort(h.Address, strconv.Itoa(h.Port))
}

// String returns the membership text form address:port:hextoken.
func (h Host) String() string {
	return fmt.Sprintf("%s:%d:%s", h.Address, h.Port, h.Token)
}

// ParseHost parses the address:port:hextoken form produced by Host.String.
func ParseHost(s string) (Host, error) {
	parts := strings.Split(strings.TrimSpace(s), ":")
	if len(parts) != 3 {
		return Host{}, fmt.Errorf("invalid host %q: expected address:port:token", s)
	}
	if parts[0] == "" {
		return Host{}, fmt.Errorf("invalid host %q: empty address", s)
	}
	port, err := strconv.Atoi(parts[1])
	if err != nil || port <= 0 || port > 65535 {
		return Host{}, fmt.Errorf("invalid host %q: bad port %q", s, parts[1])
	}
	token, err := ParseToken(parts[2])
	if err != nil {
		return Host{}, fmt.Errorf("invalid host %q: %w", s, err)
	}
	return Host{Address: parts[0], Port: port, Token: token}, nil
}
