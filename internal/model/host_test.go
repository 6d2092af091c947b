package model

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseHost(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected Host
		wantErr  bool
	}{
		{
			name:     "valid host",
			input:    "10.0.0.1:7000:0a0b",
			expected: Host{Address: "10.0.0.1", Port: 7000, Token: Token([]byte{0x0a, 0x0b})},
		},
		{
			name:     "empty token",
			input:    "localhost:7000:",
			expected: Host{Address: "localhost", Port: 7000, Token: ""},
		},
		{
			name:     "whitespace trimmed",
			input:    "  localhost:7001:ff  ",
			expected: Host{Address: "localhost", Port: 7001, Token: Token([]byte{0xff})},
		},
		{name: "missing token", input: "localhost:7000", wantErr: true},
		{name: "bad port", input: "localhost:abc:ff", wantErr: true},
		{name: "port out of range", input: "localhost:70000:ff", wantErr: true},
		{name: "bad hex", input: "localhost:7000:zz", wantErr: true},
		{name: "empty address", input: ":7000:ff", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseHost(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.expected, got)
		})
	}
}

func TestHost_StringRoundTrip(t *testing.T) {
	h := NewHost("node-1", 7000, Token([]byte{0x00, 0x7f, 0xff}))
	assert.Equal(t, "node-1:7000:007fff", h.String())

	parsed, err := ParseHost(h.String())
	require.NoError(t, err)
	assert.Equal(t, h, parsed)
	assert.Equal(t, "node-1:7000", h.Addr())
}

func TestHost_EqualityIncludesToken(t *testing.T) {
	a := NewHost("node-1", 7000, Token("a"))
	b := NewHost("node-1", 7000, Token("b"))
	assert.NotEqual(t, a, b)
	assert.Equal(t, a, NewHost("node-1", 7000, Token("a")))
}

func TestToken_Compare(t *testing.T) {
	assert.Equal(t, -1, Token([]byte{0x01}).Compare(Token([]byte{0x02})))
	assert.Equal(t, 1, Token([]byte{0x01, 0x00}).Compare(Token([]byte{0x01})))
	assert.Equal(t, 0, Token("x").Compare(Token("x")))
	assert.Equal(t, 1, Token([]byte{0xff}).Compare(Token([]byte{0x00, 0xff})))
}

func TestDeriveToken(t *testing.T) {
	a := DeriveToken("localhost", 7000)
	require.Len(t, a.Bytes(), 8)
	assert.Equal(t, a, DeriveToken("localhost", 7000))
	assert.NotEqual(t, a, DeriveToken("localhost", 7001))
}
