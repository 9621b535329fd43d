package model

import (
	"encoding/hex"
	"fmt"
	"strings"
	"time"
)

// UID is the 4-byte identifier read from an RFID tag.
type UID [4]byte

// String renders the UID as upper-case hex bytes joined by '-', the form
// used on the serial link: "E3-9A-66-10".
func (u UID) String() string {
	parts := make([]string, len(u))
	for i, b := range u {
		parts[i] = strings.ToUpper(hex.EncodeToString([]byte{b}))
	}
	return strings.Join(parts, "-")
}

// ParseUID parses "E3-9A-66-10". A "0x" prefix on each byte is accepted.
func ParseUID(s string) (UID, error) {
	var u UID
	parts := strings.Split(strings.TrimSpace(s), "-")
	if len(parts) != len(u) {
		return u, fmt.Errorf("uid %q: want %d bytes", s, len(u))
	}
	for i, p := range parts {
		p = strings.TrimPrefix(strings.TrimPrefix(p, "0x"), "0X")
		if len(p) != 2 {
			return u, fmt.Errorf("uid %q: byte %d is %q", s, i, p)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return u, fmt.Errorf("uid %q: %w", s, err)
		}
		u[i] = b[0]
	}
	return u, nil
}

// MarshalText implements encoding.TextMarshaler.
func (u UID) MarshalText() ([]byte, error) {
	return []byte(u.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (u *UID) UnmarshalText(text []byte) error {
	parsed, err := ParseUID(string(text))
	if err != nil {
		return err
	}
	*u = parsed
	return nil
}

// Credential is one provisioned card.
type Credential struct {
	UID   UID    `toml:"uid" json:"uid"`
	Label string `toml:"label,omitempty" json:"label,omitempty"`
}

// CredentialTable maps a card index (as reported by the reader) to its UID.
type CredentialTable []Credential

// Lookup returns the credential at index.
func (t CredentialTable) Lookup(index int) (Credential, bool) {
	if index < 0 || index >= len(t) {
		return Credential{}, false
	}
	return t[index], true
}

// IndexOf returns the index of uid, or -1.
func (t CredentialTable) IndexOf(uid UID) int {
	for i, c := range t {
		if c.UID == uid {
			return i
		}
	}
	return -1
}

// DefaultCredentials is the card table of the reference installation.
var DefaultCredentials = CredentialTable{
	{UID: UID{0x6D, 0xE2, 0xD7, 0x21}, Label: "card-1"},
	{UID: UID{0x23, 0x0A, 0x54, 0x11}, Label: "card-2"},
	{UID: UID{0xE3, 0x9A, 0x66, 0x10}, Label: "card-3"},
	{UID: UID{0x43, 0x34, 0x54, 0x10}, Label: "card-4"},
	{UID: UID{0x40, 0x1E, 0x4A, 0x12}, Label: "card-5"},
	{UID: UID{0x6A, 0xD5, 0x17, 0xA4}, Label: "card-6"},
}

// ScanEvent is one identified tap on the reader. Seq increases with every
// fresh tap so consumers can tell a new read of the same card from a stale one.
type ScanEvent struct {
	CardIndex int       `json:"card_index"`
	Seq       uint64    `json:"seq"`
	At        time.Time `json:"at"`
}

// GateClaim grants one gate the right to a scanned card.
type GateClaim struct {
	ID        string    `json:"id"`
	Gate      GateID    `json:"gate"`
	CardIndex int       `json:"card_index"`
	At        time.Time `json:"at"`
}
