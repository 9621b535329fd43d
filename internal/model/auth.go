package model

import (
	"encoding/json"
	"fmt"
)

// AuthResult is the outcome of a remote authorization request as delivered on
// the serial link. The zero value is AuthNone.
type AuthResult uint8

const (
	AuthNone AuthResult = iota
	AuthEntryDenied
	AuthEntryGranted
	AuthChecking
	AuthExitDenied
	AuthExitGranted
	AuthRequestFailed
)

// ParseResultCode maps a CHECKING-RESULT wire code (0..5) to a result.
func ParseResultCode(code int) (AuthResult, error) {
	if code < 0 || code > 5 {
		return AuthNone, fmt.Errorf("unknown result code %d", code)
	}
	return AuthResult(code + 1), nil
}

// Code returns the CHECKING-RESULT wire code, or -1 for AuthNone.
func (r AuthResult) Code() int {
	return int(r) - 1
}

// Gate returns the gate a result refers to. RequestFailed, Checking and None
// carry no gate.
func (r AuthResult) Gate() (GateID, bool) {
	switch r {
	case AuthEntryDenied, AuthEntryGranted:
		return GateEntry, true
	case AuthExitDenied, AuthExitGranted:
		return GateExit, true
	}
	return "", false
}

// Granted reports whether the result lets a vehicle through.
func (r AuthResult) Granted() bool {
	return r == AuthEntryGranted || r == AuthExitGranted
}

// GrantFor returns the granted result for a gate.
func GrantFor(g GateID) AuthResult {
	if g == GateExit {
		return AuthExitGranted
	}
	return AuthEntryGranted
}

// DenialFor returns the denied result for a gate.
func DenialFor(g GateID) AuthResult {
	if g == GateExit {
		return AuthExitDenied
	}
	return AuthEntryDenied
}

var authResultNames = [...]string{
	AuthNone:          "none",
	AuthEntryDenied:   "entry-denied",
	AuthEntryGranted:  "entry-granted",
	AuthChecking:      "checking",
	AuthExitDenied:    "exit-denied",
	AuthExitGranted:   "exit-granted",
	AuthRequestFailed: "request-failed",
}

// String returns the string representation of the result.
func (r AuthResult) String() string {
	if int(r) < len(authResultNames) {
		return authResultNames[r]
	}
	return fmt.Sprintf("AuthResult(%d)", uint8(r))
}

// MarshalJSON encodes the result by name.
func (r AuthResult) MarshalJSON() ([]byte, error) {
	return json.Marshal(r.String())
}

// ParseAuthResult maps a result name back to its value.
func ParseAuthResult(name string) (AuthResult, error) {
	for i, n := range authResultNames {
		if n == name {
			return AuthResult(i), nil
		}
	}
	return AuthNone, fmt.Errorf("unknown auth result %q", name)
}

// UnmarshalJSON decodes the form written by MarshalJSON.
func (r *AuthResult) UnmarshalJSON(data []byte) error {
	var name string
	if err := json.Unmarshal(data, &name); err != nil {
		return err
	}
	parsed, err := ParseAuthResult(name)
	if err != nil {
		return err
	}
	*r = parsed
	return nil
}
