// Package serial implements the newline-delimited LABEL:VALUE protocol spoken
// between the control kernel and its network bridge, and the kernel side of
// that link.
package serial

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Line labels.
const (
	LabelCard   = "CARD"
	LabelState  = "STATE"
	LabelUser   = "USER"
	LabelResult = "CHECKING-RESULT"
)

// MaxUserLen is the longest display name carried by a USER line.
const MaxUserLen = 14

var (
	// ErrMalformed is returned for a line without a LABEL:VALUE separator or
	// with a value that does not parse.
	ErrMalformed = errors.New("serial: malformed line")
	// ErrUnknownLabel is returned for a well-formed line with an unrecognized label.
	ErrUnknownLabel = errors.New("serial: unknown label")
)

// Message is one decoded protocol line.
type Message struct {
	Label string
	Value string
}

// String re-encodes the message without the trailing newline.
func (m Message) String() string { return m.Label + ":" + m.Value }

// ParseLine splits a line at its first ':'. Surrounding whitespace, including
// a trailing "\r", is ignored.
func ParseLine(line string) (Message, error) {
	line = strings.TrimSpace(line)
	label, value, ok := strings.Cut(line, ":")
	if !ok || label == "" {
		return Message{}, fmt.Errorf("%w: %q", ErrMalformed, line)
	}
	m := Message{Label: label, Value: strings.TrimSpace(value)}
	switch label {
	case LabelCard, LabelState, LabelUser, LabelResult:
		return m, nil
	}
	return m, fmt.Errorf("%w: %q", ErrUnknownLabel, label)
}

// FormatCard encodes a card sighting, e.g. "CARD:R:E3-9A-66-10".
func FormatCard(g model.GateID, uid model.UID) string {
	return LabelCard + ":" + g.Side() + ":" + uid.String()
}

// ParseCard decodes a CARD value such as "R:E3-9A-66-10".
func ParseCard(value string) (model.GateID, model.UID, error) {
	side, hex, ok := strings.Cut(value, ":")
	if !ok {
		return "", model.UID{}, fmt.Errorf("%w: card %q", ErrMalformed, value)
	}
	g, err := model.ParseSide(side)
	if err != nil {
		return "", model.UID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	uid, err := model.ParseUID(hex)
	if err != nil {
		return "", model.UID{}, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return g, uid, nil
}

// StateCSV renders occupancy as comma-separated bits from the highest slot
// index down to slot 0.
func StateCSV(s model.SlotSnapshot) string {
	n := s.Len()
	var b strings.Builder
	b.Grow(2 * n)
	for i := n - 1; i >= 0; i-- {
		if s.Occupied(i) {
			b.WriteByte('1')
		} else {
			b.WriteByte('0')
		}
		if i > 0 {
			b.WriteByte(',')
		}
	}
	return b.String()
}

// FormatState encodes an occupancy line, e.g. "STATE:0,0,0,1,0,1".
func FormatState(s model.SlotSnapshot) string {
	return LabelState + ":" + StateCSV(s)
}

// ParseState decodes a STATE value back into a snapshot.
func ParseState(value string) (model.SlotSnapshot, error) {
	if value == "" {
		return model.SlotSnapshot{}, nil
	}
	parts := strings.Split(value, ",")
	if len(parts) > model.MaxSlots {
		return model.SlotSnapshot{}, fmt.Errorf("%w: %d slots", ErrMalformed, len(parts))
	}
	occupied := make([]bool, len(parts))
	for i, p := range parts {
		idx := len(parts) - 1 - i
		switch strings.TrimSpace(p) {
		case "1":
			occupied[idx] = true
		case "0":
		default:
			return model.SlotSnapshot{}, fmt.Errorf("%w: state bit %q", ErrMalformed, p)
		}
	}
	return model.NewSlotSnapshot(occupied), nil
}

// FormatUser encodes a USER line, cutting the name to MaxUserLen runes.
func FormatUser(name string) string {
	return LabelUser + ":" + truncateUser(name)
}

func truncateUser(name string) string {
	name = strings.TrimSpace(name)
	if r := []rune(name); len(r) > MaxUserLen {
		return string(r[:MaxUserLen])
	}
	return name
}

// FormatResult encodes a CHECKING-RESULT line.
func FormatResult(r model.AuthResult) string {
	return LabelResult + ":" + strconv.Itoa(r.Code())
}

// ParseResult decodes a CHECKING-RESULT value.
func ParseResult(value string) (model.AuthResult, error) {
	code, err := strconv.Atoi(value)
	if err != nil {
		return model.AuthNone, fmt.Errorf("%w: result %q", ErrMalformed, value)
	}
	r, err := model.ParseResultCode(code)
	if err != nil {
		return model.AuthNone, fmt.Errorf("%w: %v", ErrMalformed, err)
	}
	return r, nil
}
