package serial

import (
	"errors"
	"testing"

	"github.com/alfredjeanlab/lotgate/internal/model"
)

func TestParseLine(t *testing.T) {
	tests := []struct {
		line    string
		want    Message
		wantErr error
	}{
		{"USER:Alice", Message{LabelUser, "Alice"}, nil},
		{"CHECKING-RESULT:1\r", Message{LabelResult, "1"}, nil},
		{"  STATE:0,1  ", Message{LabelState, "0,1"}, nil},
		{"CARD:R:E3-9A-66-10", Message{LabelCard, "R:E3-9A-66-10"}, nil},
		{"USER:", Message{LabelUser, ""}, nil},
		{"hello", Message{}, ErrMalformed},
		{":value", Message{}, ErrMalformed},
		{"", Message{}, ErrMalformed},
		{"PING:1", Message{"PING", "1"}, ErrUnknownLabel},
	}
	for _, tt := range tests {
		t.Run(tt.line, func(t *testing.T) {
			got, err := ParseLine(tt.line)
			if !errors.Is(err, tt.wantErr) {
				t.Fatalf("err = %v, want %v", err, tt.wantErr)
			}
			if got != tt.want {
				t.Errorf("ParseLine = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestFormatCard(t *testing.T) {
	uid := model.UID{0xE3, 0x9A, 0x66, 0x10}
	if got := FormatCard(model.GateEntry, uid); got != "CARD:R:E3-9A-66-10" {
		t.Errorf("entry = %q", got)
	}
	if got := FormatCard(model.GateExit, model.UID{0x0A, 0, 0xFF, 1}); got != "CARD:L:0A-00-FF-01" {
		t.Errorf("exit = %q", got)
	}

	g, back, err := ParseCard("R:E3-9A-66-10")
	if err != nil || g != model.GateEntry || back != uid {
		t.Errorf("ParseCard = %s, %s, %v", g, back, err)
	}
	for _, bad := range []string{"R", "X:E3-9A-66-10", "L:zz"} {
		if _, _, err := ParseCard(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseCard(%q) err = %v, want ErrMalformed", bad, err)
		}
	}
}

func TestFormatState_HighIndexFirst(t *testing.T) {
	s := model.NewSlotSnapshot([]bool{true, false, true, false, false, false})
	if got := FormatState(s); got != "STATE:0,0,0,1,0,1" {
		t.Errorf("FormatState = %q", got)
	}

	back, err := ParseState(StateCSV(s))
	if err != nil {
		t.Fatalf("ParseState: %v", err)
	}
	if !back.Equal(s) {
		t.Errorf("round trip = %s, want %s", back, s)
	}

	if _, err := ParseState("0,2,1"); !errors.Is(err, ErrMalformed) {
		t.Errorf("bad bit err = %v", err)
	}
	empty, err := ParseState("")
	if err != nil || empty.Len() != 0 {
		t.Errorf("empty state = %v, %v", empty, err)
	}
}

func TestResultCodes(t *testing.T) {
	tests := []struct {
		value string
		want  model.AuthResult
	}{
		{"0", model.AuthEntryDenied},
		{"1", model.AuthEntryGranted},
		{"2", model.AuthChecking},
		{"3", model.AuthExitDenied},
		{"4", model.AuthExitGranted},
		{"5", model.AuthRequestFailed},
	}
	for _, tt := range tests {
		got, err := ParseResult(tt.value)
		if err != nil || got != tt.want {
			t.Errorf("ParseResult(%s) = %s, %v", tt.value, got, err)
		}
		if line := FormatResult(got); line != LabelResult+":"+tt.value {
			t.Errorf("FormatResult(%s) = %q", got, line)
		}
	}
	for _, bad := range []string{"6", "-1", "yes"} {
		if _, err := ParseResult(bad); !errors.Is(err, ErrMalformed) {
			t.Errorf("ParseResult(%q) err = %v", bad, err)
		}
	}
}

func TestFormatUser_Truncates(t *testing.T) {
	if got := FormatUser("Alice"); got != "USER:Alice" {
		t.Errorf("FormatUser = %q", got)
	}
	if got := FormatUser("Bartholomew Fitzgerald"); got != "USER:Bartholomew Fi" {
		t.Errorf("FormatUser long = %q", got)
	}
}
