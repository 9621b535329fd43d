package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/events"
	"github.com/alfredjeanlab/lotgate/internal/kernel"
	"github.com/alfredjeanlab/lotgate/internal/server"
	"github.com/alfredjeanlab/lotgate/internal/ui"
)

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling JSON: %w", err)
	}
	fmt.Fprintln(w, string(data))
	return nil
}

func printStatus(w io.Writer, st *kernel.Status) {
	fmt.Fprintf(w, "Slots:    %s %s\n", ui.RenderSlots(st.Slots.Slice()), ui.RenderMuted(fmt.Sprintf("%d free", st.Free)))
	for _, g := range st.Gates {
		line := fmt.Sprintf("%s %s", g.Mode, g.Barrier)
		if g.Eligible {
			line += " " + ui.RenderAccent("eligible")
		}
		fmt.Fprintf(w, "%-9s %s\n", capitalize(g.Gate.String())+":", line)
	}
	fmt.Fprintf(w, "Display:  %s\n", describeFrame(st))
	fmt.Fprintf(w, "Claims:   %d/%d queued, %d issued, %d dropped\n",
		st.ClaimsQueued, st.ClaimQueueCap, st.ClaimsIssued, st.ClaimsDropped)
	fmt.Fprintf(w, "Link:     %d cards, %d states sent, %d lines read, %d ignored\n",
		st.Link.CardsSent, st.Link.StatesSent, st.Link.LinesRead, st.Link.LinesIgnored)

	health := ui.RenderAccent(server.StatusOK)
	if !st.Healthy {
		health = ui.RenderMuted(server.StatusDegraded)
	}
	fmt.Fprintf(w, "Health:   %s\n", health)

	if len(st.Tasks) == 0 {
		return
	}
	fmt.Fprintln(w)
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "TASK\tBEATS\tIDLE\tSTATE")
	for _, t := range st.Tasks {
		state := "ok"
		if t.Stalled {
			state = "stalled"
		}
		fmt.Fprintf(tw, "%s\t%d\t%.2fs\t%s\n", t.Task, t.Beats, t.IdleSecs, state)
	}
	tw.Flush()
}

func describeFrame(st *kernel.Status) string {
	f := st.Display
	switch {
	case f.Text != "":
		return fmt.Sprintf("%s %q", f.Kind, f.Text)
	case f.Remaining > 0:
		return fmt.Sprintf("%s (%d cycles left)", f.Kind, f.Remaining)
	}
	return string(f.Kind)
}

func capitalize(s string) string {
	if s == "" {
		return s
	}
	return strings.ToUpper(s[:1]) + s[1:]
}

// printEvent writes one event line. With --json the raw payload follows the
// topic unchanged.
func printEvent(w io.Writer, topic string, data []byte) {
	ts := ui.RenderMuted(time.Now().Format("15:04:05.000"))
	if jsonOutput {
		fmt.Fprintf(w, "%s %s %s\n", ts, topic, data)
		return
	}
	fmt.Fprintf(w, "%s %s %s\n", ts, ui.RenderAccent(topic), formatEvent(topic, data))
}

// formatEvent renders a human summary of a lot event. Unknown topics and
// payloads that do not decode are shown raw.
func formatEvent(topic string, data []byte) string {
	var s string
	var err error
	switch topic {
	case events.TopicSlotsChanged:
		var e events.SlotsChanged
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("%s %d free", ui.RenderSlots(e.Slots.Slice()), e.Slots.Free())
		}
	case events.TopicGateClaimed:
		var e events.GateClaimed
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("%s gate claimed by card %d (%s) %s", e.Claim.Gate, e.Claim.CardIndex, e.Card, ui.RenderMuted(e.Claim.ID))
		}
	case events.TopicGateChanged:
		var e events.GateChanged
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("%s gate %s %s", e.State.Gate, e.State.Mode, e.State.Barrier)
			if e.Reason != "" {
				s += " " + ui.RenderMuted("("+e.Reason+")")
			}
		}
	case events.TopicAuthResult:
		var e events.AuthResult
		if err = json.Unmarshal(data, &e); err == nil {
			s = e.Result.String()
			if e.Gate != "" {
				s = fmt.Sprintf("%s gate %s", e.Gate, s)
			}
		}
	case events.TopicUserNamed:
		var e events.UserNamed
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("user %q", e.Name)
		}
	case events.TopicClaimDropped:
		var e events.ClaimDropped
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("%s gate claim %s dropped", e.Claim.Gate, e.Claim.ID)
		}
	case events.TopicTaskStalled:
		var e events.TaskStalled
		if err = json.Unmarshal(data, &e); err == nil {
			s = fmt.Sprintf("%s stalled, last beat %s", e.Task, e.LastBeat.Format(time.TimeOnly))
		}
	case events.TopicTaskRecovered:
		var e events.TaskRecovered
		if err = json.Unmarshal(data, &e); err == nil {
			s = e.Task + " recovered"
		}
	case server.TopicStatus:
		var st kernel.Status
		if err = json.Unmarshal(data, &st); err == nil {
			s = fmt.Sprintf("%s %d free", ui.RenderSlots(st.Slots.Slice()), st.Free)
		}
	default:
		return string(data)
	}
	if err != nil {
		return string(data)
	}
	return s
}
