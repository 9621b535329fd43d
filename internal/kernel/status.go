package kernel

import (
	"github.com/alfredjeanlab/lotgate/internal/display"
	"github.com/alfredjeanlab/lotgate/internal/liveness"
	"github.com/alfredjeanlab/lotgate/internal/model"
	"github.com/alfredjeanlab/lotgate/internal/serial"
)

// GateStatus is one gate's state as seen by operators.
type GateStatus struct {
	model.GateState
	Eligible bool `json:"eligible"`
}

// Status is a point-in-time view of the whole kernel.
type Status struct {
	Slots         model.SlotSnapshot `json:"slots"`
	Free          int                `json:"free"`
	Gates         []GateStatus       `json:"gates"`
	Display       display.Frame      `json:"display"`
	ClaimsQueued  int                `json:"claims_queued"`
	ClaimQueueCap int                `json:"claim_queue_cap"`
	ClaimsIssued  uint64             `json:"claims_issued"`
	ClaimsDropped uint64             `json:"claims_dropped"`
	Link          serial.Stats       `json:"link"`
	Tasks         []liveness.Entry   `json:"tasks"`
	Healthy       bool               `json:"healthy"`
}

// Status collects the latest published state of every task. Values come
// from different mailboxes and may be skewed by up to one cycle.
func (k *Kernel) Status() Status {
	slots, _ := k.Sensors.Slots().Peek()
	elig := k.Scan.Eligibility()
	queued, capacity := k.ClaimQueue()

	st := Status{
		Slots:         slots,
		Free:          slots.Free(),
		Display:       k.Display.Frame(),
		ClaimsQueued:  queued,
		ClaimQueueCap: capacity,
		ClaimsIssued:  k.Scan.ClaimsIssued(),
		ClaimsDropped: k.Scan.ClaimsDropped(),
		Link:          k.Bridge.Stats(),
		Tasks:         k.Liveness.Roster(),
		Healthy:       k.Liveness.Healthy(),
	}
	for _, g := range model.Gates {
		gs, _ := k.Gates[g].State().Peek()
		st.Gates = append(st.Gates, GateStatus{GateState: gs, Eligible: elig.Of(g)})
	}
	return st
}
