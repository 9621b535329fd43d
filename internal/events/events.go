package events

import (
	"context"
	"time"

	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Event topic constants
const (
	TopicSlotsChanged = "lot.slots.changed"
	TopicGateClaimed  = "lot.gate.claimed"
	TopicGateChanged  = "lot.gate.changed"
	TopicAuthResult   = "lot.auth.result"
	TopicUserNamed    = "lot.auth.user"

	// Kernel health events.
	TopicClaimDropped  = "lot.claim.dropped"
	TopicTaskStalled   = "lot.task.stalled"
	TopicTaskRecovered = "lot.task.recovered"
)

// Event types

type SlotsChanged struct {
	Slots model.SlotSnapshot `json:"slots"`
	Wire  string             `json:"wire"` // the STATE payload that was sent
}

type GateClaimed struct {
	Claim model.GateClaim `json:"claim"`
	Card  model.UID       `json:"card"`
}

type GateChanged struct {
	State  model.GateState `json:"state"`
	Reason string          `json:"reason,omitempty"`
}

type AuthResult struct {
	Result model.AuthResult `json:"result"`
	Gate   model.GateID     `json:"gate,omitempty"`
}

type UserNamed struct {
	Name string `json:"name"`
}

type ClaimDropped struct {
	Claim model.GateClaim `json:"claim"`
}

type TaskStalled struct {
	Task     string    `json:"task"`
	LastBeat time.Time `json:"last_beat"`
}

type TaskRecovered struct {
	Task string `json:"task"`
}

// Publisher is the interface for emitting events.
type Publisher interface {
	Publish(ctx context.Context, topic string, event any) error
	Close() error
}
