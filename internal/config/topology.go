package config

import (
	"fmt"

	"github.com/BurntSushi/toml"

	"github.com/alfredjeanlab/lotgate/internal/authsvc"
	"github.com/alfredjeanlab/lotgate/internal/model"
)

// Topology is the load-time description of one installation: how many slot
// sensors it has and which cards are provisioned on the reader.
//
//	slots = 6
//
//	[[card]]
//	uid   = "E3-9A-66-10"
//	label = "card-3"
//	user  = "Alice"
//	plate = "51A-123.45"
type Topology struct {
	Slots int    `toml:"slots"`
	Cards []Card `toml:"card"`
}

// Card is one provisioned card. User and Plate only matter to the
// development authorization service.
type Card struct {
	UID   model.UID `toml:"uid"`
	Label string    `toml:"label,omitempty"`
	User  string    `toml:"user,omitempty"`
	Plate string    `toml:"plate,omitempty"`
}

// DefaultTopology is the reference installation: six slots and six cards.
func DefaultTopology() *Topology {
	t := &Topology{Slots: 6}
	for i, c := range model.DefaultCredentials {
		t.Cards = append(t.Cards, Card{
			UID:   c.UID,
			Label: c.Label,
			User:  fmt.Sprintf("driver-%d", i+1),
		})
	}
	return t
}

// LoadTopology decodes and validates a TOML topology file.
func LoadTopology(path string) (*Topology, error) {
	var t Topology
	md, err := toml.DecodeFile(path, &t)
	if err != nil {
		return nil, fmt.Errorf("reading topology %s: %w", path, err)
	}
	if undecoded := md.Undecoded(); len(undecoded) > 0 {
		return nil, fmt.Errorf("%w: topology %s: unknown key %s", ErrInvalid, path, undecoded[0])
	}
	if err := t.Validate(); err != nil {
		return nil, fmt.Errorf("topology %s: %w", path, err)
	}
	return &t, nil
}

// Validate checks slot count bounds and card uniqueness.
func (t *Topology) Validate() error {
	if t.Slots < 1 || t.Slots > model.MaxSlots {
		return fmt.Errorf("%w: slots must be between 1 and %d, got %d", ErrInvalid, model.MaxSlots, t.Slots)
	}
	if len(t.Cards) == 0 {
		return fmt.Errorf("%w: no cards provisioned", ErrInvalid)
	}
	seen := make(map[model.UID]bool, len(t.Cards))
	for _, c := range t.Cards {
		if seen[c.UID] {
			return fmt.Errorf("%w: card %s listed twice", ErrInvalid, c.UID)
		}
		seen[c.UID] = true
	}
	return nil
}

// Credentials returns the reader's card table, in file order.
func (t *Topology) Credentials() model.CredentialTable {
	table := make(model.CredentialTable, len(t.Cards))
	for i, c := range t.Cards {
		table[i] = model.Credential{UID: c.UID, Label: c.Label}
	}
	return table
}

// Accounts returns the card directory for the authorization service.
func (t *Topology) Accounts() []authsvc.Account {
	accounts := make([]authsvc.Account, len(t.Cards))
	for i, c := range t.Cards {
		accounts[i] = authsvc.Account{Card: c.UID, User: c.User, Plate: c.Plate}
	}
	return accounts
}
