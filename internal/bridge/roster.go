package bridge

import "p8link.dev/internal/protocol"

// ServerName is how slot 0 (the server itself) is shown.
const ServerName = "Archipelago"

// Participant is one slot of the multiworld.
type Participant struct {
	Slot  int    `json:"slot"`
	Name  string `json:"name"`
	Game  string `json:"game"`
	Alias string `json:"alias"`
}

// DisplayName prefers the player-chosen alias.
func (p Participant) DisplayName() string {
	if p.Alias != "" {
		return p.Alias
	}
	return p.Name
}

// Roster is fixed for the lifetime of a connection.
type Roster struct {
	bySlot map[int]Participant
}

// NewRoster joins slot_info (declared name, game) with the player list
// (live alias) for the connected team.
func NewRoster(c protocol.Connected) Roster {
	r := Roster{bySlot: map[int]Participant{}}
	for slot, info := range c.SlotInfoBySlot() {
		r.bySlot[slot] = Participant{Slot: slot, Name: info.Name, Game: info.Game}
	}
	for _, np := range c.Players {
		if np.Team != c.Team {
			continue
		}
		p, ok := r.bySlot[np.Slot]
		if !ok {
			p = Participant{Slot: np.Slot, Name: np.Name}
		}
		if p.Name == "" {
			p.Name = np.Name
		}
		p.Alias = np.Alias
		r.bySlot[np.Slot] = p
	}
	return r
}

func (r Roster) Len() int { return len(r.bySlot) }

func (r Roster) Slot(slot int) (Participant, bool) {
	if p, ok := r.bySlot[slot]; ok {
		return p, true
	}
	if slot == 0 {
		return Participant{Slot: 0, Name: ServerName}, true
	}
	return Participant{}, false
}

// ByName matches the declared slot name.
func (r Roster) ByName(name string) (Participant, bool) {
	for _, p := range r.bySlot {
		if p.Name == name {
			return p, true
		}
	}
	return Participant{}, false
}
