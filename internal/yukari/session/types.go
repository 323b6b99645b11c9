// Package session owns the single active conversation between the game and
// the text-generation backend: its lifecycle state machine, the command
// channel the game polls, and the bounded context-refresh handshake.
package session

import "strings"

// Status is the lifecycle state of the session. Transitions are strictly
// INACTIVE → ACTIVE → ENDING → INACTIVE; ENDING is entered only from ACTIVE.
type Status string

const (
	StatusInactive Status = "INACTIVE"
	StatusActive   Status = "ACTIVE"
	StatusEnding   Status = "ENDING"
)

// Command is the instruction the game observes on its next poll.
type Command string

const (
	// CommandWait tells the game to do nothing.
	CommandWait Command = "WAIT"
	// CommandScrape tells the game to re-capture world state and push it
	// back via Refresh.
	CommandScrape Command = "SCRAPE"
	// CommandResume tells the game the conversation is over: restore ambient
	// behavior and stop polling.
	CommandResume Command = "RESUME"
)

// Mode distinguishes a one-on-one conversation from a group scene.
type Mode string

const (
	ModeSingle Mode = "SINGLE"
	ModeGroup  Mode = "GROUP"
)

// ValidMode reports whether m is a recognized conversation mode.
func ValidMode(m Mode) bool {
	return m == ModeSingle || m == ModeGroup
}

// Location identifies where in the game world the conversation takes place.
type Location struct {
	ZoneID         int64  `json:"zone_id"`
	WorldID        int64  `json:"world_id"`
	NeighborhoodID int64  `json:"neighborhood_id"`
	LotName        string `json:"lot_name"`
}

// Relationship holds the scored relationship between a sim and the player.
type Relationship struct {
	Friendship int `json:"friendship"`
	Romance    int `json:"romance"`
}

// Participant is one sim's profile as captured by the game. The fields are
// extracted by the game-side scripts; this core only reads sim_id, name, and
// whatever the prompt layer chooses to render.
type Participant struct {
	SimID        int64        `json:"sim_id"`
	Name         string       `json:"name"`
	Demographics string       `json:"demographics"`
	Traits       []string     `json:"traits"`
	Mood         string       `json:"mood"`
	Moodlets     string       `json:"moodlets"`
	Activity     string       `json:"activity"`
	Career       string       `json:"career"`
	Skills       string       `json:"skills"`
	Residence    string       `json:"residence"`
	Preferences  []string     `json:"preferences"`
	Relationship Relationship `json:"relationship_with_player"`
}

// Context is the latest known world snapshot for the active session. In
// SINGLE mode Participants holds exactly the one conversation target; in
// GROUP mode it holds the whole cast.
type Context struct {
	Mode         Mode          `json:"mode"`
	TimeContext  string        `json:"time_context"`
	Location     Location      `json:"location"`
	Player       Participant   `json:"player"`
	Participants []Participant `json:"participants"`
}

// Update is a refreshed partial world snapshot pushed by the game in
// response to a SCRAPE command.
type Update struct {
	TimeContext  string        `json:"time_context"`
	Location     Location      `json:"location"`
	Participants []Participant `json:"participants"`
}

// Environment holds display fields derived from Context.Location: the lot's
// stored description, its name, and the narrative world context.
type Environment struct {
	Lot          string
	LotName      string
	WorldContext string
}

// Turn is one entry of the in-memory session history: who spoke (by role
// label, e.g. "Player", "AI", "System") and what was said.
type Turn struct {
	Role string
	Text string
}

// ParticipantIDs returns every stable identifier referenced by the context
// (player first, then targets), deduplicated in encounter order.
func (c *Context) ParticipantIDs() []int64 {
	seen := make(map[int64]struct{}, len(c.Participants)+1)
	var ids []int64
	add := func(id int64) {
		if id == 0 {
			return
		}
		if _, dup := seen[id]; dup {
			return
		}
		seen[id] = struct{}{}
		ids = append(ids, id)
	}
	add(c.Player.SimID)
	for _, p := range c.Participants {
		add(p.SimID)
	}
	return ids
}

// Roster returns a human-readable participant list for the summarizer:
// the literal "Player" followed by every named target.
func (c *Context) Roster() string {
	names := []string{"Player"}
	for _, p := range c.Participants {
		if p.Name != "" {
			names = append(names, p.Name)
		}
	}
	return strings.Join(names, ", ")
}

// merge applies an update to the context. Location and time are always
// adopted. In GROUP mode the participant list is replaced wholesale; in
// SINGLE mode the (singular) updated profile is merged field-wise into the
// existing one. Applying the same update twice yields the same context.
func (c *Context) merge(u Update) {
	c.TimeContext = u.TimeContext
	c.Location = u.Location

	if c.Mode == ModeGroup {
		c.Participants = u.Participants
		return
	}

	if len(u.Participants) == 0 {
		return
	}
	if len(c.Participants) == 0 {
		c.Participants = []Participant{u.Participants[0]}
		return
	}
	mergeParticipant(&c.Participants[0], u.Participants[0])
}

// mergeParticipant overwrites dst fields with the non-zero fields of src.
func mergeParticipant(dst *Participant, src Participant) {
	if src.SimID != 0 {
		dst.SimID = src.SimID
	}
	if src.Name != "" {
		dst.Name = src.Name
	}
	if src.Demographics != "" {
		dst.Demographics = src.Demographics
	}
	if src.Traits != nil {
		dst.Traits = src.Traits
	}
	if src.Mood != "" {
		dst.Mood = src.Mood
	}
	if src.Moodlets != "" {
		dst.Moodlets = src.Moodlets
	}
	if src.Activity != "" {
		dst.Activity = src.Activity
	}
	if src.Career != "" {
		dst.Career = src.Career
	}
	if src.Skills != "" {
		dst.Skills = src.Skills
	}
	if src.Residence != "" {
		dst.Residence = src.Residence
	}
	if src.Preferences != nil {
		dst.Preferences = src.Preferences
	}
	if src.Relationship != (Relationship{}) {
		dst.Relationship = src.Relationship
	}
}

// clone returns a deep copy of the context.
func (c *Context) clone() Context {
	cp := *c
	cp.Participants = cloneParticipants(c.Participants)
	cp.Player = cloneParticipant(c.Player)
	return cp
}

func cloneParticipants(ps []Participant) []Participant {
	if ps == nil {
		return nil
	}
	out := make([]Participant, len(ps))
	for i, p := range ps {
		out[i] = cloneParticipant(p)
	}
	return out
}

func cloneParticipant(p Participant) Participant {
	cp := p
	if p.Traits != nil {
		cp.Traits = append([]string(nil), p.Traits...)
	}
	if p.Preferences != nil {
		cp.Preferences = append([]string(nil), p.Preferences...)
	}
	return cp
}
