package models

import (
	"fmt"
	"time"
)

// Season of the in-game calendar.
type Season string

const (
	SeasonSpring Season = "Spring"
	SeasonSummer Season = "Summer"
	SeasonAutumn Season = "Autumn"
	SeasonWinter Season = "Winter"
)

// Valid reports whether s is one of the four seasons.
func (s Season) Valid() bool {
	switch s {
	case SeasonSpring, SeasonSummer, SeasonAutumn, SeasonWinter:
		return true
	}
	return false
}

// Phase is the time of day on the world clock.
type Phase string

const (
	PhaseMorning   Phase = "morning"
	PhaseAfternoon Phase = "afternoon"
	PhaseNight     Phase = "night"
	PhasePredawn   Phase = "predawn"
)

// Valid reports whether p is a known phase.
func (p Phase) Valid() bool {
	switch p {
	case PhaseMorning, PhaseAfternoon, PhaseNight, PhasePredawn:
		return true
	}
	return false
}

// TurnRef points at whoever holds the active turn.
type TurnRef struct {
	ID    string `json:"id"`
	Nick  string `json:"nick"`
	Email string `json:"email"`
}

// XPEntry is one player's row in the XP ledger.
type XPEntry struct {
	XP    int `json:"xp"`
	Level int `json:"level"`
}

// WorldClock holds the in-game date and phase.
type WorldClock struct {
	Season Season `json:"season"`
	Day    int    `json:"day"`
	Year   int    `json:"year"`
	Phase  Phase  `json:"phase"`
}

// TimerState is the shared countdown. While Running, Remaining is only the value at StartedAt;
// readers derive the live value with RemainingAt.
type TimerState struct {
	Running   bool       `json:"running"`
	Duration  int        `json:"duration"`
	Remaining int        `json:"remaining"`
	StartedAt *time.Time `json:"startedAt"`
}

// RemainingAt returns the seconds left at now: max(0, duration - whole seconds since StartedAt).
func (t TimerState) RemainingAt(now time.Time) int {
	if !t.Running || t.StartedAt == nil {
		return t.Remaining
	}
	return RemainingFromElapsed(t.Duration, now.Sub(*t.StartedAt))
}

// Expired reports whether a running timer has reached zero at now.
func (t TimerState) Expired(now time.Time) bool {
	return t.Running && t.StartedAt != nil && t.RemainingAt(now) == 0
}

// RemainingFromElapsed floors elapsed to whole seconds and subtracts it from duration.
func RemainingFromElapsed(duration int, elapsed time.Duration) int {
	if elapsed < 0 {
		elapsed = 0
	}
	return max(0, duration-int(elapsed/time.Second))
}

// PanelPosition is the pixel offset of the floating HUD panel.
type PanelPosition struct {
	X float64 `json:"x"`
	Y float64 `json:"y"`
}

func (p PanelPosition) String() string {
	return fmt.Sprintf("(%.0f,%.0f)", p.X, p.Y)
}

// HUD is the single shared session record.
type HUD struct {
	Turn        *TurnRef           `json:"turn"`
	XPMap       map[string]XPEntry `json:"xpMap"`
	World       WorldClock         `json:"world"`
	Timer       TimerState         `json:"timer"`
	FloatingPos *PanelPosition     `json:"floatingPos"`
	UpdatedAt   *time.Time         `json:"updatedAt,omitempty"`
}

// DefaultHUD is the record written when a session first starts.
func DefaultHUD() HUD {
	return HUD{
		XPMap: map[string]XPEntry{},
		World: WorldClock{
			Season: SeasonSpring,
			Day:    1,
			Year:   1,
			Phase:  PhaseMorning,
		},
	}
}

// XPFor returns the ledger entry for playerID, defaulting to level 1 with no XP.
func (h HUD) XPFor(playerID string) XPEntry {
	if entry, ok := h.XPMap[playerID]; ok {
		return entry
	}
	return XPEntry{XP: 0, Level: 1}
}
