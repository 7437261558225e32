package game

import "fmt"

// PlayerColor identifies a seat. Each game supports a subset.
type PlayerColor string

const (
	Red    PlayerColor = "RED"
	Blue   PlayerColor = "BLUE"
	Yellow PlayerColor = "YELLOW"
	Green  PlayerColor = "GREEN"
	Black  PlayerColor = "BLACK"
	Purple PlayerColor = "PURPLE"
)

// AllColors lists every color in canonical order.
var AllColors = []PlayerColor{Red, Blue, Yellow, Green, Black, Purple}

func (c PlayerColor) Valid() bool {
	for _, v := range AllColors {
		if v == c {
			return true
		}
	}
	return false
}

type PlayerType string

const (
	Human    PlayerType = "HUMAN"
	Computer PlayerType = "COMPUTER"
)

// Player is a participant in a game state. Name is unique within a game.
type Player struct {
	Name  string      `json:"name"`
	Color PlayerColor `json:"color"`
	Type  PlayerType  `json:"type"`
}

func (p Player) IsComputer() bool { return p.Type == Computer }

// IndexOf returns the position of the player named name, or -1.
func IndexOf(players []Player, name string) int {
	for i, p := range players {
		if p.Name == name {
			return i
		}
	}
	return -1
}

// ValidatePlayers checks count, colors and name uniqueness against the game info.
func ValidatePlayers(info Info, players []Player) error {
	if len(players) < info.MinPlayers || len(players) > info.MaxPlayers {
		return fmt.Errorf("%w: %s needs %d-%d players, got %d",
			ErrInvalidPlayers, info.ID, info.MinPlayers, info.MaxPlayers, len(players))
	}
	names := make(map[string]bool, len(players))
	colors := make(map[PlayerColor]bool, len(players))
	for _, p := range players {
		if p.Name == "" {
			return fmt.Errorf("%w: player without name", ErrInvalidPlayers)
		}
		if names[p.Name] {
			return fmt.Errorf("%w: duplicate player %s", ErrInvalidPlayers, p.Name)
		}
		names[p.Name] = true
		if !info.SupportsColor(p.Color) {
			return fmt.Errorf("%w: color %q not supported by %s", ErrInvalidPlayers, p.Color, info.ID)
		}
		if colors[p.Color] {
			return fmt.Errorf("%w: duplicate color %s", ErrInvalidPlayers, p.Color)
		}
		colors[p.Color] = true
		if p.Type != Human && p.Type != Computer {
			return fmt.Errorf("%w: unknown player type %q", ErrInvalidPlayers, p.Type)
		}
	}
	return nil
}
