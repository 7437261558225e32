package game

import (
	"fmt"
	"math/rand/v2"
)

// State is the evolving rules engine of one game. It is not safe for
// concurrent use; the table layer serializes access.
type State interface {
	// Players returns every seat in seating order, including players who left.
	Players() []Player
	// ActivePlayers returns the players still taking part, in turn order.
	ActivePlayers() []Player
	// CurrentPlayer returns the player expected to act. ok is false when the
	// game has ended or no single player is expected.
	CurrentPlayer() (p Player, ok bool)

	Perform(action Action, rnd *rand.Rand) error
	Skip(rnd *rand.Rand) error
	EndTurn(rnd *rand.Rand) error
	Leave(player Player) error

	Score(player Player) int
	Winners() []Player
	IsEnded() bool
	// Progress is an estimate of completion in [0, 100].
	Progress() int

	AddEventListener(l EventListener) ListenerID
	RemoveEventListener(id ListenerID)
}

// TopScorers returns the players in candidates holding the highest score.
func TopScorers(s State, candidates []Player) []Player {
	var best []Player
	high := 0
	for _, p := range candidates {
		score := s.Score(p)
		switch {
		case len(best) == 0 || score > high:
			best = []Player{p}
			high = score
		case score == high:
			best = append(best, p)
		}
	}
	return best
}

// CheckInvariants verifies the structural guarantees every engine must keep.
func CheckInvariants(s State) error {
	players := s.Players()
	active := s.ActivePlayers()
	for _, p := range active {
		if IndexOf(players, p.Name) < 0 {
			return fmt.Errorf("active player %s is not seated", p.Name)
		}
	}
	cur, ok := s.CurrentPlayer()
	if ok {
		if s.IsEnded() {
			return fmt.Errorf("ended game still has current player %s", cur.Name)
		}
		if IndexOf(active, cur.Name) < 0 {
			return fmt.Errorf("current player %s is not active", cur.Name)
		}
	}
	winners := s.Winners()
	if !s.IsEnded() && len(winners) > 0 {
		return fmt.Errorf("game not ended but has %d winners", len(winners))
	}
	for _, w := range winners {
		if IndexOf(players, w.Name) < 0 {
			return fmt.Errorf("winner %s is not seated", w.Name)
		}
	}
	if p := s.Progress(); p < 0 || p > 100 {
		return fmt.Errorf("progress %d out of range", p)
	}
	return nil
}
