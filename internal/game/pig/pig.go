// Package pig is the dice race: roll to grow the turn total, hold to bank it,
// and lose the turn total on a one.
package pig

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"tabletop/internal/game"
)

const ID = "pig"

type Variant string

const (
	OneDie  Variant = "one-die"
	TwoDice Variant = "two-dice"
)

const (
	defaultTarget = 100
	holdAt        = 20
	maxAutomaRoll = 200
)

type Provider struct{}

func (Provider) Info() game.Info {
	return game.Info{
		ID:         ID,
		MinPlayers: 2,
		MaxPlayers: 6,
		Colors:     game.AllColors,
		Automa:     true,
	}
}

func (Provider) Start(players []game.Player, opts game.Options, rnd *rand.Rand) (game.State, error) {
	if err := game.ValidatePlayers(Provider{}.Info(), players); err != nil {
		return nil, err
	}
	target, err := opts.IntRange("target", defaultTarget, 20, 500)
	if err != nil {
		return nil, err
	}
	variant, err := game.Enum(opts, "variant", OneDie, OneDie, TwoDice)
	if err != nil {
		return nil, err
	}
	s := &State{
		Seats:   append([]game.Player(nil), players...),
		Banked:  make(map[string]int, len(players)),
		Target:  target,
		Variant: variant,
	}
	for _, p := range players {
		s.Order = append(s.Order, p.Name)
		s.Banked[p.Name] = 0
	}
	s.Turn = rnd.IntN(len(players))
	return s, nil
}

func (Provider) TimeLimit(game.Options) time.Duration { return 90 * time.Second }

type Roll struct{}

func (Roll) Type() string { return "roll" }

type Hold struct{}

func (Hold) Type() string { return "hold" }

type State struct {
	game.Emitter `json:"-"`

	Seats    []game.Player  `json:"players"`
	Order    []string       `json:"order"` // active players in turn order
	Turn     int            `json:"turn"`  // index into Order
	Banked   map[string]int `json:"banked"`
	Pot      int            `json:"pot"` // unbanked turn total
	LastRoll []int          `json:"lastRoll"`
	Target   int            `json:"target"`
	Variant  Variant        `json:"variant"`
	Done     bool           `json:"done"`
}

func (s *State) Players() []game.Player { return s.Seats }

func (s *State) ActivePlayers() []game.Player {
	active := make([]game.Player, 0, len(s.Order))
	for _, name := range s.Order {
		active = append(active, s.Seats[game.IndexOf(s.Seats, name)])
	}
	return active
}

func (s *State) CurrentPlayer() (game.Player, bool) {
	if s.Done || len(s.Order) == 0 {
		return game.Player{}, false
	}
	return s.seat(s.Order[s.Turn]), true
}

func (s *State) seat(name string) game.Player {
	return s.Seats[game.IndexOf(s.Seats, name)]
}

func (s *State) Perform(action game.Action, rnd *rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	switch action.(type) {
	case Roll:
		s.roll(rnd)
	case Hold:
		if s.Pot == 0 {
			return fmt.Errorf("%w: nothing to hold", game.ErrInvalidAction)
		}
		s.hold()
	default:
		return fmt.Errorf("%w: %T is not a pig action", game.ErrInvalidAction, action)
	}
	return nil
}

func (s *State) roll(rnd *rand.Rand) {
	player, _ := s.CurrentPlayer()
	dice := 1
	if s.Variant == TwoDice {
		dice = 2
	}
	s.LastRoll = make([]int, dice)
	params := make([]string, dice)
	ones, sum := 0, 0
	for i := range s.LastRoll {
		v := 1 + rnd.IntN(6)
		s.LastRoll[i] = v
		params[i] = strconv.Itoa(v)
		sum += v
		if v == 1 {
			ones++
		}
	}
	s.Emit(player, "rolled", params...)

	switch {
	case ones == 2:
		s.Banked[player.Name] = 0
		s.Pot = 0
		s.Emit(player, "snake-eyes")
		s.next()
	case ones == 1:
		s.Pot = 0
		s.Emit(player, "busted")
		s.next()
	default:
		s.Pot += sum
	}
}

func (s *State) hold() {
	player, _ := s.CurrentPlayer()
	s.Banked[player.Name] += s.Pot
	s.Emit(player, "held", strconv.Itoa(s.Pot), strconv.Itoa(s.Banked[player.Name]))
	s.Pot = 0
	if s.Banked[player.Name] >= s.Target {
		s.Done = true
		s.Emit(player, "won")
		return
	}
	s.next()
}

func (s *State) next() {
	s.Pot = 0
	s.Turn = (s.Turn + 1) % len(s.Order)
}

// Skip forfeits the turn total.
func (s *State) Skip(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	player, _ := s.CurrentPlayer()
	s.Emit(player, "skipped")
	s.next()
	return nil
}

// EndTurn banks the turn total, same as holding.
func (s *State) EndTurn(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	s.hold()
	return nil
}

// Leave removes the player from the turn order. Banked points stay on record
// but a player who left cannot win. The game ends when one player remains.
func (s *State) Leave(player game.Player) error {
	if s.Done {
		return game.ErrGameEnded
	}
	i := -1
	for j, name := range s.Order {
		if name == player.Name {
			i = j
		}
	}
	if i < 0 {
		return fmt.Errorf("%w: %s is not playing", game.ErrInvalidPlayers, player.Name)
	}
	if i == s.Turn {
		s.Pot = 0
	}
	s.Order = append(s.Order[:i:i], s.Order[i+1:]...)
	if i < s.Turn {
		s.Turn--
	}
	if s.Turn >= len(s.Order) {
		s.Turn = 0
	}
	s.Emit(player, "left")
	if len(s.Order) < 2 {
		s.Done = true
	}
	return nil
}

func (s *State) Score(p game.Player) int { return s.Banked[p.Name] }

func (s *State) ScoreBreakdown(p game.Player) game.Score {
	return game.Score{"banked": s.Banked[p.Name]}
}

func (s *State) Winners() []game.Player {
	if !s.Done {
		return nil
	}
	return game.TopScorers(s, s.ActivePlayers())
}

func (s *State) IsEnded() bool { return s.Done }

func (s *State) Progress() int {
	if s.Done {
		return 100
	}
	best := 0
	for _, name := range s.Order {
		best = max(best, s.Banked[name])
	}
	return min(99, best*100/s.Target)
}

func asState(state game.State) (*State, error) {
	s, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a pig state", game.ErrMalformedState, state)
	}
	return s, nil
}

// ExecuteAutoma rolls until the turn total reaches holdAt or would win, then holds.
func (Provider) ExecuteAutoma(state game.State, rnd *rand.Rand) error {
	s, err := asState(state)
	if err != nil {
		return err
	}
	me, _ := s.CurrentPlayer()
	for i := 0; i < maxAutomaRoll; i++ {
		if s.Pot >= holdAt || s.Banked[me.Name]+s.Pot >= s.Target {
			break
		}
		s.roll(rnd)
		if cur, ok := s.CurrentPlayer(); !ok || cur.Name != me.Name {
			return nil
		}
	}
	s.hold()
	return nil
}

func (Provider) ToAction(cmd game.Command, state game.State) (game.Action, error) {
	switch cmd.Type {
	case "roll":
		var r Roll
		return r, cmd.Decode(&r)
	case "hold":
		var h Hold
		return h, cmd.Decode(&h)
	}
	return nil, game.UnknownCommand(cmd)
}

func (Provider) ValidCommands(state game.State, player game.Player) []game.Command {
	s, err := asState(state)
	if err != nil {
		return nil
	}
	cur, ok := s.CurrentPlayer()
	if !ok || cur.Name != player.Name {
		return nil
	}
	cmds := []game.Command{game.MustCommand("roll", nil)}
	if s.Pot > 0 {
		cmds = append(cmds, game.MustCommand("hold", nil))
	}
	return cmds
}

type playerView struct {
	game.Player
	Banked int  `json:"banked"`
	Active bool `json:"active"`
}

type stateView struct {
	Players  []playerView `json:"players"`
	Turn     string       `json:"turn,omitempty"`
	Pot      int          `json:"pot"`
	LastRoll []int        `json:"lastRoll,omitempty"`
	Target   int          `json:"target"`
	Variant  Variant      `json:"variant"`
	Done     bool         `json:"done"`
	Winners  []string     `json:"winners,omitempty"`
}

// View is the same for every viewer; dice games have no hidden information.
func (Provider) View(state game.State, viewer *game.Player) (any, error) {
	s, err := asState(state)
	if err != nil {
		return nil, err
	}
	view := stateView{Pot: s.Pot, LastRoll: s.LastRoll, Target: s.Target, Variant: s.Variant, Done: s.Done}
	for _, p := range s.Seats {
		active := false
		for _, name := range s.Order {
			active = active || name == p.Name
		}
		view.Players = append(view.Players, playerView{Player: p, Banked: s.Banked[p.Name], Active: active})
	}
	if cur, ok := s.CurrentPlayer(); ok {
		view.Turn = cur.Name
	}
	for _, w := range s.Winners() {
		view.Winners = append(view.Winners, w.Name)
	}
	return view, nil
}

func (Provider) Serialize(state game.State) ([]byte, error) {
	s, err := asState(state)
	if err != nil {
		return nil, err
	}
	return json.Marshal(s)
}

func (Provider) Deserialize(data []byte) (game.State, error) {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	var s State
	if err := dec.Decode(&s); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrMalformedState, err)
	}
	if err := s.validate(); err != nil {
		return nil, fmt.Errorf("%w: %v", game.ErrMalformedState, err)
	}
	return &s, nil
}

func (s *State) validate() error {
	if len(s.Seats) == 0 {
		return fmt.Errorf("no players")
	}
	if s.Banked == nil {
		return fmt.Errorf("missing banked scores")
	}
	seen := map[string]bool{}
	for _, name := range s.Order {
		if game.IndexOf(s.Seats, name) < 0 || seen[name] {
			return fmt.Errorf("bad turn order entry %q", name)
		}
		seen[name] = true
	}
	if !s.Done && (len(s.Order) < 2 || s.Turn < 0 || s.Turn >= len(s.Order)) {
		return fmt.Errorf("turn %d invalid for %d active players", s.Turn, len(s.Order))
	}
	if s.Target < 1 {
		return fmt.Errorf("target %d", s.Target)
	}
	if s.Variant != OneDie && s.Variant != TwoDice {
		return fmt.Errorf("unknown variant %q", s.Variant)
	}
	if s.Pot < 0 {
		return fmt.Errorf("negative pot")
	}
	return nil
}
