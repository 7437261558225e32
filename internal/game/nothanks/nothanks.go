// Package nothanks is the bidding card game: pay a chip to refuse the face-up
// card or take it with every chip paid into it. Runs of consecutive cards only
// count their lowest card against the holder.
package nothanks

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"slices"
	"strconv"
	"time"

	"tabletop/internal/game"
)

const ID = "nothanks"

const (
	lowCard      = 3
	highCard     = 35
	removedCards = 9
	deckSize     = highCard - lowCard + 1 - removedCards
	defaultChips = 11
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
	chips, err := opts.IntRange("chips", defaultChips, 1, 55)
	if err != nil {
		return nil, err
	}

	cards := make([]int, 0, highCard-lowCard+1)
	for c := lowCard; c <= highCard; c++ {
		cards = append(cards, c)
	}
	game.Shuffle(rnd, cards)

	s := &State{
		Seats:   append([]game.Player(nil), players...),
		Removed: cards[:removedCards:removedCards],
		Card:    cards[removedCards],
		Deck:    append([]int{}, cards[removedCards+1:]...),
		Chips:   make(map[string]int, len(players)),
		Cards:   make(map[string][]int, len(players)),
	}
	slices.Sort(s.Removed)
	for _, p := range players {
		s.Order = append(s.Order, p.Name)
		s.Chips[p.Name] = chips
		s.Cards[p.Name] = []int{}
	}
	s.Turn = rnd.IntN(len(players))
	return s, nil
}

func (Provider) TimeLimit(game.Options) time.Duration { return 45 * time.Second }

type Pass struct{}

func (Pass) Type() string { return "pass" }

type Take struct{}

func (Take) Type() string { return "take" }

type State struct {
	game.Emitter `json:"-"`

	Seats   []game.Player    `json:"players"`
	Order   []string         `json:"order"`
	Turn    int              `json:"turn"`
	Deck    []int            `json:"deck"`    // face down, drawn from the front
	Removed []int            `json:"removed"` // out of the game, never revealed
	Card    int              `json:"card"`    // face up, 0 once the deck is exhausted
	Pot     int              `json:"pot"`     // chips on the face-up card
	Chips   map[string]int   `json:"chips"`
	Cards   map[string][]int `json:"cards"` // sorted
	Done    bool             `json:"done"`
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
	return s.Seats[game.IndexOf(s.Seats, s.Order[s.Turn])], true
}

func (s *State) Perform(action game.Action, rnd *rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	switch action.(type) {
	case Pass:
		return s.pass()
	case Take:
		s.take()
		return nil
	}
	return fmt.Errorf("%w: %T is not a no-thanks action", game.ErrInvalidAction, action)
}

func (s *State) pass() error {
	player, _ := s.CurrentPlayer()
	if s.Chips[player.Name] == 0 {
		return fmt.Errorf("%w: no chips left, the card must be taken", game.ErrInvalidAction)
	}
	s.Chips[player.Name]--
	s.Pot++
	s.Emit(player, "passed", strconv.Itoa(s.Card))
	s.Turn = (s.Turn + 1) % len(s.Order)
	return nil
}

// take gives the face-up card and its pot to the current player, who then
// faces the next card.
func (s *State) take() {
	player, _ := s.CurrentPlayer()
	s.Cards[player.Name] = insertSorted(s.Cards[player.Name], s.Card)
	s.Chips[player.Name] += s.Pot
	s.Emit(player, "took", strconv.Itoa(s.Card), strconv.Itoa(s.Pot))
	s.Pot = 0
	if len(s.Deck) == 0 {
		s.Card = 0
		s.Done = true
		return
	}
	s.Card = s.Deck[0]
	s.Deck = s.Deck[1:]
	s.Emit(player, "revealed", strconv.Itoa(s.Card))
}

func insertSorted(cards []int, c int) []int {
	i, _ := slices.BinarySearch(cards, c)
	return slices.Insert(cards, i, c)
}

// Skip refuses the card when the player can pay for it and takes it otherwise.
func (s *State) Skip(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	player, _ := s.CurrentPlayer()
	s.Emit(player, "skipped")
	if s.Chips[player.Name] > 0 {
		return s.pass()
	}
	s.take()
	return nil
}

func (s *State) EndTurn(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	return fmt.Errorf("%w: pass or take the card", game.ErrInvalidAction)
}

// Leave drops the player from the rotation. Their cards and chips stay with
// them; the face-up card and pot move on to the next player.
func (s *State) Leave(player game.Player) error {
	if s.Done {
		return game.ErrGameEnded
	}
	i := slices.Index(s.Order, player.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s is not playing", game.ErrInvalidPlayers, player.Name)
	}
	s.Order = slices.Delete(slices.Clone(s.Order), i, i+1)
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

func cardPenalty(cards []int) int {
	total := 0
	for i, c := range cards {
		if i == 0 || cards[i-1] != c-1 {
			total += c
		}
	}
	return total
}

func (s *State) Score(p game.Player) int {
	return s.Chips[p.Name] - cardPenalty(s.Cards[p.Name])
}

func (s *State) ScoreBreakdown(p game.Player) game.Score {
	return game.Score{"chips": s.Chips[p.Name], "cards": -cardPenalty(s.Cards[p.Name])}
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
	return min(99, (deckSize-len(s.Deck)-1)*100/deckSize)
}

func asState(state game.State) (*State, error) {
	s, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a no-thanks state", game.ErrMalformedState, state)
	}
	return s, nil
}

// ExecuteAutoma keeps taking cards while they are worth it and passes on the
// first one that is not. Each take consumes a card, so the loop is bounded by
// the deck.
func (Provider) ExecuteAutoma(state game.State, rnd *rand.Rand) error {
	s, err := asState(state)
	if err != nil {
		return err
	}
	me, _ := s.CurrentPlayer()
	for !s.Done {
		if s.Chips[me.Name] > 0 && s.netGain(me.Name) < -rnd.IntN(4) {
			return s.pass()
		}
		s.take()
	}
	return nil
}

// netGain is the score change from taking the face-up card now.
func (s *State) netGain(name string) int {
	held := s.Cards[name]
	with := insertSorted(slices.Clone(held), s.Card)
	return s.Pot - (cardPenalty(with) - cardPenalty(held))
}

func (Provider) ToAction(cmd game.Command, state game.State) (game.Action, error) {
	switch cmd.Type {
	case "pass":
		var p Pass
		if err := cmd.Decode(&p); err != nil {
			return nil, err
		}
		return p, nil
	case "take":
		var t Take
		if err := cmd.Decode(&t); err != nil {
			return nil, err
		}
		return t, nil
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
	cmds := []game.Command{game.MustCommand("take", nil)}
	if s.Chips[player.Name] > 0 {
		cmds = append(cmds, game.MustCommand("pass", nil))
	}
	return cmds
}

type playerView struct {
	game.Player
	Cards  []int `json:"cards"`
	Chips  *int  `json:"chips,omitempty"` // only for the viewer
	Score  *int  `json:"score,omitempty"` // only for the viewer or once ended
	Active bool  `json:"active"`
}

type stateView struct {
	Players  []playerView `json:"players"`
	Turn     string       `json:"turn,omitempty"`
	Card     int          `json:"card,omitempty"`
	Pot      int          `json:"pot"`
	DeckSize int          `json:"deckSize"`
	Done     bool         `json:"done"`
	Winners  []string     `json:"winners,omitempty"`
}

// View hides chip counts of other players and the order of the deck. The
// removed cards are never shown.
func (Provider) View(state game.State, viewer *game.Player) (any, error) {
	s, err := asState(state)
	if err != nil {
		return nil, err
	}
	view := stateView{Card: s.Card, Pot: s.Pot, DeckSize: len(s.Deck), Done: s.Done}
	for _, p := range s.Seats {
		pv := playerView{
			Player: p,
			Cards:  slices.Clone(s.Cards[p.Name]),
			Active: slices.Contains(s.Order, p.Name),
		}
		if s.Done || (viewer != nil && viewer.Name == p.Name) {
			chips, score := s.Chips[p.Name], s.Score(p)
			pv.Chips, pv.Score = &chips, &score
		}
		view.Players = append(view.Players, pv)
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
	for _, name := range s.Order {
		if game.IndexOf(s.Seats, name) < 0 {
			return fmt.Errorf("unknown player %q in turn order", name)
		}
	}
	if !s.Done && (len(s.Order) < 2 || s.Turn < 0 || s.Turn >= len(s.Order)) {
		return fmt.Errorf("turn %d invalid for %d active players", s.Turn, len(s.Order))
	}
	if s.Pot < 0 {
		return fmt.Errorf("negative pot")
	}

	// every card is in exactly one place
	seen := make(map[int]bool, highCard-lowCard+1)
	mark := func(c int) error {
		if c < lowCard || c > highCard || seen[c] {
			return fmt.Errorf("card %d misplaced", c)
		}
		seen[c] = true
		return nil
	}
	places := [][]int{s.Deck, s.Removed}
	for _, p := range s.Seats {
		if s.Chips[p.Name] < 0 {
			return fmt.Errorf("negative chips for %s", p.Name)
		}
		if s.Cards[p.Name] == nil {
			return fmt.Errorf("missing cards for %s", p.Name)
		}
		places = append(places, s.Cards[p.Name])
	}
	if s.Card != 0 {
		places = append(places, []int{s.Card})
	} else if !s.Done {
		return fmt.Errorf("no face-up card in an open game")
	}
	for _, cards := range places {
		for _, c := range cards {
			if err := mark(c); err != nil {
				return err
			}
		}
	}
	if len(seen) != highCard-lowCard+1 {
		return fmt.Errorf("%d cards accounted for", len(seen))
	}
	return nil
}
