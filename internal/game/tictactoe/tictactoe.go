package tictactoe

import (
	"bytes"
	"encoding/json"
	"fmt"
	"math/rand/v2"
	"strconv"
	"time"

	"tabletop/internal/game"
)

const ID = "tictactoe"

// Provider implements game.Provider for tic-tac-toe.
type Provider struct{}

func (Provider) Info() game.Info {
	return game.Info{
		ID:         ID,
		MinPlayers: 2,
		MaxPlayers: 2,
		Colors:     []game.PlayerColor{game.Red, game.Blue},
		Automa:     true,
	}
}

func (Provider) Start(players []game.Player, opts game.Options, rnd *rand.Rand) (game.State, error) {
	if err := game.ValidatePlayers(Provider{}.Info(), players); err != nil {
		return nil, err
	}
	return &State{
		Seats:  [2]game.Player{players[0], players[1]},
		Winner: -1,
	}, nil
}

func (Provider) TimeLimit(game.Options) time.Duration { return time.Minute }

// Move marks a cell for the current player.
type Move struct {
	Cell int `json:"cell"`
}

func (Move) Type() string { return "move" }

// State is a tic-tac-toe game in progress.
type State struct {
	game.Emitter `json:"-"`

	Seats  [2]game.Player `json:"players"`
	Board  [9]int         `json:"board"` // 0=empty, 1=seat 0, 2=seat 1
	Turn   int            `json:"turn"`  // index into Seats
	Done   bool           `json:"done"`
	Winner int            `json:"winner"` // -1=none or draw
	Left   int            `json:"left"`   // 0=nobody, else seat index + 1
}

func (s *State) Players() []game.Player { return s.Seats[:] }

func (s *State) ActivePlayers() []game.Player {
	if s.Left == 0 {
		return s.Seats[:]
	}
	return []game.Player{s.Seats[2-s.Left]}
}

func (s *State) CurrentPlayer() (game.Player, bool) {
	if s.Done {
		return game.Player{}, false
	}
	return s.Seats[s.Turn], true
}

func (s *State) Perform(action game.Action, rnd *rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	move, ok := action.(Move)
	if !ok {
		return fmt.Errorf("%w: %T is not a tic-tac-toe action", game.ErrInvalidAction, action)
	}
	if move.Cell < 0 || move.Cell > 8 {
		return fmt.Errorf("%w: cell %d out of range", game.ErrInvalidAction, move.Cell)
	}
	if s.Board[move.Cell] != 0 {
		return fmt.Errorf("%w: cell %d already occupied", game.ErrInvalidAction, move.Cell)
	}

	player := s.Seats[s.Turn]
	s.Board[move.Cell] = s.Turn + 1
	s.Emit(player, "placed", strconv.Itoa(move.Cell))
	if s.checkWin(s.Turn + 1) {
		s.Done = true
		s.Winner = s.Turn
		s.Emit(player, "won")
	} else if s.boardFull() {
		s.Done = true
		s.Emit(player, "draw")
	} else {
		s.Turn = 1 - s.Turn
	}
	return nil
}

// Skip gives the turn away without marking a cell.
func (s *State) Skip(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	s.Emit(s.Seats[s.Turn], "skipped")
	s.Turn = 1 - s.Turn
	return nil
}

func (s *State) EndTurn(*rand.Rand) error {
	if s.Done {
		return game.ErrGameEnded
	}
	return fmt.Errorf("%w: a cell must be marked", game.ErrInvalidAction)
}

// Leave ends the game; the remaining player wins.
func (s *State) Leave(player game.Player) error {
	i := game.IndexOf(s.Seats[:], player.Name)
	if i < 0 {
		return fmt.Errorf("%w: %s is not seated", game.ErrInvalidPlayers, player.Name)
	}
	if s.Done {
		return game.ErrGameEnded
	}
	s.Left = i + 1
	s.Done = true
	s.Winner = 1 - i
	s.Emit(s.Seats[i], "left")
	return nil
}

func (s *State) Score(p game.Player) int {
	if s.Winner >= 0 && s.Seats[s.Winner].Name == p.Name {
		return 1
	}
	return 0
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
	filled := 0
	for _, v := range s.Board {
		if v != 0 {
			filled++
		}
	}
	return filled * 100 / 9
}

var winLines = [][3]int{
	{0, 1, 2}, {3, 4, 5}, {6, 7, 8}, // rows
	{0, 3, 6}, {1, 4, 7}, {2, 5, 8}, // cols
	{0, 4, 8}, {2, 4, 6}, // diags
}

func (s *State) checkWin(mark int) bool {
	for _, line := range winLines {
		if s.Board[line[0]] == mark && s.Board[line[1]] == mark && s.Board[line[2]] == mark {
			return true
		}
	}
	return false
}

func (s *State) boardFull() bool {
	for _, v := range s.Board {
		if v == 0 {
			return false
		}
	}
	return true
}

func (s *State) freeCells() []int {
	var cells []int
	for i, v := range s.Board {
		if v == 0 {
			cells = append(cells, i)
		}
	}
	return cells
}

// completing returns a free cell that finishes a line for mark, or -1.
func (s *State) completing(mark int) int {
	for _, line := range winLines {
		count, free := 0, -1
		for _, c := range line {
			switch s.Board[c] {
			case mark:
				count++
			case 0:
				free = c
			}
		}
		if count == 2 && free >= 0 {
			return free
		}
	}
	return -1
}

func asState(state game.State) (*State, error) {
	s, ok := state.(*State)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a tic-tac-toe state", game.ErrMalformedState, state)
	}
	return s, nil
}

// ExecuteAutoma wins when it can, blocks when it must, and otherwise prefers
// the centre, then a random corner, then any free cell.
func (Provider) ExecuteAutoma(state game.State, rnd *rand.Rand) error {
	s, err := asState(state)
	if err != nil {
		return err
	}
	mark := s.Turn + 1
	cell := s.completing(mark)
	if cell < 0 {
		cell = s.completing(3 - mark)
	}
	if cell < 0 && s.Board[4] == 0 {
		cell = 4
	}
	if cell < 0 {
		var corners []int
		for _, c := range []int{0, 2, 6, 8} {
			if s.Board[c] == 0 {
				corners = append(corners, c)
			}
		}
		if len(corners) > 0 {
			cell = corners[rnd.IntN(len(corners))]
		}
	}
	if cell < 0 {
		free := s.freeCells()
		if len(free) == 0 {
			return fmt.Errorf("no free cell on an open board")
		}
		cell = free[rnd.IntN(len(free))]
	}
	return s.Perform(Move{Cell: cell}, rnd)
}

func (Provider) ToAction(cmd game.Command, state game.State) (game.Action, error) {
	if cmd.Type != "move" {
		return nil, game.UnknownCommand(cmd)
	}
	var m Move
	if err := cmd.Decode(&m); err != nil {
		return nil, err
	}
	return m, nil
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
	var cmds []game.Command
	for _, c := range s.freeCells() {
		cmds = append(cmds, game.MustCommand("move", Move{Cell: c}))
	}
	return cmds
}

type stateView struct {
	Board   [9]int        `json:"board"`
	Turn    string        `json:"turn,omitempty"`
	You     int           `json:"you"` // 1=first seat, 2=second seat, 0=spectator
	Players []game.Player `json:"players"`
	Done    bool          `json:"done"`
	Winner  string        `json:"winner,omitempty"`
}

// View exposes everything; tic-tac-toe has no hidden information.
func (Provider) View(state game.State, viewer *game.Player) (any, error) {
	s, err := asState(state)
	if err != nil {
		return nil, err
	}
	view := stateView{
		Board:   s.Board,
		Players: s.Seats[:],
		Done:    s.Done,
	}
	if viewer != nil {
		view.You = game.IndexOf(s.Seats[:], viewer.Name) + 1
	}
	if cur, ok := s.CurrentPlayer(); ok {
		view.Turn = cur.Name
	}
	if s.Done {
		if s.Winner == -1 {
			view.Winner = "draw"
		} else {
			view.Winner = s.Seats[s.Winner].Name
		}
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
	for i, p := range s.Seats {
		if p.Name == "" {
			return fmt.Errorf("seat %d is empty", i)
		}
	}
	for i, v := range s.Board {
		if v < 0 || v > 2 {
			return fmt.Errorf("cell %d holds %d", i, v)
		}
	}
	if s.Turn < 0 || s.Turn > 1 {
		return fmt.Errorf("turn %d out of range", s.Turn)
	}
	if s.Winner < -1 || s.Winner > 1 {
		return fmt.Errorf("winner %d out of range", s.Winner)
	}
	if s.Left < 0 || s.Left > 2 {
		return fmt.Errorf("left %d out of range", s.Left)
	}
	if s.Left != 0 && !s.Done {
		return fmt.Errorf("a player left but the game is open")
	}
	return nil
}
