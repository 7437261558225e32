// Package table runs games for people: seating, turn bookkeeping, history,
// and persistence around a game.State.
package table

import (
	"errors"
	"fmt"
	"math/rand/v2"
	"slices"
	"time"

	"tabletop/internal/game"
	"tabletop/internal/rating"
)

var (
	ErrNotFound       = errors.New("table not found")
	ErrWrongStatus    = errors.New("not allowed in the current table status")
	ErrForbidden      = errors.New("only the table owner may do that")
	ErrNotSeated      = errors.New("not seated at this table")
	ErrAlreadySeated  = errors.New("already seated at this table")
	ErrTableFull      = errors.New("table is full")
	ErrTurnNotExpired = errors.New("turn has not expired")
	ErrCannotUndo     = errors.New("cannot undo")
)

// Status represents the table lifecycle.
type Status string

const (
	StatusNew       Status = "NEW"
	StatusStarted   Status = "STARTED"
	StatusEnded     Status = "ENDED"
	StatusAbandoned Status = "ABANDONED"
)

// Type decides how long a player may take per turn.
type Type string

const (
	Realtime  Type = "REALTIME"
	TurnBased Type = "TURN_BASED"
)

type Mode string

const (
	Normal   Mode = "NORMAL"
	Training Mode = "TRAINING"
)

type PlayerStatus string

const (
	Invited  PlayerStatus = "INVITED"
	Accepted PlayerStatus = "ACCEPTED"
	Playing  PlayerStatus = "PLAYING"
	Left     PlayerStatus = "LEFT"
)

// DefaultTurnBasedLimit is the time a player has per turn on turn-based tables.
const DefaultTurnBasedLimit = 12 * time.Hour

// Player is a seat at a table. Its ID is the name the game state knows it by.
type Player struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId,omitempty"`
	Type            game.PlayerType  `json:"type"`
	Status          PlayerStatus     `json:"status"`
	Color           game.PlayerColor `json:"color,omitempty"`
	Score           int              `json:"score"`
	Breakdown       game.Score       `json:"breakdown,omitempty"`
	Winner          bool             `json:"winner"`
	Turn            bool             `json:"turn"`
	TurnLimit       *time.Time       `json:"turnLimit,omitempty"`
	ProposedToLeave bool             `json:"proposedToLeave,omitempty"`
	AgreedToLeave   bool             `json:"agreedToLeave,omitempty"`
}

func (p *Player) playing() bool { return p.Status == Playing }

// seated reports whether the seat takes part in the game, before or after
// the start.
func (p *Player) seated() bool { return p.Status == Accepted || p.Status == Playing }

// Settings are chosen when a table is created.
type Settings struct {
	Type    Type         `json:"type"`
	Mode    Mode         `json:"mode"`
	Public  bool         `json:"public"`
	Options game.Options `json:"options"`
}

func (s Settings) validate() error {
	if s.Type != Realtime && s.Type != TurnBased {
		return fmt.Errorf("%w: unknown table type %q", game.ErrInvalidOptions, s.Type)
	}
	if s.Mode != Normal && s.Mode != Training {
		return fmt.Errorf("%w: unknown table mode %q", game.ErrInvalidOptions, s.Mode)
	}
	return nil
}

// Table is one game being set up, played, or finished.
type Table struct {
	ID       string       `json:"id"`
	GameID   string       `json:"gameId"`
	Type     Type         `json:"type"`
	Mode     Mode         `json:"mode"`
	Public   bool         `json:"public"`
	Status   Status       `json:"status"`
	OwnerID  string       `json:"ownerId"`
	Options  game.Options `json:"options"`
	Players  []*Player    `json:"players"`
	Log      []LogEntry   `json:"log"`
	Progress int          `json:"progress"`
	Revision int          `json:"revision"`
	Created  time.Time    `json:"created"`
	Updated  time.Time    `json:"updated"`
	Started  *time.Time   `json:"started,omitempty"`
	Ended    *time.Time   `json:"ended,omitempty"`

	game      *game.Game
	state     game.State
	clock     func() time.Time
	turnBased time.Duration

	// transitions during the current change, read by the manager after saving
	started bool
	ended   bool
}

// New creates a table owned by ownerID, who takes the first seat.
func New(g *game.Game, id, ownerID string, s Settings, now func() time.Time) (*Table, error) {
	if err := s.validate(); err != nil {
		return nil, err
	}
	if ownerID == "" {
		return nil, fmt.Errorf("%w: owner required", game.ErrInvalidPlayers)
	}
	t := &Table{
		ID:      id,
		GameID:  g.ID(),
		Type:    s.Type,
		Mode:    s.Mode,
		Public:  s.Public,
		Status:  StatusNew,
		OwnerID: ownerID,
		Options: s.Options,
	}
	t.attach(g, now, DefaultTurnBasedLimit)
	t.Created = t.clock()
	t.Updated = t.Created
	t.append(LogEntry{Type: LogCreate, UserID: ownerID})
	t.Players = append(t.Players, t.newSeat(ownerID, game.Human))
	return t, nil
}

func (t *Table) attach(g *game.Game, now func() time.Time, turnBased time.Duration) {
	t.game = g
	t.clock = now
	if t.clock == nil {
		t.clock = time.Now
	}
	t.turnBased = turnBased
}

func (t *Table) newSeat(userID string, typ game.PlayerType) *Player {
	return &Player{ID: newID(), UserID: userID, Type: typ, Status: Accepted}
}

func (t *Table) Game() *game.Game  { return t.game }
func (t *Table) State() game.State { return t.state }

// SeatOf returns the seat of userID, or nil.
func (t *Table) SeatOf(userID string) *Player {
	if userID == "" {
		return nil
	}
	for _, p := range t.Players {
		if p.UserID == userID {
			return p
		}
	}
	return nil
}

func (t *Table) seat(id string) *Player {
	for _, p := range t.Players {
		if p.ID == id {
			return p
		}
	}
	return nil
}

// CurrentSeat returns the seat expected to act, or nil.
func (t *Table) CurrentSeat() *Player {
	if t.state == nil || t.Status != StatusStarted {
		return nil
	}
	cur, ok := t.state.CurrentPlayer()
	if !ok {
		return nil
	}
	return t.seat(cur.Name)
}

func (p *Player) gamePlayer() game.Player {
	return game.Player{Name: p.ID, Color: p.Color, Type: p.Type}
}

func (t *Table) requireStatus(s Status) error {
	if t.Status != s {
		return fmt.Errorf("%w: table is %s", ErrWrongStatus, t.Status)
	}
	return nil
}

func (t *Table) requireOwner(userID string) error {
	if userID != t.OwnerID {
		return ErrForbidden
	}
	return nil
}

func (t *Table) requireRoom() error {
	if len(t.Players) >= t.game.Info().MaxPlayers {
		return ErrTableFull
	}
	return nil
}

// Invite reserves a seat for userID until they accept or reject.
func (t *Table) Invite(byUserID, userID string) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	if t.SeatOf(userID) != nil {
		return ErrAlreadySeated
	}
	if err := t.requireRoom(); err != nil {
		return err
	}
	seat := t.newSeat(userID, game.Human)
	seat.Status = Invited
	t.Players = append(t.Players, seat)
	t.append(LogEntry{Type: LogInvite, PlayerID: seat.ID, UserID: userID})
	return nil
}

func (t *Table) invitation(userID string) (*Player, error) {
	if err := t.requireStatus(StatusNew); err != nil {
		return nil, err
	}
	seat := t.SeatOf(userID)
	if seat == nil || seat.Status != Invited {
		return nil, fmt.Errorf("%w: no open invitation", ErrNotSeated)
	}
	return seat, nil
}

func (t *Table) Accept(userID string) error {
	seat, err := t.invitation(userID)
	if err != nil {
		return err
	}
	seat.Status = Accepted
	t.append(LogEntry{Type: LogAccept, PlayerID: seat.ID, UserID: userID})
	return nil
}

func (t *Table) Reject(userID string) error {
	seat, err := t.invitation(userID)
	if err != nil {
		return err
	}
	t.removeSeat(seat)
	t.append(LogEntry{Type: LogReject, PlayerID: seat.ID, UserID: userID})
	return nil
}

// Join seats userID at a public table.
func (t *Table) Join(userID string) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if !t.Public {
		return fmt.Errorf("%w: table is private", ErrForbidden)
	}
	if t.SeatOf(userID) != nil {
		return ErrAlreadySeated
	}
	if err := t.requireRoom(); err != nil {
		return err
	}
	seat := t.newSeat(userID, game.Human)
	t.Players = append(t.Players, seat)
	t.append(LogEntry{Type: LogJoin, PlayerID: seat.ID, UserID: userID})
	return nil
}

// AddComputer seats a computer player. Returns the new seat.
func (t *Table) AddComputer(byUserID string) (*Player, error) {
	if err := t.requireStatus(StatusNew); err != nil {
		return nil, err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return nil, err
	}
	if !t.game.Info().Automa {
		return nil, fmt.Errorf("%w: %s", game.ErrAutomaNotSupported, t.GameID)
	}
	if err := t.requireRoom(); err != nil {
		return nil, err
	}
	seat := t.newSeat("", game.Computer)
	t.Players = append(t.Players, seat)
	t.append(LogEntry{Type: LogJoin, PlayerID: seat.ID})
	return seat, nil
}

// Kick removes a seat before the game starts.
func (t *Table) Kick(byUserID, playerID string) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	seat := t.seat(playerID)
	if seat == nil {
		return ErrNotSeated
	}
	if seat.UserID == t.OwnerID {
		return fmt.Errorf("%w: the owner cannot be kicked", ErrForbidden)
	}
	t.removeSeat(seat)
	t.append(LogEntry{Type: LogKick, PlayerID: seat.ID, UserID: seat.UserID})
	return nil
}

// ChangeOptions replaces the game options before the start.
func (t *Table) ChangeOptions(byUserID string, opts game.Options) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	t.Options = opts
	t.append(LogEntry{Type: LogOptions, UserID: byUserID})
	return nil
}

func (t *Table) MakePublic(byUserID string) error  { return t.setPublic(byUserID, true) }
func (t *Table) MakePrivate(byUserID string) error { return t.setPublic(byUserID, false) }

func (t *Table) setPublic(byUserID string, public bool) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	t.Public = public
	t.append(LogEntry{Type: LogVisibility, UserID: byUserID})
	return nil
}

// ChangeType switches between realtime and turn-based play before the start.
func (t *Table) ChangeType(byUserID string, typ Type) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	if err := (Settings{Type: typ, Mode: t.Mode}).validate(); err != nil {
		return err
	}
	t.Type = typ
	t.append(LogEntry{Type: LogChangeType, UserID: byUserID})
	return nil
}

func (t *Table) removeSeat(seat *Player) {
	t.Players = slices.DeleteFunc(t.Players, func(p *Player) bool { return p == seat })
}

// Start deals the game to every accepted seat. Pending invitations are
// dropped and colors are assigned at random.
func (t *Table) Start(byUserID string, seed game.Seed) error {
	if err := t.requireStatus(StatusNew); err != nil {
		return err
	}
	if err := t.requireOwner(byUserID); err != nil {
		return err
	}
	var seats []*Player
	for _, p := range t.Players {
		if p.Status == Accepted {
			seats = append(seats, p)
		}
	}
	info := t.game.Info()
	if len(seats) < info.MinPlayers {
		return fmt.Errorf("%w: need at least %d players, have %d", game.ErrInvalidPlayers, info.MinPlayers, len(seats))
	}

	rnd := game.NewRand(seed)
	colors := shuffledColors(info, rnd)
	players := make([]game.Player, len(seats))
	for i, p := range seats {
		players[i] = game.Player{Name: p.ID, Color: colors[i], Type: p.Type}
	}
	state, err := t.game.Start(players, t.Options, rnd)
	if err != nil {
		return err
	}

	for i, p := range seats {
		p.Color = colors[i]
		p.Status = Playing
	}
	t.Players = seats
	t.state = state
	t.Status = StatusStarted
	now := t.clock()
	t.Started = &now
	t.started = true
	t.append(LogEntry{Type: LogStart, UserID: byUserID, Seed: seed})
	t.afterChange()
	return nil
}

func shuffledColors(info game.Info, rnd *rand.Rand) []game.PlayerColor {
	colors := slices.Clone(info.Colors)
	game.Shuffle(rnd, colors)
	return colors
}

// actingSeat checks that userID holds the current turn.
func (t *Table) actingSeat(userID string) (*Player, error) {
	switch t.Status {
	case StatusStarted:
	case StatusEnded:
		return nil, game.ErrGameEnded
	default:
		return nil, fmt.Errorf("%w: table is %s", ErrWrongStatus, t.Status)
	}
	seat := t.SeatOf(userID)
	if seat == nil || !seat.playing() {
		return nil, ErrNotSeated
	}
	if cur := t.CurrentSeat(); cur == nil || cur.ID != seat.ID {
		return nil, game.ErrNotCurrentPlayer
	}
	return seat, nil
}

func (t *Table) Perform(userID string, cmd game.Command, seed game.Seed) error {
	seat, err := t.actingSeat(userID)
	if err != nil {
		return err
	}
	c := cmd
	entry := LogEntry{Type: LogAction, PlayerID: seat.ID, UserID: userID, Seed: seed, Command: &c}
	return t.change(entry, func(rnd *rand.Rand) error {
		return t.game.Perform(t.state, cmd, rnd)
	})
}

func (t *Table) Skip(userID string, seed game.Seed) error {
	seat, err := t.actingSeat(userID)
	if err != nil {
		return err
	}
	entry := LogEntry{Type: LogSkip, PlayerID: seat.ID, UserID: userID, Seed: seed}
	return t.change(entry, func(rnd *rand.Rand) error {
		return t.game.Skip(t.state, rnd)
	})
}

func (t *Table) EndTurn(userID string, seed game.Seed) error {
	seat, err := t.actingSeat(userID)
	if err != nil {
		return err
	}
	entry := LogEntry{Type: LogPassTurn, PlayerID: seat.ID, UserID: userID, Seed: seed}
	return t.change(entry, func(rnd *rand.Rand) error {
		return t.game.EndTurn(t.state, rnd)
	})
}

// ExecuteAutoma plays the turn of the computer seat playerID.
func (t *Table) ExecuteAutoma(playerID string, seed game.Seed) error {
	if err := t.requireStatus(StatusStarted); err != nil {
		return err
	}
	cur := t.CurrentSeat()
	if cur == nil || cur.ID != playerID || cur.Type != game.Computer {
		return game.ErrNotCurrentPlayer
	}
	entry := LogEntry{Type: LogAutoma, PlayerID: playerID, Seed: seed}
	return t.change(entry, func(rnd *rand.Rand) error {
		return t.game.ExecuteAutoma(t.state, rnd)
	})
}

// ForceEndTurn skips the current player once their turn limit has passed.
// A computer whose turn was never played plays it now.
func (t *Table) ForceEndTurn(seed game.Seed) error {
	if err := t.requireStatus(StatusStarted); err != nil {
		return err
	}
	cur := t.CurrentSeat()
	if cur == nil || cur.TurnLimit == nil || t.clock().Before(*cur.TurnLimit) {
		return ErrTurnNotExpired
	}
	if cur.Type == game.Computer {
		return t.ExecuteAutoma(cur.ID, seed)
	}
	entry := LogEntry{Type: LogForceEndTurn, PlayerID: cur.ID, Seed: seed}
	return t.change(entry, func(rnd *rand.Rand) error {
		return t.game.Skip(t.state, rnd)
	})
}

// Leave gives up the seat of userID. An owner who leaves hands the table to
// another human still seated; without one the table is abandoned. During
// play the game continues without the player as long as enough players
// remain, otherwise the table is abandoned.
func (t *Table) Leave(userID string) error {
	if t.Status != StatusNew && t.Status != StatusStarted {
		return fmt.Errorf("%w: table is %s", ErrWrongStatus, t.Status)
	}
	seat := t.SeatOf(userID)
	if seat == nil || (t.Status == StatusStarted && !seat.playing()) {
		return ErrNotSeated
	}
	var heir *Player
	if userID == t.OwnerID {
		if heir = t.otherHumanSeated(userID); heir == nil {
			return t.abandonLeaving(seat)
		}
	}

	switch t.Status {
	case StatusNew:
		t.removeSeat(seat)
		t.append(LogEntry{Type: LogLeft, PlayerID: seat.ID, UserID: userID})
	case StatusStarted:
		if t.seatedExcept(seat) < t.game.Info().MinPlayers {
			return t.abandonLeaving(seat)
		}
		entry := LogEntry{Type: LogLeft, PlayerID: seat.ID, UserID: userID}
		err := t.change(entry, func(*rand.Rand) error {
			if err := t.game.Leave(t.state, seat.gamePlayer()); err != nil {
				return err
			}
			seat.Status = Left
			return nil
		})
		if err != nil {
			return err
		}
	}
	if heir != nil {
		t.changeOwner(heir)
	}
	return nil
}

// abandonLeaving abandons the table and records seat as gone. The game
// state is left as it was at the abandonment.
func (t *Table) abandonLeaving(seat *Player) error {
	if err := t.Abandon(""); err != nil {
		return err
	}
	if t.state == nil {
		t.removeSeat(seat)
	} else {
		seat.Status = Left
		seat.Score = 0
		seat.Breakdown = nil
	}
	t.append(LogEntry{Type: LogLeft, PlayerID: seat.ID, UserID: seat.UserID})
	return nil
}

func (t *Table) otherHumanSeated(userID string) *Player {
	for _, p := range t.Players {
		if p.Type == game.Human && p.UserID != userID && p.seated() {
			return p
		}
	}
	return nil
}

func (t *Table) seatedExcept(seat *Player) int {
	n := 0
	for _, p := range t.Players {
		if p != seat && p.seated() {
			n++
		}
	}
	return n
}

func (t *Table) changeOwner(p *Player) {
	t.OwnerID = p.UserID
	t.append(LogEntry{Type: LogChangeOwner, PlayerID: p.ID, UserID: p.UserID})
}

func (t *Table) playingHuman(userID string) (*Player, error) {
	if err := t.requireStatus(StatusStarted); err != nil {
		return nil, err
	}
	seat := t.SeatOf(userID)
	if seat == nil || !seat.playing() || seat.Type != game.Human {
		return nil, ErrNotSeated
	}
	return seat, nil
}

// ProposeToLeave asks the other players to end the game without a result.
// The proposer agrees with their own proposal.
func (t *Table) ProposeToLeave(userID string) error {
	seat, err := t.playingHuman(userID)
	if err != nil {
		return err
	}
	seat.ProposedToLeave = true
	seat.AgreedToLeave = true
	t.append(LogEntry{Type: LogProposedToLeave, PlayerID: seat.ID, UserID: userID})
	return t.abandonIfAgreed()
}

// AgreeToLeave accepts a proposal to leave. The table is abandoned once
// every human still playing agreed.
func (t *Table) AgreeToLeave(userID string) error {
	seat, err := t.playingHuman(userID)
	if err != nil {
		return err
	}
	if !slices.ContainsFunc(t.Players, func(p *Player) bool { return p.ProposedToLeave }) {
		return fmt.Errorf("%w: nobody proposed to leave", ErrWrongStatus)
	}
	seat.AgreedToLeave = true
	t.append(LogEntry{Type: LogAgreedToLeave, PlayerID: seat.ID, UserID: userID})
	return t.abandonIfAgreed()
}

func (t *Table) abandonIfAgreed() error {
	for _, p := range t.Players {
		if p.playing() && p.Type == game.Human && !p.AgreedToLeave {
			return nil
		}
	}
	return t.Abandon("")
}

// Undo takes back the last change of the current player, as long as
// nobody acted after it. Only training tables allow it.
func (t *Table) Undo(userID string) error {
	seat, err := t.actingSeat(userID)
	if err != nil {
		return err
	}
	if t.Mode != Training {
		return fmt.Errorf("%w: only on training tables", ErrCannotUndo)
	}
	start, changes := history(t.Log)
	if len(changes) == 0 {
		return fmt.Errorf("%w: nothing happened yet", ErrCannotUndo)
	}
	last := changes[len(changes)-1]
	if last.PlayerID != seat.ID || !last.undoable() {
		return fmt.Errorf("%w: last change was not yours", ErrCannotUndo)
	}
	entry := LogEntry{Type: LogUndo, PlayerID: seat.ID, UserID: userID, Target: last.Seq}
	return t.rewind(entry, start, changes[:len(changes)-1])
}

// RevertTo restores the state right after the log entry seq, which is the
// start or a state change still in effect. Only training tables allow it,
// and never past a player leaving.
func (t *Table) RevertTo(userID string, seq int) error {
	seat, err := t.playingHuman(userID)
	if err != nil {
		return err
	}
	if t.Mode != Training {
		return fmt.Errorf("%w: only on training tables", ErrCannotUndo)
	}
	start, changes := history(t.Log)
	keep := 0
	if seq != start.Seq {
		i := slices.IndexFunc(changes, func(e LogEntry) bool { return e.Seq == seq })
		if i < 0 {
			return fmt.Errorf("%w: no state after entry %d", ErrCannotUndo, seq)
		}
		keep = i + 1
	}
	if keep == len(changes) {
		return fmt.Errorf("%w: already at entry %d", ErrCannotUndo, seq)
	}
	for _, e := range changes[keep:] {
		if e.Type == LogLeft {
			return fmt.Errorf("%w: a player left after entry %d", ErrCannotUndo, seq)
		}
	}
	entry := LogEntry{Type: LogRevert, PlayerID: seat.ID, UserID: userID, Target: seq}
	return t.rewind(entry, start, changes[:keep])
}

// rewind replaces the state with the one rebuilt from the start and the
// given changes.
func (t *Table) rewind(entry LogEntry, start *LogEntry, changes []LogEntry) error {
	state, err := replay(t.game, t, start.Seed, changes)
	if err != nil {
		return &game.EngineError{GameID: t.GameID, Op: "rewind", Err: err}
	}
	t.state = state
	t.append(entry)
	t.afterChange()
	return nil
}

// Abandon stops the table without a result. An empty byUserID is the system.
func (t *Table) Abandon(byUserID string) error {
	if t.Status != StatusNew && t.Status != StatusStarted {
		return fmt.Errorf("%w: table is %s", ErrWrongStatus, t.Status)
	}
	if byUserID != "" {
		if err := t.requireOwner(byUserID); err != nil {
			return err
		}
	}
	now := t.clock()
	for _, p := range t.Players {
		p.Turn = false
		p.TurnLimit = nil
	}
	t.Status = StatusAbandoned
	t.Ended = &now
	t.ended = true
	t.append(LogEntry{Type: LogAbandon, UserID: byUserID})
	return nil
}

// change applies fn to the game state. A failed change leaves the state as
// it was; a successful one is logged with every event it raised.
func (t *Table) change(entry LogEntry, fn func(rnd *rand.Rand) error) error {
	snapshot, err := t.game.Serialize(t.state)
	if err != nil {
		return err
	}
	var events []game.Event
	id := t.state.AddEventListener(game.ListenerFunc(func(e game.Event) {
		events = append(events, e)
	}))
	err = fn(game.NewRand(entry.Seed))
	t.state.RemoveEventListener(id)
	if err != nil {
		restored, rerr := t.game.Deserialize(snapshot)
		if rerr != nil {
			return &game.EngineError{GameID: t.GameID, Op: "restore", Err: rerr}
		}
		t.state = restored
		return err
	}

	t.append(entry)
	for i := range events {
		t.append(LogEntry{Type: LogInGameEvent, PlayerID: events[i].Player.Name, Event: &events[i]})
	}
	t.afterChange()
	return nil
}

// afterChange syncs seats with the game state: scores, turn flags and
// limits, and the end of the game.
func (t *Table) afterChange() {
	now := t.clock()
	t.Progress = t.state.Progress()
	cur, hasCur := t.state.CurrentPlayer()
	breakdown, itemized := t.state.(game.Breakdown)
	for _, p := range t.Players {
		p.Score = t.state.Score(p.gamePlayer())
		p.Breakdown = nil
		if itemized {
			p.Breakdown = breakdown.ScoreBreakdown(p.gamePlayer())
		}
		if p.Status == Left {
			p.Score = 0
			p.Breakdown = nil
		}
		isCur := hasCur && cur.Name == p.ID
		switch {
		case p.Turn && !isCur:
			p.Turn = false
			p.TurnLimit = nil
			t.append(LogEntry{Type: LogEndTurn, PlayerID: p.ID, UserID: p.UserID})
		case isCur:
			if !p.Turn {
				p.Turn = true
				t.append(LogEntry{Type: LogBeginTurn, PlayerID: p.ID, UserID: p.UserID})
			}
			limit := now.Add(t.turnLimit())
			p.TurnLimit = &limit
		}
	}

	if t.state.IsEnded() && t.Status == StatusStarted {
		for _, w := range t.state.Winners() {
			if seat := t.seat(w.Name); seat != nil {
				seat.Winner = true
			}
		}
		t.Status = StatusEnded
		t.Ended = &now
		t.ended = true
		t.append(LogEntry{Type: LogEnd})
	}
}

func (t *Table) turnLimit() time.Duration {
	if t.Type == TurnBased {
		return t.turnBased
	}
	return t.game.TimeLimit(t.Options)
}

// Deadline is the turn limit of the current seat, if any.
func (t *Table) Deadline() *time.Time {
	if t.Status != StatusStarted {
		return nil
	}
	if cur := t.CurrentSeat(); cur != nil {
		return cur.TurnLimit
	}
	return nil
}

// View projects the game for userID. Users without a playing seat see the
// spectator view.
func (t *Table) View(userID string) (any, error) {
	if t.state == nil {
		return nil, nil
	}
	var viewer *game.Player
	if seat := t.SeatOf(userID); seat != nil && seat.Status != Invited && seat.Status != Accepted {
		gp := seat.gamePlayer()
		viewer = &gp
	}
	return t.game.View(t.state, viewer)
}

// ValidCommands lists what userID could perform right now.
func (t *Table) ValidCommands(userID string) []game.Command {
	seat := t.SeatOf(userID)
	if t.state == nil || t.Status != StatusStarted || seat == nil || !seat.playing() {
		return nil
	}
	return t.game.ValidCommands(t.state, seat.gamePlayer())
}

// Rated reports whether the result of the table feeds the ratings.
func (t *Table) Rated() bool {
	if t.Status != StatusEnded || t.Mode != Normal {
		return false
	}
	for _, p := range t.Players {
		if p.Type == game.Computer {
			return false
		}
	}
	return true
}

// Result is the rating input of an ended table. Players who left are not
// rated.
func (t *Table) Result() rating.Result {
	res := rating.Result{TableID: t.ID, GameID: t.GameID}
	if t.Ended != nil {
		res.Ended = *t.Ended
	}
	for _, p := range t.Players {
		if !p.playing() {
			continue
		}
		res.Standings = append(res.Standings, rating.Standing{UserID: p.UserID, Score: p.Score})
	}
	return res
}
