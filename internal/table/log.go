package table

import (
	"time"

	"tabletop/internal/game"
)

type LogType string

const (
	LogCreate       LogType = "CREATE"
	LogInvite       LogType = "INVITE"
	LogAccept       LogType = "ACCEPT"
	LogReject       LogType = "REJECT"
	LogJoin         LogType = "JOIN"
	LogKick         LogType = "KICK"
	LogOptions      LogType = "OPTIONS"
	LogStart        LogType = "START"
	LogAction       LogType = "ACTION"
	LogSkip         LogType = "SKIP"
	LogPassTurn     LogType = "PASS_TURN"
	LogForceEndTurn LogType = "FORCE_END_TURN"
	LogAutoma       LogType = "AUTOMA"
	LogLeft         LogType = "LEFT"
	LogBeginTurn    LogType = "BEGIN_TURN"
	LogEndTurn      LogType = "END_TURN"
	LogInGameEvent  LogType = "IN_GAME_EVENT"
	LogEnd          LogType = "END"
	LogAbandon      LogType = "ABANDON"

	LogChangeOwner     LogType = "CHANGE_OWNER"
	LogVisibility      LogType = "VISIBILITY"
	LogChangeType      LogType = "CHANGE_TYPE"
	LogProposedToLeave LogType = "PROPOSED_TO_LEAVE"
	LogAgreedToLeave   LogType = "AGREED_TO_LEAVE"
	LogUndo            LogType = "UNDO"
	LogRevert          LogType = "REVERT"
)

// LogEntry is one line of the table history. State changes carry the seed
// they were applied with, so the game can be replayed exactly. Undo and
// revert entries point at the entry they go back to in Target.
type LogEntry struct {
	Seq      int           `json:"seq"`
	Time     time.Time     `json:"time"`
	Type     LogType       `json:"type"`
	PlayerID string        `json:"playerId,omitempty"`
	UserID   string        `json:"userId,omitempty"`
	Seed     game.Seed     `json:"seed,omitempty"`
	Command  *game.Command `json:"command,omitempty"`
	Event    *game.Event   `json:"event,omitempty"`
	Target   int           `json:"target,omitempty"`
}

// changesState reports whether replaying the entry touches the game state.
func (e LogEntry) changesState() bool {
	switch e.Type {
	case LogAction, LogSkip, LogPassTurn, LogForceEndTurn, LogAutoma, LogLeft:
		return true
	}
	return false
}

func (e LogEntry) undoable() bool {
	return e.Type == LogAction || e.Type == LogSkip || e.Type == LogPassTurn
}

// Since returns the entries with a sequence number greater than seq.
func (t *Table) Since(seq int) []LogEntry {
	for i, e := range t.Log {
		if e.Seq > seq {
			return t.Log[i:]
		}
	}
	return nil
}

func (t *Table) append(e LogEntry) {
	e.Seq = len(t.Log) + 1
	if e.Time.IsZero() {
		e.Time = t.clock()
	}
	t.Log = append(t.Log, e)
}
