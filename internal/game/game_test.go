package game

import (
	"encoding/json"
	"errors"
	"testing"
)

func twoPlayers() []Player {
	return []Player{
		{Name: "alice", Color: Red, Type: Human},
		{Name: "bob", Color: Blue, Type: Computer},
	}
}

func TestStartValidatesPlayers(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	rnd := NewRand(1)

	cases := map[string][]Player{
		"too few":         {{Name: "a", Color: Red, Type: Human}},
		"duplicate name":  {{Name: "a", Color: Red, Type: Human}, {Name: "a", Color: Blue, Type: Human}},
		"duplicate color": {{Name: "a", Color: Red, Type: Human}, {Name: "b", Color: Red, Type: Human}},
		"bad color":       {{Name: "a", Color: Red, Type: Human}, {Name: "b", Color: Purple, Type: Human}},
		"bad type":        {{Name: "a", Color: Red, Type: Human}, {Name: "b", Color: Blue, Type: "ALIEN"}},
	}
	for name, players := range cases {
		if _, err := g.Start(players, Options{}, rnd); !errors.Is(err, ErrInvalidPlayers) {
			t.Errorf("%s: expected ErrInvalidPlayers, got %v", name, err)
		}
	}

	if _, err := g.Start(twoPlayers(), Options{}, rnd); err != nil {
		t.Fatalf("valid start failed: %v", err)
	}
}

func TestStartRejectsBadOptions(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	opts := NewOptions(map[string]any{"rounds": "many"})
	if _, err := g.Start(twoPlayers(), opts, NewRand(1)); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions, got %v", err)
	}
}

func TestPerformUnknownCommand(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	state, _ := g.Start(twoPlayers(), Options{}, NewRand(1))
	before, _ := g.Serialize(state)

	err := g.Perform(state, MustCommand("fly", nil), NewRand(2))
	if !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction, got %v", err)
	}
	after, _ := g.Serialize(state)
	if string(before) != string(after) {
		t.Fatal("rejected action changed the state")
	}
}

func TestPerformInvariantViolationIsEngineError(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	state, _ := g.Start(twoPlayers(), Options{}, NewRand(1))
	state.(*stubState).Corrupt = true

	err := g.Perform(state, MustCommand("score", nil), NewRand(2))
	if !IsEngineError(err) {
		t.Fatalf("expected engine error, got %v", err)
	}
	if errors.Is(err, ErrInvalidAction) {
		t.Fatal("engine fault must not look like a rejected action")
	}
}

func TestExecuteAutoma(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3, automa: true})
	state, _ := g.Start(twoPlayers(), Options{}, NewRand(1))

	// alice is human and current
	if err := g.ExecuteAutoma(state, NewRand(2)); !errors.Is(err, ErrNotCurrentPlayer) {
		t.Fatalf("expected ErrNotCurrentPlayer, got %v", err)
	}
	if err := g.Perform(state, MustCommand("score", nil), NewRand(3)); err != nil {
		t.Fatal(err)
	}
	if err := g.ExecuteAutoma(state, NewRand(4)); err != nil {
		t.Fatalf("automa: %v", err)
	}
	cur, _ := state.CurrentPlayer()
	if cur.Name != "alice" {
		t.Fatalf("expected turn back to alice, got %s", cur.Name)
	}
}

func TestExecuteAutomaMustAdvance(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3, automa: true, stuckAutoma: true})
	players := twoPlayers()
	players[0].Type = Computer
	state, _ := g.Start(players, Options{}, NewRand(1))
	if err := g.ExecuteAutoma(state, NewRand(2)); !IsEngineError(err) {
		t.Fatalf("expected engine error for automa that did not move, got %v", err)
	}
}

func TestExecuteAutomaNotSupported(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	state, _ := g.Start(twoPlayers(), Options{}, NewRand(1))
	if err := g.ExecuteAutoma(state, NewRand(2)); !errors.Is(err, ErrAutomaNotSupported) {
		t.Fatalf("expected ErrAutomaNotSupported, got %v", err)
	}
}

func TestDeserializeMalformed(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	for _, doc := range []string{`{`, `[]`, `{"seats":[],"active":[{"name":"x"}]}`} {
		if _, err := g.Deserialize([]byte(doc)); !errors.Is(err, ErrMalformedState) {
			t.Errorf("%s: expected ErrMalformedState, got %v", doc, err)
		}
	}
}

func TestRoundTripPreservesQueries(t *testing.T) {
	g := NewGame(stubProvider{id: "stub", minPlayers: 2, maxPlayers: 3})
	state, _ := g.Start(twoPlayers(), Options{}, NewRand(1))
	for i := 0; i < 3; i++ {
		if err := g.Perform(state, MustCommand("score", nil), NewRand(Seed(i))); err != nil {
			t.Fatal(err)
		}
	}
	data, err := g.Serialize(state)
	if err != nil {
		t.Fatal(err)
	}
	restored, err := g.Deserialize(data)
	if err != nil {
		t.Fatal(err)
	}
	for _, p := range state.Players() {
		if state.Score(p) != restored.Score(p) {
			t.Fatalf("score of %s differs after round trip", p.Name)
		}
	}
	a, _ := state.CurrentPlayer()
	b, _ := restored.CurrentPlayer()
	if a != b {
		t.Fatalf("current player %v != %v", a, b)
	}
	again, _ := g.Serialize(restored)
	if string(again) != string(data) {
		t.Fatal("serialize(deserialize(x)) != x")
	}
}

func TestTopScorersTies(t *testing.T) {
	s := &stubState{Points: map[string]int{"a": 2, "b": 2, "c": 1}}
	got := TopScorers(s, []Player{{Name: "a"}, {Name: "b"}, {Name: "c"}})
	if len(got) != 2 || got[0].Name != "a" || got[1].Name != "b" {
		t.Fatalf("expected a and b, got %v", got)
	}
}

func TestOptionsGetters(t *testing.T) {
	var opts Options
	if err := json.Unmarshal([]byte(`{"target":50,"ratio":0.5,"variant":"fast","open":true}`), &opts); err != nil {
		t.Fatal(err)
	}

	if n, err := opts.Int("target", 100); err != nil || n != 50 {
		t.Fatalf("Int target = %d, %v", n, err)
	}
	if n, err := opts.Int("missing", 7); err != nil || n != 7 {
		t.Fatalf("Int default = %d, %v", n, err)
	}
	if f, err := opts.Float("ratio", 1); err != nil || f != 0.5 {
		t.Fatalf("Float ratio = %v, %v", f, err)
	}
	if b, err := opts.Bool("open", false); err != nil || !b {
		t.Fatalf("Bool open = %v, %v", b, err)
	}
	if _, err := opts.Int("variant", 0); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for string read as int, got %v", err)
	}
	if _, err := opts.Int("ratio", 0); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for fraction read as int, got %v", err)
	}
	if _, err := opts.IntRange("target", 100, 60, 80); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected range error, got %v", err)
	}

	type speed string
	v, err := Enum(opts, "variant", speed("slow"), "slow", "fast")
	if err != nil || v != "fast" {
		t.Fatalf("Enum = %q, %v", v, err)
	}
	if _, err := Enum(opts, "variant", speed("slow"), "slow"); !errors.Is(err, ErrInvalidOptions) {
		t.Fatalf("expected ErrInvalidOptions for unknown enum value, got %v", err)
	}
}

func TestOptionsJSON(t *testing.T) {
	opts := NewOptions(map[string]any{"target": 30}).With("variant", "two-dice")
	data, err := json.Marshal(opts)
	if err != nil {
		t.Fatal(err)
	}
	var back Options
	if err := json.Unmarshal(data, &back); err != nil {
		t.Fatal(err)
	}
	if n, _ := back.Int("target", 0); n != 30 {
		t.Fatalf("target = %d after round trip", n)
	}
	if s, _ := back.String("variant", ""); s != "two-dice" {
		t.Fatalf("variant = %q after round trip", s)
	}
}

func TestCommandDecode(t *testing.T) {
	cmd, err := ParseCommand([]byte(`{"type":"move","cell":4}`))
	if err != nil {
		t.Fatal(err)
	}
	if cmd.Type != "move" {
		t.Fatalf("type = %q", cmd.Type)
	}
	var body struct {
		Cell int `json:"cell"`
	}
	if err := cmd.Decode(&body); err != nil || body.Cell != 4 {
		t.Fatalf("decode = %+v, %v", body, err)
	}

	bad, _ := ParseCommand([]byte(`{"type":"move","cell":4,"extra":1}`))
	if err := bad.Decode(&body); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction for unknown field, got %v", err)
	}
	if _, err := ParseCommand([]byte(`{"cell":4}`)); !errors.Is(err, ErrInvalidAction) {
		t.Fatalf("expected ErrInvalidAction for missing type, got %v", err)
	}
}

func TestEmitterRemovalDuringCallback(t *testing.T) {
	var em Emitter
	var calls []string
	var second ListenerID
	em.AddEventListener(ListenerFunc(func(e Event) {
		calls = append(calls, "first:"+e.Type)
		em.RemoveEventListener(second)
	}))
	second = em.AddEventListener(ListenerFunc(func(e Event) {
		calls = append(calls, "second:"+e.Type)
	}))

	em.Emit(Player{Name: "a"}, "x")
	em.Emit(Player{Name: "a"}, "y")

	if len(calls) != 2 || calls[0] != "first:x" || calls[1] != "first:y" {
		t.Fatalf("unexpected calls %v", calls)
	}
}
