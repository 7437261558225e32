package game

import (
	"bytes"
	"encoding/json"
	"fmt"
)

// Action is a decoded player move. Each game defines its own closed set of
// action types; a state rejects actions that belong to another game.
type Action interface {
	Type() string
}

// Command is the wire form of an action: a JSON object whose "type" field
// selects the variant and whose remaining fields are its parameters.
type Command struct {
	Type string
	Body json.RawMessage
}

// NewCommand builds a command of the given type from the fields of params.
// params may be nil for actions without parameters.
func NewCommand(typ string, params any) (Command, error) {
	fields := map[string]any{}
	if params != nil {
		data, err := json.Marshal(params)
		if err != nil {
			return Command{}, fmt.Errorf("encode %s: %w", typ, err)
		}
		if err := json.Unmarshal(data, &fields); err != nil {
			return Command{}, fmt.Errorf("%w: %s parameters must be an object", ErrInvalidAction, typ)
		}
	}
	fields["type"] = typ
	body, err := json.Marshal(fields)
	if err != nil {
		return Command{}, err
	}
	return Command{Type: typ, Body: body}, nil
}

// MustCommand is NewCommand for statically known parameters.
func MustCommand(typ string, params any) Command {
	c, err := NewCommand(typ, params)
	if err != nil {
		panic(err)
	}
	return c
}

// ParseCommand reads a command document.
func ParseCommand(data []byte) (Command, error) {
	var c Command
	if err := c.UnmarshalJSON(data); err != nil {
		return Command{}, err
	}
	return c, nil
}

func (c Command) MarshalJSON() ([]byte, error) {
	if len(c.Body) == 0 {
		return json.Marshal(map[string]string{"type": c.Type})
	}
	return c.Body, nil
}

func (c *Command) UnmarshalJSON(data []byte) error {
	var head struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(data, &head); err != nil {
		return fmt.Errorf("%w: %v", ErrInvalidAction, err)
	}
	if head.Type == "" {
		return fmt.Errorf("%w: missing type", ErrInvalidAction)
	}
	c.Type = head.Type
	c.Body = append(json.RawMessage(nil), data...)
	return nil
}

// Decode fills v from the command parameters. Unknown fields are rejected.
func (c Command) Decode(v any) error {
	body := c.Body
	if len(body) == 0 {
		body = []byte("{}")
	}
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(body, &fields); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAction, c.Type, err)
	}
	delete(fields, "type")
	stripped, err := json.Marshal(fields)
	if err != nil {
		return err
	}
	dec := json.NewDecoder(bytes.NewReader(stripped))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return fmt.Errorf("%w: %s: %v", ErrInvalidAction, c.Type, err)
	}
	return nil
}

// UnknownCommand is the error for a command type the game does not define.
func UnknownCommand(c Command) error {
	return fmt.Errorf("%w: unknown action type %q", ErrInvalidAction, c.Type)
}
