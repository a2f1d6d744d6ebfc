package conversation

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"
)

type Role string

const (
	RoleSystem    Role = "system"
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
)

func (r Role) Valid() bool {
	switch r {
	case RoleSystem, RoleUser, RoleAssistant:
		return true
	}
	return false
}

// Turn is one role-tagged message of a conversation.
type Turn struct {
	Role    Role   `json:"role"`
	Content string `json:"content"`
}

// Key names one conversation thread. It is comparable and used as a map key directly.
type Key struct {
	ChannelID string
	UserID    string
}

var ErrInvalidKey = errors.New("conversation key requires channel and user ids")

func NewKey(channelID, userID string) (Key, error) {
	k := Key{ChannelID: strings.TrimSpace(channelID), UserID: strings.TrimSpace(userID)}
	if err := k.Validate(); err != nil {
		return Key{}, err
	}
	return k, nil
}

func (k Key) Validate() error {
	if k.ChannelID == "" || k.UserID == "" {
		return ErrInvalidKey
	}
	return nil
}

func (k Key) String() string { return fmt.Sprintf("%s/%s", k.ChannelID, k.UserID) }

// Record is one persisted snapshot of a conversation.
// Each save produces a new Record; older ones remain until swept.
type Record struct {
	ID        string    `json:"id,omitempty"`
	ChannelID string    `json:"channel_id"`
	UserID    string    `json:"user_id"`
	Messages  string    `json:"messages"`
	CreatedAt time.Time `json:"created_at"`
}

func (r Record) Key() Key { return Key{ChannelID: r.ChannelID, UserID: r.UserID} }

// Turns decodes the record's messages blob.
func (r Record) Turns() ([]Turn, error) { return DecodeTurns(r.Messages) }

// EncodeTurns serializes turns into the JSON array stored in the messages column.
func EncodeTurns(turns []Turn) (string, error) {
	if turns == nil {
		turns = []Turn{}
	}
	b, err := json.Marshal(turns)
	if err != nil {
		return "", fmt.Errorf("encode turns: %w", err)
	}
	return string(b), nil
}

func DecodeTurns(s string) ([]Turn, error) {
	if strings.TrimSpace(s) == "" {
		return []Turn{}, nil
	}
	var turns []Turn
	if err := json.Unmarshal([]byte(s), &turns); err != nil {
		return nil, fmt.Errorf("decode turns: %w", err)
	}
	if turns == nil {
		turns = []Turn{}
	}
	return turns, nil
}

func cloneTurns(in []Turn) []Turn {
	out := make([]Turn, len(in))
	copy(out, in)
	return out
}
