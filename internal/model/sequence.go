package model

import (
	"strings"
	"time"
)

type Channel string

const (
	ChannelSMS   Channel = "sms"
	ChannelEmail Channel = "email"
	ChannelCall  Channel = "call"
)

func (c Channel) String() string { return string(c) }

func (c Channel) Valid() bool {
	return c == ChannelSMS || c == ChannelEmail || c == ChannelCall
}

// ParseChannel normalizes input. Returns (value, true) if valid.
func ParseChannel(s string) (Channel, bool) {
	v := Channel(strings.ToLower(strings.TrimSpace(s)))
	return v, v.Valid()
}

// FollowUpSequence is a named ordered list of steps applied to an
// estimate after it is sent. IsActive pauses execution without
// deleting history.
type FollowUpSequence struct {
	ID        int64     `db:"id"`
	Name      string    `db:"name"`
	IsActive  bool      `db:"is_active"`
	CreatedAt time.Time `db:"created_at"`
	UpdatedAt time.Time `db:"updated_at"`
}

// SequenceStep is one entry of a sequence. DayOffset counts from the
// estimate's sent_date. Call-type steps become user tasks instead of
// outbound messages.
type SequenceStep struct {
	ID         int64   `db:"id"`
	SequenceID int64   `db:"sequence_id"`
	Position   int     `db:"position"`
	DayOffset  int     `db:"day_offset"`
	Channel    Channel `db:"channel"`
	Template   string  `db:"template"`
	IsCallTask bool    `db:"is_call_task"`
}
