package engine

import (
	"fmt"
	"time"
)

// Event is a closed set of domain events. Every variant embeds Meta, which
// carries the snapshot a viewer needs to reconcile without refetching.
type Event interface {
	isEvent()
	EventMeta() Meta
}

type Meta struct {
	BattleID string
	At       time.Time
	Battle   Battle
}

func (m Meta) EventMeta() Meta { return m }

type BattleReady struct{ Meta }

type LiveStarted struct{ Meta }

type LiveEnded struct{ Meta }

type VoteCast struct {
	Meta
	Round         int
	VoterID       string
	ParticipantID string
	Tally         Tally
}

type CommentAdded struct {
	Meta
	Comment Comment
}

type ContentSubmitted struct {
	Meta
	Round         int
	ParticipantID string
}

type RoundScored struct {
	Meta
	Score RoundScore
}

type RoundAdvanced struct {
	Meta
	Round int
}

type WinnerDeclared struct {
	Meta
	Winner string
}

type VotingToggled struct {
	Meta
	Enabled bool
}

type CommentsToggled struct {
	Meta
	Enabled bool
}

type VisibilityChanged struct {
	Meta
	Public bool
}

type SongRequested struct {
	Meta
	Job GenerationJob
}

type SongStatusChanged struct {
	Meta
	Job GenerationJob
}

type SongCompleted struct {
	Meta
	Job GenerationJob
}

type BattleDeleted struct{ Meta }

func (BattleReady) isEvent()       {}
func (LiveStarted) isEvent()       {}
func (LiveEnded) isEvent()         {}
func (VoteCast) isEvent()          {}
func (CommentAdded) isEvent()      {}
func (ContentSubmitted) isEvent()  {}
func (RoundScored) isEvent()       {}
func (RoundAdvanced) isEvent()     {}
func (WinnerDeclared) isEvent()    {}
func (VotingToggled) isEvent()     {}
func (CommentsToggled) isEvent()   {}
func (VisibilityChanged) isEvent() {}
func (SongRequested) isEvent()     {}
func (SongStatusChanged) isEvent() {}
func (SongCompleted) isEvent()     {}
func (BattleDeleted) isEvent()     {}

// Stamp fills Meta on every event with the final post-mutation battle, so
// that all events from one mutation carry the same snapshot.
func Stamp(events []Event, b Battle, at time.Time) []Event {
	m := Meta{BattleID: b.ID, At: at, Battle: b}
	out := make([]Event, 0, len(events))
	for _, ev := range events {
		switch e := ev.(type) {
		case BattleReady:
			e.Meta = m
			out = append(out, e)
		case LiveStarted:
			e.Meta = m
			out = append(out, e)
		case LiveEnded:
			e.Meta = m
			out = append(out, e)
		case VoteCast:
			e.Meta = m
			out = append(out, e)
		case CommentAdded:
			e.Meta = m
			out = append(out, e)
		case ContentSubmitted:
			e.Meta = m
			out = append(out, e)
		case RoundScored:
			e.Meta = m
			out = append(out, e)
		case RoundAdvanced:
			e.Meta = m
			out = append(out, e)
		case WinnerDeclared:
			e.Meta = m
			out = append(out, e)
		case VotingToggled:
			e.Meta = m
			out = append(out, e)
		case CommentsToggled:
			e.Meta = m
			out = append(out, e)
		case VisibilityChanged:
			e.Meta = m
			out = append(out, e)
		case SongRequested:
			e.Meta = m
			out = append(out, e)
		case SongStatusChanged:
			e.Meta = m
			out = append(out, e)
		case SongCompleted:
			e.Meta = m
			out = append(out, e)
		case BattleDeleted:
			e.Meta = m
			out = append(out, e)
		default:
			panic(fmt.Sprintf("engine: Stamp: unhandled event %T", ev))
		}
	}
	return out
}
