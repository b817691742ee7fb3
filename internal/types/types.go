package types

import (
	"fmt"
	"time"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

const (
	MsgReady             = "battle:ready"
	MsgLiveStarted       = "battle:live_started"
	MsgLiveEnded         = "battle:live_ended"
	MsgVoteCast          = "battle:vote_cast"
	MsgCommentAdded      = "battle:comment_added"
	MsgContentSubmitted  = "battle:content_submitted"
	MsgRoundScored       = "battle:round_scored"
	MsgRoundAdvanced     = "battle:round_advanced"
	MsgWinnerDeclared    = "battle:winner_declared"
	MsgVotingToggled     = "battle:voting_toggled"
	MsgCommentsToggled   = "battle:comments_toggled"
	MsgVisibilityChanged = "battle:visibility_changed"
	MsgSongRequested     = "battle:song_requested"
	MsgSongStatus        = "battle:song_status"
	MsgSongCompleted     = "battle:song_completed"
	MsgDeleted           = "battle:deleted"
	MsgSync              = "battle:sync"
	MsgPong              = "pong"
	MsgError             = "error"
)

type ClientMessage struct {
	Type     string `json:"type"` // "sync" | "subscribe" | "ping"
	BattleID string `json:"battleId,omitempty"`
}

type ServerMessage struct {
	Type          string                `json:"type"`
	BattleID      string                `json:"battleId,omitempty"`
	At            time.Time             `json:"at"`
	Battle        *engine.Battle        `json:"battle,omitempty"`
	ViewerCount   *int                  `json:"viewerCount,omitempty"`
	Round         int                   `json:"round,omitempty"`
	ParticipantID string                `json:"participantId,omitempty"`
	VoterID       string                `json:"voterId,omitempty"`
	Tally         engine.Tally          `json:"tally,omitempty"`
	Comment       *engine.Comment       `json:"comment,omitempty"`
	Score         *engine.RoundScore    `json:"score,omitempty"`
	Winner        string                `json:"winner,omitempty"`
	Enabled       *bool                 `json:"enabled,omitempty"`
	Job           *engine.GenerationJob `json:"job,omitempty"`
	Error         string                `json:"error,omitempty"`
}

// FromEvent maps a domain event to its wire form. Unknown variants are an
// error so a new event kind cannot be silently dropped.
func FromEvent(ev engine.Event) (ServerMessage, error) {
	m := ev.EventMeta()
	snap := m.Battle
	msg := ServerMessage{BattleID: m.BattleID, At: m.At, Battle: &snap}

	switch e := ev.(type) {
	case engine.BattleReady:
		msg.Type = MsgReady
	case engine.LiveStarted:
		msg.Type = MsgLiveStarted
	case engine.LiveEnded:
		msg.Type = MsgLiveEnded
	case engine.VoteCast:
		msg.Type = MsgVoteCast
		msg.Round = e.Round
		msg.VoterID = e.VoterID
		msg.ParticipantID = e.ParticipantID
		msg.Tally = e.Tally
	case engine.CommentAdded:
		msg.Type = MsgCommentAdded
		c := e.Comment
		msg.Comment = &c
	case engine.ContentSubmitted:
		msg.Type = MsgContentSubmitted
		msg.Round = e.Round
		msg.ParticipantID = e.ParticipantID
	case engine.RoundScored:
		msg.Type = MsgRoundScored
		s := e.Score
		msg.Round = s.Round
		msg.Score = &s
	case engine.RoundAdvanced:
		msg.Type = MsgRoundAdvanced
		msg.Round = e.Round
	case engine.WinnerDeclared:
		msg.Type = MsgWinnerDeclared
		msg.Winner = e.Winner
	case engine.VotingToggled:
		msg.Type = MsgVotingToggled
		msg.Enabled = &e.Enabled
	case engine.CommentsToggled:
		msg.Type = MsgCommentsToggled
		msg.Enabled = &e.Enabled
	case engine.VisibilityChanged:
		msg.Type = MsgVisibilityChanged
		msg.Enabled = &e.Public
	case engine.SongRequested:
		msg.Type = MsgSongRequested
		msg.Job = &e.Job
	case engine.SongStatusChanged:
		msg.Type = MsgSongStatus
		msg.Job = &e.Job
	case engine.SongCompleted:
		msg.Type = MsgSongCompleted
		msg.Job = &e.Job
	case engine.BattleDeleted:
		msg.Type = MsgDeleted
		msg.Battle = nil
	default:
		return ServerMessage{}, fmt.Errorf("unknown event %T", ev)
	}
	return msg, nil
}

// SyncMessage is the pull-based answer: the authoritative snapshot plus the
// current viewer count.
func SyncMessage(b engine.Battle, viewers int, at time.Time) ServerMessage {
	return ServerMessage{Type: MsgSync, BattleID: b.ID, At: at, Battle: &b, ViewerCount: &viewers}
}

func ErrorMessage(text string) ServerMessage {
	return ServerMessage{Type: MsgError, Error: text, At: time.Now().UTC()}
}

// Reconcile is the rule viewers apply to incoming snapshots: keep whichever
// battle has the later (UpdatedAt, Version). Applying messages twice or out
// of order therefore converges on the newest state.
func Reconcile(local *engine.Battle, msg ServerMessage) *engine.Battle {
	if msg.Type == MsgDeleted {
		return nil
	}
	incoming := msg.Battle
	if incoming == nil {
		return local
	}
	if local == nil || newer(*incoming, *local) {
		b := *incoming
		return &b
	}
	return local
}

func newer(a, b engine.Battle) bool {
	if !a.UpdatedAt.Equal(b.UpdatedAt) {
		return a.UpdatedAt.After(b.UpdatedAt)
	}
	return a.Version > b.Version
}
