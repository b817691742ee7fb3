package engine

import (
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"
)

var ErrInvalidTransition = errors.New("invalid transition")
var ErrVotingClosed = errors.New("voting closed")
var ErrCommentsClosed = errors.New("comments closed")
var ErrOutOfSequence = errors.New("out of sequence")
var ErrInvalidInput = errors.New("invalid input")
var ErrUnsupportedCommand = errors.New("unsupported command")

// MaxCommentLength is counted in runes.
const MaxCommentLength = 500

type CommandType string

const (
	CmdMarkReady      CommandType = "MarkReady"
	CmdStartLive      CommandType = "StartLive"
	CmdStopLive       CommandType = "StopLive"
	CmdAdvanceRound   CommandType = "AdvanceRound"
	CmdRewindRound    CommandType = "RewindRound"
	CmdDeclareWinner  CommandType = "DeclareWinner"
	CmdToggleVoting   CommandType = "ToggleVoting"
	CmdToggleComments CommandType = "ToggleComments"
	CmdSetVisibility  CommandType = "SetVisibility"
	CmdSubmitContent  CommandType = "SubmitContent"
	CmdCastVote       CommandType = "CastVote"
	CmdAddComment     CommandType = "AddComment"
)

type Command struct {
	Type          CommandType
	ActorID       string
	Round         int
	ParticipantID string
	Content       string
	Enabled       bool
	Winner        string
	CommentID     string
	// OwnerProfilePublic is resolved by the caller; the engine never looks
	// up profiles itself.
	OwnerProfilePublic bool
	At                 time.Time
}

// Apply validates cmd against b and returns the events it produced together
// with the new battle. b is never modified. A command that would leave the
// battle unchanged returns no events and the original battle.
func Apply(b Battle, cmd Command) ([]Event, Battle, error) {
	if err := checkTransition(b.Status, cmd.Type); err != nil {
		return nil, b, err
	}

	next := Clone(b)
	var events []Event

	switch cmd.Type {
	case CmdMarkReady:
		next.Status = StatusPaused
		events = append(events, BattleReady{})
		// Paused battles are never public.
		if next.IsPublic {
			next.IsPublic = false
			events = append(events, VisibilityChanged{Public: false})
		}

	case CmdStartLive:
		next.Status = StatusLive
		next.IsLive = true
		next.VotingEnabled = true
		if next.LiveStartedAt == nil {
			at := cmd.At
			next.LiveStartedAt = &at
		}
		if next.AdminControlMode == "" {
			next.AdminControlMode = ControlManual
		}
		events = append(events, LiveStarted{})

	case CmdStopLive:
		next.IsLive = false
		if next.Winner != "" || next.Status == StatusCompleted {
			next.Status = StatusCompleted
		}
		if next.IsLive == b.IsLive && next.Status == b.Status {
			return nil, b, nil
		}
		events = append(events, LiveEnded{})

	case CmdAdvanceRound:
		cur, _ := next.Round(next.CurrentRound)
		if cur == nil || !cur.Complete() {
			return nil, b, fmt.Errorf("%w: round %d is not complete", ErrOutOfSequence, next.CurrentRound)
		}
		if next.CurrentRound >= RoundCount {
			return nil, b, fmt.Errorf("%w: round %d is the last round", ErrOutOfSequence, next.CurrentRound)
		}
		next.CurrentRound++
		events = append(events, RoundAdvanced{Round: next.CurrentRound})

	case CmdRewindRound:
		if cmd.Round < 1 || cmd.Round > next.CurrentRound {
			return nil, b, fmt.Errorf("%w: cannot rewind to round %d", ErrInvalidInput, cmd.Round)
		}
		rewind(&next, cmd.Round)
		events = append(events, RoundAdvanced{Round: next.CurrentRound})

	case CmdDeclareWinner:
		w, err := resolveWinner(next, cmd.Winner)
		if err != nil {
			return nil, b, err
		}
		if w == b.Winner {
			return nil, b, nil
		}
		next.Winner = w
		events = append(events, WinnerDeclared{Winner: w})

	case CmdToggleVoting:
		if b.VotingEnabled == cmd.Enabled {
			return nil, b, nil
		}
		next.VotingEnabled = cmd.Enabled
		events = append(events, VotingToggled{Enabled: cmd.Enabled})

	case CmdToggleComments:
		if b.CommentsEnabled == cmd.Enabled {
			return nil, b, nil
		}
		next.CommentsEnabled = cmd.Enabled
		events = append(events, CommentsToggled{Enabled: cmd.Enabled})

	case CmdSetVisibility:
		if cmd.Enabled {
			if !cmd.OwnerProfilePublic {
				return nil, b, fmt.Errorf("%w: owner profile is not public", ErrInvalidTransition)
			}
			if b.Status == StatusPaused {
				return nil, b, fmt.Errorf("%w: paused battles cannot be made public", ErrInvalidTransition)
			}
		}
		if b.IsPublic == cmd.Enabled {
			return nil, b, nil
		}
		next.IsPublic = cmd.Enabled
		events = append(events, VisibilityChanged{Public: cmd.Enabled})

	case CmdSubmitContent:
		evs, err := submitContent(&next, cmd)
		if err != nil {
			return nil, b, err
		}
		events = append(events, evs...)

	case CmdCastVote:
		ev, changed, err := castVote(&next, cmd)
		if err != nil {
			return nil, b, err
		}
		if !changed {
			return nil, b, nil
		}
		events = append(events, ev)

	case CmdAddComment:
		if !b.CommentsEnabled {
			return nil, b, ErrCommentsClosed
		}
		body := strings.TrimSpace(cmd.Content)
		if body == "" || utf8.RuneCountInString(body) > MaxCommentLength {
			return nil, b, fmt.Errorf("%w: comment must be 1-%d characters", ErrInvalidInput, MaxCommentLength)
		}
		if cmd.ActorID == "" || cmd.CommentID == "" {
			return nil, b, fmt.Errorf("%w: comment needs an author and id", ErrInvalidInput)
		}
		c := Comment{ID: cmd.CommentID, UserID: cmd.ActorID, Body: body, CreatedAt: cmd.At}
		next.Comments = append(next.Comments, c)
		events = append(events, CommentAdded{Comment: c})

	default:
		return nil, b, ErrUnsupportedCommand
	}

	next.UpdatedAt = cmd.At
	return Stamp(events, next, cmd.At), next, nil
}

func submitContent(b *Battle, cmd Command) ([]Event, error) {
	r, ok := b.Round(cmd.Round)
	if !ok {
		return nil, fmt.Errorf("%w: no round %d", ErrInvalidInput, cmd.Round)
	}
	if !b.HasParticipant(cmd.ParticipantID) {
		return nil, fmt.Errorf("%w: %q is not in this battle", ErrInvalidInput, cmd.ParticipantID)
	}
	content := strings.TrimSpace(cmd.Content)
	if content == "" {
		return nil, fmt.Errorf("%w: empty content", ErrInvalidInput)
	}
	if cmd.Round != b.CurrentRound || r.Score != nil {
		return nil, fmt.Errorf("%w: round %d is not open (current %d)", ErrOutOfSequence, cmd.Round, b.CurrentRound)
	}

	slot := &r.ContentA
	if cmd.ParticipantID == b.ParticipantB {
		slot = &r.ContentB
	}
	if *slot != nil {
		return nil, fmt.Errorf("%w: %s already submitted round %d", ErrOutOfSequence, cmd.ParticipantID, cmd.Round)
	}
	*slot = &content

	events := []Event{ContentSubmitted{Round: cmd.Round, ParticipantID: cmd.ParticipantID}}
	if r.ContentA == nil || r.ContentB == nil {
		return events, nil
	}

	score := scoreRound(cmd.Round, votesFor(*b, cmd.Round), b.ParticipantA, b.ParticipantB)
	r.Score = &score
	events = append(events, RoundScored{Score: score})

	if b.AdminControlMode == ControlAutomatic && b.CurrentRound < RoundCount {
		b.CurrentRound++
		events = append(events, RoundAdvanced{Round: b.CurrentRound})
	}
	return events, nil
}

func castVote(b *Battle, cmd Command) (Event, bool, error) {
	if !b.VotingEnabled || b.Status == StatusCompleted {
		return nil, false, ErrVotingClosed
	}
	r, ok := b.Round(cmd.Round)
	if !ok {
		return nil, false, fmt.Errorf("%w: no round %d", ErrInvalidInput, cmd.Round)
	}
	if cmd.Round > b.CurrentRound || r.Score != nil {
		return nil, false, fmt.Errorf("%w: round %d is not open", ErrVotingClosed, cmd.Round)
	}
	if cmd.ActorID == "" {
		return nil, false, fmt.Errorf("%w: missing voter", ErrInvalidInput)
	}
	if !b.HasParticipant(cmd.ParticipantID) {
		return nil, false, fmt.Errorf("%w: %q is not in this battle", ErrInvalidInput, cmd.ParticipantID)
	}

	v := Vote{Round: cmd.Round, VoterID: cmd.ActorID, ParticipantID: cmd.ParticipantID, CastAt: cmd.At}
	replaced := false
	for i, prev := range b.Votes {
		if prev.Round != v.Round || prev.VoterID != v.VoterID {
			continue
		}
		if prev.ParticipantID == v.ParticipantID {
			return nil, false, nil
		}
		b.Votes[i] = v
		replaced = true
		break
	}
	if !replaced {
		b.Votes = append(b.Votes, v)
	}

	return VoteCast{
		Round:         v.Round,
		VoterID:       v.VoterID,
		ParticipantID: v.ParticipantID,
		Tally:         TallyFor(*b, v.Round),
	}, true, nil
}

func rewind(b *Battle, round int) {
	for n := round; n <= RoundCount; n++ {
		b.Rounds[n-1] = Round{Number: n}
	}
	kept := b.Votes[:0]
	for _, v := range b.Votes {
		if v.Round < round {
			kept = append(kept, v)
		}
	}
	b.Votes = kept
	b.CurrentRound = round
	b.Winner = ""
}

func resolveWinner(b Battle, w string) (string, error) {
	switch w {
	case "":
		a, bb, scored := Totals(b)
		if scored == 0 {
			return "", fmt.Errorf("%w: no scored rounds to derive a winner from", ErrInvalidInput)
		}
		switch {
		case a > bb:
			return b.ParticipantA, nil
		case bb > a:
			return b.ParticipantB, nil
		default:
			return Tie, nil
		}
	case Tie, b.ParticipantA, b.ParticipantB:
		return w, nil
	default:
		return "", fmt.Errorf("%w: winner %q is not a participant", ErrInvalidInput, w)
	}
}

func checkTransition(s Status, t CommandType) error {
	allowed, ok := legalFrom[t]
	if !ok {
		return ErrUnsupportedCommand
	}
	if allowed[s] {
		return nil
	}
	if t == CmdCastVote {
		return ErrVotingClosed
	}
	return fmt.Errorf("%w: %s not allowed while %s", ErrInvalidTransition, t, s)
}
