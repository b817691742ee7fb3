package engine

import (
	"errors"
	"testing"
	"time"
)

var t0 = time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

func newTestBattle(status Status) Battle {
	b := NewBattle("b1", "Clash", "p1", "p2", "owner", t0)
	b.Status = status
	return b
}

func liveBattle() Battle {
	b := newTestBattle(StatusPaused)
	_, b, err := Apply(b, Command{Type: CmdStartLive, ActorID: "owner", At: t0})
	if err != nil {
		panic(err)
	}
	return b
}

func mustApply(t *testing.T, b Battle, cmd Command) ([]Event, Battle) {
	t.Helper()
	if cmd.At.IsZero() {
		cmd.At = t0.Add(time.Minute)
	}
	events, next, err := Apply(b, cmd)
	if err != nil {
		t.Fatalf("%s: unexpected err %v", cmd.Type, err)
	}
	return events, next
}

func TestStartLive_OnlyFromPaused(t *testing.T) {
	cases := []struct {
		name    string
		status  Status
		wantErr bool
	}{
		{name: "draft", status: StatusDraft, wantErr: true},
		{name: "paused", status: StatusPaused, wantErr: false},
		{name: "live", status: StatusLive, wantErr: true},
		{name: "completed", status: StatusCompleted, wantErr: true},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			b := newTestBattle(tc.status)
			events, next, err := Apply(b, Command{Type: CmdStartLive, At: t0})
			if tc.wantErr {
				if !errors.Is(err, ErrInvalidTransition) {
					t.Fatalf("want ErrInvalidTransition, got %v", err)
				}
				if len(events) != 0 {
					t.Fatalf("expected no events on failure, got %d", len(events))
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected err %v", err)
			}
			if !next.IsLive || !next.VotingEnabled || next.Status != StatusLive {
				t.Fatalf("after start: isLive=%v votingEnabled=%v status=%s", next.IsLive, next.VotingEnabled, next.Status)
			}
			if !ContainsEvent[LiveStarted](events) {
				t.Fatalf("expected LiveStarted event")
			}
		})
	}
}

func TestStartLive_DefaultsAndPreservesStartTime(t *testing.T) {
	b := newTestBattle(StatusPaused)
	earlier := t0.Add(-time.Hour)
	b.LiveStartedAt = &earlier

	_, next := mustApply(t, b, Command{Type: CmdStartLive})
	if next.AdminControlMode != ControlManual {
		t.Fatalf("want manual control mode, got %q", next.AdminControlMode)
	}
	if !next.LiveStartedAt.Equal(earlier) {
		t.Fatalf("liveStartedAt overwritten: %v", next.LiveStartedAt)
	}

	b2 := newTestBattle(StatusPaused)
	b2.AdminControlMode = ControlAutomatic
	_, next2 := mustApply(t, b2, Command{Type: CmdStartLive})
	if next2.AdminControlMode != ControlAutomatic {
		t.Fatalf("control mode overwritten: %q", next2.AdminControlMode)
	}
	if next2.LiveStartedAt == nil {
		t.Fatalf("liveStartedAt not set")
	}
}

func TestStartLive_SecondCallFails(t *testing.T) {
	b := liveBattle()
	_, _, err := Apply(b, Command{Type: CmdStartLive, At: t0})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition, got %v", err)
	}
}

func TestStopLive_WithWinnerCompletes(t *testing.T) {
	b := liveBattle()
	b.Winner = "p1"

	events, next := mustApply(t, b, Command{Type: CmdStopLive})
	if next.Status != StatusCompleted || next.IsLive {
		t.Fatalf("want completed and not live, got status=%s isLive=%v", next.Status, next.IsLive)
	}
	if !ContainsEvent[LiveEnded](events) {
		t.Fatalf("expected LiveEnded event")
	}
}

func TestStopLive_WithoutWinnerKeepsStatus(t *testing.T) {
	b := liveBattle()

	_, next := mustApply(t, b, Command{Type: CmdStopLive})
	if next.IsLive {
		t.Fatalf("expected isLive=false")
	}
	if next.Status != StatusLive {
		t.Fatalf("want status unchanged (live), got %s", next.Status)
	}

	events, again := mustApply(t, next, Command{Type: CmdStopLive})
	if len(events) != 0 || again.Version != next.Version {
		t.Fatalf("repeated stop should be a no-op, got %d events", len(events))
	}
}

func TestCastVote_LastVoteWins(t *testing.T) {
	b := liveBattle()
	choices := []string{"p1", "p2", "p1", "p2"}
	for _, c := range choices {
		_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: c})
	}

	if len(b.Votes) != 1 {
		t.Fatalf("want exactly one vote, got %d", len(b.Votes))
	}
	if b.Votes[0].ParticipantID != "p2" {
		t.Fatalf("want last vote p2, got %s", b.Votes[0].ParticipantID)
	}
	tally := TallyFor(b, 1)
	if tally["p1"] != 0 || tally["p2"] != 1 {
		t.Fatalf("unexpected tally %+v", tally)
	}
}

func TestCastVote_SameChoiceIsNoop(t *testing.T) {
	b := liveBattle()
	_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"})
	events, _ := mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"})
	if len(events) != 0 {
		t.Fatalf("expected no events for identical vote, got %d", len(events))
	}
}

func TestCastVote_Rejections(t *testing.T) {
	scored := liveBattle()
	_, scored = mustApply(t, scored, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "a"})
	_, scored = mustApply(t, scored, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "b"})

	disabled := liveBattle()
	disabled.VotingEnabled = false

	cases := []struct {
		name    string
		setup   Battle
		cmd     Command
		wantErr error
	}{
		{
			name:    "voting disabled",
			setup:   disabled,
			cmd:     Command{Type: CmdCastVote, ActorID: "v1", Round: 2, ParticipantID: "p1"},
			wantErr: ErrVotingClosed,
		},
		{
			name:    "round already scored",
			setup:   scored,
			cmd:     Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"},
			wantErr: ErrVotingClosed,
		},
		{
			name:    "round not open yet",
			setup:   liveBattle(),
			cmd:     Command{Type: CmdCastVote, ActorID: "v1", Round: 3, ParticipantID: "p1"},
			wantErr: ErrVotingClosed,
		},
		{
			name:    "unknown participant",
			setup:   liveBattle(),
			cmd:     Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p9"},
			wantErr: ErrInvalidInput,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			events, next, err := Apply(tc.setup, tc.cmd)
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("want %v, got %v", tc.wantErr, err)
			}
			if len(events) != 0 {
				t.Fatalf("expected no events, got %d", len(events))
			}
			if len(next.Votes) != len(tc.setup.Votes) {
				t.Fatalf("vote recorded despite rejection")
			}
		})
	}
}

func TestSubmitContent_ScoresWhenBothPresent(t *testing.T) {
	b := liveBattle()
	_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p2"})
	_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v2", Round: 1, ParticipantID: "p2"})

	events, b := mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "first verse"})
	if ContainsEvent[RoundScored](events) {
		t.Fatalf("round scored before both sides submitted")
	}
	if b.Rounds[0].Complete() {
		t.Fatalf("round complete with one side missing")
	}

	events, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "reply"})
	if !ContainsEvent[RoundScored](events) {
		t.Fatalf("expected RoundScored")
	}
	if !b.Rounds[0].Complete() {
		t.Fatalf("round should be complete")
	}
	if s := b.Rounds[0].Score; s.A != 0 || s.B != 2 {
		t.Fatalf("unexpected score %+v", *s)
	}
	if ContainsEvent[RoundAdvanced](events) {
		t.Fatalf("manual mode must not auto-advance")
	}

	_, _, err := Apply(b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "again", At: t0})
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence on resubmission, got %v", err)
	}
}

func TestSubmitContent_RejectsWrongRoundAndDuplicates(t *testing.T) {
	b := liveBattle()

	_, _, err := Apply(b, Command{Type: CmdSubmitContent, Round: 2, ParticipantID: "p1", Content: "x", At: t0})
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence for future round, got %v", err)
	}

	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})
	_, _, err = Apply(b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "y", At: t0})
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence for duplicate, got %v", err)
	}

	done := newTestBattle(StatusCompleted)
	_, _, err = Apply(done, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x", At: t0})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("want ErrInvalidTransition on completed battle, got %v", err)
	}
}

func TestSubmitContent_AutomaticModeAdvances(t *testing.T) {
	b := newTestBattle(StatusPaused)
	b.AdminControlMode = ControlAutomatic
	_, b = mustApply(t, b, Command{Type: CmdStartLive})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})
	events, b := mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "y"})

	if !ContainsEvent[RoundAdvanced](events) || b.CurrentRound != 2 {
		t.Fatalf("want auto advance to round 2, got round %d", b.CurrentRound)
	}
}

func TestAdvanceRound_RequiresCompleteRound(t *testing.T) {
	b := liveBattle()
	_, _, err := Apply(b, Command{Type: CmdAdvanceRound, At: t0})
	if !errors.Is(err, ErrOutOfSequence) {
		t.Fatalf("want ErrOutOfSequence, got %v", err)
	}

	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "y"})
	_, b = mustApply(t, b, Command{Type: CmdAdvanceRound})
	if b.CurrentRound != 2 {
		t.Fatalf("want round 2, got %d", b.CurrentRound)
	}
}

func TestRewindRound_ClearsLaterRounds(t *testing.T) {
	b := liveBattle()
	_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "y"})
	_, b = mustApply(t, b, Command{Type: CmdAdvanceRound})

	_, b = mustApply(t, b, Command{Type: CmdRewindRound, Round: 1})
	if b.CurrentRound != 1 || b.Rounds[0].ContentA != nil || b.Rounds[0].Score != nil {
		t.Fatalf("round 1 not cleared: %+v", b.Rounds[0])
	}
	if len(b.Votes) != 0 {
		t.Fatalf("votes for rewound rounds should be dropped, got %d", len(b.Votes))
	}

	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "new"})
	if *b.Rounds[0].ContentA != "new" {
		t.Fatalf("resubmission after rewind failed")
	}
}

func TestDeclareWinner(t *testing.T) {
	b := liveBattle()
	_, _, err := Apply(b, Command{Type: CmdDeclareWinner, At: t0})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput with no scored rounds, got %v", err)
	}

	_, b = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "y"})

	events, b := mustApply(t, b, Command{Type: CmdDeclareWinner})
	if b.Winner != "p1" || !ContainsEvent[WinnerDeclared](events) {
		t.Fatalf("want derived winner p1, got %q", b.Winner)
	}

	_, b = mustApply(t, b, Command{Type: CmdDeclareWinner, Winner: Tie})
	if b.Winner != Tie {
		t.Fatalf("want tie, got %q", b.Winner)
	}

	_, _, err = Apply(b, Command{Type: CmdDeclareWinner, Winner: "nobody", At: t0})
	if !errors.Is(err, ErrInvalidInput) {
		t.Fatalf("want ErrInvalidInput, got %v", err)
	}
}

func TestSetVisibility_Invariant(t *testing.T) {
	paused := newTestBattle(StatusPaused)
	_, _, err := Apply(paused, Command{Type: CmdSetVisibility, Enabled: true, OwnerProfilePublic: true, At: t0})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("paused battle made public: %v", err)
	}

	live := liveBattle()
	_, _, err = Apply(live, Command{Type: CmdSetVisibility, Enabled: true, OwnerProfilePublic: false, At: t0})
	if !errors.Is(err, ErrInvalidTransition) {
		t.Fatalf("private owner made battle public: %v", err)
	}

	_, live = mustApply(t, live, Command{Type: CmdSetVisibility, Enabled: true, OwnerProfilePublic: true})
	if !live.IsPublic {
		t.Fatalf("expected public battle")
	}

	// A public draft loses visibility when it is marked ready.
	draft := newTestBattle(StatusDraft)
	_, draft = mustApply(t, draft, Command{Type: CmdSetVisibility, Enabled: true, OwnerProfilePublic: true})
	if !draft.IsPublic {
		t.Fatalf("expected public draft")
	}
	events, ready := mustApply(t, draft, Command{Type: CmdMarkReady})
	if ready.Status != StatusPaused || ready.IsPublic {
		t.Fatalf("status=%s isPublic=%v after mark ready", ready.Status, ready.IsPublic)
	}
	if !ContainsEvent[BattleReady](events) || !ContainsEvent[VisibilityChanged](events) {
		t.Fatalf("expected ready and visibility events, got %d events", len(events))
	}
	for _, ev := range events {
		if ev.EventMeta().Battle.IsPublic {
			t.Fatalf("%T carries a public snapshot", ev)
		}
	}
}

type unknownEvent struct{ Meta }

func (unknownEvent) isEvent() {}

func TestStamp_PanicsOnUnknownEvent(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Fatalf("expected panic for unhandled event")
		}
	}()
	Stamp([]Event{unknownEvent{}}, newTestBattle(StatusLive), t0)
}

func TestRound_EditsInPlace(t *testing.T) {
	b := newTestBattle(StatusLive)
	r, ok := b.Round(2)
	if !ok {
		t.Fatalf("round 2 missing")
	}
	verse := "verse"
	r.ContentA = &verse
	if b.Rounds[1].ContentA == nil || *b.Rounds[1].ContentA != "verse" {
		t.Fatalf("round pointer does not alias the battle")
	}
	if _, ok := b.Round(RoundCount + 1); ok {
		t.Fatalf("round past the last one found")
	}
}

func TestToggles_AreIdempotent(t *testing.T) {
	b := liveBattle()
	events, next := mustApply(t, b, Command{Type: CmdToggleVoting, Enabled: true})
	if len(events) != 0 || next.UpdatedAt != b.UpdatedAt {
		t.Fatalf("enabling already-enabled voting changed the battle")
	}

	events, next = mustApply(t, b, Command{Type: CmdToggleComments, Enabled: false})
	if !ContainsEvent[CommentsToggled](events) || next.CommentsEnabled {
		t.Fatalf("comments not disabled")
	}

	_, _, err := Apply(next, Command{Type: CmdAddComment, ActorID: "u1", CommentID: "c1", Content: "hi", At: t0})
	if !errors.Is(err, ErrCommentsClosed) {
		t.Fatalf("want ErrCommentsClosed, got %v", err)
	}
}

func TestApply_DoesNotMutateInput(t *testing.T) {
	b := liveBattle()
	_, b = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p1", Content: "x"})

	_, _ = mustApply(t, b, Command{Type: CmdSubmitContent, Round: 1, ParticipantID: "p2", Content: "y"})
	_, _ = mustApply(t, b, Command{Type: CmdCastVote, ActorID: "v1", Round: 1, ParticipantID: "p1"})

	if b.Rounds[0].ContentB != nil || b.Rounds[0].Score != nil {
		t.Fatalf("input round mutated: %+v", b.Rounds[0])
	}
	if len(b.Votes) != 0 {
		t.Fatalf("input votes mutated")
	}
}

func TestEventsCarrySnapshot(t *testing.T) {
	b := newTestBattle(StatusPaused)
	events, next := mustApply(t, b, Command{Type: CmdStartLive})
	if len(events) != 1 {
		t.Fatalf("want 1 event, got %d", len(events))
	}
	meta := events[0].EventMeta()
	if meta.BattleID != "b1" || !meta.Battle.IsLive || !meta.Battle.UpdatedAt.Equal(next.UpdatedAt) {
		t.Fatalf("event snapshot does not match new state: %+v", meta)
	}
}
