package battle

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/DoyleJ11/battle-live-backend/internal/auth"
	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/room"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
	"github.com/DoyleJ11/battle-live-backend/internal/types"
)

// Rooms is the per-battle serializer, implemented by the hub.
type Rooms interface {
	Do(ctx context.Context, battleID string, mutate room.Mutation) room.Result
	Create(ctx context.Context, battleID string, b engine.Battle) room.Result
	Delete(ctx context.Context, battleID string, at time.Time) room.Result
}

// Viewers is the part of the live registry the service needs.
type Viewers interface {
	ViewerCount(battleID string) int
	CloseBattle(battleID string)
}

type Service struct {
	rooms    Rooms
	store    store.Store
	authz    auth.Authorizer
	profiles auth.Profiles
	viewers  Viewers
	log      *zap.Logger
	now      func() time.Time
	newID    func() string
}

func NewService(rooms Rooms, s store.Store, authz auth.Authorizer, profiles auth.Profiles, viewers Viewers, log *zap.Logger) *Service {
	return &Service{
		rooms:    rooms,
		store:    s,
		authz:    authz,
		profiles: profiles,
		viewers:  viewers,
		log:      log,
		now:      time.Now,
		newID:    uuid.NewString,
	}
}

type CreateInput struct {
	Title        string             `json:"title"`
	ParticipantA string             `json:"participantA"`
	ParticipantB string             `json:"participantB"`
	ManagerIDs   []string           `json:"managerIds"`
	ControlMode  engine.ControlMode `json:"adminControlMode"`
}

// Create stores a new draft battle owned by the caller.
func (s *Service) Create(ctx context.Context, in CreateInput) (engine.Battle, error) {
	actor, err := s.authz.CurrentUserID(ctx)
	if err != nil {
		return engine.Battle{}, err
	}
	title := strings.TrimSpace(in.Title)
	a, b := strings.TrimSpace(in.ParticipantA), strings.TrimSpace(in.ParticipantB)
	switch {
	case title == "":
		return engine.Battle{}, fmt.Errorf("%w: title is required", engine.ErrInvalidInput)
	case a == "" || b == "":
		return engine.Battle{}, fmt.Errorf("%w: two participants are required", engine.ErrInvalidInput)
	case a == b:
		return engine.Battle{}, fmt.Errorf("%w: participants must differ", engine.ErrInvalidInput)
	case a == engine.Tie || b == engine.Tie:
		return engine.Battle{}, fmt.Errorf("%w: %q is reserved", engine.ErrInvalidInput, engine.Tie)
	}
	switch in.ControlMode {
	case "", engine.ControlManual, engine.ControlAutomatic:
	default:
		return engine.Battle{}, fmt.Errorf("%w: unknown control mode %q", engine.ErrInvalidInput, in.ControlMode)
	}

	bt := engine.NewBattle(s.newID(), title, a, b, actor, s.now().UTC())
	bt.ManagerIDs = in.ManagerIDs
	bt.AdminControlMode = in.ControlMode

	res := s.rooms.Create(ctx, bt.ID, bt)
	if res.Err != nil {
		return engine.Battle{}, res.Err
	}
	s.log.Info("battle created", zap.String("battle_id", bt.ID), zap.String("owner_id", actor))
	return res.Battle, nil
}

func (s *Service) Get(ctx context.Context, battleID string) (engine.Battle, error) {
	return s.store.FindByID(ctx, battleID)
}

// Sync returns the authoritative snapshot and the live viewer count.
func (s *Service) Sync(ctx context.Context, battleID string) (types.ServerMessage, error) {
	b, err := s.store.FindByID(ctx, battleID)
	if err != nil {
		return types.ServerMessage{}, err
	}
	return types.SyncMessage(b, s.viewers.ViewerCount(battleID), s.now().UTC()), nil
}

// Delete removes the battle, tells its viewers and disconnects them.
func (s *Service) Delete(ctx context.Context, battleID string) error {
	actor, err := s.authz.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	b, err := s.store.FindByID(ctx, battleID)
	if err != nil {
		return err
	}
	if err := s.ownerOrAdmin(ctx, actor, b); err != nil {
		return err
	}
	if res := s.rooms.Delete(ctx, battleID, s.now().UTC()); res.Err != nil {
		return res.Err
	}
	s.viewers.CloseBattle(battleID)
	s.log.Info("battle deleted", zap.String("battle_id", battleID), zap.String("actor_id", actor))
	return nil
}

func (s *Service) MarkReady(ctx context.Context, battleID string) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdMarkReady})
}

func (s *Service) StartLive(ctx context.Context, battleID string) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdStartLive})
}

// StopLive is restricted to admins.
func (s *Service) StopLive(ctx context.Context, battleID string) (engine.Battle, error) {
	return s.run(ctx, battleID, s.admin, engine.Command{Type: engine.CmdStopLive})
}

func (s *Service) AdvanceRound(ctx context.Context, battleID string) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdAdvanceRound})
}

func (s *Service) RewindRound(ctx context.Context, battleID string, round int) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdRewindRound, Round: round})
}

// DeclareWinner sets the winner. An empty winner is derived from the round
// scores.
func (s *Service) DeclareWinner(ctx context.Context, battleID, winner string) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdDeclareWinner, Winner: winner})
}

func (s *Service) ToggleVoting(ctx context.Context, battleID string, enabled bool) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdToggleVoting, Enabled: enabled})
}

func (s *Service) ToggleComments(ctx context.Context, battleID string, enabled bool) (engine.Battle, error) {
	return s.run(ctx, battleID, s.manager, engine.Command{Type: engine.CmdToggleComments, Enabled: enabled})
}

// SetVisibility publishes or hides the battle. Making it public needs the
// owner's profile to be public.
func (s *Service) SetVisibility(ctx context.Context, battleID string, public bool) (engine.Battle, error) {
	cmd := engine.Command{Type: engine.CmdSetVisibility, Enabled: public}
	if public {
		b, err := s.store.FindByID(ctx, battleID)
		if err != nil {
			return engine.Battle{}, err
		}
		cmd.OwnerProfilePublic, err = s.profiles.IsPublic(ctx, b.OwnerID)
		if err != nil {
			return engine.Battle{}, fmt.Errorf("owner profile: %w", err)
		}
	}
	return s.run(ctx, battleID, s.ownerOrAdmin, cmd)
}

// SubmitContent records a participant's entry for a round. Participants
// submit their own; managers may submit for either.
func (s *Service) SubmitContent(ctx context.Context, battleID string, round int, participantID, content string) (engine.Battle, error) {
	allow := func(ctx context.Context, actor string, b engine.Battle) error {
		if actor == participantID && b.HasParticipant(actor) {
			return nil
		}
		return s.manager(ctx, actor, b)
	}
	return s.run(ctx, battleID, allow, engine.Command{
		Type:          engine.CmdSubmitContent,
		Round:         round,
		ParticipantID: participantID,
		Content:       content,
	})
}

// CastVote records the caller's vote and returns the round's tally.
func (s *Service) CastVote(ctx context.Context, battleID string, round int, participantID string) (engine.Tally, error) {
	b, err := s.run(ctx, battleID, anyone, engine.Command{Type: engine.CmdCastVote, Round: round, ParticipantID: participantID})
	if err != nil {
		return nil, err
	}
	return engine.TallyFor(b, round), nil
}

func (s *Service) AddComment(ctx context.Context, battleID, body string) (engine.Comment, error) {
	id := s.newID()
	b, err := s.run(ctx, battleID, anyone, engine.Command{Type: engine.CmdAddComment, Content: body, CommentID: id})
	if err != nil {
		return engine.Comment{}, err
	}
	for _, c := range b.Comments {
		if c.ID == id {
			return c, nil
		}
	}
	return engine.Comment{}, fmt.Errorf("comment %s missing after save", id)
}

type policy func(ctx context.Context, actor string, b engine.Battle) error

func anyone(context.Context, string, engine.Battle) error { return nil }

func (s *Service) manager(ctx context.Context, actor string, b engine.Battle) error {
	if s.authz.CanManage(ctx, b) {
		return nil
	}
	return fmt.Errorf("%w: %s cannot manage battle %s", auth.ErrForbidden, actor, b.ID)
}

func (s *Service) admin(ctx context.Context, actor string, b engine.Battle) error {
	if s.authz.HasRole(ctx, actor, auth.RoleAdmin) {
		return nil
	}
	return fmt.Errorf("%w: admin role required", auth.ErrForbidden)
}

func (s *Service) ownerOrAdmin(ctx context.Context, actor string, b engine.Battle) error {
	if actor == b.OwnerID || s.authz.HasRole(ctx, actor, auth.RoleAdmin) {
		return nil
	}
	return fmt.Errorf("%w: only the owner or an admin may do this", auth.ErrForbidden)
}

// run authorizes and applies cmd inside the battle's room, against the
// battle as stored at that moment.
func (s *Service) run(ctx context.Context, battleID string, allow policy, cmd engine.Command) (engine.Battle, error) {
	actor, err := s.authz.CurrentUserID(ctx)
	if err != nil {
		return engine.Battle{}, err
	}
	cmd.ActorID = actor
	cmd.At = s.now().UTC()

	res := s.rooms.Do(ctx, battleID, func(b engine.Battle) ([]engine.Event, engine.Battle, error) {
		if err := allow(ctx, actor, b); err != nil {
			return nil, b, err
		}
		return engine.Apply(b, cmd)
	})
	if res.Err != nil {
		s.log.Debug("command rejected",
			zap.String("battle_id", battleID),
			zap.String("command", string(cmd.Type)),
			zap.String("actor_id", actor),
			zap.Error(res.Err))
		return engine.Battle{}, res.Err
	}
	if len(res.Events) > 0 {
		s.log.Info("command applied",
			zap.String("battle_id", battleID),
			zap.String("command", string(cmd.Type)),
			zap.String("actor_id", actor),
			zap.Int("events", len(res.Events)),
			zap.Int64("version", res.Battle.Version))
	}
	return res.Battle, nil
}

// Authorize checks that the caller may manage battleID. It is used by
// operations that live outside the engine, such as song generation.
func (s *Service) Authorize(ctx context.Context, battleID string) error {
	actor, err := s.authz.CurrentUserID(ctx)
	if err != nil {
		return err
	}
	b, err := s.store.FindByID(ctx, battleID)
	if err != nil {
		return err
	}
	return s.manager(ctx, actor, b)
}

// Caller returns the authenticated user id.
func (s *Service) Caller(ctx context.Context) (string, error) {
	return s.authz.CurrentUserID(ctx)
}
