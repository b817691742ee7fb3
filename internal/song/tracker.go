package song

import (
	"context"
	"errors"
	"fmt"
	"net/url"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/room"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

var ErrTaskMismatch = errors.New("task id does not match battle's job")
var ErrNoJob = errors.New("battle has no song job")
var ErrJobInFlight = errors.New("song job already in flight")
var ErrProviderUnavailable = errors.New("song provider unavailable")
var ErrInvalidPayload = errors.New("invalid song payload")

const DefaultBeatStyle = "boom-bap"

// Mutator runs a mutation inside a battle's serialized section.
type Mutator interface {
	Do(ctx context.Context, battleID string, mutate room.Mutation) room.Result
}

type Config struct {
	DefaultBeatStyle string
	SubmitTimeout    time.Duration
	PollTimeout      time.Duration
}

// Update is one observation of a job's state, from any of the three paths.
type Update struct {
	TaskID       string
	Status       engine.JobStatus
	AudioURL     string
	VideoURL     string
	ImageURL     string
	Title        string
	ErrorMessage string
}

// Tracker is the only writer of Battle.GeneratedSong.
type Tracker struct {
	rooms    Mutator
	store    store.Store
	provider Provider
	cfg      Config
	log      *zap.Logger
	polls    singleflight.Group
	now      func() time.Time
}

func NewTracker(rooms Mutator, s store.Store, p Provider, cfg Config, log *zap.Logger) *Tracker {
	if cfg.DefaultBeatStyle == "" {
		cfg.DefaultBeatStyle = DefaultBeatStyle
	}
	if cfg.SubmitTimeout <= 0 {
		cfg.SubmitTimeout = 15 * time.Second
	}
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 10 * time.Second
	}
	return &Tracker{rooms: rooms, store: s, provider: p, cfg: cfg, log: log, now: time.Now}
}

// Request submits a generation job and records it as pending.
func (t *Tracker) Request(ctx context.Context, battleID, prompt, style string) (engine.GenerationJob, error) {
	b, err := t.store.FindByID(ctx, battleID)
	if err != nil {
		return engine.GenerationJob{}, err
	}
	if j := b.GeneratedSong; j != nil && !j.Status.Terminal() {
		return engine.GenerationJob{}, fmt.Errorf("%w: task %s is %s", ErrJobInFlight, j.TaskID, j.Status)
	}
	if style == "" {
		style = t.cfg.DefaultBeatStyle
	}

	submitCtx, cancel := context.WithTimeout(ctx, t.cfg.SubmitTimeout)
	taskID, err := t.provider.Submit(submitCtx, prompt, style)
	cancel()
	if err != nil {
		return engine.GenerationJob{}, fmt.Errorf("%w: submit: %v", ErrProviderUnavailable, err)
	}

	at := t.now().UTC()
	job := engine.GenerationJob{TaskID: taskID, Status: engine.JobPending, Prompt: prompt, BeatStyle: style, RequestedAt: at}
	res := t.rooms.Do(ctx, battleID, func(b engine.Battle) ([]engine.Event, engine.Battle, error) {
		if j := b.GeneratedSong; j != nil && !j.Status.Terminal() {
			return nil, b, fmt.Errorf("%w: task %s is %s", ErrJobInFlight, j.TaskID, j.Status)
		}
		next := engine.Clone(b)
		next.GeneratedSong = &job
		next.UpdatedAt = at
		return engine.Stamp([]engine.Event{engine.SongRequested{Job: job}}, next, at), next, nil
	})
	if res.Err != nil {
		return engine.GenerationJob{}, res.Err
	}
	t.log.Info("song requested", zap.String("battle_id", battleID), zap.String("task_id", taskID), zap.String("style", style))
	return *res.Battle.GeneratedSong, nil
}

// CheckStatus polls the provider for taskID and records what it reports.
// A terminal job is returned as stored without calling the provider. A
// provider timeout leaves the job untouched for the next poll.
func (t *Tracker) CheckStatus(ctx context.Context, battleID, taskID string) (engine.GenerationJob, error) {
	b, err := t.store.FindByID(ctx, battleID)
	if err != nil {
		return engine.GenerationJob{}, err
	}
	job, err := trackedJob(b, taskID)
	if err != nil {
		return engine.GenerationJob{}, err
	}
	if job.Status.Terminal() {
		return job, nil
	}

	// The poll is shared by every caller waiting on taskID, so it must not
	// die with whichever caller happened to start it.
	v, err, _ := t.polls.Do(taskID, func() (any, error) {
		pollCtx, cancel := context.WithTimeout(context.WithoutCancel(ctx), t.cfg.PollTimeout)
		defer cancel()
		return t.provider.Poll(pollCtx, taskID)
	})
	if err != nil {
		t.log.Warn("song poll failed", zap.String("battle_id", battleID), zap.String("task_id", taskID), zap.Error(err))
		return job, fmt.Errorf("%w: poll %s: %v", ErrProviderUnavailable, taskID, err)
	}
	pr := v.(PollResult)

	u := Update{
		TaskID:       taskID,
		Status:       pr.Status,
		AudioURL:     pr.AudioURL,
		VideoURL:     pr.VideoURL,
		ImageURL:     pr.ImageURL,
		Title:        pr.Title,
		ErrorMessage: pr.ErrorMessage,
	}
	// Completion without audio is not usable yet.
	if u.Status == engine.JobComplete && u.AudioURL == "" {
		u.Status = engine.JobProcessing
	}
	return t.Apply(ctx, battleID, u)
}

// ManualComplete lets an operator finish a job whose provider cannot be
// polled reliably. The result is merged into the stored job.
func (t *Tracker) ManualComplete(ctx context.Context, battleID, taskID, audioURL string) (engine.GenerationJob, error) {
	if taskID == "" {
		return engine.GenerationJob{}, fmt.Errorf("%w: taskId is required", ErrInvalidPayload)
	}
	if !validURL(audioURL) {
		return engine.GenerationJob{}, fmt.Errorf("%w: audioUrl must be an absolute http(s) url", ErrInvalidPayload)
	}
	return t.Apply(ctx, battleID, Update{TaskID: taskID, Status: engine.JobComplete, AudioURL: audioURL})
}

// Apply records u on the battle's job inside the battle's room. Applying the
// same update twice stores and publishes nothing the second time.
func (t *Tracker) Apply(ctx context.Context, battleID string, u Update) (engine.GenerationJob, error) {
	at := t.now().UTC()
	res := t.rooms.Do(ctx, battleID, func(b engine.Battle) ([]engine.Event, engine.Battle, error) {
		return applyUpdate(b, u, t.cfg.DefaultBeatStyle, at)
	})
	if res.Err != nil {
		return engine.GenerationJob{}, res.Err
	}
	if len(res.Events) > 0 {
		j := res.Battle.GeneratedSong
		t.log.Info("song job updated",
			zap.String("battle_id", battleID),
			zap.String("task_id", u.TaskID),
			zap.String("status", string(j.Status)))
	}
	return *res.Battle.GeneratedSong, nil
}

func trackedJob(b engine.Battle, taskID string) (engine.GenerationJob, error) {
	if b.GeneratedSong == nil {
		return engine.GenerationJob{}, fmt.Errorf("battle %s: %w", b.ID, ErrNoJob)
	}
	if b.GeneratedSong.TaskID != taskID {
		return engine.GenerationJob{}, fmt.Errorf("%w: got %s, tracking %s", ErrTaskMismatch, taskID, b.GeneratedSong.TaskID)
	}
	return *b.GeneratedSong, nil
}

func applyUpdate(b engine.Battle, u Update, defaultStyle string, at time.Time) ([]engine.Event, engine.Battle, error) {
	cur, err := trackedJob(b, u.TaskID)
	if err != nil {
		return nil, b, err
	}

	j := cur
	var ev engine.Event
	switch u.Status {
	case engine.JobComplete:
		if u.AudioURL == "" {
			return nil, b, fmt.Errorf("%w: completion without audio url", ErrInvalidPayload)
		}
		j.Status = engine.JobComplete
		j.AudioURL = u.AudioURL
		j.VideoURL = firstNonEmpty(u.VideoURL, j.VideoURL)
		j.ImageURL = firstNonEmpty(u.ImageURL, j.ImageURL)
		j.Title = firstNonEmpty(j.Title, u.Title, b.Title+" Song")
		j.BeatStyle = firstNonEmpty(j.BeatStyle, defaultStyle)
		j.ErrorMessage = ""
		if j.GeneratedAt == nil {
			generated := at
			j.GeneratedAt = &generated
		}
		ev = engine.SongCompleted{Job: j}

	case engine.JobProcessing:
		if cur.Status != engine.JobPending {
			return nil, b, nil
		}
		j.Status = engine.JobProcessing
		ev = engine.SongStatusChanged{Job: j}

	case engine.JobFailed:
		if cur.Status.Terminal() {
			return nil, b, nil
		}
		j.Status = engine.JobFailed
		j.ErrorMessage = firstNonEmpty(u.ErrorMessage, "generation failed")
		ev = engine.SongStatusChanged{Job: j}

	case engine.JobPending:
		return nil, b, nil

	default:
		return nil, b, fmt.Errorf("%w: unknown status %q", ErrInvalidPayload, u.Status)
	}

	if sameJob(cur, j) {
		return nil, b, nil
	}

	next := engine.Clone(b)
	next.GeneratedSong = &j
	next.UpdatedAt = at
	return engine.Stamp([]engine.Event{ev}, next, at), next, nil
}

func sameJob(a, b engine.GenerationJob) bool {
	ag, bg := a.GeneratedAt, b.GeneratedAt
	a.GeneratedAt, b.GeneratedAt = nil, nil
	if a != b {
		return false
	}
	if ag == nil || bg == nil {
		return ag == bg
	}
	return ag.Equal(*bg)
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}

func validURL(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
