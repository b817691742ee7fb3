package engine

import "time"

// RoundCount is the fixed number of rounds in every battle.
const RoundCount = 3

// Tie is the winner value used when neither participant wins.
const Tie = "tie"

type Status string

const (
	StatusDraft     Status = "draft"
	StatusPaused    Status = "paused"
	StatusLive      Status = "live"
	StatusCompleted Status = "completed"
)

type ControlMode string

const (
	ControlManual    ControlMode = "manual"
	ControlAutomatic ControlMode = "automatic"
)

type JobStatus string

const (
	JobPending    JobStatus = "pending"
	JobProcessing JobStatus = "processing"
	JobComplete   JobStatus = "complete"
	JobFailed     JobStatus = "failed"
)

// Terminal reports whether no further provider updates apply to the job.
func (s JobStatus) Terminal() bool {
	return s == JobComplete || s == JobFailed
}

type Battle struct {
	ID               string            `json:"id"`
	Title            string            `json:"title"`
	ParticipantA     string            `json:"participantA"`
	ParticipantB     string            `json:"participantB"`
	OwnerID          string            `json:"ownerId"`
	ManagerIDs       []string          `json:"managerIds,omitempty"`
	Rounds           [RoundCount]Round `json:"rounds"`
	CurrentRound     int               `json:"currentRound"`
	Status           Status            `json:"status"`
	IsLive           bool              `json:"isLive"`
	VotingEnabled    bool              `json:"votingEnabled"`
	CommentsEnabled  bool              `json:"commentsEnabled"`
	AdminControlMode ControlMode       `json:"adminControlMode,omitempty"`
	Winner           string            `json:"winner,omitempty"`
	IsPublic         bool              `json:"isPublic"`
	GeneratedSong    *GenerationJob    `json:"generatedSong,omitempty"`
	Votes            []Vote            `json:"votes"`
	Comments         []Comment         `json:"comments"`
	LiveStartedAt    *time.Time        `json:"liveStartedAt,omitempty"`
	CreatedAt        time.Time         `json:"createdAt"`
	UpdatedAt        time.Time         `json:"updatedAt"`
	Version          int64             `json:"version"`
}

type Round struct {
	Number   int         `json:"number"`
	ContentA *string     `json:"contentA,omitempty"`
	ContentB *string     `json:"contentB,omitempty"`
	Score    *RoundScore `json:"score,omitempty"`
}

// Complete is derived: both sides submitted and the round was scored.
func (r Round) Complete() bool {
	return r.ContentA != nil && r.ContentB != nil && r.Score != nil
}

type RoundScore struct {
	Round int     `json:"round"`
	A     float64 `json:"a"`
	B     float64 `json:"b"`
}

type Vote struct {
	Round         int       `json:"round"`
	VoterID       string    `json:"voterId"`
	ParticipantID string    `json:"participantId"`
	CastAt        time.Time `json:"castAt"`
}

type Comment struct {
	ID        string    `json:"id"`
	UserID    string    `json:"userId"`
	Body      string    `json:"body"`
	CreatedAt time.Time `json:"createdAt"`
}

type GenerationJob struct {
	TaskID       string     `json:"taskId"`
	Status       JobStatus  `json:"status"`
	Prompt       string     `json:"prompt,omitempty"`
	BeatStyle    string     `json:"beatStyle,omitempty"`
	Title        string     `json:"title,omitempty"`
	AudioURL     string     `json:"audioUrl,omitempty"`
	VideoURL     string     `json:"videoUrl,omitempty"`
	ImageURL     string     `json:"imageUrl,omitempty"`
	ErrorMessage string     `json:"errorMessage,omitempty"`
	RequestedAt  time.Time  `json:"requestedAt"`
	GeneratedAt  *time.Time `json:"generatedAt,omitempty"`
}

// HasParticipant reports whether id is one of the two competitors.
func (b Battle) HasParticipant(id string) bool {
	return id != "" && (id == b.ParticipantA || id == b.ParticipantB)
}

// IsManager reports whether id is the owner or a designated manager.
func (b Battle) IsManager(id string) bool {
	if id == "" {
		return false
	}
	if id == b.OwnerID {
		return true
	}
	for _, m := range b.ManagerIDs {
		if m == id {
			return true
		}
	}
	return false
}

// Round returns the round with the given 1-based number. The pointer aliases
// b.Rounds so callers can fill the round in place, hence the pointer receiver.
func (b *Battle) Round(n int) (*Round, bool) {
	if n < 1 || n > RoundCount {
		return nil, false
	}
	return &b.Rounds[n-1], true
}
