package gormstore

import (
	"time"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
)

type battleRow struct {
	ID               string                `gorm:"primaryKey;type:text"`
	Title            string                `gorm:"not null"`
	ParticipantA     string                `gorm:"not null"`
	ParticipantB     string                `gorm:"not null"`
	OwnerID          string                `gorm:"index;not null"`
	ManagerIDs       []string              `gorm:"serializer:json"`
	CurrentRound     int                   `gorm:"not null;default:1"`
	Status           string                `gorm:"index;not null"`
	IsLive           bool                  `gorm:"not null"`
	VotingEnabled    bool                  `gorm:"not null"`
	CommentsEnabled  bool                  `gorm:"not null"`
	AdminControlMode string                `gorm:"not null;default:''"`
	Winner           string                `gorm:"not null;default:''"`
	IsPublic         bool                  `gorm:"not null"`
	GeneratedSong    *engine.GenerationJob `gorm:"serializer:json"`
	SongTaskID       *string               `gorm:"index"`
	SongStatus       *string               `gorm:"index"`
	LiveStartedAt    *time.Time
	CreatedAt        time.Time
	UpdatedAt        time.Time `gorm:"autoUpdateTime:false"`
	Version          int64     `gorm:"not null"`

	Rounds   []roundRow   `gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`
	Votes    []voteRow    `gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`
	Comments []commentRow `gorm:"foreignKey:BattleID;constraint:OnDelete:CASCADE"`
}

func (battleRow) TableName() string { return "battles" }

type roundRow struct {
	BattleID string `gorm:"primaryKey;type:text"`
	Number   int    `gorm:"primaryKey"`
	ContentA *string
	ContentB *string
	ScoreA   *float64
	ScoreB   *float64
}

func (roundRow) TableName() string { return "battle_rounds" }

// The primary key enforces one vote per (battle, round, voter).
type voteRow struct {
	BattleID      string `gorm:"primaryKey;type:text"`
	Round         int    `gorm:"primaryKey"`
	VoterID       string `gorm:"primaryKey;type:text"`
	ParticipantID string `gorm:"not null"`
	CastAt        time.Time
}

func (voteRow) TableName() string { return "battle_votes" }

type commentRow struct {
	ID        string `gorm:"primaryKey;type:text"`
	BattleID  string `gorm:"index;type:text;not null"`
	UserID    string `gorm:"not null"`
	Body      string `gorm:"not null"`
	CreatedAt time.Time
}

func (commentRow) TableName() string { return "battle_comments" }

func toRow(b engine.Battle) battleRow {
	row := battleRow{
		ID:               b.ID,
		Title:            b.Title,
		ParticipantA:     b.ParticipantA,
		ParticipantB:     b.ParticipantB,
		OwnerID:          b.OwnerID,
		ManagerIDs:       b.ManagerIDs,
		CurrentRound:     b.CurrentRound,
		Status:           string(b.Status),
		IsLive:           b.IsLive,
		VotingEnabled:    b.VotingEnabled,
		CommentsEnabled:  b.CommentsEnabled,
		AdminControlMode: string(b.AdminControlMode),
		Winner:           b.Winner,
		IsPublic:         b.IsPublic,
		GeneratedSong:    b.GeneratedSong,
		LiveStartedAt:    b.LiveStartedAt,
		CreatedAt:        b.CreatedAt,
		UpdatedAt:        b.UpdatedAt,
		Version:          b.Version,
	}
	if j := b.GeneratedSong; j != nil {
		task, status := j.TaskID, string(j.Status)
		row.SongTaskID = &task
		row.SongStatus = &status
	}
	for _, r := range b.Rounds {
		rr := roundRow{BattleID: b.ID, Number: r.Number, ContentA: r.ContentA, ContentB: r.ContentB}
		if r.Score != nil {
			a, bs := r.Score.A, r.Score.B
			rr.ScoreA, rr.ScoreB = &a, &bs
		}
		row.Rounds = append(row.Rounds, rr)
	}
	for _, v := range b.Votes {
		row.Votes = append(row.Votes, voteRow{
			BattleID:      b.ID,
			Round:         v.Round,
			VoterID:       v.VoterID,
			ParticipantID: v.ParticipantID,
			CastAt:        v.CastAt,
		})
	}
	for _, c := range b.Comments {
		row.Comments = append(row.Comments, commentRow{
			ID:        c.ID,
			BattleID:  b.ID,
			UserID:    c.UserID,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return row
}

func fromRow(row battleRow) engine.Battle {
	b := engine.Battle{
		ID:               row.ID,
		Title:            row.Title,
		ParticipantA:     row.ParticipantA,
		ParticipantB:     row.ParticipantB,
		OwnerID:          row.OwnerID,
		ManagerIDs:       row.ManagerIDs,
		CurrentRound:     row.CurrentRound,
		Status:           engine.Status(row.Status),
		IsLive:           row.IsLive,
		VotingEnabled:    row.VotingEnabled,
		CommentsEnabled:  row.CommentsEnabled,
		AdminControlMode: engine.ControlMode(row.AdminControlMode),
		Winner:           row.Winner,
		IsPublic:         row.IsPublic,
		GeneratedSong:    row.GeneratedSong,
		LiveStartedAt:    row.LiveStartedAt,
		CreatedAt:        row.CreatedAt,
		UpdatedAt:        row.UpdatedAt,
		Version:          row.Version,
		Votes:            []engine.Vote{},
		Comments:         []engine.Comment{},
	}
	for i := range b.Rounds {
		b.Rounds[i].Number = i + 1
	}
	for _, rr := range row.Rounds {
		r, ok := b.Round(rr.Number)
		if !ok {
			continue
		}
		r.ContentA, r.ContentB = rr.ContentA, rr.ContentB
		if rr.ScoreA != nil && rr.ScoreB != nil {
			r.Score = &engine.RoundScore{Round: rr.Number, A: *rr.ScoreA, B: *rr.ScoreB}
		}
	}
	for _, v := range row.Votes {
		b.Votes = append(b.Votes, engine.Vote{
			Round:         v.Round,
			VoterID:       v.VoterID,
			ParticipantID: v.ParticipantID,
			CastAt:        v.CastAt,
		})
	}
	for _, c := range row.Comments {
		b.Comments = append(b.Comments, engine.Comment{
			ID:        c.ID,
			UserID:    c.UserID,
			Body:      c.Body,
			CreatedAt: c.CreatedAt,
		})
	}
	return b
}
