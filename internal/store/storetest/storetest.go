// Package storetest holds the behaviour every store.Store must share.
package storetest

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/DoyleJ11/battle-live-backend/internal/engine"
	"github.com/DoyleJ11/battle-live-backend/internal/store"
)

// Run exercises s. Battle ids are prefixed so a shared database can be reused.
func Run(t *testing.T, s store.Store, prefix string) {
	t.Helper()
	ctx := context.Background()
	now := time.Date(2026, 3, 1, 20, 0, 0, 0, time.UTC)

	t.Run("save then find round trips", func(t *testing.T) {
		b := engine.NewBattle(prefix+"rt", "Clash", "p1", "p2", "owner", now)
		b.ManagerIDs = []string{"m1"}
		verse := "first verse"
		b.Rounds[0].ContentA = &verse
		b.Votes = append(b.Votes, engine.Vote{Round: 1, VoterID: "v1", ParticipantID: "p1", CastAt: now})
		b.Comments = append(b.Comments, engine.Comment{ID: prefix + "c1", UserID: "u1", Body: "hi", CreatedAt: now})

		saved, err := s.Save(ctx, b)
		require.NoError(t, err)
		assert.Equal(t, int64(1), saved.Version)

		got, err := s.FindByID(ctx, b.ID)
		require.NoError(t, err)
		assert.Equal(t, "Clash", got.Title)
		assert.Equal(t, []string{"m1"}, got.ManagerIDs)
		require.NotNil(t, got.Rounds[0].ContentA)
		assert.Equal(t, verse, *got.Rounds[0].ContentA)
		assert.Nil(t, got.Rounds[0].ContentB)
		require.Len(t, got.Votes, 1)
		require.Len(t, got.Comments, 1)
		assert.Equal(t, int64(1), got.Version)
	})

	t.Run("stale version conflicts", func(t *testing.T) {
		b := engine.NewBattle(prefix+"cf", "Clash", "p1", "p2", "owner", now)
		first, err := s.Save(ctx, b)
		require.NoError(t, err)

		_, err = s.Save(ctx, first)
		require.NoError(t, err)

		_, err = s.Save(ctx, first)
		assert.ErrorIs(t, err, store.ErrConflict)
	})

	t.Run("missing battle is not found", func(t *testing.T) {
		_, err := s.FindByID(ctx, prefix+"missing")
		assert.ErrorIs(t, err, store.ErrNotFound)
		assert.ErrorIs(t, s.Delete(ctx, prefix+"missing"), store.ErrNotFound)
	})

	t.Run("songs in flight and task lookup", func(t *testing.T) {
		pending := engine.NewBattle(prefix+"s1", "One", "p1", "p2", "owner", now)
		pending.GeneratedSong = &engine.GenerationJob{TaskID: prefix + "t1", Status: engine.JobPending, RequestedAt: now}
		done := engine.NewBattle(prefix+"s2", "Two", "p1", "p2", "owner", now)
		done.GeneratedSong = &engine.GenerationJob{TaskID: prefix + "t2", Status: engine.JobComplete, AudioURL: "https://x/a.mp3", RequestedAt: now}
		_, err := s.Save(ctx, pending)
		require.NoError(t, err)
		_, err = s.Save(ctx, done)
		require.NoError(t, err)

		inFlight, err := s.ListSongsInFlight(ctx)
		require.NoError(t, err)
		var ids []string
		for _, b := range inFlight {
			ids = append(ids, b.ID)
		}
		assert.Contains(t, ids, pending.ID)
		assert.NotContains(t, ids, done.ID)

		got, err := s.FindByTaskID(ctx, prefix+"t2")
		require.NoError(t, err)
		assert.Equal(t, done.ID, got.ID)
		assert.Equal(t, "https://x/a.mp3", got.GeneratedSong.AudioURL)
	})

	t.Run("delete removes battle", func(t *testing.T) {
		b := engine.NewBattle(prefix+"del", "Gone", "p1", "p2", "owner", now)
		b.Votes = append(b.Votes, engine.Vote{Round: 1, VoterID: "v1", ParticipantID: "p2", CastAt: now})
		_, err := s.Save(ctx, b)
		require.NoError(t, err)

		require.NoError(t, s.Delete(ctx, b.ID))
		_, err = s.FindByID(ctx, b.ID)
		assert.ErrorIs(t, err, store.ErrNotFound)
	})
}
