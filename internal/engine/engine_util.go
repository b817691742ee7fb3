package engine

import "time"

func NewBattle(id, title, participantA, participantB, ownerID string, now time.Time) Battle {
	b := Battle{
		ID:              id,
		Title:           title,
		ParticipantA:    participantA,
		ParticipantB:    participantB,
		OwnerID:         ownerID,
		CurrentRound:    1,
		Status:          StatusDraft,
		CommentsEnabled: true,
		Votes:           []Vote{},
		Comments:        []Comment{},
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	for i := range b.Rounds {
		b.Rounds[i].Number = i + 1
	}
	return b
}

// Clone returns a deep copy so Apply never aliases the caller's battle.
func Clone(b Battle) Battle {
	c := b
	c.ManagerIDs = append([]string(nil), b.ManagerIDs...)
	for i, r := range b.Rounds {
		c.Rounds[i] = Round{Number: r.Number}
		if r.ContentA != nil {
			s := *r.ContentA
			c.Rounds[i].ContentA = &s
		}
		if r.ContentB != nil {
			s := *r.ContentB
			c.Rounds[i].ContentB = &s
		}
		if r.Score != nil {
			s := *r.Score
			c.Rounds[i].Score = &s
		}
	}
	c.Votes = append([]Vote{}, b.Votes...)
	c.Comments = append([]Comment{}, b.Comments...)
	if b.GeneratedSong != nil {
		j := *b.GeneratedSong
		if j.GeneratedAt != nil {
			t := *j.GeneratedAt
			j.GeneratedAt = &t
		}
		c.GeneratedSong = &j
	}
	if b.LiveStartedAt != nil {
		t := *b.LiveStartedAt
		c.LiveStartedAt = &t
	}
	return c
}

// ContainsEvent reports whether any event has the concrete type T.
func ContainsEvent[T Event](events []Event) bool {
	for _, ev := range events {
		if _, ok := ev.(T); ok {
			return true
		}
	}
	return false
}
