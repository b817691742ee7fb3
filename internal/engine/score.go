package engine

// Scorer turns the votes of one round into its score. It must be
// deterministic for a given input.
type Scorer func(round int, votes []Vote, participantA, participantB string) RoundScore

// Tally counts votes per participant id.
type Tally map[string]int

// TallyScorer awards one point per vote.
func TallyScorer(round int, votes []Vote, participantA, participantB string) RoundScore {
	s := RoundScore{Round: round}
	for _, v := range votes {
		switch v.ParticipantID {
		case participantA:
			s.A++
		case participantB:
			s.B++
		}
	}
	return s
}

var scoreRound Scorer = TallyScorer

// TallyFor returns the vote counts for one round. Both participants are
// always present, even at zero.
func TallyFor(b Battle, round int) Tally {
	t := Tally{b.ParticipantA: 0, b.ParticipantB: 0}
	for _, v := range votesFor(b, round) {
		t[v.ParticipantID]++
	}
	return t
}

// Totals sums the scores of all scored rounds.
func Totals(b Battle) (a, bScore float64, scored int) {
	for _, r := range b.Rounds {
		if r.Score == nil {
			continue
		}
		a += r.Score.A
		bScore += r.Score.B
		scored++
	}
	return a, bScore, scored
}

func votesFor(b Battle, round int) []Vote {
	var out []Vote
	for _, v := range b.Votes {
		if v.Round == round {
			out = append(out, v)
		}
	}
	return out
}
