package service

import (
	"fmt"
	"math"

	"github.com/pjsph/slam/internal/models"
)

// ELOService computes rating updates from match results.
type ELOService struct{}

func NewELOService() *ELOService {
	return &ELOService{}
}

// GetKFactor returns the K-factor for a player with matchCount rated games:
// provisional players (< 10 games) move fastest, established players
// (>= 20 games) slowest.
func (s *ELOService) GetKFactor(matchCount int) float64 {
	if matchCount < 10 {
		return 40.0
	} else if matchCount < 20 {
		return 32.0
	}
	return 24.0
}

// Scores converts a winner indicator into per-team scores for a two-team
// match: 1 for the winner, 0 for the loser, 0.5 each for a draw.
func (s *ELOService) Scores(winner uint32, teams int) ([]float64, error) {
	if teams != 2 {
		return nil, fmt.Errorf("%w: rating updates need 2 teams, got %d", ErrInvalidInput, teams)
	}
	switch winner {
	case 0:
		return []float64{1, 0}, nil
	case 1:
		return []float64{0, 1}, nil
	case models.WinnerDraw:
		return []float64{0.5, 0.5}, nil
	default:
		return nil, fmt.Errorf("%w: %d", ErrInvalidWinner, winner)
	}
}

// CalculateTeamRatings returns the post-match rating of every player. A team
// plays as its average rating; each player then moves by its own K-factor
// times the team's (score - expected). Ratings never go below zero.
func (s *ELOService) CalculateTeamRatings(teams [][]models.PlayerRecord, scores []float64) ([]models.RatingChange, error) {
	if len(teams) != 2 || len(scores) != 2 {
		return nil, fmt.Errorf("%w: rating updates need 2 teams", ErrInvalidInput)
	}

	avgA, avgB := teamAverage(teams[0]), teamAverage(teams[1])
	expected := [2]float64{s.expectedScore(avgA, avgB), s.expectedScore(avgB, avgA)}

	var changes []models.RatingChange
	for t, team := range teams {
		delta := scores[t] - expected[t]
		for _, p := range team {
			k := s.GetKFactor(p.GamesPlayed)
			next := math.Round(float64(p.Rating) + k*delta)
			if next < 0 {
				next = 0
			}
			changes = append(changes, models.RatingChange{
				Player: p.ID,
				Old:    p.Rating,
				New:    models.Rating(next),
			})
		}
	}
	return changes, nil
}

func teamAverage(team []models.PlayerRecord) float64 {
	if len(team) == 0 {
		return 0
	}
	var sum float64
	for _, p := range team {
		sum += float64(p.Rating)
	}
	return sum / float64(len(team))
}

// expectedScore is the Elo win expectation of a rating against another.
func (s *ELOService) expectedScore(ratingA, ratingB float64) float64 {
	return 1.0 / (1.0 + math.Pow(10, (ratingB-ratingA)/400.0))
}
