package service

import (
	"testing"

	"github.com/pjsph/slam/internal/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestELOService_GetKFactor(t *testing.T) {
	eloService := NewELOService()

	tests := []struct {
		name       string
		matchCount int
		expectedK  float64
	}{
		{"New player - 0 matches", 0, 40.0},
		{"New player - 9 matches", 9, 40.0},
		{"Intermediate player - 10 matches", 10, 32.0},
		{"Intermediate player - 19 matches", 19, 32.0},
		{"Established player - 20 matches", 20, 24.0},
		{"Established player - 100 matches", 100, 24.0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			actualK := eloService.GetKFactor(tt.matchCount)
			if actualK != tt.expectedK {
				t.Errorf("GetKFactor(%d) = %v, want %v", tt.matchCount, actualK, tt.expectedK)
			}
		})
	}
}

func TestELOService_Scores(t *testing.T) {
	eloService := NewELOService()

	tests := []struct {
		name    string
		winner  uint32
		want    []float64
		wantErr error
	}{
		{"first team wins", 0, []float64{1, 0}, nil},
		{"second team wins", 1, []float64{0, 1}, nil},
		{"draw", models.WinnerDraw, []float64{0.5, 0.5}, nil},
		{"out of range", 2, nil, ErrInvalidWinner},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := eloService.Scores(tt.winner, 2)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}

	_, err := eloService.Scores(0, 3)
	assert.ErrorIs(t, err, ErrInvalidInput)
}

func team(games int, ratings ...models.Rating) []models.PlayerRecord {
	out := make([]models.PlayerRecord, len(ratings))
	for i, r := range ratings {
		out[i] = models.PlayerRecord{ID: models.PlayerID(int(r)*10 + i), Rating: r, GamesPlayed: games}
	}
	return out
}

func TestELOService_CalculateTeamRatings(t *testing.T) {
	eloService := NewELOService()

	t.Run("equal teams, first team wins", func(t *testing.T) {
		changes, err := eloService.CalculateTeamRatings(
			[][]models.PlayerRecord{team(0, 100, 100), team(0, 100, 100)},
			[]float64{1, 0},
		)
		require.NoError(t, err)
		require.Len(t, changes, 4)
		assert.Equal(t, models.Rating(120), changes[0].New)
		assert.Equal(t, models.Rating(120), changes[1].New)
		assert.Equal(t, models.Rating(80), changes[2].New)
		assert.Equal(t, models.Rating(80), changes[3].New)
	})

	t.Run("equal teams draw", func(t *testing.T) {
		changes, err := eloService.CalculateTeamRatings(
			[][]models.PlayerRecord{team(5, 1200), team(50, 1200)},
			[]float64{0.5, 0.5},
		)
		require.NoError(t, err)
		for _, c := range changes {
			assert.Equal(t, c.Old, c.New)
		}
	})

	t.Run("established players move less", func(t *testing.T) {
		changes, err := eloService.CalculateTeamRatings(
			[][]models.PlayerRecord{team(50, 1200), team(5, 1200)},
			[]float64{1, 0},
		)
		require.NoError(t, err)
		assert.Equal(t, models.Rating(1212), changes[0].New)
		assert.Equal(t, models.Rating(1180), changes[1].New)
	})

	t.Run("underdog gains more", func(t *testing.T) {
		changes, err := eloService.CalculateTeamRatings(
			[][]models.PlayerRecord{team(30, 1000), team(30, 1400)},
			[]float64{1, 0},
		)
		require.NoError(t, err)
		gain := int(changes[0].New) - int(changes[0].Old)
		assert.Greater(t, gain, 12)
	})

	t.Run("ratings clamp at zero", func(t *testing.T) {
		changes, err := eloService.CalculateTeamRatings(
			[][]models.PlayerRecord{team(0, 10), team(0, 10)},
			[]float64{0, 1},
		)
		require.NoError(t, err)
		assert.Equal(t, models.Rating(0), changes[0].New)
		assert.Equal(t, models.Rating(30), changes[1].New)
	})

	t.Run("wrong team count", func(t *testing.T) {
		_, err := eloService.CalculateTeamRatings([][]models.PlayerRecord{team(0, 1)}, []float64{1})
		assert.ErrorIs(t, err, ErrInvalidInput)
	})
}
