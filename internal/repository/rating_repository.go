package repository

import "github.com/pjsph/slam/internal/models"

// RatingRepository is the in-memory rating registry. It is owned by the
// matchmaking goroutine and is not safe for concurrent use.
type RatingRepository struct {
	players       map[models.PlayerID]*models.PlayerRecord
	defaultRating models.Rating
}

func NewRatingRepository(defaultRating models.Rating) *RatingRepository {
	return &RatingRepository{
		players:       make(map[models.PlayerID]*models.PlayerRecord),
		defaultRating: defaultRating,
	}
}

// Create registers id at the default rating, overwriting any previous rating.
func (r *RatingRepository) Create(id models.PlayerID) models.PlayerID {
	return r.Insert(id, r.defaultRating)
}

// Insert assigns rating to id. The most recent call wins; the games-played
// counter of an existing player is kept.
func (r *RatingRepository) Insert(id models.PlayerID, rating models.Rating) models.PlayerID {
	if p, ok := r.players[id]; ok {
		p.Rating = rating
		return id
	}
	r.players[id] = &models.PlayerRecord{ID: id, Rating: rating}
	return id
}

// Rating returns the rating of id and whether id is registered.
func (r *RatingRepository) Rating(id models.PlayerID) (models.Rating, bool) {
	p, ok := r.players[id]
	if !ok {
		return 0, false
	}
	return p.Rating, true
}

// Get returns a copy of the record for id.
func (r *RatingRepository) Get(id models.PlayerID) (models.PlayerRecord, bool) {
	p, ok := r.players[id]
	if !ok {
		return models.PlayerRecord{}, false
	}
	return *p, true
}

// RecordGame stores a post-match rating and bumps the games-played counter.
func (r *RatingRepository) RecordGame(id models.PlayerID, rating models.Rating) {
	p, ok := r.players[id]
	if !ok {
		p = &models.PlayerRecord{ID: id}
		r.players[id] = p
	}
	p.Rating = rating
	p.GamesPlayed++
}

func (r *RatingRepository) Len() int {
	return len(r.players)
}
