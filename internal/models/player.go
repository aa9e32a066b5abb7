package models

import "strconv"

// PlayerID is the externally supplied identifier of a player.
type PlayerID uint64

func (id PlayerID) String() string {
	return strconv.FormatUint(uint64(id), 10)
}

// Rating is a player's skill score, comparable to an Elo rating.
type Rating uint64

// DefaultRating is assigned to players created without an explicit rating.
const DefaultRating Rating = 100

// PlayerRecord is a registry entry.
type PlayerRecord struct {
	ID          PlayerID `json:"id"`
	Rating      Rating   `json:"rating"`
	GamesPlayed int      `json:"gamesPlayed"`
}

// Gap returns |a - b|.
func Gap(a, b Rating) Rating {
	if a > b {
		return a - b
	}
	return b - a
}
