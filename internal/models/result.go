package models

// WinnerDraw is the winner value reporting a drawn match.
const WinnerDraw uint32 = 0xFFFFFFFF

// ResultReport is a client's claim about the outcome of a stored match.
// Winner is the index of the winning group, or WinnerDraw.
type ResultReport struct {
	MatchID uint64
	Winner  uint32
}

// ResultStatus tells the reporter what happened to its report.
type ResultStatus uint32

const (
	ResultApplied ResultStatus = iota
	ResultUnknownMatch
	ResultInvalidWinner
)

func (s ResultStatus) String() string {
	switch s {
	case ResultApplied:
		return "applied"
	case ResultUnknownMatch:
		return "unknown_match"
	case ResultInvalidWinner:
		return "invalid_winner"
	default:
		return "unknown"
	}
}

// RatingChange records one player's rating update after a result.
type RatingChange struct {
	Player PlayerID `json:"player"`
	Old    Rating   `json:"old"`
	New    Rating   `json:"new"`
}
