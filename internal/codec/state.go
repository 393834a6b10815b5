package codec

import (
	"github.com/jbbjarnason/fivesuitsrummy/card"
	"github.com/jbbjarnason/fivesuitsrummy/fivecrowns"
)

// PlayerState is one seat as seen by a particular viewer. Hand is only
// populated for the viewer's own seat; everyone else gets HandCount.
type PlayerState struct {
	UserID     int64      `json:"userId"`
	Seat       int        `json:"seat"`
	HandCount  int        `json:"handCount"`
	Hand       []string   `json:"hand,omitempty"`
	Melds      []WireMeld `json:"melds"`
	Score      int        `json:"score"`
	HasGoneOut bool       `json:"hasGoneOut"`
}

// StateEvt is the evt.state payload: the viewer-specific projection of a full
// game snapshot.
type StateEvt struct {
	GameID     string `json:"gameId"`
	Status     string `json:"status"`
	MaxPlayers int    `json:"maxPlayers"`

	Round    int    `json:"round,omitempty"`
	WildRank int    `json:"wildRank,omitempty"`
	TurnSeat int    `json:"turnSeat"`
	Phase    string `json:"phase,omitempty"`

	WentOutSeat int  `json:"wentOutSeat"`
	FinalTurn   bool `json:"finalTurn"`

	StockCount int    `json:"stockCount"`
	DiscardTop string `json:"discardTop,omitempty"`

	YourSeat   int `json:"yourSeat"`
	WinnerSeat int `json:"winnerSeat"`

	Players []PlayerState `json:"players"`
}

// ProjectState builds the evt.state payload for one viewer. winnerSeat is
// NoSeat unless the game is finished.
func ProjectState(snap fivecrowns.Snapshot, viewer int64, winnerSeat int) StateEvt {
	st := StateEvt{
		GameID:      snap.GameID,
		Status:      fivecrowns.StatusDictionary[snap.Status],
		MaxPlayers:  snap.MaxPlayers,
		TurnSeat:    snap.TurnIndex,
		WentOutSeat: snap.WentOutSeat,
		FinalTurn:   snap.FinalTurn,
		StockCount:  snap.StockCount,
		YourSeat:    fivecrowns.NoSeat,
		WinnerSeat:  winnerSeat,
	}

	if snap.Status != fivecrowns.StatusLobby {
		st.Round = snap.Round
		st.WildRank = card.WildRank(snap.Round)
		st.Phase = fivecrowns.TurnPhaseDictionary[snap.Phase]
	}
	if snap.DiscardTop != card.CardInvalid {
		st.DiscardTop = snap.DiscardTop.Code()
	}

	for _, p := range snap.Players {
		ps := PlayerState{
			UserID:     p.UserID,
			Seat:       p.Seat,
			HandCount:  len(p.Hand),
			Melds:      []WireMeld{},
			Score:      p.Score,
			HasGoneOut: p.HasGoneOut,
		}
		if p.UserID == viewer {
			st.YourSeat = p.Seat
			ps.Hand = card.Codes(p.Hand)
		}
		for _, m := range p.Melds {
			ps.Melds = append(ps.Melds, fromMeld(m))
		}
		st.Players = append(st.Players, ps)
	}
	return st
}
