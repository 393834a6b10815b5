package fivecrowns

import "github.com/jbbjarnason/fivesuitsrummy/card"

// Status 对局生命周期
type Status byte

const (
	StatusLobby    Status = 0
	StatusActive   Status = 1
	StatusFinished Status = 2
)

var StatusDictionary = map[Status]string{
	StatusLobby:    "lobby",
	StatusActive:   "active",
	StatusFinished: "finished",
}

// TurnPhase 回合阶段：当前玩家必须先摸牌, 再弃牌。
type TurnPhase byte

const (
	PhaseMustDraw    TurnPhase = 0
	PhaseMustDiscard TurnPhase = 1
)

var TurnPhaseDictionary = map[TurnPhase]string{
	PhaseMustDraw:    "mustDraw",
	PhaseMustDiscard: "mustDiscard",
}

// MeldType run 或 book。
type MeldType byte

const (
	MeldRun  MeldType = 0
	MeldBook MeldType = 1
)

var MeldTypeDictionary = map[MeldType]string{
	MeldRun:  "run",
	MeldBook: "book",
}

// Meld is an immutable melded combination. Cards of a run are stored
// value-ascending with wilds interleaved into gap positions; book order is
// irrelevant.
type Meld struct {
	Type  MeldType
	Cards []card.Card
}

// DrawSource selects the pile for a draw command.
type DrawSource byte

const (
	DrawStock   DrawSource = 0
	DrawDiscard DrawSource = 1
)

const (
	// FirstRound deals 3 cards, FinalRound deals 13.
	FirstRound = 1
	FinalRound = 11

	// NoSeat marks "no player" for wentOutSeat and similar fields.
	NoSeat = -1
)

// HandSize 第 r 轮手牌数量: r+2。
func HandSize(round int) int {
	return round + 2
}

// Player holds per-seat state. Hand order is insertion order (draws appended)
// so that replay is deterministic; clients may present any order they like.
type Player struct {
	UserID int64
	Seat   int

	Hand       card.CardList
	Melds      []Meld
	Score      int
	HasGoneOut bool

	tookFinalTurn bool
}
