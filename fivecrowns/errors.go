package fivecrowns

import "errors"

// RuleError is a stable machine-readable code for a rejected command. Rule
// errors go back to the issuing socket only and never mutate game state.
type RuleError string

func (e RuleError) Error() string { return string(e) }

const (
	ErrNotYourTurn    RuleError = "not_your_turn"
	ErrWrongPhase     RuleError = "wrong_phase"
	ErrInvalidMeld    RuleError = "invalid_meld"
	ErrCardNotInHand  RuleError = "card_not_in_hand"
	ErrCannotExtend   RuleError = "cannot_extend_meld"
	ErrCannotGoOut    RuleError = "cannot_go_out"
	ErrFinalTurnPhase RuleError = "final_turn_phase"
	ErrGameNotActive  RuleError = "game_not_active"
	ErrNotInGame      RuleError = "not_in_game"
	ErrMeldNotFound   RuleError = "meld_not_found"
	ErrStockEmpty     RuleError = "stock_empty"
	ErrDiscardEmpty   RuleError = "discard_empty"
)

var (
	ErrGameFull      = errors.New("game is full")
	ErrAlreadyInGame = errors.New("user already in game")
	ErrNotInLobby    = errors.New("game is not in lobby")
	ErrNotEnough     = errors.New("not enough players")
)

type InvalidStateError string

func (e InvalidStateError) Error() string { return "invalid state: " + string(e) }

func ErrInvalidState(msg string) error { return InvalidStateError(msg) }
