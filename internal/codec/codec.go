// Package codec defines the JSON wire protocol shared by the websocket
// gateway and the clients: cmd.* envelopes inbound, evt.* envelopes outbound.
// Cards travel as two-character codes ("H7", "TX", "JK").
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/jbbjarnason/fivesuitsrummy/card"
	"github.com/jbbjarnason/fivesuitsrummy/fivecrowns"
)

// Inbound command types.
const (
	CmdHello     = "cmd.hello"
	CmdJoinGame  = "cmd.joinGame"
	CmdLeaveGame = "cmd.leaveGame"
	CmdStartGame = "cmd.startGame"
	CmdDraw      = "cmd.draw"
	CmdLayMelds  = "cmd.layMelds"
	CmdLayOff    = "cmd.layOff"
	CmdDiscard   = "cmd.discard"
	CmdGoOut     = "cmd.goOut"
)

// Outbound event types.
const (
	EvtHello        = "evt.hello"
	EvtState        = "evt.state"
	EvtError        = "evt.error"
	EvtNotification = "evt.notification"
	EvtGameDeleted  = "evt.gameDeleted"
)

// Envelope is the outer frame of every wire message. ClientSeq is chosen by
// the client and echoed back on evt.error so commands can be correlated.
type Envelope struct {
	Type      string          `json:"type"`
	ClientSeq int64           `json:"clientSeq,omitempty"`
	Data      json.RawMessage `json:"data,omitempty"`
}

type HelloCmd struct {
	Token string `json:"token"`
}

type JoinGameCmd struct {
	GameID string `json:"gameId"`
}

type DrawCmd struct {
	// "stock" or "discard"
	Source string `json:"source"`
}

type WireMeld struct {
	Type  string   `json:"type"` // "run" or "book"
	Cards []string `json:"cards"`
}

type LayMeldsCmd struct {
	Melds []WireMeld `json:"melds"`
}

type LayOffCmd struct {
	TargetSeat int      `json:"targetSeat"`
	MeldIndex  int      `json:"meldIndex"`
	Cards      []string `json:"cards"`
}

type DiscardCmd struct {
	Card string `json:"card"`
}

type GoOutCmd struct {
	Melds   []WireMeld `json:"melds"`
	Discard string     `json:"discard"`
}

// UnknownTypeError reports an envelope whose type the server does not speak.
type UnknownTypeError struct {
	Type string
}

func (e *UnknownTypeError) Error() string {
	return fmt.Sprintf("unknown message type %q", e.Type)
}

// DecodeCommand parses one inbound frame. The returned payload is the typed
// command struct for env.Type; commands without a body (leaveGame, startGame)
// return a nil payload.
func DecodeCommand(data []byte) (env Envelope, payload any, err error) {
	if err = json.Unmarshal(data, &env); err != nil {
		return env, nil, fmt.Errorf("malformed envelope: %w", err)
	}

	switch env.Type {
	case CmdHello:
		payload = &HelloCmd{}
	case CmdJoinGame:
		payload = &JoinGameCmd{}
	case CmdDraw:
		payload = &DrawCmd{}
	case CmdLayMelds:
		payload = &LayMeldsCmd{}
	case CmdLayOff:
		payload = &LayOffCmd{}
	case CmdDiscard:
		payload = &DiscardCmd{}
	case CmdGoOut:
		payload = &GoOutCmd{}
	case CmdLeaveGame, CmdStartGame:
		return env, nil, nil
	default:
		return env, nil, &UnknownTypeError{Type: env.Type}
	}

	if len(env.Data) > 0 {
		if err = json.Unmarshal(env.Data, payload); err != nil {
			return env, nil, fmt.Errorf("malformed %s payload: %w", env.Type, err)
		}
	}
	return env, payload, nil
}

// EncodeEvent wraps payload into an evt.* envelope and marshals it.
func EncodeEvent(typ string, payload any) ([]byte, error) {
	data, err := json.Marshal(payload)
	if err != nil {
		return nil, err
	}
	return json.Marshal(Envelope{Type: typ, Data: data})
}

type HelloEvt struct {
	UserID int64 `json:"userId"`
}

type ErrorEvt struct {
	Code      string `json:"code"`
	Message   string `json:"message,omitempty"`
	ClientSeq int64  `json:"clientSeq,omitempty"`
}

type NotificationEvt struct {
	ID        int64  `json:"id"`
	Kind      string `json:"kind"`
	Payload   any    `json:"payload,omitempty"`
	CreatedAt int64  `json:"createdAt"`
}

type GameDeletedEvt struct {
	GameID string `json:"gameId"`
}

// ToMeld converts a wire meld to an engine meld.
func (w WireMeld) ToMeld() (fivecrowns.Meld, error) {
	var mt fivecrowns.MeldType
	switch w.Type {
	case "run":
		mt = fivecrowns.MeldRun
	case "book":
		mt = fivecrowns.MeldBook
	default:
		return fivecrowns.Meld{}, fmt.Errorf("unknown meld type %q", w.Type)
	}
	cards, err := card.ParseAll(w.Cards)
	if err != nil {
		return fivecrowns.Meld{}, err
	}
	return fivecrowns.Meld{Type: mt, Cards: cards}, nil
}

// ToMelds converts a wire meld list, failing on the first bad entry.
func ToMelds(ws []WireMeld) ([]fivecrowns.Meld, error) {
	melds := make([]fivecrowns.Meld, 0, len(ws))
	for _, w := range ws {
		m, err := w.ToMeld()
		if err != nil {
			return nil, err
		}
		melds = append(melds, m)
	}
	return melds, nil
}

func fromMeld(m fivecrowns.MeldSnapshot) WireMeld {
	return WireMeld{
		Type:  fivecrowns.MeldTypeDictionary[m.Type],
		Cards: card.Codes(m.Cards),
	}
}
