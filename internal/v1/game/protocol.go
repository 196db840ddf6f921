package game

import (
	"encoding/json"
	"errors"
	"fmt"
)

// Stage is the phase of the room state machine.
type Stage string

const (
	// StageJoining waits for players to join with the room code.
	StageJoining Stage = "Joining"
	// StageActiveChooses has the active player pick a card and description.
	StageActiveChooses Stage = "ActiveChooses"
	// StagePlayersChoose has the other players submit matching cards.
	StagePlayersChoose Stage = "PlayersChoose"
	// StageVoting has players vote on the active player's card.
	StageVoting Stage = "Voting"
	// StageResults shows the computed scores; loops back to ActiveChooses.
	StageResults Stage = "Results"
	// StagePaused halts the round until enough players return.
	StagePaused Stage = "Paused"
	// StageEnd is terminal.
	StageEnd Stage = "End"
)

// Win condition modes.
const (
	WinModePoints      = "points"
	WinModeCycles      = "cycles"
	WinModeCardsFinish = "cards_finish"
)

// WinCondition configures when a game ends.
type WinCondition struct {
	Mode         string `json:"mode"`
	TargetPoints uint16 `json:"target_points,omitempty"`
	TargetCycles uint16 `json:"target_cycles,omitempty"`
}

// Validate rejects unknown modes and zero targets.
func (w WinCondition) Validate() error {
	switch w.Mode {
	case WinModePoints:
		if w.TargetPoints < 1 {
			return errors.New("target_points must be at least 1")
		}
	case WinModeCycles:
		if w.TargetCycles < 1 {
			return errors.New("target_cycles must be at least 1")
		}
	case WinModeCardsFinish:
	default:
		return fmt.Errorf("unknown win condition mode %q", w.Mode)
	}
	return nil
}

// PlayerInfo is the public view of a player.
type PlayerInfo struct {
	Connected bool   `json:"connected"`
	Points    uint16 `json:"points"`
	// Ready is stage-specific and reset on every stage change.
	Ready bool `json:"ready"`
}

// ObserverInfo is the public view of a member sitting out rounds.
type ObserverInfo struct {
	Connected bool   `json:"connected"`
	Points    uint16 `json:"points"`
	// JoinRequested is set by an explicit request to play next round.
	JoinRequested bool `json:"join_requested"`
	// AutoJoinOnNextRound is set when the member was forced to observe
	// because they arrived mid-vote.
	AutoJoinOnNextRound bool `json:"auto_join_on_next_round"`
}

// EmptyPayload marks message variants that carry no data.
type EmptyPayload struct{}

// RoomStatePayload is the self-sufficient room snapshot included in every
// broadcast; a client that missed intermediate updates can always recover
// from the latest one.
type RoomStatePayload struct {
	RoomID                 string                  `json:"room_id"`
	Players                map[string]PlayerInfo   `json:"players"`
	Observers              map[string]ObserverInfo `json:"observers"`
	Creator                *string                 `json:"creator"`
	Moderators             []string                `json:"moderators"`
	Stage                  Stage                   `json:"stage"`
	ActivePlayer           *string                 `json:"active_player"`
	PlayerOrder            []string                `json:"player_order"`
	Round                  uint16                  `json:"round"`
	CardsRemaining         uint32                  `json:"cards_remaining"`
	DeckRefillCount        uint32                  `json:"deck_refill_count"`
	WinCondition           WinCondition            `json:"win_condition"`
	AllowNewPlayersMidgame bool                    `json:"allow_new_players_midgame"`
	PausedReason           *string                 `json:"paused_reason"`
}

// StartRoundPayload carries a player's private hand at round start.
type StartRoundPayload struct {
	Hand []string `json:"hand"`
}

// PlayersChoosePayload carries the description plus the recipient's hand.
type PlayersChoosePayload struct {
	Description string   `json:"description"`
	Hand        []string `json:"hand"`
}

// BeginVotingPayload carries the shuffled center cards. DisabledCard is the
// recipient's own submission (nil for the active player).
type BeginVotingPayload struct {
	CenterCards  []string `json:"center_cards"`
	Description  string   `json:"description"`
	DisabledCard *string  `json:"disabled_card"`
}

// ResultsPayload reveals votes, submissions, and the round's point changes.
type ResultsPayload struct {
	PlayerToVote        map[string]string `json:"player_to_vote"`
	PlayerToCurrentCard map[string]string `json:"player_to_current_card"`
	ActiveCard          string            `json:"active_card"`
	PointChange         map[string]uint16 `json:"point_change"`
}

// ReasonPayload carries a human-readable reason for an ejection.
type ReasonPayload struct {
	Reason string `json:"reason"`
}

// ServerMsg is a server-to-client message. Exactly one field is set; the
// field name is the wire tag.
type ServerMsg struct {
	RoomState     *RoomStatePayload     `json:"RoomState,omitempty"`
	StartRound    *StartRoundPayload    `json:"StartRound,omitempty"`
	PlayersChoose *PlayersChoosePayload `json:"PlayersChoose,omitempty"`
	BeginVoting   *BeginVotingPayload   `json:"BeginVoting,omitempty"`
	Results       *ResultsPayload       `json:"Results,omitempty"`
	ErrorMsg      *string               `json:"ErrorMsg,omitempty"`
	LeftRoom      *ReasonPayload        `json:"LeftRoom,omitempty"`
	Kicked        *ReasonPayload        `json:"Kicked,omitempty"`
	InvalidRoomID *EmptyPayload         `json:"InvalidRoomId,omitempty"`
	EndGame       *EmptyPayload         `json:"EndGame,omitempty"`
}

// Encode serializes the message to a JSON text frame.
func (m ServerMsg) Encode() []byte {
	raw, err := json.Marshal(m)
	if err != nil {
		// All payloads are plain data; this cannot fail at runtime.
		panic(fmt.Sprintf("failed to serialize server message: %v", err))
	}
	return raw
}

func errorMsg(text string) ServerMsg {
	return ServerMsg{ErrorMsg: &text}
}

func leftRoomMsg(reason string) ServerMsg {
	return ServerMsg{LeftRoom: &ReasonPayload{Reason: reason}}
}

func kickedMsg(reason string) ServerMsg {
	return ServerMsg{Kicked: &ReasonPayload{Reason: reason}}
}

func endGameMsg() ServerMsg {
	return ServerMsg{EndGame: &EmptyPayload{}}
}

// InvalidRoomIDMsg is sent when a join names a room that does not exist.
func InvalidRoomIDMsg() ServerMsg {
	return ServerMsg{InvalidRoomID: &EmptyPayload{}}
}

// ErrorServerMsg wraps a human-readable error for delivery to one client.
func ErrorServerMsg(text string) ServerMsg {
	return errorMsg(text)
}

// JoinRoomPayload is the required first frame on every connection.
type JoinRoomPayload struct {
	RoomID string `json:"room_id"`
	Name   string `json:"name"`
	Token  string `json:"token"`
}

// KickPlayerPayload names the member to eject.
type KickPlayerPayload struct {
	Player string `json:"player"`
}

// SetModeratorPayload grants or revokes moderator privileges.
type SetModeratorPayload struct {
	Player  string `json:"player"`
	Enabled bool   `json:"enabled"`
}

// SetObserverPayload converts a player to observer (enabled) or flags an
// observer's request to rejoin play (disabled).
type SetObserverPayload struct {
	Player  string `json:"player"`
	Enabled bool   `json:"enabled"`
}

// SetAllowMidgameJoinPayload toggles whether new players may join mid-game.
type SetAllowMidgameJoinPayload struct {
	Enabled bool `json:"enabled"`
}

// ActivePlayerChooseCardPayload is the storyteller's card and description.
type ActivePlayerChooseCardPayload struct {
	Card        string `json:"card"`
	Description string `json:"description"`
}

// PlayerChooseCardPayload is a non-active player's matching card.
type PlayerChooseCardPayload struct {
	Card string `json:"card"`
}

// VotePayload is a vote for one of the center cards.
type VotePayload struct {
	Card string `json:"card"`
}

// ClientMsg is a client-to-server message. Exactly one field is set; the
// field name is the wire tag.
type ClientMsg struct {
	JoinRoom                *JoinRoomPayload               `json:"JoinRoom,omitempty"`
	Ready                   *EmptyPayload                  `json:"Ready,omitempty"`
	StartGame               *EmptyPayload                  `json:"StartGame,omitempty"`
	LeaveRoom               *EmptyPayload                  `json:"LeaveRoom,omitempty"`
	KickPlayer              *KickPlayerPayload             `json:"KickPlayer,omitempty"`
	SetModerator            *SetModeratorPayload           `json:"SetModerator,omitempty"`
	SetObserver             *SetObserverPayload            `json:"SetObserver,omitempty"`
	SetAllowMidgameJoin     *SetAllowMidgameJoinPayload    `json:"SetAllowMidgameJoin,omitempty"`
	ResumeGame              *EmptyPayload                  `json:"ResumeGame,omitempty"`
	RequestJoinFromObserver *EmptyPayload                  `json:"RequestJoinFromObserver,omitempty"`
	ActivePlayerChooseCard  *ActivePlayerChooseCardPayload `json:"ActivePlayerChooseCard,omitempty"`
	PlayerChooseCard        *PlayerChooseCardPayload       `json:"PlayerChooseCard,omitempty"`
	Vote                    *VotePayload                   `json:"Vote,omitempty"`
	Ping                    *EmptyPayload                  `json:"Ping,omitempty"`
}

// ParseClientMsg decodes a JSON text frame into a client message.
func ParseClientMsg(raw []byte) (ClientMsg, error) {
	var msg ClientMsg
	if err := json.Unmarshal(raw, &msg); err != nil {
		return ClientMsg{}, fmt.Errorf("failed to deserialize client message: %w", err)
	}
	return msg, nil
}
