// Package game implements the per-room state machine for the storytelling
// card game: membership, moderation, round flow, voting, and scoring.
package game

import (
	"errors"
	"math/rand"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

const (
	// HandSize is the number of cards every player holds at round start.
	HandSize = 6

	// MinPlayers is the minimum player count to run a round.
	MinPlayers = 3

	// MaxJoiningPlayers caps how many players may join before the game starts.
	MaxJoiningPlayers = 8

	// DefaultMaxMembers caps players plus observers per room.
	DefaultMaxMembers = 16

	// MaxNameLength bounds a member's display name.
	MaxNameLength = 30

	// moderatorAbsencePromotionDelay is how long a room tolerates having no
	// connected moderator before promoting a random connected member.
	moderatorAbsencePromotionDelay = 5 * 60 * time.Second
)

// mailboxCapacity bounds each session's outbound queue. Sends never block a
// room transition; a slow consumer misses intermediate updates and recovers
// from the next self-sufficient room-state broadcast.
const mailboxCapacity = 16

// Sentinel errors surfaced to the session layer during join.
var (
	ErrEmptyName       = errors.New("Name cannot be empty")
	ErrNameTooLong     = errors.New("Name is too long")
	ErrEmptyToken      = errors.New("Token cannot be empty")
	ErrNameTaken       = errors.New("Name already taken")
	ErrRoomFull        = errors.New("Room is full")
	ErrTooManyPlayers  = errors.New("Too many players!")
	ErrGameEnded       = errors.New("Game has ended")
	ErrMidgameDisabled = errors.New("Game has already started")
)

// nowS returns the current unix time in seconds.
func nowS() int64 {
	return time.Now().Unix()
}

// Room is one game instance. All state mutations run under mu; methods with
// the Locked suffix require it to be held.
type Room struct {
	mu sync.Mutex

	roomID  string
	creator string // empty = none

	moderators                 map[string]struct{}
	noConnectedModeratorSince  int64 // unix seconds, 0 = a moderator is connected
	removedPlayers             map[string]struct{}
	players                    map[string]*PlayerInfo
	observers                  map[string]*ObserverInfo
	playerHand                 map[string][]string
	deck                       []string
	discardPile                []string
	stage                      Stage
	round                      uint16
	playerOrder                []string
	activePlayer               int // index into playerOrder
	currentDescription         string
	playerToCurrentCard        map[string]string
	playerToVote               map[string]string
	centerCards                []string // shuffled once per voting transition
	nameTokens                 map[string]string
	connectionGeneration       map[string]uint64
	nextGeneration             uint64
	allowNewPlayersMidgame     bool
	pausedReason               string // empty = not paused
	winCondition               WinCondition
	maxMembers                 int
	deckRefillCount            uint32

	// One outbound queue per connected member, keyed by name. Carries both
	// room-wide broadcasts and private views so per-name ordering matches
	// the order transitions produced them.
	mailboxes map[string]chan []byte

	baseDeck   []string
	lastAccess atomic.Int64
}

// NewRoom creates an empty room in the Joining stage.
func NewRoom(roomID string, baseDeck []string, winCondition WinCondition, creator string) *Room {
	deck := make([]string, len(baseDeck))
	copy(deck, baseDeck)

	r := &Room{
		roomID:                 roomID,
		creator:                creator,
		moderators:             make(map[string]struct{}),
		removedPlayers:         make(map[string]struct{}),
		players:                make(map[string]*PlayerInfo),
		observers:              make(map[string]*ObserverInfo),
		playerHand:             make(map[string][]string),
		deck:                   deck,
		stage:                  StageJoining,
		playerToCurrentCard:    make(map[string]string),
		playerToVote:           make(map[string]string),
		nameTokens:             make(map[string]string),
		connectionGeneration:   make(map[string]uint64),
		allowNewPlayersMidgame: true,
		winCondition:           winCondition,
		maxMembers:             DefaultMaxMembers,
		mailboxes:              make(map[string]chan []byte),
		baseDeck:               baseDeck,
	}
	r.lastAccess.Store(nowS())
	return r
}

// ID returns the room code.
func (r *Room) ID() string {
	return r.roomID
}

// NumActive returns the number of attached sessions.
func (r *Room) NumActive() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.mailboxes)
}

// LastAccess returns the unix second of the most recent activity.
func (r *Room) LastAccess() int64 {
	return r.lastAccess.Load()
}

func (r *Room) touch() {
	r.lastAccess.Store(nowS())
}

// Snapshot returns the current public room state.
func (r *Room) Snapshot() RoomStatePayload {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.roomStateLocked()
}

// RunMaintenance performs the periodic moderator-promotion check.
func (r *Room) RunMaintenance() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.maybePromoteModeratorLocked() {
		r.broadcastLocked(ServerMsg{RoomState: r.roomStatePtrLocked()})
	}
}

func (r *Room) isCreatorLocked(name string) bool {
	return r.creator != "" && r.creator == name
}

func (r *Room) isMemberLocked(name string) bool {
	if _, ok := r.players[name]; ok {
		return true
	}
	_, ok := r.observers[name]
	return ok
}

func (r *Room) isModeratorLocked(name string) bool {
	if !r.isMemberLocked(name) {
		return false
	}
	_, ok := r.moderators[name]
	return ok
}

// cleanModeratorsLocked drops moderators who are no longer members and
// re-inserts the creator while present.
func (r *Room) cleanModeratorsLocked() {
	for name := range r.moderators {
		if !r.isMemberLocked(name) {
			delete(r.moderators, name)
		}
	}

	if r.creator != "" && r.isMemberLocked(r.creator) {
		r.moderators[r.creator] = struct{}{}
	}
}

func (r *Room) hasConnectedModeratorLocked() bool {
	for name := range r.moderators {
		if p, ok := r.players[name]; ok && p.Connected {
			return true
		}
		if o, ok := r.observers[name]; ok && o.Connected {
			return true
		}
	}
	return false
}

// maybePromoteModeratorLocked promotes a random connected non-moderator once
// the room has had no connected moderator for the promotion delay. Returns
// true when a promotion happened.
func (r *Room) maybePromoteModeratorLocked() bool {
	r.cleanModeratorsLocked()

	if r.hasConnectedModeratorLocked() {
		r.noConnectedModeratorSince = 0
		return false
	}

	now := nowS()
	if r.noConnectedModeratorSince == 0 {
		r.noConnectedModeratorSince = now
	}
	if now-r.noConnectedModeratorSince < int64(moderatorAbsencePromotionDelay/time.Second) {
		return false
	}

	var candidates []string
	for name, p := range r.players {
		if p.Connected {
			if _, isMod := r.moderators[name]; !isMod {
				candidates = append(candidates, name)
			}
		}
	}
	for name, o := range r.observers {
		if o.Connected {
			if _, isMod := r.moderators[name]; !isMod {
				candidates = append(candidates, name)
			}
		}
	}

	if len(candidates) == 0 {
		return false
	}

	sort.Strings(candidates)
	promoted := candidates[rand.Intn(len(candidates))]
	r.moderators[promoted] = struct{}{}
	r.noConnectedModeratorSince = 0
	return true
}

// broadcastLocked fans a message out to every attached session. Sends are
// non-blocking: a full mailbox drops the message rather than stalling the
// room.
func (r *Room) broadcastLocked(msg ServerMsg) {
	raw := msg.Encode()
	for _, mailbox := range r.mailboxes {
		select {
		case mailbox <- raw:
		default:
		}
	}
}

// sendToLocked delivers a private message to one member if their mailbox is
// still attached.
func (r *Room) sendToLocked(name string, msg ServerMsg) {
	mailbox, ok := r.mailboxes[name]
	if !ok {
		return
	}
	select {
	case mailbox <- msg.Encode():
	default:
	}
}

func (r *Room) broadcastRoomStateLocked() {
	r.broadcastLocked(ServerMsg{RoomState: r.roomStatePtrLocked()})
}

// updateMemberGaugeLocked mirrors the current membership into prometheus.
func (r *Room) updateMemberGaugeLocked() {
	metrics.RoomMembers.WithLabelValues(r.roomID).Set(float64(len(r.players) + len(r.observers)))
}

func (r *Room) clearReadyLocked() {
	for _, p := range r.players {
		p.Ready = false
	}
}

func (r *Room) roomStatePtrLocked() *RoomStatePayload {
	state := r.roomStateLocked()
	return &state
}

func (r *Room) roomStateLocked() RoomStatePayload {
	players := make(map[string]PlayerInfo, len(r.players))
	for name, p := range r.players {
		players[name] = *p
	}

	observers := make(map[string]ObserverInfo, len(r.observers))
	for name, o := range r.observers {
		observers[name] = *o
	}

	moderators := make([]string, 0, len(r.moderators))
	for name := range r.moderators {
		moderators = append(moderators, name)
	}
	sort.Strings(moderators)

	var creator *string
	if r.creator != "" {
		c := r.creator
		creator = &c
	}

	var activePlayer *string
	if r.activePlayer < len(r.playerOrder) {
		name := r.playerOrder[r.activePlayer]
		activePlayer = &name
	}

	var pausedReason *string
	if r.pausedReason != "" {
		reason := r.pausedReason
		pausedReason = &reason
	}

	playerOrder := make([]string, len(r.playerOrder))
	copy(playerOrder, r.playerOrder)

	return RoomStatePayload{
		RoomID:                 r.roomID,
		Players:                players,
		Observers:              observers,
		Creator:                creator,
		Moderators:             moderators,
		Stage:                  r.stage,
		ActivePlayer:           activePlayer,
		PlayerOrder:            playerOrder,
		Round:                  r.round,
		CardsRemaining:         uint32(len(r.deck)),
		DeckRefillCount:        r.deckRefillCount,
		WinCondition:           r.winCondition,
		AllowNewPlayersMidgame: r.allowNewPlayersMidgame,
		PausedReason:           pausedReason,
	}
}

// activePlayerNameLocked returns the storyteller's name, or "" before the
// first round.
func (r *Room) activePlayerNameLocked() string {
	if r.activePlayer < len(r.playerOrder) {
		return r.playerOrder[r.activePlayer]
	}
	return ""
}

// stageMsgForLocked builds the stage-private view for one member. ok is
// false when the stage has no private view for that member.
func (r *Room) stageMsgForLocked(name string) (ServerMsg, bool) {
	switch r.stage {
	case StageActiveChooses:
		hand, ok := r.playerHand[name]
		if !ok {
			return ServerMsg{}, false
		}
		return ServerMsg{StartRound: &StartRoundPayload{Hand: copyCards(hand)}}, true

	case StagePlayersChoose:
		hand, ok := r.playerHand[name]
		if !ok {
			return ServerMsg{}, false
		}
		return ServerMsg{PlayersChoose: &PlayersChoosePayload{
			Description: r.currentDescription,
			Hand:        copyCards(hand),
		}}, true

	case StageVoting:
		var disabled *string
		if name != r.activePlayerNameLocked() {
			if card, ok := r.playerToCurrentCard[name]; ok {
				disabled = &card
			}
		}
		return ServerMsg{BeginVoting: &BeginVotingPayload{
			CenterCards:  copyCards(r.centerCards),
			Description:  r.currentDescription,
			DisabledCard: disabled,
		}}, true

	case StageResults:
		results, err := r.resultsPayloadLocked()
		if err != nil {
			return ServerMsg{}, false
		}
		return ServerMsg{Results: results}, true

	case StageEnd:
		return endGameMsg(), true
	}

	return ServerMsg{}, false
}

// shuffleCenterCardsLocked collects all submitted cards in random order.
func (r *Room) shuffleCenterCardsLocked() []string {
	cards := make([]string, 0, len(r.playerToCurrentCard))
	for _, card := range r.playerToCurrentCard {
		cards = append(cards, card)
	}
	sort.Strings(cards)
	rand.Shuffle(len(cards), func(i, j int) {
		cards[i], cards[j] = cards[j], cards[i]
	})
	return cards
}

func copyCards(cards []string) []string {
	out := make([]string, len(cards))
	copy(out, cards)
	return out
}
