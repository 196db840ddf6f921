package game

import (
	"errors"
	"math/rand"
	"sort"
)

const pausedNotEnoughPlayers = "Not enough players to continue"

// errDeckExhausted signals that dealing could not complete even after a
// refill attempt. It indicates corrupted card accounting and is fatal for
// the session that triggered it.
var errDeckExhausted = errors.New("not enough cards in the deck")

// observerFloorScoreLocked returns the minimum current player score, falling
// back to the minimum observer score, or 0 for an empty room. Promoted
// observers never enter below this floor.
func (r *Room) observerFloorScoreLocked() uint16 {
	found := false
	var floor uint16
	for _, p := range r.players {
		if !found || p.Points < floor {
			floor = p.Points
			found = true
		}
	}
	if found {
		return floor
	}
	for _, o := range r.observers {
		if !found || o.Points < floor {
			floor = o.Points
			found = true
		}
	}
	return floor
}

// promoteObserversLocked moves every observer who asked (or was queued) to
// play into the player set. Runs at the top of every round initialization.
func (r *Room) promoteObserversLocked() {
	var promoting []string
	for name, o := range r.observers {
		if o.AutoJoinOnNextRound || o.JoinRequested {
			promoting = append(promoting, name)
		}
	}
	if len(promoting) == 0 {
		return
	}
	sort.Strings(promoting)

	floor := r.observerFloorScoreLocked()
	for _, name := range promoting {
		o := r.observers[name]
		points := o.Points
		if points < floor {
			points = floor
		}
		delete(r.observers, name)
		r.players[name] = &PlayerInfo{
			Connected: o.Connected,
			Points:    points,
		}
	}
	r.cleanModeratorsLocked()
}

// syncPlayerOrderLocked reconciles playerOrder with the player set: departed
// names are dropped keeping relative order, newcomers appended in sorted
// order, and activePlayer clamped.
func (r *Room) syncPlayerOrderLocked() {
	kept := r.playerOrder[:0]
	seen := make(map[string]struct{}, len(r.playerOrder))
	for _, name := range r.playerOrder {
		if _, ok := r.players[name]; ok {
			kept = append(kept, name)
			seen[name] = struct{}{}
		}
	}
	r.playerOrder = kept

	var newcomers []string
	for name := range r.players {
		if _, ok := seen[name]; !ok {
			newcomers = append(newcomers, name)
		}
	}
	sort.Strings(newcomers)
	r.playerOrder = append(r.playerOrder, newcomers...)

	if r.activePlayer >= len(r.playerOrder) {
		r.activePlayer = 0
	}
}

// refillDeckLocked rebuilds the draw pile, preferring the discard pile.
// The base-deck fallback exists for histories where discard tracking was
// unavailable; it subtracts every card currently held in hands.
func (r *Room) refillDeckLocked() {
	if len(r.discardPile) > 0 {
		refill := r.discardPile
		r.discardPile = nil
		rand.Shuffle(len(refill), func(i, j int) {
			refill[i], refill[j] = refill[j], refill[i]
		})
		r.deck = append(r.deck, refill...)
	} else {
		inHands := make(map[string]int)
		for _, hand := range r.playerHand {
			for _, card := range hand {
				inHands[card]++
			}
		}

		deck := make([]string, 0, len(r.baseDeck))
		for _, card := range r.baseDeck {
			if inHands[card] > 0 {
				inHands[card]--
				continue
			}
			deck = append(deck, card)
		}
		r.deck = deck
		rand.Shuffle(len(r.deck), func(i, j int) {
			r.deck[i], r.deck[j] = r.deck[j], r.deck[i]
		})
	}

	r.deckRefillCount++
}

// checkDeckLocked refills the draw pile when it cannot cover one card per
// player. CardsFinish games never refill; exhaustion ends them instead.
func (r *Room) checkDeckLocked() bool {
	if len(r.deck) >= len(r.playerOrder) {
		return false
	}
	if r.winCondition.Mode == WinModeCardsFinish {
		return false
	}
	r.refillDeckLocked()
	return true
}

// drawCardLocked pops the next card, refilling mid-deal when the pile runs
// dry. Returns errDeckExhausted under CardsFinish (caller ends the game) or
// when even a refill cannot produce a card.
func (r *Room) drawCardLocked() (string, error) {
	if len(r.deck) == 0 {
		if r.winCondition.Mode == WinModeCardsFinish {
			return "", errDeckExhausted
		}
		r.refillDeckLocked()
		if len(r.deck) == 0 {
			return "", errDeckExhausted
		}
	}

	card := r.deck[len(r.deck)-1]
	r.deck = r.deck[:len(r.deck)-1]
	return card, nil
}

// enterPausedLocked halts the round, discarding round artifacts but keeping
// the round counter, hands, and scores.
func (r *Room) enterPausedLocked(reason string) {
	r.stage = StagePaused
	r.pausedReason = reason
	r.playerToCurrentCard = make(map[string]string)
	r.playerToVote = make(map[string]string)
	r.centerCards = nil
	r.currentDescription = ""
	r.clearReadyLocked()
}

// initRoundLocked starts the next round: promotes waiting observers, rotates
// the storyteller, refills and deals hands, and notifies every player.
func (r *Room) initRoundLocked() error {
	return r.startRoundLocked(true)
}

// restartRoundLocked re-runs the current round number from the first seat,
// used when the storyteller departs mid-round.
func (r *Room) restartRoundLocked() error {
	r.activePlayer = 0
	return r.startRoundLocked(false)
}

func (r *Room) startRoundLocked(advance bool) error {
	r.promoteObserversLocked()

	if len(r.players) < MinPlayers {
		r.enterPausedLocked(pausedNotEnoughPlayers)
		r.broadcastRoomStateLocked()
		return nil
	}

	r.syncPlayerOrderLocked()

	isFirstRound := r.round == 0
	if advance {
		if isFirstRound {
			r.activePlayer = 0
			rand.Shuffle(len(r.playerOrder), func(i, j int) {
				r.playerOrder[i], r.playerOrder[j] = r.playerOrder[j], r.playerOrder[i]
			})
		} else {
			r.checkDeckLocked()
			r.activePlayer = (r.activePlayer + 1) % len(r.playerOrder)
		}
	} else {
		r.checkDeckLocked()
	}

	rand.Shuffle(len(r.deck), func(i, j int) {
		r.deck[i], r.deck[j] = r.deck[j], r.deck[i]
	})

	r.playerToCurrentCard = make(map[string]string)
	r.playerToVote = make(map[string]string)
	r.centerCards = nil
	r.currentDescription = ""
	r.pausedReason = ""

	// Hands of departed players were discarded on removal; drop any strays.
	for name := range r.playerHand {
		if _, ok := r.players[name]; !ok {
			delete(r.playerHand, name)
		}
	}

	for _, name := range r.playerOrder {
		for len(r.playerHand[name]) < HandSize {
			card, err := r.drawCardLocked()
			if err != nil {
				if r.winCondition.Mode == WinModeCardsFinish {
					r.stage = StageEnd
					r.broadcastLocked(endGameMsg())
					r.broadcastRoomStateLocked()
					return nil
				}
				return err
			}
			r.playerHand[name] = append(r.playerHand[name], card)
		}
	}

	if advance {
		r.round++
	}
	r.stage = StageActiveChooses
	r.clearReadyLocked()

	for _, name := range r.playerOrder {
		if msg, ok := r.stageMsgForLocked(name); ok {
			r.sendToLocked(name, msg)
		}
	}
	r.broadcastRoomStateLocked()

	return nil
}

// dealHandLocked deals a full hand to one player, used for mid-game joins.
func (r *Room) dealHandLocked(name string) error {
	for len(r.playerHand[name]) < HandSize {
		card, err := r.drawCardLocked()
		if err != nil {
			return err
		}
		r.playerHand[name] = append(r.playerHand[name], card)
	}
	return nil
}
