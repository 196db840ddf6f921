package game

import (
	"errors"
	"math/rand"
)

// errActiveCardMissing indicates the storyteller's submission vanished from
// round state, which should be unreachable.
var errActiveCardMissing = errors.New("active player's card is missing")

// initVotingLocked moves the room into Voting: auto-submits for players who
// never chose, moves all submitted cards from hands to the discard pile, and
// sends each player the shuffled center cards.
func (r *Room) initVotingLocked() {
	r.stage = StageVoting

	// Auto-pick for players who missed the implicit deadline.
	for _, name := range r.playerOrder {
		if _, ok := r.playerToCurrentCard[name]; ok {
			continue
		}
		hand := r.playerHand[name]
		if len(hand) == 0 {
			continue
		}
		r.playerToCurrentCard[name] = hand[rand.Intn(len(hand))]
	}

	r.clearReadyLocked()

	// Submitted cards leave hands for the discard pile, each at most once.
	moved := make(map[string]struct{})
	for name, card := range r.playerToCurrentCard {
		hand := r.playerHand[name]
		for i, held := range hand {
			if held == card {
				r.playerHand[name] = append(hand[:i], hand[i+1:]...)
				if _, dup := moved[card]; !dup {
					moved[card] = struct{}{}
					r.discardPile = append(r.discardPile, card)
				}
				break
			}
		}
	}

	// One shuffle per transition; every recipient sees the same order.
	r.centerCards = r.shuffleCenterCardsLocked()

	for _, name := range r.playerOrder {
		if msg, ok := r.stageMsgForLocked(name); ok {
			r.sendToLocked(name, msg)
		}
	}
	r.broadcastRoomStateLocked()
}

// initResultsLocked moves the room into Results: auto-votes for players who
// never voted, applies the round's point changes, and reveals everything.
func (r *Room) initResultsLocked() error {
	r.stage = StageResults

	center := r.centerCards
	if len(center) == 0 {
		center = r.shuffleCenterCardsLocked()
	}
	active := r.activePlayerNameLocked()

	// Auto-vote for non-active players who missed the implicit deadline.
	// A player can never land on their own card.
	for _, name := range r.playerOrder {
		if name == active {
			continue
		}
		if _, ok := r.playerToVote[name]; ok {
			continue
		}

		own := r.playerToCurrentCard[name]
		candidates := make([]string, 0, len(center))
		for _, card := range center {
			if card != own {
				candidates = append(candidates, card)
			}
		}
		if len(candidates) == 0 {
			continue
		}
		r.playerToVote[name] = candidates[rand.Intn(len(candidates))]
	}

	pointChange, err := r.computeResultsLocked()
	if err != nil {
		return err
	}

	for name, points := range pointChange {
		if p, ok := r.players[name]; ok {
			p.Points += points
		}
	}

	r.clearReadyLocked()

	results, err := r.resultsPayloadLocked()
	if err != nil {
		return err
	}
	r.broadcastLocked(ServerMsg{Results: results})
	r.broadcastRoomStateLocked()

	return nil
}

func (r *Room) resultsPayloadLocked() (*ResultsPayload, error) {
	active := r.activePlayerNameLocked()
	activeCard, ok := r.playerToCurrentCard[active]
	if !ok {
		return nil, errActiveCardMissing
	}

	pointChange, err := r.computeResultsLocked()
	if err != nil {
		return nil, err
	}

	votes := make(map[string]string, len(r.playerToVote))
	for name, card := range r.playerToVote {
		votes[name] = card
	}
	submissions := make(map[string]string, len(r.playerToCurrentCard))
	for name, card := range r.playerToCurrentCard {
		submissions[name] = card
	}

	return &ResultsPayload{
		PlayerToVote:        votes,
		PlayerToCurrentCard: submissions,
		ActiveCard:          activeCard,
		PointChange:         pointChange,
	}, nil
}

// computeResultsLocked scores the round:
//   - nobody found the active card: every voter +2, submitters gain one
//     point per vote their bluff attracted, active gets 0
//   - everyone found it: every voter +2, active gets 0
//   - otherwise: correct voters +3, active +3, submitters gain the bluff
//     bonus
func (r *Room) computeResultsLocked() (map[string]uint16, error) {
	active := r.activePlayerNameLocked()
	activeCard, ok := r.playerToCurrentCard[active]
	if !ok {
		return nil, errActiveCardMissing
	}

	votesForCard := make(map[string]uint16)
	for _, card := range r.playerToVote {
		votesForCard[card]++
	}

	pointChange := make(map[string]uint16, len(r.playerOrder))
	votesForActiveCard := votesForCard[activeCard]

	switch {
	case votesForActiveCard == 0:
		for name := range r.playerToVote {
			pointChange[name] = 2
		}
		for name, card := range r.playerToCurrentCard {
			if name != active {
				pointChange[name] += votesForCard[card]
			}
		}
		pointChange[active] = 0

	case int(votesForActiveCard) == len(r.playerOrder)-1:
		for name := range r.playerToVote {
			pointChange[name] = 2
		}
		pointChange[active] = 0

	default:
		for name, card := range r.playerToVote {
			if card == activeCard {
				pointChange[name] = 3
			} else {
				pointChange[name] = 0
			}
		}
		for name, card := range r.playerToCurrentCard {
			if name != active {
				pointChange[name] += votesForCard[card]
			}
		}
		pointChange[active] = 3
	}

	return pointChange, nil
}

// shouldEndGameLocked evaluates the win condition. CardsFinish games end via
// the dealing-exhaustion path instead.
func (r *Room) shouldEndGameLocked() bool {
	switch r.winCondition.Mode {
	case WinModePoints:
		for _, p := range r.players {
			if p.Points >= r.winCondition.TargetPoints {
				return true
			}
		}
		return false

	case WinModeCycles:
		if r.round == 0 || len(r.players) == 0 {
			return false
		}
		playersPerCycle := len(r.playerOrder)
		if playersPerCycle == 0 {
			playersPerCycle = len(r.players)
		}
		required := uint32(r.winCondition.TargetCycles) * uint32(playersPerCycle)
		return uint32(r.round) >= required
	}

	return false
}

// readyPlayersLocked counts players with the stage-scoped ready flag set.
func (r *Room) readyPlayersLocked() int {
	count := 0
	for _, p := range r.players {
		if p.Ready {
			count++
		}
	}
	return count
}
