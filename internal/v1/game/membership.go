package game

// discardPlayerCardsLocked moves a departing player's hand and in-flight
// submission to the discard pile, each card at most once.
func (r *Room) discardPlayerCardsLocked(name string) {
	moved := make(map[string]struct{})

	for _, card := range r.playerHand[name] {
		if _, dup := moved[card]; !dup {
			moved[card] = struct{}{}
			r.discardPile = append(r.discardPile, card)
		}
	}
	delete(r.playerHand, name)

	if card, ok := r.playerToCurrentCard[name]; ok {
		delete(r.playerToCurrentCard, name)
		if _, dup := moved[card]; !dup {
			r.discardPile = append(r.discardPile, card)
		}
	}
}

// dropFromOrderLocked removes a name from the turn rotation and adjusts the
// active index so the rotation skips the vacated slot. Reports whether the
// removed name held the active seat.
func (r *Room) dropFromOrderLocked(name string) (wasActive bool) {
	for pos, ordered := range r.playerOrder {
		if ordered != name {
			continue
		}
		wasActive = pos == r.activePlayer
		r.playerOrder = append(r.playerOrder[:pos], r.playerOrder[pos+1:]...)
		if pos < r.activePlayer && r.activePlayer > 0 {
			r.activePlayer--
		}
		if r.activePlayer >= len(r.playerOrder) {
			r.activePlayer = 0
		}
		return wasActive
	}
	return false
}

// removePlayerLocked ejects a player (leave or kick), returning their cards
// to the discard pile. personalMsg, if non-nil, is delivered before the
// mailbox closes. Reports whether a removal happened and whether the removed
// player held the active seat.
func (r *Room) removePlayerLocked(name string, personalMsg *ServerMsg) (removed, wasActive bool) {
	if _, ok := r.players[name]; !ok {
		return false, false
	}

	r.discardPlayerCardsLocked(name)
	delete(r.playerToVote, name)
	wasActive = r.dropFromOrderLocked(name)

	delete(r.players, name)
	delete(r.moderators, name)
	if r.creator == name {
		r.creator = ""
	}
	delete(r.nameTokens, name)
	delete(r.connectionGeneration, name)
	r.removedPlayers[name] = struct{}{}

	r.closeMailboxLocked(name, personalMsg)
	r.cleanModeratorsLocked()
	r.updateMemberGaugeLocked()

	return true, wasActive
}

// removeObserverLocked ejects an observer; analogous to player removal but
// touches no round state.
func (r *Room) removeObserverLocked(name string, personalMsg *ServerMsg) bool {
	if _, ok := r.observers[name]; !ok {
		return false
	}

	delete(r.observers, name)
	delete(r.moderators, name)
	if r.creator == name {
		r.creator = ""
	}
	delete(r.nameTokens, name)
	delete(r.connectionGeneration, name)
	r.removedPlayers[name] = struct{}{}

	r.closeMailboxLocked(name, personalMsg)
	r.cleanModeratorsLocked()
	r.updateMemberGaugeLocked()

	return true
}

// convertPlayerToObserverLocked moves a player to the observer bench,
// preserving points, connection, session, and any moderator privilege.
// auto marks conversions the member did not ask for, queueing them for
// promotion at the next round start.
func (r *Room) convertPlayerToObserverLocked(name string, auto bool) (converted, wasActive bool) {
	p, ok := r.players[name]
	if !ok {
		return false, false
	}

	r.discardPlayerCardsLocked(name)
	delete(r.playerToVote, name)
	wasActive = r.dropFromOrderLocked(name)
	delete(r.players, name)

	r.observers[name] = &ObserverInfo{
		Connected:           p.Connected,
		Points:              p.Points,
		AutoJoinOnNextRound: auto,
	}
	r.cleanModeratorsLocked()

	return true, wasActive
}

// closeMailboxLocked delivers a final message to a member's session, if any,
// and detaches it.
func (r *Room) closeMailboxLocked(name string, personalMsg *ServerMsg) {
	mailbox, ok := r.mailboxes[name]
	if !ok {
		return
	}
	if personalMsg != nil {
		select {
		case mailbox <- personalMsg.Encode():
		default:
		}
	}
	close(mailbox)
	delete(r.mailboxes, name)
}

// afterMembershipChangeLocked advances or pauses the game after the player
// set shrank or a seat changed hands. wasActive marks that the departed
// member held the storyteller seat.
func (r *Room) afterMembershipChangeLocked(wasActive bool) error {
	if r.stage == StageJoining || r.stage == StageEnd {
		r.broadcastRoomStateLocked()
		return nil
	}

	if len(r.players) < MinPlayers {
		r.enterPausedLocked(pausedNotEnoughPlayers)
		r.broadcastRoomStateLocked()
		return nil
	}

	switch r.stage {
	case StageResults:
		if r.shouldEndGameLocked() {
			r.stage = StageEnd
			r.broadcastLocked(endGameMsg())
			r.broadcastRoomStateLocked()
			return nil
		}
		if r.readyPlayersLocked() == len(r.players) {
			return r.initRoundLocked()
		}
		r.broadcastRoomStateLocked()
		return nil

	case StageActiveChooses, StagePlayersChoose, StageVoting:
		if wasActive {
			return r.restartRoundLocked()
		}
		if r.stage == StagePlayersChoose && r.readyPlayersLocked() >= len(r.players)-1 {
			r.initVotingLocked()
			return nil
		}
		if r.stage == StageVoting && len(r.playerToVote) >= len(r.players)-1 {
			return r.initResultsLocked()
		}
		r.broadcastRoomStateLocked()
		return nil
	}

	// Paused: membership changes only update the snapshot.
	r.broadcastRoomStateLocked()
	return nil
}
