package game

import (
	"context"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/logging"
	"github.com/talespin-gg/talespin-server/internal/v1/metrics"
)

// HandleMessage parses one inbound frame and applies it to the room.
//
// Protocol violations and authorization failures answer with an ErrorMsg on
// the sender's mailbox and leave the session open; a non-nil return marks a
// fatal state error and the caller should close the session.
func (r *Room) HandleMessage(ctx context.Context, sess *Session, raw []byte) error {
	r.touch()

	start := time.Now()
	msg, err := ParseClientMsg(raw)
	if err != nil {
		logging.Warn(ctx, "Dropping malformed client message",
			zap.String("room_id", r.roomID),
			zap.String("player", sess.Name),
			zap.Error(err))
		r.mu.Lock()
		r.sendToLocked(sess.Name, errorMsg("Malformed message"))
		r.mu.Unlock()
		metrics.WebsocketEvents.WithLabelValues("malformed", "error").Inc()
		return nil
	}

	eventType := msg.eventType()
	defer func() {
		metrics.MessageProcessingDuration.WithLabelValues(eventType).Observe(time.Since(start).Seconds())
	}()

	r.mu.Lock()
	defer r.mu.Unlock()

	if r.maybePromoteModeratorLocked() {
		r.broadcastRoomStateLocked()
	}

	// A superseded session may still have frames in flight; they must not
	// mutate state.
	if r.connectionGeneration[sess.Name] != sess.Generation {
		metrics.WebsocketEvents.WithLabelValues(eventType, "stale").Inc()
		return nil
	}

	// Pings are accepted from anyone holding a live generation; everything
	// else requires membership.
	if msg.Ping != nil {
		metrics.WebsocketEvents.WithLabelValues(eventType, "success").Inc()
		return nil
	}
	if !r.isMemberLocked(sess.Name) {
		metrics.WebsocketEvents.WithLabelValues(eventType, "ignored").Inc()
		return nil
	}

	if err := r.dispatchLocked(sess.Name, msg); err != nil {
		metrics.WebsocketEvents.WithLabelValues(eventType, "error").Inc()
		return err
	}
	metrics.WebsocketEvents.WithLabelValues(eventType, "success").Inc()
	return nil
}

// eventType names the message variant for logs and metrics.
func (m ClientMsg) eventType() string {
	switch {
	case m.JoinRoom != nil:
		return "JoinRoom"
	case m.Ready != nil:
		return "Ready"
	case m.StartGame != nil:
		return "StartGame"
	case m.LeaveRoom != nil:
		return "LeaveRoom"
	case m.KickPlayer != nil:
		return "KickPlayer"
	case m.SetModerator != nil:
		return "SetModerator"
	case m.SetObserver != nil:
		return "SetObserver"
	case m.SetAllowMidgameJoin != nil:
		return "SetAllowMidgameJoin"
	case m.ResumeGame != nil:
		return "ResumeGame"
	case m.RequestJoinFromObserver != nil:
		return "RequestJoinFromObserver"
	case m.ActivePlayerChooseCard != nil:
		return "ActivePlayerChooseCard"
	case m.PlayerChooseCard != nil:
		return "PlayerChooseCard"
	case m.Vote != nil:
		return "Vote"
	case m.Ping != nil:
		return "Ping"
	}
	return "unknown"
}

func (r *Room) dispatchLocked(name string, msg ClientMsg) error {
	switch {
	case msg.Ready != nil:
		return r.handleReadyLocked(name)
	case msg.StartGame != nil:
		return r.handleStartGameLocked(name)
	case msg.LeaveRoom != nil:
		return r.handleLeaveRoomLocked(name)
	case msg.KickPlayer != nil:
		return r.handleKickPlayerLocked(name, msg.KickPlayer.Player)
	case msg.SetModerator != nil:
		return r.handleSetModeratorLocked(name, msg.SetModerator.Player, msg.SetModerator.Enabled)
	case msg.SetObserver != nil:
		return r.handleSetObserverLocked(name, msg.SetObserver.Player, msg.SetObserver.Enabled)
	case msg.SetAllowMidgameJoin != nil:
		return r.handleSetAllowMidgameJoinLocked(name, msg.SetAllowMidgameJoin.Enabled)
	case msg.ResumeGame != nil:
		return r.handleResumeGameLocked(name)
	case msg.RequestJoinFromObserver != nil:
		return r.handleRequestJoinLocked(name)
	case msg.ActivePlayerChooseCard != nil:
		return r.handleActiveChooseLocked(name, msg.ActivePlayerChooseCard.Card, msg.ActivePlayerChooseCard.Description)
	case msg.PlayerChooseCard != nil:
		return r.handlePlayerChooseLocked(name, msg.PlayerChooseCard.Card)
	case msg.Vote != nil:
		return r.handleVoteLocked(name, msg.Vote.Card)
	}
	// JoinRoom after the handshake and unrecognized frames are ignored.
	return nil
}

func (r *Room) handleReadyLocked(name string) error {
	switch r.stage {
	case StageJoining:
		if !r.isModeratorLocked(name) {
			return nil
		}
		if len(r.players) < MinPlayers {
			r.sendToLocked(name, errorMsg("Need at least 3 players"))
			return nil
		}
		return r.initRoundLocked()

	case StageResults:
		p, ok := r.players[name]
		if !ok {
			return nil
		}
		p.Ready = true
		r.broadcastRoomStateLocked()

		if r.shouldEndGameLocked() {
			r.stage = StageEnd
			r.broadcastLocked(endGameMsg())
			r.broadcastRoomStateLocked()
			return nil
		}

		if r.readyPlayersLocked() == len(r.players) {
			return r.initRoundLocked()
		}
	}

	return nil
}

func (r *Room) handleStartGameLocked(name string) error {
	if r.stage != StageJoining {
		return nil
	}
	if !r.isModeratorLocked(name) {
		r.sendToLocked(name, errorMsg("Only moderators can start"))
		return nil
	}
	if len(r.players) < MinPlayers {
		r.sendToLocked(name, errorMsg("Need at least 3 players"))
		return nil
	}
	return r.initRoundLocked()
}

func (r *Room) handleLeaveRoomLocked(name string) error {
	msg := leftRoomMsg("You left the game")

	if removed := r.removeObserverLocked(name, &msg); removed {
		r.broadcastRoomStateLocked()
		return nil
	}

	removed, wasActive := r.removePlayerLocked(name, &msg)
	if removed {
		return r.afterMembershipChangeLocked(wasActive)
	}
	return nil
}

func (r *Room) handleKickPlayerLocked(name, target string) error {
	if !r.isModeratorLocked(name) {
		r.sendToLocked(name, errorMsg("Only moderators can kick players"))
		return nil
	}

	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}

	if r.isCreatorLocked(target) {
		r.sendToLocked(name, errorMsg("Creator cannot be kicked"))
		return nil
	}

	msg := kickedMsg("You were kicked from the game")

	if removed := r.removeObserverLocked(target, &msg); removed {
		r.broadcastRoomStateLocked()
		return nil
	}

	removed, wasActive := r.removePlayerLocked(target, &msg)
	if removed {
		return r.afterMembershipChangeLocked(wasActive)
	}
	return nil
}

func (r *Room) handleSetModeratorLocked(name, target string, enabled bool) error {
	isCreator := r.isCreatorLocked(name)
	isModerator := r.isModeratorLocked(name)

	if !isCreator && !isModerator {
		r.sendToLocked(name, errorMsg("Only moderators can promote moderators"))
		return nil
	}

	target = strings.TrimSpace(target)
	if target == "" || !r.isMemberLocked(target) {
		return nil
	}

	if !enabled && !isCreator {
		r.sendToLocked(name, errorMsg("Only the creator can demote moderators"))
		return nil
	}

	if r.isCreatorLocked(target) && !enabled {
		r.sendToLocked(name, errorMsg("Creator must remain a moderator"))
		return nil
	}

	if enabled {
		r.moderators[target] = struct{}{}
	} else {
		delete(r.moderators, target)
	}
	r.cleanModeratorsLocked()
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handleSetObserverLocked(name, target string, enabled bool) error {
	if !r.isModeratorLocked(name) {
		r.sendToLocked(name, errorMsg("Only moderators can manage observers"))
		return nil
	}

	target = strings.TrimSpace(target)
	if target == "" {
		return nil
	}

	if enabled {
		converted, wasActive := r.convertPlayerToObserverLocked(target, false)
		if !converted {
			return nil
		}
		return r.afterMembershipChangeLocked(wasActive)
	}

	o, ok := r.observers[target]
	if !ok {
		return nil
	}
	o.JoinRequested = true
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handleSetAllowMidgameJoinLocked(name string, enabled bool) error {
	if !r.isModeratorLocked(name) {
		r.sendToLocked(name, errorMsg("Only moderators can change join settings"))
		return nil
	}
	r.allowNewPlayersMidgame = enabled
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handleResumeGameLocked(name string) error {
	if r.stage != StagePaused {
		return nil
	}
	if !r.isModeratorLocked(name) {
		r.sendToLocked(name, errorMsg("Only moderators can resume"))
		return nil
	}
	if len(r.players) < MinPlayers {
		r.sendToLocked(name, errorMsg("Need at least 3 players"))
		return nil
	}
	// Resume is a fresh round: the storyteller rotates and the round counter
	// advances, unlike the in-place restart after a storyteller departure.
	return r.initRoundLocked()
}

func (r *Room) handleRequestJoinLocked(name string) error {
	o, ok := r.observers[name]
	if !ok {
		return nil
	}
	o.JoinRequested = true
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handleActiveChooseLocked(name, card, description string) error {
	if r.stage != StageActiveChooses || len(r.playerOrder) == 0 {
		return nil
	}
	if r.activePlayerNameLocked() != name {
		return nil
	}

	if !handContains(r.playerHand[name], card) {
		r.sendToLocked(name, errorMsg("Invalid card"))
		return nil
	}

	description = strings.TrimSpace(description)
	if description == "" {
		r.sendToLocked(name, errorMsg("Description must not be empty"))
		return nil
	}

	r.currentDescription = description
	r.stage = StagePlayersChoose
	r.playerToCurrentCard[name] = card

	for _, player := range r.playerOrder {
		if msg, ok := r.stageMsgForLocked(player); ok {
			r.sendToLocked(player, msg)
		}
	}

	r.clearReadyLocked()
	r.broadcastRoomStateLocked()
	return nil
}

func (r *Room) handlePlayerChooseLocked(name, card string) error {
	if r.stage != StagePlayersChoose || len(r.playerOrder) == 0 {
		return nil
	}
	if r.activePlayerNameLocked() == name {
		return nil
	}

	p, ok := r.players[name]
	if !ok {
		return nil
	}

	if !handContains(r.playerHand[name], card) {
		r.sendToLocked(name, errorMsg("Invalid card"))
		return nil
	}

	r.playerToCurrentCard[name] = card
	p.Ready = true
	r.broadcastRoomStateLocked()

	if r.readyPlayersLocked() >= len(r.players)-1 {
		r.initVotingLocked()
	}
	return nil
}

func (r *Room) handleVoteLocked(name, card string) error {
	if r.stage != StageVoting || len(r.playerOrder) == 0 {
		return nil
	}
	if r.activePlayerNameLocked() == name {
		r.sendToLocked(name, errorMsg("Active player cannot vote"))
		return nil
	}

	p, ok := r.players[name]
	if !ok {
		return nil
	}

	inCenter := false
	for _, submitted := range r.playerToCurrentCard {
		if submitted == card {
			inCenter = true
			break
		}
	}
	if !inCenter {
		r.sendToLocked(name, errorMsg("Invalid card"))
		return nil
	}

	if own, ok := r.playerToCurrentCard[name]; ok && own == card {
		r.sendToLocked(name, errorMsg("You cannot vote for your own card"))
		return nil
	}

	r.playerToVote[name] = card
	p.Ready = true
	r.broadcastRoomStateLocked()

	if r.readyPlayersLocked() >= len(r.players)-1 {
		return r.initResultsLocked()
	}
	return nil
}

func handContains(hand []string, card string) bool {
	for _, held := range hand {
		if held == card {
			return true
		}
	}
	return false
}
