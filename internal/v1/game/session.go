package game

import (
	"context"

	"go.uber.org/zap"

	"github.com/talespin-gg/talespin-server/internal/v1/logging"
)

// Session is one authenticated connection to a room. The generation pins it
// as the at-most-one active session for its name: a reconnect under the same
// name mints a higher generation and this one silently stops mutating state.
type Session struct {
	room       *Room
	Name       string
	Generation uint64

	// Outbox carries encoded frames: room-wide broadcasts and private views,
	// in the order the room produced them. Closed when the session is
	// superseded or the member is removed.
	Outbox chan []byte
}

// Join authenticates a (name, token) pair against the room and attaches a
// session. The returned sentinel errors carry the exact reject text to
// relay to the client.
func (r *Room) Join(ctx context.Context, name, token string) (*Session, error) {
	r.touch()

	if name == "" {
		return nil, ErrEmptyName
	}
	if len(name) > MaxNameLength {
		return nil, ErrNameTooLong
	}
	if token == "" {
		return nil, ErrEmptyToken
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	// The token bound to a name at first join is the only credential that
	// may ever use that name again in this room.
	if existing, ok := r.nameTokens[name]; ok && existing != token {
		return nil, ErrNameTaken
	}

	reconnect := r.isMemberLocked(name)
	if !reconnect {
		if err := r.admitNewMemberLocked(name); err != nil {
			return nil, err
		}
		r.nameTokens[name] = token
	} else {
		if p, ok := r.players[name]; ok {
			p.Connected = true
		}
		if o, ok := r.observers[name]; ok {
			o.Connected = true
		}
	}

	// Supersede any previous session for this name.
	if _, attached := r.mailboxes[name]; attached {
		msg := leftRoomMsg("signed in from another session")
		r.closeMailboxLocked(name, &msg)
	}

	r.nextGeneration++
	generation := r.nextGeneration
	r.connectionGeneration[name] = generation

	if r.creator == name {
		r.moderators[name] = struct{}{}
	}
	r.cleanModeratorsLocked()
	r.maybePromoteModeratorLocked()

	// Everyone else learns about the membership change first; the new
	// session then receives the same snapshot plus its private stage view.
	r.broadcastRoomStateLocked()

	sess := &Session{
		room:       r,
		Name:       name,
		Generation: generation,
		Outbox:     make(chan []byte, mailboxCapacity),
	}
	r.mailboxes[name] = sess.Outbox

	r.sendToLocked(name, ServerMsg{RoomState: r.roomStatePtrLocked()})
	if msg, ok := r.stageMsgForLocked(name); ok {
		r.sendToLocked(name, msg)
	}

	logging.Info(ctx, "Member joined room",
		zap.String("room_id", r.roomID),
		zap.String("player", name),
		zap.Bool("reconnect", reconnect),
		zap.Uint64("generation", generation))

	return sess, nil
}

// admitNewMemberLocked inserts a brand-new name according to the stage:
// pre-game names become players, mid-round names become players when the
// room allows it, and names arriving during a vote become observers queued
// for the next round.
func (r *Room) admitNewMemberLocked(name string) error {
	if r.stage == StageEnd {
		return ErrGameEnded
	}
	if len(r.players)+len(r.observers) >= r.maxMembers {
		return ErrRoomFull
	}

	switch r.stage {
	case StageJoining:
		if len(r.players) >= MaxJoiningPlayers {
			return ErrTooManyPlayers
		}
		if r.creator == "" {
			r.creator = name
		}
		r.players[name] = &PlayerInfo{Connected: true, Ready: true}

	case StageActiveChooses, StagePlayersChoose, StagePaused:
		if !r.allowNewPlayersMidgame {
			return ErrMidgameDisabled
		}
		r.players[name] = &PlayerInfo{Connected: true}
		if err := r.dealHandLocked(name); err != nil {
			delete(r.players, name)
			delete(r.playerHand, name)
			return err
		}
		r.playerOrder = append(r.playerOrder, name)

	default: // Voting, Results
		r.observers[name] = &ObserverInfo{Connected: true, AutoJoinOnNextRound: true}
	}

	r.updateMemberGaugeLocked()
	return nil
}

// HandleDisconnect finalizes a session whose socket closed. A superseded
// session is a no-op; the current one marks its member disconnected (or, in
// the lobby, removes them entirely).
func (r *Room) HandleDisconnect(ctx context.Context, sess *Session) {
	r.touch()

	r.mu.Lock()
	defer r.mu.Unlock()

	if gen, ok := r.connectionGeneration[sess.Name]; ok && gen != sess.Generation {
		// A newer session took over this name.
		return
	}

	if _, removed := r.removedPlayers[sess.Name]; removed {
		// Already ejected explicitly (leave/kick); the marker is spent.
		delete(r.removedPlayers, sess.Name)
	} else if r.stage == StageJoining {
		delete(r.players, sess.Name)
		delete(r.moderators, sess.Name)
		delete(r.nameTokens, sess.Name)
		delete(r.connectionGeneration, sess.Name)
		r.updateMemberGaugeLocked()
	} else {
		if p, ok := r.players[sess.Name]; ok {
			p.Connected = false
		}
		if o, ok := r.observers[sess.Name]; ok {
			o.Connected = false
		}
	}

	if mailbox, ok := r.mailboxes[sess.Name]; ok && mailbox == sess.Outbox {
		close(mailbox)
		delete(r.mailboxes, sess.Name)
	}

	r.cleanModeratorsLocked()
	r.maybePromoteModeratorLocked()
	r.broadcastRoomStateLocked()

	logging.Info(ctx, "Member disconnected",
		zap.String("room_id", r.roomID),
		zap.String("player", sess.Name))
}
