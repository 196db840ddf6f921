package game

import (
	"context"
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func makeDeck(n int) []string {
	deck := make([]string, n)
	for i := range deck {
		deck[i] = fmt.Sprintf("card-%03d", i)
	}
	return deck
}

func pointsWin(target uint16) WinCondition {
	return WinCondition{Mode: WinModePoints, TargetPoints: target}
}

func newTestRoom(deckSize int, win WinCondition) *Room {
	return NewRoom("abcd", makeDeck(deckSize), win, "")
}

func join(t *testing.T, r *Room, name string) *Session {
	t.Helper()
	sess, err := r.Join(context.Background(), name, name+"-token")
	require.NoError(t, err)
	return sess
}

func send(t *testing.T, r *Room, sess *Session, msg ClientMsg) {
	t.Helper()
	raw, err := json.Marshal(msg)
	require.NoError(t, err)
	require.NoError(t, r.HandleMessage(context.Background(), sess, raw))
}

// drain decodes every frame currently buffered in the session's outbox.
func drain(t *testing.T, sess *Session) []ServerMsg {
	t.Helper()
	var msgs []ServerMsg
	for {
		select {
		case raw, ok := <-sess.Outbox:
			if !ok {
				return msgs
			}
			var msg ServerMsg
			require.NoError(t, json.Unmarshal(raw, &msg))
			msgs = append(msgs, msg)
		default:
			return msgs
		}
	}
}

func lastRoomState(t *testing.T, msgs []ServerMsg) *RoomStatePayload {
	t.Helper()
	for i := len(msgs) - 1; i >= 0; i-- {
		if msgs[i].RoomState != nil {
			return msgs[i].RoomState
		}
	}
	return nil
}

func hasMsg(msgs []ServerMsg, match func(ServerMsg) bool) bool {
	for _, msg := range msgs {
		if match(msg) {
			return true
		}
	}
	return false
}

// joinAndStart creates n players, starts the game as the creator, and
// returns the sessions keyed by name plus the first storyteller's name.
func joinAndStart(t *testing.T, r *Room, names ...string) (map[string]*Session, string) {
	t.Helper()

	sessions := make(map[string]*Session, len(names))
	for _, name := range names {
		sessions[name] = join(t, r, name)
	}

	send(t, r, sessions[names[0]], ClientMsg{StartGame: &EmptyPayload{}})
	require.Equal(t, StageActiveChooses, r.Snapshot().Stage)

	active := *r.Snapshot().ActivePlayer
	return sessions, active
}

// advanceToVoting walks a fresh round through ActiveChooses and
// PlayersChoose. It returns each player's submitted card.
func advanceToVoting(t *testing.T, r *Room, sessions map[string]*Session, active string) map[string]string {
	t.Helper()

	submitted := make(map[string]string, len(sessions))

	card := r.playerHand[active][0]
	submitted[active] = card
	send(t, r, sessions[active], ClientMsg{ActivePlayerChooseCard: &ActivePlayerChooseCardPayload{
		Card:        card,
		Description: "a story",
	}})
	require.Equal(t, StagePlayersChoose, r.Snapshot().Stage)

	for name, sess := range sessions {
		if name == active {
			continue
		}
		card := r.playerHand[name][0]
		submitted[name] = card
		send(t, r, sess, ClientMsg{PlayerChooseCard: &PlayerChooseCardPayload{Card: card}})
	}
	require.Equal(t, StageVoting, r.Snapshot().Stage)

	return submitted
}
