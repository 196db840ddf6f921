package game

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// scoringRoom builds a room frozen at the moment results are computed.
func scoringRoom(votes map[string]string) *Room {
	r := newTestRoom(40, pointsWin(10))
	r.players = map[string]*PlayerInfo{
		"a": {Connected: true}, "b": {Connected: true},
		"c": {Connected: true}, "d": {Connected: true},
	}
	r.playerOrder = []string{"a", "b", "c", "d"}
	r.activePlayer = 0
	r.stage = StageVoting
	r.playerToCurrentCard = map[string]string{
		"a": "ca", "b": "cb", "c": "cc", "d": "cd",
	}
	r.playerToVote = votes
	return r
}

func TestComputeResultsMixedBranch(t *testing.T) {
	// b and d found the active card; c's vote landed on cc, which collected
	// one vote as a bluff bonus.
	r := scoringRoom(map[string]string{"b": "ca", "c": "cc", "d": "ca"})

	change, err := r.computeResultsLocked()
	require.NoError(t, err)

	assert.Equal(t, map[string]uint16{"a": 3, "b": 3, "c": 1, "d": 3}, change)
}

func TestComputeResultsNobodyFoundIt(t *testing.T) {
	r := scoringRoom(map[string]string{"b": "cc", "c": "cd", "d": "cb"})

	change, err := r.computeResultsLocked()
	require.NoError(t, err)

	// Every voter gets 2; every bluff collected exactly one vote.
	assert.Equal(t, map[string]uint16{"a": 0, "b": 3, "c": 3, "d": 3}, change)
}

func TestComputeResultsEveryoneFoundIt(t *testing.T) {
	r := scoringRoom(map[string]string{"b": "ca", "c": "ca", "d": "ca"})

	change, err := r.computeResultsLocked()
	require.NoError(t, err)

	assert.Equal(t, map[string]uint16{"a": 0, "b": 2, "c": 2, "d": 2}, change)
}

func TestComputeResultsMissingActiveCard(t *testing.T) {
	r := scoringRoom(map[string]string{"b": "cb"})
	delete(r.playerToCurrentCard, "a")

	_, err := r.computeResultsLocked()
	assert.Error(t, err)
}

func TestShouldEndGamePoints(t *testing.T) {
	r := newTestRoom(40, pointsWin(5))
	r.players = map[string]*PlayerInfo{
		"a": {Points: 4}, "b": {Points: 2}, "c": {Points: 0},
	}
	assert.False(t, r.shouldEndGameLocked())

	r.players["a"].Points = 5
	assert.True(t, r.shouldEndGameLocked())
}

func TestShouldEndGameCycles(t *testing.T) {
	r := newTestRoom(40, WinCondition{Mode: WinModeCycles, TargetCycles: 2})
	r.players = map[string]*PlayerInfo{"a": {}, "b": {}, "c": {}}
	r.playerOrder = []string{"a", "b", "c"}

	r.round = 0
	assert.False(t, r.shouldEndGameLocked())

	r.round = 5
	assert.False(t, r.shouldEndGameLocked())

	r.round = 6
	assert.True(t, r.shouldEndGameLocked())
}

func TestShouldEndGameCardsFinishNeverByScore(t *testing.T) {
	r := newTestRoom(40, WinCondition{Mode: WinModeCardsFinish})
	r.players = map[string]*PlayerInfo{"a": {Points: 1000}, "b": {}, "c": {}}
	r.round = 99
	assert.False(t, r.shouldEndGameLocked())
}

func TestWinConditionValidate(t *testing.T) {
	assert.NoError(t, pointsWin(1).Validate())
	assert.NoError(t, WinCondition{Mode: WinModeCycles, TargetCycles: 3}.Validate())
	assert.NoError(t, WinCondition{Mode: WinModeCardsFinish}.Validate())

	assert.Error(t, WinCondition{Mode: WinModePoints}.Validate())
	assert.Error(t, WinCondition{Mode: WinModeCycles}.Validate())
	assert.Error(t, WinCondition{Mode: "sudden_death"}.Validate())
}
