package server

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"

	"uttt-server/internal/uttt"
)

func newTestBot(tour *TourContext) *BotManager {
	return NewBotManager("bot1", nil, zap.NewNop(), "t1", "AI", 0, tour)
}

func countMarks(boards uttt.Boards, avatar string) int {
	n := 0
	for _, sub := range boards {
		for _, cell := range sub {
			if cell == avatar {
				n++
			}
		}
	}
	return n
}

func TestBot_AnswersPlayerMove(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	b.HandleEvent(testClient("t1"), rawMsg(t, NewMoveEvent, uttt.Move{SubBoard: 4, Cell: 4}))

	state := b.match.State()
	assert.Equal(t, uttt.X, state.Boards[4][4])

	assert.Eventually(t, func() bool {
		return countMarks(b.match.State().Boards, uttt.O) == 1
	}, 5*time.Second, 50*time.Millisecond)
	assert.False(t, b.match.State().BotsTurn)
}

func TestBot_IgnoresOtherTokens(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	b.HandleEvent(testClient("intruder"), rawMsg(t, NewMoveEvent, uttt.Move{SubBoard: 4, Cell: 4}))
	assert.Equal(t, "", b.match.State().Boards[4][4])
}

func TestBot_SetAvatarOGivesBotTheOpening(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	b.HandleEvent(testClient("t1"), rawMsg(t, SetAvatarEvent, SetAvatarRequest{Avatar: uttt.O}))

	assert.Eventually(t, func() bool {
		return countMarks(b.match.State().Boards, uttt.X) == 1
	}, 5*time.Second, 50*time.Millisecond)
}

func TestBot_RestartBlockedInsideTournament(t *testing.T) {
	tour := &TourContext{
		TourID:   "1tour1",
		BestOf:   1,
		WinCount: map[string]int{"t1": 0, "AI_1": 0},
	}
	b := NewBotManager("1tour1_0_0", nil, zap.NewNop(), "t1", "AI_1", 0, tour)
	defer b.Deactivate()

	b.HandleEvent(testClient("t1"), rawMsg(t, NewMoveEvent, uttt.Move{SubBoard: 4, Cell: 4}))
	assert.Equal(t, uttt.X, b.match.State().Boards[4][4])

	b.HandleEvent(testClient("t1"), rawMsg(t, RestartGameEvent, struct{}{}))
	assert.Equal(t, uttt.X, b.match.State().Boards[4][4])
}

func TestBot_RPSResolvesImmediately(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	b.mu.Lock()
	b.startRPS()
	b.handleRPSMove(uttt.Rock)
	b.mu.Unlock()

	// Either the round tied and restarted, or a winner is recorded.
	if b.rpsTie {
		assert.Empty(t, b.rpsMoves)
		assert.Equal(t, "", b.rpsWinner)
	} else {
		assert.Contains(t, []string{"t1", "AI"}, b.rpsWinner)
		assert.True(t, b.decided)
	}
}

func TestBot_ViewReflectsMatchState(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	view := b.clientView()
	assert.True(t, view.AI)
	assert.True(t, view.AllowRestart)
	assert.Equal(t, uttt.X, view.Avatar)
	assert.True(t, view.MyTurn)
	assert.Nil(t, view.RPS)
}

func TestBot_CoinFlipResolvesAbandonedMatch(t *testing.T) {
	winners := make(chan string, 1)
	tour := &TourContext{
		TourID:   "1tour1",
		BestOf:   1,
		WinCount: map[string]int{"t1": 0, "AI_1": 0},
		OnWin:    func(winner string) { winners <- winner },
	}
	b := NewBotManager("1tour1_0_0", nil, zap.NewNop(), "t1", "AI_1", 0, tour)
	defer b.Deactivate()

	b.ResolveByCoinFlip()
	select {
	case winner := <-winners:
		assert.Contains(t, []string{"t1", "AI_1"}, winner)
	default:
		t.Fatal("coin flip reported no winner")
	}

	b.ResolveByCoinFlip()
	assert.Len(t, winners, 0)
}

func TestBot_ForcedMovePlaysFallbackCell(t *testing.T) {
	// The forced move follows the same policy as timed rooms: mandated
	// sub-board, else first undecided sub-board, first empty cell. On a
	// fresh board that is always (0,0), never a random legal move.
	for i := 0; i < 5; i++ {
		b := newTestBot(nil)

		b.mu.Lock()
		b.forceMove()
		b.mu.Unlock()

		assert.Equal(t, uttt.X, b.match.State().Boards[0][0])
		assert.Equal(t, 1, countMarks(b.match.State().Boards, uttt.X))
		b.Deactivate()
	}
}

func TestBot_ForcedMoveHonorsMandate(t *testing.T) {
	b := newTestBot(nil)
	defer b.Deactivate()

	b.HandleEvent(testClient("t1"), rawMsg(t, NewMoveEvent, uttt.Move{SubBoard: 4, Cell: 2}))
	assert.Eventually(t, func() bool {
		return !b.match.State().BotsTurn
	}, 5*time.Second, 50*time.Millisecond)

	b.mu.Lock()
	state := b.match.State()
	b.forceMove()
	b.mu.Unlock()

	after := b.match.State()
	assert.Equal(t, uttt.X, after.Boards[state.NextIndex][firstEmptyCell(state.Boards[state.NextIndex])])
	assert.Equal(t, 2, countMarks(after.Boards, uttt.X))
}

func firstEmptyCell(sub [9]string) int {
	for i, v := range sub {
		if v == "" {
			return i
		}
	}
	return -1
}
