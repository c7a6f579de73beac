package mcts

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"uttt-server/internal/uttt"
)

func TestPositionScore_GameWin(t *testing.T) {
	assert := assert.New(t)

	// Bot (O) completes sub-board 0, which completes the 0-3-6 column
	// on the super-board.
	boards := uttt.Boards{}
	boards[0][0] = uttt.O
	boards[0][1] = uttt.O
	boards[0][2] = uttt.O
	wonBoards := [9]string{3: uttt.O, 6: uttt.O}

	score := positionScore(&boards, &wonBoards, true, uttt.Move{SubBoard: 0, Cell: 2}, 2)

	assert.Equal(float64(gameWinScore), score)
	assert.Equal(uttt.O, wonBoards[0], "sub-board win is recorded")
}

func TestPositionScore_GameWinByOpponentIsNegative(t *testing.T) {
	assert := assert.New(t)

	boards := uttt.Boards{}
	boards[4][3] = uttt.X
	boards[4][4] = uttt.X
	boards[4][5] = uttt.X
	wonBoards := [9]string{0: uttt.X, 8: uttt.X}

	score := positionScore(&boards, &wonBoards, false, uttt.Move{SubBoard: 4, Cell: 5}, 5)

	assert.Equal(float64(-gameWinScore), score)
}

func TestPositionScore_FullTieScoresZero(t *testing.T) {
	assert := assert.New(t)

	boards := uttt.Boards{}
	boards[8][6] = uttt.O
	boards[8][7] = uttt.O
	boards[8][8] = uttt.O
	wonBoards := [9]string{uttt.X, uttt.O, uttt.X, uttt.O, uttt.Tie, uttt.X, uttt.O, uttt.X}

	score := positionScore(&boards, &wonBoards, true, uttt.Move{SubBoard: 8, Cell: 8}, 8)

	assert.Equal(0.0, score)
}

func TestPositionScore_CenterPlayRewards(t *testing.T) {
	assert := assert.New(t)

	boards := uttt.Boards{}
	boards[4][4] = uttt.O
	wonBoards := [9]string{}

	score := positionScore(&boards, &wonBoards, true, uttt.Move{SubBoard: 4, Cell: 4}, 4)

	// Middle board plus middle cell, no setups on an otherwise empty
	// board and no free choice.
	assert.InDelta(middleBoardScore+middleCellScore, score, 1e-9)
}

func TestPositionScore_SubBoardWinWeights(t *testing.T) {
	assert := assert.New(t)

	for _, tc := range []struct {
		subBoard int
		weight   float64
	}{
		{4, midWinScore},
		{1, edgeWinScore},
		{0, cornerWinScore},
	} {
		boards := uttt.Boards{}
		boards[tc.subBoard][0] = uttt.O
		boards[tc.subBoard][1] = uttt.O
		boards[tc.subBoard][2] = uttt.O
		wonBoards := [9]string{}

		score := positionScore(&boards, &wonBoards, true, uttt.Move{SubBoard: tc.subBoard, Cell: 2}, 2)

		assert.GreaterOrEqual(score, tc.weight, "sub-board %d", tc.subBoard)
		assert.Equal(uttt.O, wonBoards[tc.subBoard])
	}
}

func TestSetupScore_TwoInARow(t *testing.T) {
	assert := assert.New(t)

	// O at 0 and 1 with 2 empty: playing 0 counts the 0-1-2 line.
	cells := [9]string{uttt.O, uttt.O}
	assert.Equal(moveSetupScore, setupScore(cells, uttt.O, 0, moveSetupScore))

	// Second qualifying line compounds.
	cells[3] = uttt.O
	assert.Equal(moveSetupScore*moveSetupFactor, setupScore(cells, uttt.O, 0, moveSetupScore))
}

func TestSetupScore_BlockedLineDoesNotCount(t *testing.T) {
	assert := assert.New(t)

	cells := [9]string{uttt.O, uttt.O, uttt.X}
	assert.Equal(0.0, setupScore(cells, uttt.O, 0, moveSetupScore))
}

func TestSimulate_SeedsScoreAndVisits(t *testing.T) {
	assert := assert.New(t)

	root := NewRoot(uttt.O, false)
	child := root.ChooseChild(uttt.Move{SubBoard: 4, Cell: 4})
	visitsBefore := child.Visits

	Simulate(child)

	assert.Equal(visitsBefore+1, child.Visits)
	assert.Equal(child.Visits, root.Visits)
}

func TestSimulate_TerminalNodeStillPropagatesOutcome(t *testing.T) {
	assert := assert.New(t)

	boards := uttt.Boards{}
	boards[2][0] = uttt.O
	boards[2][1] = uttt.O
	boards[2][2] = uttt.O
	wonBoards := [9]string{2: uttt.O, 5: uttt.O, 8: uttt.O}
	node := newNode(uttt.O, false, boards, wonBoards, nil, uttt.FreeChoice,
		uttt.Move{SubBoard: 2, Cell: 2}, 1, 9)

	Simulate(node)

	assert.Equal(uttt.O, node.Winner)
	assert.Greater(node.Score, 0.0, "bot win scores positive")
}
