package mcts

import "time"

// Scoring weights for simulated positions. A decisive game win dwarfs
// everything else; positional rewards order sub-board wins center >
// edge > corner and nudge play toward the middle.
const (
	gameWinScore = 10000

	midWinScore    = 10
	edgeWinScore   = 5
	cornerWinScore = 3

	freeChoiceScore  = 1
	middleBoardScore = 0.5
	middleCellScore  = 0.2

	moveSetupGlobalScore = 0.5
	moveSetupScore       = 1.0
	moveSetupFactor      = 2.0

	simulateFactor = 0.05
)

// Tree-shaping parameters.
const (
	// maxTreeDepth caps how far below the current root search descends.
	maxTreeDepth = 5

	// treeBreadthFactor controls the expand-vs-descend balance: the
	// chance of descending into explored children grows with distance
	// from the root.
	treeBreadthFactor = 1.5

	// simDepthFactor scales playout length by the node's ply number.
	simDepthFactor = 0.5

	// Back-propagation dilution: deep nodes and early-game signal
	// contribute less to their ancestors.
	distanceFromRootPenalty = 3.0
	earlyGameDepthPenalty   = 5.0
	backpropDilute          = 10.0
)

// Background loop pacing.
const (
	searchDelay   = 40 * time.Millisecond
	simulateDelay = 20 * time.Millisecond

	// searchStaleness stops both loops from burning CPU on a match
	// whose human has not moved in this long.
	searchStaleness = 5 * time.Minute

	// BotTurnDelay is how long a bot waits before answering a move, so
	// replies do not feel instantaneous.
	BotTurnDelay = time.Second
)
