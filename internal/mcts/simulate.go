package mcts

import (
	"math/rand"

	"uttt-server/internal/uttt"
)

// Simulate runs a shallow random playout from the node's position and
// back-propagates a heuristic score for every position reached. Playout
// length scales with the node's ply number, so early-game nodes get
// cheap noisy estimates and late-game nodes get deeper reads.
func Simulate(n *Node) {
	boards := n.Boards
	wonBoards := n.WonBoards
	botsTurn := n.BotsTurn

	// The node's own position was produced by the opposite side's move.
	n.Backpropagate(positionScore(&boards, &wonBoards, !botsTurn, n.PrevMove, n.NextIndex))
	n.IncrementVisits()

	nextIndex := n.NextIndex
	simDepth := int(simDepthFactor * float64(n.TurnNumber))
	for i := 0; i < simDepth; i++ {
		possible := uttt.PossibleMoves(boards, wonBoards, nextIndex)
		if len(possible) == 0 {
			break
		}
		move := possible[rand.Intn(len(possible))]
		avatar := n.PlayerAvatar()
		if botsTurn {
			avatar = n.BotAvatar
		}
		boards[move.SubBoard][move.Cell] = avatar
		nextIndex = move.Cell
		if wonBoards[nextIndex] != "" {
			nextIndex = uttt.FreeChoice
		}
		score := positionScore(&boards, &wonBoards, botsTurn, move, nextIndex)
		n.Backpropagate(score * simulateFactor)
		if uttt.CalculateWinner(wonBoards) != "" {
			break
		}
		botsTurn = !botsTurn
	}
}

// positionScore scores the position right after a move, updating
// wonBoards when the move decided its sub-board. botMoved flags which
// side played; scores are signed positive for the bot.
func positionScore(boards *uttt.Boards, wonBoards *[9]string, botMoved bool, move uttt.Move, nextIndex int) float64 {
	subWinner := uttt.CalculateWinner(boards[move.SubBoard])
	gameWinner := ""
	if subWinner != "" {
		wonBoards[move.SubBoard] = subWinner
		gameWinner = uttt.CalculateWinner(*wonBoards)
	}
	if gameWinner != "" {
		if gameWinner == uttt.Tie {
			return 0
		}
		return signedScore(gameWinScore, botMoved)
	}

	avatar := boards[move.SubBoard][move.Cell]
	score := 0.0
	if s := setupScore(*wonBoards, avatar, move.SubBoard, moveSetupGlobalScore); s > 0 {
		score += signedScore(s, botMoved)
	}
	if s := setupScore(boards[move.SubBoard], avatar, move.Cell, moveSetupScore); s > 0 {
		score += signedScore(s, botMoved)
	}
	if nextIndex == uttt.FreeChoice {
		score += signedScore(freeChoiceScore, botMoved)
	}
	if subWinner != "" {
		score += signedScore(boardWinScore(move.SubBoard), botMoved)
	}
	if move.SubBoard == 4 {
		score += signedScore(middleBoardScore, botMoved)
	}
	if move.Cell == 4 {
		score += signedScore(middleCellScore, botMoved)
	}
	return score
}

func signedScore(magnitude float64, botMoved bool) float64 {
	if botMoved {
		return magnitude
	}
	return -magnitude
}

// boardWinScore weights a sub-board win by its position on the
// super-board: center beats edges beats corners.
func boardWinScore(subBoard int) float64 {
	if subBoard == 4 {
		return midWinScore
	}
	if subBoard%2 == 1 {
		return edgeWinScore
	}
	return cornerWinScore
}

// setupScore rewards two-in-a-row setups created by playing index: for
// each line through the played cell whose other two cells are one own
// mark and one empty, the base score applies once and compounds for
// every further such line.
func setupScore(cells [9]string, avatar string, index int, base float64) float64 {
	score := 0.0
	for _, line := range uttt.WinLines {
		if line[0] != index && line[1] != index && line[2] != index {
			continue
		}
		var others []string
		for _, i := range line {
			if i != index {
				others = append(others, cells[i])
			}
		}
		if (others[0] == avatar && others[1] == "") || (others[1] == avatar && others[0] == "") {
			if score == 0 {
				score = base
			} else {
				score *= moveSetupFactor
			}
		}
	}
	return score
}
