package mcts

import (
	"math/rand"

	"uttt-server/internal/uttt"
)

// Node is one position in the incrementally grown game tree. Children
// are indexed by the move that produces them; Parent is a non-owning
// back-reference used only for score and visit propagation.
type Node struct {
	BotAvatar string
	BotsTurn  bool

	Boards    uttt.Boards
	WonBoards [9]string
	Winner    string
	NextIndex int

	Parent       *Node
	PrevMove     uttt.Move
	RootDistance int
	TurnNumber   int

	Visits     int
	Score      float64
	Children   map[uttt.Move]*Node
	Unsearched []uttt.Move
}

// NewRoot creates the tree root for a fresh game. botsTurn is true when
// the bot moves first (the human picked O).
func NewRoot(botAvatar string, botsTurn bool) *Node {
	return newNode(botAvatar, botsTurn, uttt.Boards{}, [9]string{}, nil, uttt.FreeChoice, uttt.Move{}, 0, 0)
}

func newNode(botAvatar string, botsTurn bool, boards uttt.Boards, wonBoards [9]string,
	parent *Node, nextIndex int, prevMove uttt.Move, rootDistance, turnNumber int) *Node {

	n := &Node{
		BotAvatar:    botAvatar,
		BotsTurn:     botsTurn,
		Boards:       boards,
		WonBoards:    wonBoards,
		Winner:       uttt.CalculateWinner(wonBoards),
		NextIndex:    nextIndex,
		Parent:       parent,
		PrevMove:     prevMove,
		RootDistance: rootDistance,
		TurnNumber:   turnNumber,
		Children:     make(map[uttt.Move]*Node),
	}
	if n.Winner == "" {
		n.Unsearched = uttt.PossibleMoves(boards, wonBoards, nextIndex)
	}
	return n
}

// PlayerAvatar returns the human side's mark.
func (n *Node) PlayerAvatar() string {
	return uttt.OtherAvatar(n.BotAvatar)
}

// IsMoveValid checks a human move against this node's position.
func (n *Node) IsMoveValid(m uttt.Move) bool {
	if n.BotsTurn || n.Winner != "" {
		return false
	}
	if m.SubBoard < 0 || m.SubBoard > 8 || m.Cell < 0 || m.Cell > 8 {
		return false
	}
	if n.NextIndex != uttt.FreeChoice && m.SubBoard != n.NextIndex {
		return false
	}
	if n.WonBoards[m.SubBoard] != "" {
		return false
	}
	return n.Boards[m.SubBoard][m.Cell] == ""
}

// Search grows the tree by one step: either expand a still-unsearched
// move, or descend into an explored child picked by the score-weighted
// policy, with the descend probability rising as the node sits deeper
// below the root.
func (n *Node) Search() {
	if n.RootDistance > maxTreeDepth || n.Winner != "" {
		return
	}
	var move uttt.Move
	descendP := 1 / (float64(n.RootDistance+1) * treeBreadthFactor)
	if len(n.Unsearched) > 0 && (len(n.Children) == 0 || rand.Float64() >= descendP) {
		i := rand.Intn(len(n.Unsearched))
		move = n.Unsearched[i]
		n.Unsearched = append(n.Unsearched[:i], n.Unsearched[i+1:]...)
	} else if len(n.Children) > 0 {
		move = n.chooseGoodMove()
	} else {
		return
	}
	if child, ok := n.Children[move]; ok {
		if child.Winner == "" {
			child.Search()
		}
		return
	}
	n.expand(move)
}

// expand applies the move, creates the child node and immediately seeds
// its score with one simulation.
func (n *Node) expand(move uttt.Move) *Node {
	boards := n.Boards
	wonBoards := n.WonBoards
	avatar := n.PlayerAvatar()
	if n.BotsTurn {
		avatar = n.BotAvatar
	}
	boards[move.SubBoard][move.Cell] = avatar
	if w := uttt.CalculateWinner(boards[move.SubBoard]); w != "" {
		wonBoards[move.SubBoard] = w
	}
	next := move.Cell
	if wonBoards[next] != "" {
		next = uttt.FreeChoice
	}

	child := newNode(n.BotAvatar, !n.BotsTurn, boards, wonBoards, n, next, move,
		n.RootDistance+1, n.TurnNumber+1)
	Simulate(child)
	n.Children[move] = child
	return child
}

// ChooseChild returns the child for a committed move, expanding it on
// demand when the move was never searched.
func (n *Node) ChooseChild(move uttt.Move) *Node {
	if child, ok := n.Children[move]; ok {
		return child
	}
	for i, m := range n.Unsearched {
		if m == move {
			n.Unsearched = append(n.Unsearched[:i], n.Unsearched[i+1:]...)
			break
		}
	}
	return n.expand(move)
}

// ChooseBestChild picks the committed bot move: greedy argmax over
// child scores, not the stochastic policy used during search.
func (n *Node) ChooseBestChild() *Node {
	if len(n.Children) == 0 {
		n.Search()
	}
	var best *Node
	bestScore := 0.0
	for _, child := range n.Children {
		if best == nil || child.Score > bestScore {
			best = child
			bestScore = child.Score
		}
	}
	return best
}

// chooseGoodMove samples an explored child proportionally to its
// positive score (from the mover's perspective), falling back to a
// uniform pick when no child scores positive.
func (n *Node) chooseGoodMove() uttt.Move {
	moves := make([]uttt.Move, 0, len(n.Children))
	cdf := make([]float64, 0, len(n.Children))
	total := 0.0
	for move, child := range n.Children {
		score := child.Score
		if !n.BotsTurn {
			score = -score
		}
		moves = append(moves, move)
		if score > 0 {
			total += score
		}
		cdf = append(cdf, total)
	}
	if total == 0 {
		return moves[rand.Intn(len(moves))]
	}
	choice := rand.Float64() * total
	for i, bound := range cdf {
		if choice <= bound {
			return moves[i]
		}
	}
	return moves[len(moves)-1]
}

// Backpropagate adds a depth- and phase-diluted score contribution to
// this node and every ancestor up to the root.
func (n *Node) Backpropagate(score float64) {
	turn := n.TurnNumber
	if turn < 1 {
		turn = 1
	}
	score /= 1 + (distanceFromRootPenalty*float64(n.RootDistance))/(earlyGameDepthPenalty*float64(turn))
	n.Score += score
	if n.Parent != nil {
		n.Parent.Backpropagate(score / backpropDilute)
	}
}

// IncrementVisits bumps the visit counter on this node and all ancestors.
func (n *Node) IncrementVisits() {
	n.Visits++
	if n.Parent != nil {
		n.Parent.IncrementVisits()
	}
}

// Promote rebases this node as the new tree root after its move was
// committed: the parent link is dropped (unreachable siblings go with
// it) and every descendant's distance-from-root shrinks by one.
func (n *Node) Promote() {
	n.Parent = nil
	n.decrementRootDistance()
}

func (n *Node) decrementRootDistance() {
	n.RootDistance--
	for _, child := range n.Children {
		child.decrementRootDistance()
	}
}
