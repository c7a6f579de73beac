package uttt

// Cell and winner markers. An empty string means the cell (or sub-board)
// is still undecided.
const (
	X   = "X"
	O   = "O"
	Tie = "T"
)

// FreeChoice is the mandate sentinel: the next mover may play in any
// undecided sub-board.
const FreeChoice = -1

// Boards is the full position: 9 sub-boards of 9 cells each.
type Boards [9][9]string

// Move addresses one cell: the sub-board it belongs to and the cell
// within that sub-board. Wire names match the client protocol.
type Move struct {
	SubBoard int `json:"gameIndex"`
	Cell     int `json:"boardIndex"`
}

// WinLines are the 8 winning lines of a 3x3 grid, shared with the
// search heuristics.
var WinLines = [8][3]int{
	{0, 1, 2},
	{3, 4, 5},
	{6, 7, 8},
	{0, 3, 6},
	{1, 4, 7},
	{2, 5, 8},
	{0, 4, 8},
	{2, 4, 6},
}

// CalculateWinner evaluates one 3x3 grid. It returns X or O when a line
// is uniformly held by that avatar, Tie when every cell is decided and
// no line won, and "" while the grid is still open. A line of Tie
// markers never wins: ties only propagate through the full-grid check.
func CalculateWinner(cells [9]string) string {
	for _, line := range WinLines {
		a, b, c := cells[line[0]], cells[line[1]], cells[line[2]]
		if a != "" && a != Tie && a == b && a == c {
			return a
		}
	}
	for _, cell := range cells {
		if cell == "" {
			return ""
		}
	}
	return Tie
}

// Game is one match position. The zero value is not usable; construct
// with NewGame.
type Game struct {
	Boards    Boards    `json:"boards"`
	WonBoards [9]string `json:"wonBoards"`
	XNext     bool      `json:"xNext"`
	NextIndex int       `json:"nextIndex"`
}

func NewGame() *Game {
	return &Game{
		XNext:     true,
		NextIndex: FreeChoice,
	}
}

// IsValid reports whether avatar may play the move in the current
// position: it must be that avatar's turn, the move must hit the
// mandated sub-board (unless the mandate is free choice), the target
// sub-board must be undecided and the target cell empty.
func (g *Game) IsValid(m Move, avatar string) bool {
	if m.SubBoard < 0 || m.SubBoard > 8 || m.Cell < 0 || m.Cell > 8 {
		return false
	}
	if (avatar == X) != g.XNext {
		return false
	}
	if g.NextIndex != FreeChoice && m.SubBoard != g.NextIndex {
		return false
	}
	if g.WonBoards[m.SubBoard] != "" {
		return false
	}
	if g.Boards[m.SubBoard][m.Cell] != "" {
		return false
	}
	return true
}

// Apply writes a validated move: marks the cell, re-evaluates the
// affected sub-board, derives the next mandate from the played cell
// index (free choice if that sub-board is already decided) and flips
// the turn. Callers must check IsValid first.
func (g *Game) Apply(m Move, avatar string) {
	g.Boards[m.SubBoard][m.Cell] = avatar
	if winner := CalculateWinner(g.Boards[m.SubBoard]); winner != "" {
		g.WonBoards[m.SubBoard] = winner
	}
	next := m.Cell
	if g.WonBoards[next] != "" {
		next = FreeChoice
	}
	g.NextIndex = next
	g.XNext = !g.XNext
}

// Winner evaluates the super-board: X/O for a decided match, Tie for a
// fully tied super-board, "" while the match is in progress.
func (g *Game) Winner() string {
	return CalculateWinner(g.WonBoards)
}

// TurnAvatar returns the avatar whose turn it is.
func (g *Game) TurnAvatar() string {
	if g.XNext {
		return X
	}
	return O
}

// PossibleMoves enumerates every legal move in a position, independent
// of whose turn it is.
func PossibleMoves(boards Boards, wonBoards [9]string, nextIndex int) []Move {
	var targets []int
	if nextIndex != FreeChoice && wonBoards[nextIndex] == "" {
		targets = []int{nextIndex}
	} else {
		for i, w := range wonBoards {
			if w == "" {
				targets = append(targets, i)
			}
		}
	}
	var moves []Move
	for _, sub := range targets {
		for cell, v := range boards[sub] {
			if v == "" {
				moves = append(moves, Move{SubBoard: sub, Cell: cell})
			}
		}
	}
	return moves
}

// PossibleMoves enumerates the legal moves of the current position.
func (g *Game) PossibleMoves() []Move {
	return PossibleMoves(g.Boards, g.WonBoards, g.NextIndex)
}

// FallbackMove picks the forced-progress move used when a turn clock
// expires: the mandated sub-board if still open, otherwise the first
// undecided sub-board, always the first empty cell. The bool is false
// only when no legal move exists.
func FallbackMove(boards Boards, wonBoards [9]string, nextIndex int) (Move, bool) {
	sub := nextIndex
	if sub == FreeChoice || wonBoards[sub] != "" {
		sub = -1
		for i, w := range wonBoards {
			if w == "" {
				sub = i
				break
			}
		}
		if sub == -1 {
			return Move{}, false
		}
	}
	for cell, v := range boards[sub] {
		if v == "" {
			return Move{SubBoard: sub, Cell: cell}, true
		}
	}
	return Move{}, false
}

// FallbackMove picks the forced-progress move of the current position.
func (g *Game) FallbackMove() (Move, bool) {
	return FallbackMove(g.Boards, g.WonBoards, g.NextIndex)
}

// OtherAvatar returns the opposing mark.
func OtherAvatar(avatar string) string {
	if avatar == X {
		return O
	}
	return X
}
