package mcts

import (
	"math/rand"
	"sync"
	"time"

	"uttt-server/internal/uttt"
)

// Match drives one bot game: it owns the search tree and serializes all
// tree access (background search, background simulation, move commits)
// behind one mutex, so the three writers never interleave mid-mutation.
type Match struct {
	mu           sync.Mutex
	root         *Node
	lastActivity time.Time

	closed    chan struct{}
	closeOnce sync.Once
}

// Snapshot is a read-only copy of the match position.
type Snapshot struct {
	Boards    uttt.Boards
	WonBoards [9]string
	NextIndex int
	Winner    string
	BotsTurn  bool
	BotAvatar string
}

// NewMatch creates a match with the default setup (human plays X and
// moves first) and starts the background loops.
func NewMatch() *Match {
	m := &Match{
		root:         NewRoot(uttt.O, false),
		lastActivity: time.Now(),
		closed:       make(chan struct{}),
	}
	go m.searchLoop()
	go m.simulateLoop()
	return m
}

// SetAvatar restarts the game with the human on the given mark. When
// the human picks O the bot owns the opening move.
func (m *Match) SetAvatar(playerAvatar string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.root = NewRoot(uttt.OtherAvatar(playerAvatar), playerAvatar == uttt.O)
	m.lastActivity = time.Now()
}

// PlayerMove commits a human move: the matching child becomes the new
// root. Returns false for moves illegal in the current position.
func (m *Match) PlayerMove(move uttt.Move) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if !m.root.IsMoveValid(move) {
		return false
	}
	m.root = m.root.ChooseChild(move)
	m.root.Promote()
	m.lastActivity = time.Now()
	return true
}

// BotMove commits the bot's reply, chosen greedily over child scores.
// Returns false when the game is already decided.
func (m *Match) BotMove() (uttt.Move, bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.root.Winner != "" || !m.root.BotsTurn {
		return uttt.Move{}, false
	}
	best := m.root.ChooseBestChild()
	if best == nil {
		return uttt.Move{}, false
	}
	m.root = best
	m.root.Promote()
	return m.root.PrevMove, true
}

// State returns a copy of the current position.
func (m *Match) State() Snapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return Snapshot{
		Boards:    m.root.Boards,
		WonBoards: m.root.WonBoards,
		NextIndex: m.root.NextIndex,
		Winner:    m.root.Winner,
		BotsTurn:  m.root.BotsTurn,
		BotAvatar: m.root.BotAvatar,
	}
}

// Close stops the background loops. Idempotent.
func (m *Match) Close() {
	m.closeOnce.Do(func() { close(m.closed) })
}

// searchLoop grows the tree from the root while the game is undecided,
// pausing once the human has been idle past the staleness window.
func (m *Match) searchLoop() {
	ticker := time.NewTicker(searchDelay)
	defer ticker.Stop()
	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		if m.root.Winner != "" {
			m.mu.Unlock()
			return
		}
		if time.Since(m.lastActivity) < searchStaleness {
			m.root.Search()
		}
		m.mu.Unlock()
	}
}

// simulateLoop re-simulates random explored nodes to refine their
// scores, descending a few random levels below the root.
func (m *Match) simulateLoop() {
	ticker := time.NewTicker(simulateDelay)
	defer ticker.Stop()
	for {
		select {
		case <-m.closed:
			return
		case <-ticker.C:
		}
		m.mu.Lock()
		if m.root.Winner != "" {
			m.mu.Unlock()
			return
		}
		if time.Since(m.lastActivity) < searchStaleness {
			if node := randomDescendant(m.root); node != nil {
				Simulate(node)
			}
		}
		m.mu.Unlock()
	}
}

func randomDescendant(root *Node) *Node {
	node := randomChild(root)
	if node == nil {
		return nil
	}
	for {
		next := randomChild(node)
		if next == nil || rand.Float64() > 1/treeBreadthFactor {
			return node
		}
		node = next
	}
}

func randomChild(n *Node) *Node {
	if len(n.Children) == 0 {
		return nil
	}
	i := rand.Intn(len(n.Children))
	for _, child := range n.Children {
		if i == 0 {
			return child
		}
		i--
	}
	return nil
}
