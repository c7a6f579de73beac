package server

import (
	"context"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"
)

type queueEntry struct {
	token     string
	timeLimit int
}

// MatchmakingQueue pairs waiting players in arrival order. A drain
// pass runs on a fixed ping interval; each pass pairs as many distinct
// tokens as it can and records how long the queue sat empty-handed
// between pairings.
type MatchmakingQueue struct {
	mu       sync.Mutex
	queue    []queueEntry
	waiters  map[string]*client
	lastPair time.Time

	registry *Registry
	store    *Store
	logger   *zap.Logger
	stop     chan struct{}
	stopOnce sync.Once
}

func NewMatchmakingQueue(registry *Registry, store *Store, logger *zap.Logger) *MatchmakingQueue {
	q := &MatchmakingQueue{
		waiters:  make(map[string]*client),
		lastPair: time.Now(),
		registry: registry,
		store:    store,
		logger:   logger.With(zap.String("component", "matchmaking")),
		stop:     make(chan struct{}),
	}
	go q.drainLoop()
	return q
}

// AddClient enqueues a connection and tells it today's average wait.
// A token already in the queue just refreshes its notification target.
func (q *MatchmakingQueue) AddClient(c *client, timeLimit int) {
	q.mu.Lock()
	if _, waiting := q.waiters[c.token]; !waiting {
		q.queue = append(q.queue, queueEntry{token: c.token, timeLimit: timeLimit})
	}
	q.waiters[c.token] = c
	q.mu.Unlock()

	seconds := 0
	if q.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		avg, err := q.store.TodaysAverageWaitTime(ctx)
		if err != nil {
			q.logger.Warn("failed to load average wait time", zap.Error(err))
		} else {
			seconds = avg
		}
	}
	c.send(ServerMessage{Type: GetWaitTimeEvent, Payload: WaitTimeNotification{Seconds: seconds}})
}

// RemoveToken drops a disconnected player from the queue.
func (q *MatchmakingQueue) RemoveToken(token string) {
	q.mu.Lock()
	defer q.mu.Unlock()
	delete(q.waiters, token)
	for i, entry := range q.queue {
		if entry.token == token {
			q.queue = append(q.queue[:i], q.queue[i+1:]...)
			return
		}
	}
}

func (q *MatchmakingQueue) Stop() {
	q.stopOnce.Do(func() { close(q.stop) })
}

func (q *MatchmakingQueue) drainLoop() {
	ticker := time.NewTicker(matchmakingPingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-q.stop:
			return
		case <-ticker.C:
			q.drain()
		}
	}
}

// drain pairs the head of the queue with the next distinct token. The
// same token connected twice stays queued rather than playing itself.
func (q *MatchmakingQueue) drain() {
	for {
		q.mu.Lock()
		if len(q.queue) < 2 || q.queue[0].token == q.queue[1].token {
			q.mu.Unlock()
			return
		}
		first, second := q.queue[0], q.queue[1]
		q.queue = q.queue[2:]
		firstClient := q.waiters[first.token]
		secondClient := q.waiters[second.token]
		delete(q.waiters, first.token)
		delete(q.waiters, second.token)
		waited := int(time.Since(q.lastPair).Seconds())
		q.lastPair = time.Now()
		q.mu.Unlock()

		q.createMatch(first, firstClient, second, secondClient)

		if q.store != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
			if err := q.store.RecordWaitTime(ctx, waited); err != nil {
				q.logger.Warn("failed to record wait time", zap.Error(err))
			}
			cancel()
		}
	}
}

// createMatch builds a pre-seeded room for the pair. The opening move
// goes to a coin flip; each player plays under the opponent's preferred
// time limit. The initial session row is persisted before either side
// is notified so a reconnect cannot race an empty id.
func (q *MatchmakingQueue) createMatch(first queueEntry, firstClient *client, second queueEntry, secondClient *client) {
	if rand.Intn(2) == 1 {
		first, second = second, first
		firstClient, secondClient = secondClient, firstClient
	}
	roomID := NewSessionID()
	room := NewRoomManager(roomID, q.store, q.logger, first.token, second.token, 0, nil)
	room.timeLimits = map[string]int{
		first.token:  second.timeLimit,
		second.token: first.timeLimit,
	}
	q.registry.Put(room)
	room.PersistSnapshot()
	q.logger.Info("matched players", zap.String("roomID", roomID))

	firstClient.send(ServerMessage{Type: MatchFoundEvent, Payload: MatchFoundNotification{
		RoomID:    roomID,
		TimeLimit: second.timeLimit,
	}})
	time.Sleep(matchNotifyDelay)
	secondClient.send(ServerMessage{Type: MatchFoundEvent, Payload: MatchFoundNotification{
		RoomID:    roomID,
		TimeLimit: first.timeLimit,
	}})
}
