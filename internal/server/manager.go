package server

import (
	"context"
	"encoding/json"
	"sync"
	"time"

	"github.com/coder/websocket"
	"go.uber.org/zap"
)

// Manager is the capability set shared by room, tournament and bot
// sessions. The registry owns the id→Manager mapping; each manager
// exclusively owns its mutable state and serializes event handling
// behind its session lock.
type Manager interface {
	ID() string
	Kind() string
	Attach(c *client)
	// Join registers the connection's token as a participant; viewers
	// past the player cap stay attached for read-only updates.
	Join(c *client)
	Detach(connectionID string) int
	HandleEvent(c *client, msg ClientMessage)
	ActiveConnections() int
	LastActivity() time.Time
	// Deactivate releases background resources; called once, when the
	// registry reaps the session.
	Deactivate()
}

// client is one websocket connection bound to a player token. Writes
// use a short background context so a slow peer cannot stall a
// broadcast under a session lock.
type client struct {
	connectionID string
	token        string
	conn         *websocket.Conn
	logger       *zap.Logger
}

const clientWriteTimeout = 5 * time.Second

func (c *client) send(msg ServerMessage) {
	if c == nil || c.conn == nil {
		return
	}
	data, err := json.Marshal(msg)
	if err != nil {
		c.logger.Error("failed to marshal message", zap.String("type", msg.Type), zap.Error(err))
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), clientWriteTimeout)
	defer cancel()
	if err := c.conn.Write(ctx, websocket.MessageText, data); err != nil {
		c.logger.Debug("failed to write to client",
			zap.String("connectionID", c.connectionID), zap.Error(err))
	}
}

func (c *client) sendError(errorMessage string) {
	c.send(ServerMessage{Type: ErrorEvent, Payload: ErrorMessage{ErrorMessage: errorMessage}})
	c.forceUpdate()
}

// forceUpdate prompts the client to re-request personalized state.
func (c *client) forceUpdate() {
	c.send(ServerMessage{Type: ForceClientUpdateEvent, Payload: struct{}{}})
}

// session is the embedded base for all managers: connection tracking
// and idle accounting behind one mutex.
type session struct {
	id   string
	kind string

	mu           sync.Mutex
	clients      map[string]*client
	lastActivity time.Time
	logger       *zap.Logger
}

func newSession(id, kind string, logger *zap.Logger) session {
	return session{
		id:           id,
		kind:         kind,
		clients:      make(map[string]*client),
		lastActivity: time.Now(),
		logger:       logger.With(zap.String("session", id), zap.String("kind", kind)),
	}
}

func (s *session) ID() string {
	return s.id
}

func (s *session) Kind() string {
	return s.kind
}

func (s *session) Attach(c *client) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.clients[c.connectionID] = c
	s.lastActivity = time.Now()
}

func (s *session) Detach(connectionID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.clients, connectionID)
	s.lastActivity = time.Now()
	return len(s.clients)
}

func (s *session) ActiveConnections() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.clients)
}

func (s *session) LastActivity() time.Time {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.lastActivity
}

func (s *session) touch() {
	s.lastActivity = time.Now()
}

// broadcastForceUpdate prompts every attached connection to re-request
// state. Callers hold the session lock.
func (s *session) broadcastForceUpdate() {
	for _, c := range s.clients {
		c.forceUpdate()
	}
}
