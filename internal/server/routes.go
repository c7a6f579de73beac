package server

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"
	"go.uber.org/zap"
)

func (s *Server) RegisterRoutes() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("/", s.rootHandler)

	mux.HandleFunc("/health", s.healthHandler)

	mux.HandleFunc("/websocket", s.websocketHandler)

	// Wrap the mux with CORS middleware
	return s.corsMiddleware(mux)
}

func (s *Server) corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*") // Replace "*" with specific origins if needed
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS, PATCH")
		w.Header().Set("Access-Control-Allow-Headers", "Accept, Authorization, Content-Type, X-CSRF-Token")
		w.Header().Set("Access-Control-Allow-Credentials", "false")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusNoContent)
			return
		}

		next.ServeHTTP(w, r)
	})
}

func (s *Server) rootHandler(w http.ResponseWriter, r *http.Request) {
	resp := map[string]string{"message": "Hello World"}
	jsonResp, err := json.Marshal(resp)
	if err != nil {
		http.Error(w, "Failed to marshal response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(jsonResp); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

func (s *Server) healthHandler(w http.ResponseWriter, r *http.Request) {
	resp, err := json.Marshal(s.db.Health(r.Context()))
	if err != nil {
		http.Error(w, "Failed to marshal health check response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	if _, err := w.Write(resp); err != nil {
		s.logger.Warn("failed to write response", zap.Error(err))
	}
}

// websocketHandler is the single game endpoint. Query parameters pick
// the mode: matchmaking=true queues the player, tournament=true joins
// or creates a bracket under roomID, a bare roomID joins or creates a
// room, and no roomID starts a practice game against the bot.
func (s *Server) websocketHandler(w http.ResponseWriter, r *http.Request) {
	socket, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"}, // TODO: make environment-specific
	})
	if err != nil {
		http.Error(w, "Failed to open websocket", http.StatusInternalServerError)
		return
	}
	defer socket.Close(websocket.StatusGoingAway, "Server closing")

	ctx := r.Context()
	query := r.URL.Query()

	token := SanitizeToken(query.Get("token"))
	if token == "" {
		if cookie, err := r.Cookie("token"); err == nil {
			token = SanitizeToken(cookie.Value)
		}
	}
	if token == "" {
		token = uuid.New().String()
	}
	connectionID := uuid.New().String()
	c := &client{
		connectionID: connectionID,
		token:        token,
		conn:         socket,
		logger:       s.logger.With(zap.String("connectionID", connectionID)),
	}
	s.logger.Info("new connection", zap.String("connectionID", connectionID))
	defer s.rateLimiter.RemoveConnection(connectionID)

	if query.Get("matchmaking") == "true" {
		timeLimit, _ := strconv.Atoi(query.Get("timeLimit"))
		s.matchmakingLoop(ctx, c, timeLimit)
		return
	}

	m, err := s.resolveManager(ctx, token, query.Get("roomID"), query.Get("tournament") == "true")
	if err != nil {
		s.logger.Error("failed to resolve session", zap.Error(err))
		return
	}
	m.Attach(c)
	m.Join(c)
	defer func() {
		if remaining := m.Detach(connectionID); remaining == 0 {
			s.registry.StartReaper(m)
		}
		s.logger.Info("connection closed", zap.String("connectionID", connectionID))
	}()

	for {
		msg, ok := s.readMessage(ctx, c)
		if !ok {
			return
		}
		m.HandleEvent(c, msg)
	}
}

// matchmakingLoop parks a connection in the queue until a match is
// found or the client disconnects.
func (s *Server) matchmakingLoop(ctx context.Context, c *client, timeLimit int) {
	s.matchmaking.AddClient(c, timeLimit)
	defer s.matchmaking.RemoveToken(c.token)
	for {
		msg, ok := s.readMessage(ctx, c)
		if !ok {
			return
		}
		if msg.Type == GetWaitTimeEvent {
			s.matchmaking.AddClient(c, timeLimit)
		}
	}
}

// readMessage pulls one rate-limited, well-formed client message.
// Rate-limited and malformed frames are skipped, not fatal.
func (s *Server) readMessage(ctx context.Context, c *client) (ClientMessage, bool) {
	for {
		msgType, data, err := c.conn.Read(ctx)
		if err != nil {
			return ClientMessage{}, false
		}
		if msgType != websocket.MessageText {
			continue
		}
		if !s.rateLimiter.Allow(c.connectionID) {
			s.logger.Warn("rate limited", zap.String("connectionID", c.connectionID))
			continue
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			s.logger.Debug("invalid JSON from client",
				zap.String("connectionID", c.connectionID), zap.Error(err))
			continue
		}
		return msg, true
	}
}

// resolveManager maps the connection parameters to a session manager,
// creating or rehydrating one when the id is unseen.
func (s *Server) resolveManager(ctx context.Context, token, roomID string, tournament bool) (Manager, error) {
	switch {
	case roomID == "":
		// Practice games are keyed by the player's own token.
		m, _, err := s.registry.Resolve(token, func() (Manager, error) {
			return NewBotManager(token, s.store, s.logger, token, aiPrefix, 0, nil), nil
		})
		return m, err

	case tournament:
		s.ensureShardLoaded(ctx, ShardOf(roomID))
		m, _, err := s.registry.Resolve(roomID, func() (Manager, error) {
			return NewTournamentManager(roomID, s.registry, s.store, s.logger, token), nil
		})
		return m, err

	default:
		m, created, err := s.registry.Resolve(roomID, func() (Manager, error) {
			if s.store != nil {
				dbCtx, cancel := context.WithTimeout(ctx, 3*time.Second)
				defer cancel()
				if data, err := s.store.GetGame(dbCtx, roomID); err == nil {
					if room, err := NewRoomFromSnapshot(roomID, s.store, s.logger, data); err == nil {
						return room, nil
					}
				}
			}
			return NewRoomManager(roomID, s.store, s.logger, token, "", 0, nil), nil
		})
		if err == nil && created {
			if room, ok := m.(*RoomManager); ok {
				s.rebindTournament(ctx, room)
			}
		}
		return m, err
	}
}

// rebindTournament reattaches a rehydrated match to its bracket slot;
// without it a restart would leave the slot waiting on a result that
// can never arrive.
func (s *Server) rebindTournament(ctx context.Context, room *RoomManager) {
	room.mu.Lock()
	ref := room.tourRef
	tokens := append([]string{}, room.tokens...)
	bound := room.tour != nil
	room.mu.Unlock()
	if bound || ref.tourID == "" || len(tokens) < 2 {
		return
	}

	s.ensureShardLoaded(ctx, ShardOf(ref.tourID))
	m, ok := s.registry.Get(ref.tourID)
	if !ok {
		s.logger.Warn("rehydrated match references unknown tournament",
			zap.String("roomID", room.ID()), zap.String("tourID", ref.tourID))
		return
	}
	tm, ok := m.(*TournamentManager)
	if !ok {
		return
	}
	tour := tm.MatchContext(ref.round, ref.position, tokens[0], tokens[1])
	room.mu.Lock()
	room.tour = tour
	room.mu.Unlock()
}

// ensureShardLoaded rehydrates every persisted tournament of a shard
// on its first reference after startup, so bracket links survive a
// restart.
func (s *Server) ensureShardLoaded(ctx context.Context, shard int) {
	if shard == 0 {
		return
	}
	s.shardMu.Lock()
	defer s.shardMu.Unlock()
	if s.loadedShards[shard] {
		return
	}
	s.loadedShards[shard] = true

	dbCtx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()
	snapshots, err := s.store.ScanTournamentsByShard(dbCtx, shard)
	if err != nil {
		s.logger.Error("failed to scan tournament shard", zap.Int("shard", shard), zap.Error(err))
		return
	}
	restored := 0
	for id, data := range snapshots {
		if _, exists := s.registry.Get(id); exists {
			continue
		}
		t, err := NewTournamentFromSnapshot(id, s.registry, s.store, s.logger, data)
		if err != nil {
			s.logger.Warn("skipping corrupt tournament snapshot", zap.String("tourID", id), zap.Error(err))
			continue
		}
		s.registry.Put(t)
		s.registry.StartReaper(t)
		restored++
	}
	if restored > 0 {
		s.logger.Info("rehydrated tournament shard", zap.Int("shard", shard), zap.Int("count", restored))
	}
}
