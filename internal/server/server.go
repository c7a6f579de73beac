package server

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"strconv"
	"sync"
	"time"

	_ "github.com/joho/godotenv/autoload"
	"github.com/robfig/cron/v3"
	"go.uber.org/zap"

	"uttt-server/internal/database"
)

const (
	periodicSaveInterval = 30 * time.Second
	staleSessionAge      = 24 * time.Hour
	messagesPerSecond    = 20
)

type Server struct {
	port        int
	db          database.Service
	store       *Store
	registry    *Registry
	matchmaking *MatchmakingQueue
	rateLimiter *RateLimiter
	cron        *cron.Cron
	logger      *zap.Logger

	shardMu      sync.Mutex
	loadedShards map[int]bool

	stopSave chan struct{}
}

// snapshotter is implemented by managers whose state survives a
// restart.
type snapshotter interface {
	PersistSnapshot()
}

// NewServer wires the database, store, session registry and
// matchmaking queue, starts the background jobs and returns the
// configured HTTP server alongside the application server.
func NewServer(logger *zap.Logger) (*Server, *http.Server) {
	port, _ := strconv.Atoi(os.Getenv("PORT"))

	dbService, err := database.New()
	if err != nil {
		logger.Fatal("failed to connect to database", zap.Error(err))
	}
	store := NewStore(dbService.Pool(), logger)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := store.CreateTables(ctx); err != nil {
		logger.Fatal("failed to initialize database tables", zap.Error(err))
	}

	registry := NewRegistry(logger)

	s := &Server{
		port:         port,
		db:           dbService,
		store:        store,
		registry:     registry,
		matchmaking:  NewMatchmakingQueue(registry, store, logger),
		rateLimiter:  NewRateLimiter(messagesPerSecond, time.Second),
		cron:         cron.New(),
		logger:       logger,
		loadedShards: make(map[int]bool),
		stopSave:     make(chan struct{}),
	}

	// Nightly archival of idle tournaments, hourly cleanup of stale
	// game snapshots.
	if _, err := s.cron.AddFunc("0 3 * * *", s.archiveTournamentsTask); err != nil {
		logger.Fatal("failed to schedule archival job", zap.Error(err))
	}
	if _, err := s.cron.AddFunc("@hourly", s.cleanupGamesTask); err != nil {
		logger.Fatal("failed to schedule cleanup job", zap.Error(err))
	}
	s.cron.Start()

	go s.periodicSaveTask()

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", s.port),
		Handler:      s.RegisterRoutes(),
		IdleTimeout:  time.Minute,
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 30 * time.Second,
	}

	return s, httpServer
}

// periodicSaveTask persists every snapshot-capable session on a fixed
// interval, so a crash loses at most one interval of moves.
func (s *Server) periodicSaveTask() {
	ticker := time.NewTicker(periodicSaveInterval)
	defer ticker.Stop()
	for {
		select {
		case <-s.stopSave:
			return
		case <-ticker.C:
			s.saveAllSessions()
		}
	}
}

func (s *Server) saveAllSessions() {
	saved := 0
	for _, m := range s.registry.Snapshot() {
		if sn, ok := m.(snapshotter); ok {
			sn.PersistSnapshot()
			saved++
		}
	}
	if saved > 0 {
		s.logger.Debug("periodic save completed", zap.Int("sessions", saved))
	}
}

func (s *Server) archiveTournamentsTask() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	moved, err := s.store.ArchiveIdleTournaments(ctx, staleSessionAge)
	if err != nil {
		s.logger.Error("tournament archival failed", zap.Error(err))
		return
	}
	if moved > 0 {
		s.logger.Info("archived idle tournaments", zap.Int("count", moved))
	}
}

func (s *Server) cleanupGamesTask() {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	deleted, err := s.store.CleanupStaleGames(ctx, staleSessionAge)
	if err != nil {
		s.logger.Error("game cleanup failed", zap.Error(err))
		return
	}
	if deleted > 0 {
		s.logger.Info("deleted stale game snapshots", zap.Int("count", deleted))
	}
}

// Shutdown flushes session state and stops the background machinery.
func (s *Server) Shutdown(ctx context.Context) error {
	s.saveAllSessions()
	close(s.stopSave)
	s.matchmaking.Stop()
	cronCtx := s.cron.Stop()
	select {
	case <-cronCtx.Done():
	case <-ctx.Done():
	}
	s.db.Close()
	return nil
}
