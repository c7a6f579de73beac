package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"uttt-server/internal/uttt"
)

// TourContext links a match session to the bracket slot it decides.
// WinCount carries the running best-of tally; OnWin reports the series
// winner upward to the owning tournament.
type TourContext struct {
	TourID      string
	Round       int
	Position    int
	BestOf      int
	GamesPlayed int
	WinCount    map[string]int
	Names       map[string]string
	OnWin       func(winnerToken string)
}

// view maps the token-keyed tally to display names for clients.
func (t *TourContext) view() *TourView {
	winCount := make(map[string]int, len(t.WinCount))
	for token, wins := range t.WinCount {
		name := token
		if n, ok := t.Names[token]; ok && n != "" {
			name = n
		}
		winCount[name] = wins
	}
	return &TourView{
		TourID:       t.TourID,
		Round:        t.Round,
		Position:     t.Position,
		BestOf:       t.BestOf,
		GamesPlayed:  t.GamesPlayed,
		GameWinCount: winCount,
	}
}

// seriesTarget is the win count that decides a best-of series.
func (t *TourContext) seriesTarget() int {
	return t.BestOf/2 + 1
}

// RoomManager drives one two-player match: avatar selection, move
// validation, the optional turn clock, the rock-paper-scissors
// tie-break and score reporting. A third token is rejected as a
// spectator but keeps receiving read-only updates.
type RoomManager struct {
	session
	store *Store

	tokens      []string
	avatars     map[string]string
	firstPlayer string
	game        *uttt.Game
	timeLimit   int
	// timeLimits overrides the room limit per token; matched games give
	// each player the opponent's preference.
	timeLimits map[string]int

	rpsMoves  map[string]string
	rpsWinner string
	rpsTie    bool

	tour       *TourContext
	tourRef    tourRef
	seriesOver bool

	turnDeadline time.Time
	clockStop    chan struct{}
	deactivated  bool
}

// NewRoomManager creates a room with one or two pre-registered tokens.
// timeLimit is seconds per turn; 0 disables the clock.
func NewRoomManager(id string, store *Store, logger *zap.Logger, token1, token2 string, timeLimit int, tour *TourContext) *RoomManager {
	r := &RoomManager{
		session:   newSession(id, KindRoom, logger),
		store:     store,
		avatars:   make(map[string]string),
		game:      uttt.NewGame(),
		timeLimit: timeLimit,
		tour:      tour,
	}
	r.tokens = append(r.tokens, token1)
	r.avatars[token1] = ""
	r.firstPlayer = token1
	if token2 != "" {
		r.tokens = append(r.tokens, token2)
		r.avatars[token2] = ""
	}
	return r
}

// Join registers the connection's token as a player. The room caps at
// two players; later tokens get a room-full notice and spectate.
func (r *RoomManager) Join(c *client) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()
	if _, registered := r.avatars[c.token]; registered {
		return
	}
	if len(r.tokens) >= 2 {
		r.logger.Info("room full", zap.String("token", c.token))
		c.sendError(ErrRoomFull)
		return
	}
	r.tokens = append(r.tokens, c.token)
	r.avatars[c.token] = ""
	if len(r.tokens) == 2 {
		r.broadcastForceUpdate()
	}
}

func (r *RoomManager) HandleEvent(c *client, msg ClientMessage) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.touch()

	switch msg.Type {
	case NewMoveEvent:
		var move uttt.Move
		if err := json.Unmarshal(msg.Payload, &move); err != nil {
			return
		}
		r.handleNewMove(c.token, move)

	case SetAvatarEvent:
		var req SetAvatarRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		r.handleSetAvatar(c.token, req.Avatar)

	case RestartGameEvent:
		r.handleRestart(c.token)

	case RPSMoveEvent:
		var req RPSMoveRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		r.handleRPSMove(c.token, req.Move)

	case UpdateEvent:
		if len(r.tokens) >= 2 {
			c.send(ServerMessage{Type: UpdateEvent, Payload: r.clientView(c.token)})
		}
	}
}

func (r *RoomManager) handleNewMove(token string, move uttt.Move) {
	avatar := r.avatars[token]
	if avatar == "" || r.game.Winner() != "" {
		return
	}
	if !r.game.IsValid(move, avatar) {
		return
	}
	r.game.Apply(move, avatar)
	r.afterMove()
	r.saveSnapshot()
	r.broadcastForceUpdate()
}

// afterMove reacts to a super-board decision and rearms the turn
// clock. Callers hold the lock.
func (r *RoomManager) afterMove() {
	r.resetTurnClock()
	switch winner := r.game.Winner(); winner {
	case "":
	case uttt.Tie:
		r.startRPS()
	default:
		if token, ok := r.tokenByAvatar(winner); ok {
			r.decideWinner(token)
		}
	}
}

func (r *RoomManager) handleSetAvatar(token, avatar string) {
	if token != r.firstPlayer || len(r.tokens) < 2 {
		return
	}
	if avatar != uttt.X && avatar != uttt.O {
		return
	}
	other, ok := r.otherToken(token)
	if !ok {
		return
	}
	r.avatars[token] = avatar
	r.avatars[other] = uttt.OtherAvatar(avatar)
	r.startClock()
	r.saveSnapshot()
	r.broadcastForceUpdate()
}

func (r *RoomManager) handleRestart(token string) {
	if _, registered := r.avatars[token]; !registered {
		return
	}
	if r.game.Winner() == "" || r.tour != nil {
		return
	}
	if other, ok := r.otherToken(r.firstPlayer); ok {
		r.firstPlayer = other
	}
	for t := range r.avatars {
		r.avatars[t] = ""
	}
	r.resetBoard()
	r.saveSnapshot()
	r.broadcastForceUpdate()
}

func (r *RoomManager) handleRPSMove(token, throw string) {
	if r.rpsMoves == nil || !uttt.ValidThrow(throw) {
		return
	}
	if _, registered := r.avatars[token]; !registered {
		return
	}
	r.rpsMoves[token] = throw
	r.computeRPS()
	r.broadcastForceUpdate()
}

// computeRPS resolves the tie-break once both throws are in. Identical
// throws clear the round and flag a tie for display.
func (r *RoomManager) computeRPS() {
	if len(r.tokens) < 2 {
		return
	}
	first, second := r.tokens[0], r.tokens[1]
	throw1, ok1 := r.rpsMoves[first]
	throw2, ok2 := r.rpsMoves[second]
	if !ok1 || !ok2 {
		return
	}
	r.rpsTie = false
	switch uttt.ResolveThrows(throw1, throw2) {
	case 0:
		r.rpsMoves = make(map[string]string)
		r.rpsTie = true
	case 1:
		r.rpsWinner = first
		r.decideWinner(first)
	case 2:
		r.rpsWinner = second
		r.decideWinner(second)
	}
}

// decideWinner reports the decided game: aggregate score counters,
// then the tournament series if this match belongs to one.
func (r *RoomManager) decideWinner(winnerToken string) {
	r.stopClock()
	if loser, ok := r.otherToken(winnerToken); ok {
		r.recordWin(winnerToken, loser)
	}
	if r.tour != nil {
		r.tourWin(winnerToken)
	}
}

// tourWin advances the best-of series. The bracket only hears about
// the match once one side reaches the series target; until then the
// board resets and the avatars swap so the opening move alternates.
func (r *RoomManager) tourWin(winnerToken string) {
	if r.seriesOver {
		return
	}
	r.tour.GamesPlayed++
	r.tour.WinCount[winnerToken]++
	if r.tour.WinCount[winnerToken] >= r.tour.seriesTarget() {
		r.seriesOver = true
		if r.tour.OnWin != nil {
			r.tour.OnWin(winnerToken)
		}
		return
	}
	r.swapAvatars()
	r.resetBoard()
	r.startClock()
}

func (r *RoomManager) swapAvatars() {
	if len(r.tokens) < 2 {
		return
	}
	first, second := r.tokens[0], r.tokens[1]
	r.avatars[first], r.avatars[second] = r.avatars[second], r.avatars[first]
}

func (r *RoomManager) resetBoard() {
	r.game = uttt.NewGame()
	r.rpsMoves = nil
	r.rpsWinner = ""
	r.rpsTie = false
}

func (r *RoomManager) startRPS() {
	r.stopClock()
	r.rpsMoves = make(map[string]string)
	r.rpsWinner = ""
	r.rpsTie = false
}

func (r *RoomManager) otherToken(token string) (string, bool) {
	for _, t := range r.tokens {
		if t != token {
			return t, true
		}
	}
	return "", false
}

func (r *RoomManager) tokenByAvatar(avatar string) (string, bool) {
	for t, a := range r.avatars {
		if a == avatar {
			return t, true
		}
	}
	return "", false
}

func (r *RoomManager) clientView(token string) RoomView {
	avatar := r.avatars[token]
	view := RoomView{
		Avatar:      avatar,
		FirstPlayer: token == r.firstPlayer,
		Boards:      r.game.Boards,
		WonBoards:   r.game.WonBoards,
		NextIndex:   r.game.NextIndex,
		MyTurn:      avatar != "" && r.game.Winner() == "" && r.game.TurnAvatar() == avatar,
		TimeLimit:   r.limitFor(token),
	}
	if r.rpsMoves != nil || r.rpsWinner != "" {
		rps := &RPSView{On: true, Tie: r.rpsTie}
		if r.rpsMoves != nil {
			_, submitted := r.rpsMoves[token]
			rps.Active = avatar != "" && !submitted
			rps.Move = r.rpsMoves[token]
			if other, ok := r.otherToken(token); ok && r.rpsWinner != "" {
				rps.OppMove = r.rpsMoves[other]
			}
		}
		if r.rpsWinner != "" {
			won := r.rpsWinner == token
			rps.Winner = &won
		}
		view.RPS = rps
	}
	if r.tour != nil {
		view.TourData = r.tour.view()
	}
	return view
}

// Turn clock. One goroutine per timed room; on expiry it plays the
// fallback move for whichever side is on the clock so a disconnected
// peer cannot stall the session.

func (r *RoomManager) limitFor(token string) int {
	if limit, ok := r.timeLimits[token]; ok {
		return limit
	}
	return r.timeLimit
}

func (r *RoomManager) clocked() bool {
	if r.timeLimit > 0 {
		return true
	}
	for _, limit := range r.timeLimits {
		if limit > 0 {
			return true
		}
	}
	return false
}

// armDeadline sets the deadline from the limit of whoever is on turn;
// a zero deadline means that side plays unclocked.
func (r *RoomManager) armDeadline() {
	limit := r.timeLimit
	if token, ok := r.tokenByAvatar(r.game.TurnAvatar()); ok {
		limit = r.limitFor(token)
	}
	if limit > 0 {
		r.turnDeadline = time.Now().Add(time.Duration(limit) * time.Second)
	} else {
		r.turnDeadline = time.Time{}
	}
}

func (r *RoomManager) startClock() {
	if !r.clocked() || r.deactivated {
		return
	}
	r.armDeadline()
	if r.clockStop != nil {
		return
	}
	r.clockStop = make(chan struct{})
	go r.runClock(r.clockStop)
}

// resetTurnClock rearms the deadline for the side now on turn,
// starting the clock goroutine if a restored room lost it.
func (r *RoomManager) resetTurnClock() {
	if r.clockStop == nil {
		r.startClock()
		return
	}
	r.armDeadline()
}

func (r *RoomManager) stopClock() {
	if r.clockStop != nil {
		close(r.clockStop)
		r.clockStop = nil
	}
}

func (r *RoomManager) runClock(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
		}
		r.mu.Lock()
		if r.deactivated || r.game.Winner() != "" {
			r.mu.Unlock()
			return
		}
		if !r.turnDeadline.IsZero() && time.Now().After(r.turnDeadline) {
			r.forceMove()
		}
		r.mu.Unlock()
	}
}

// forceMove plays the fallback move for the side on the clock. Callers
// hold the lock.
func (r *RoomManager) forceMove() {
	move, ok := r.game.FallbackMove()
	if !ok {
		return
	}
	avatar := r.game.TurnAvatar()
	r.logger.Info("turn clock expired, forcing move",
		zap.String("avatar", avatar), zap.Int("subBoard", move.SubBoard), zap.Int("cell", move.Cell))
	r.game.Apply(move, avatar)
	r.afterMove()
	r.saveSnapshot()
	r.broadcastForceUpdate()
}

// ResolveByCoinFlip settles an abandoned tournament match before the
// registry tears the session down.
func (r *RoomManager) ResolveByCoinFlip() {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.tour == nil || r.seriesOver || r.tour.OnWin == nil {
		return
	}
	r.seriesOver = true
	winner := r.tokens[0]
	if len(r.tokens) > 1 && rand.Intn(2) == 1 {
		winner = r.tokens[1]
	}
	r.tour.OnWin(winner)
}

func (r *RoomManager) Deactivate() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.deactivated = true
	r.stopClock()
}

// tourRef is the persisted identity of the bracket slot a match
// decides; rooms rebuilt after a restart rebind their series context
// through it.
type tourRef struct {
	tourID   string
	round    int
	position int
}

type roomSnapshot struct {
	Boards       uttt.Boards       `json:"boards"`
	WonBoards    [9]string         `json:"wonBoards"`
	XNext        bool              `json:"xNext"`
	NextIndex    int               `json:"nextIndex"`
	FirstPlayer  string            `json:"firstPlayer"`
	Avatars      map[string]string `json:"playerTokens"`
	TimeLimit    int               `json:"timeLimit,omitempty"`
	TimeLimits   map[string]int    `json:"timeLimits,omitempty"`
	TourID       string            `json:"tourID,omitempty"`
	TourRound    int               `json:"tourRound,omitempty"`
	TourPosition int               `json:"tourPosition,omitempty"`
}

// snapshot captures persistable state. Callers hold the lock.
func (r *RoomManager) snapshot() roomSnapshot {
	snapshot := roomSnapshot{
		Boards:      r.game.Boards,
		WonBoards:   r.game.WonBoards,
		XNext:       r.game.XNext,
		NextIndex:   r.game.NextIndex,
		FirstPlayer: r.firstPlayer,
		Avatars:     r.avatars,
		TimeLimit:   r.timeLimit,
		TimeLimits:  r.timeLimits,
	}
	if r.tour != nil {
		snapshot.TourID = r.tour.TourID
		snapshot.TourRound = r.tour.Round
		snapshot.TourPosition = r.tour.Position
	} else if r.tourRef.tourID != "" {
		snapshot.TourID = r.tourRef.tourID
		snapshot.TourRound = r.tourRef.round
		snapshot.TourPosition = r.tourRef.position
	}
	return snapshot
}

// saveSnapshot persists the room state, best-effort. Callers hold the
// lock.
func (r *RoomManager) saveSnapshot() {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.store.SaveGame(ctx, r.id, r.snapshot()); err != nil {
		r.logger.Warn("failed to persist game snapshot", zap.Error(err))
	}
}

// PersistSnapshot is the periodic-save entry point.
func (r *RoomManager) PersistSnapshot() {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saveSnapshot()
}

// NewRoomFromSnapshot rebuilds a room from its persisted state so an
// in-flight game survives a restart. The turn clock restarts on the
// next committed move.
func NewRoomFromSnapshot(id string, store *Store, logger *zap.Logger, data []byte) (*RoomManager, error) {
	var snapshot roomSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode game %s: %w", id, err)
	}
	r := &RoomManager{
		session:   newSession(id, KindRoom, logger),
		store:     store,
		avatars:   make(map[string]string),
		game:      uttt.NewGame(),
		timeLimit: snapshot.TimeLimit,
	}
	r.game.Boards = snapshot.Boards
	r.game.WonBoards = snapshot.WonBoards
	r.game.XNext = snapshot.XNext
	r.game.NextIndex = snapshot.NextIndex
	r.firstPlayer = snapshot.FirstPlayer
	r.timeLimits = snapshot.TimeLimits
	r.tourRef = tourRef{tourID: snapshot.TourID, round: snapshot.TourRound, position: snapshot.TourPosition}
	for token, avatar := range snapshot.Avatars {
		r.avatars[token] = avatar
		if token == snapshot.FirstPlayer {
			r.tokens = append([]string{token}, r.tokens...)
		} else {
			r.tokens = append(r.tokens, token)
		}
	}
	return r, nil
}

func (r *RoomManager) recordWin(winnerToken, loserToken string) {
	if r.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := r.store.RecordWin(ctx, winnerToken, loserToken); err != nil {
		r.logger.Warn("failed to record win", zap.Error(err))
	}
}
