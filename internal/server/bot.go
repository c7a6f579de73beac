package server

import (
	"context"
	"encoding/json"
	"math/rand"
	"time"

	"go.uber.org/zap"

	"uttt-server/internal/mcts"
	"uttt-server/internal/uttt"
)

var botThrows = [3]string{uttt.Rock, uttt.Paper, uttt.Scissors}

// BotManager drives one human-versus-bot match on top of an mcts.Match.
// The bot answers after a short delay on its own goroutine; everything
// that touches the session state reacquires the lock first.
type BotManager struct {
	session
	store *Store
	match *mcts.Match

	playerToken string
	aiToken     string
	timeLimit   int

	// rpsMoves is nil while no tie-break is active.
	rpsMoves  map[string]string
	rpsWinner string
	rpsTie    bool

	tour       *TourContext
	seriesOver bool
	decided    bool

	turnDeadline time.Time
	clockStop    chan struct{}
}

// NewBotManager creates a bot session. aiToken is empty for casual
// practice games and set to the bracket's AI entry inside a tournament.
func NewBotManager(id string, store *Store, logger *zap.Logger, playerToken, aiToken string, timeLimit int, tour *TourContext) *BotManager {
	b := &BotManager{
		session:     newSession(id, KindBot, logger),
		store:       store,
		match:       mcts.NewMatch(),
		playerToken: playerToken,
		aiToken:     aiToken,
		timeLimit:   timeLimit,
	}
	if tour != nil {
		b.tour = tour
		b.startClock()
	}
	return b
}

func (b *BotManager) Join(c *client) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
}

func (b *BotManager) HandleEvent(c *client, msg ClientMessage) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.touch()
	if c.token != b.playerToken {
		if msg.Type == UpdateEvent {
			c.send(ServerMessage{Type: UpdateEvent, Payload: b.clientView()})
		}
		return
	}

	switch msg.Type {
	case NewMoveEvent:
		var move uttt.Move
		if err := json.Unmarshal(msg.Payload, &move); err != nil {
			return
		}
		b.handleNewMove(move)

	case SetAvatarEvent:
		var req SetAvatarRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		b.handleSetAvatar(req.Avatar)

	case RestartGameEvent:
		b.handleRestart()

	case RPSMoveEvent:
		var req RPSMoveRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		b.handleRPSMove(req.Move)

	case UpdateEvent:
		c.send(ServerMessage{Type: UpdateEvent, Payload: b.clientView()})
	}
}

func (b *BotManager) handleNewMove(move uttt.Move) {
	if b.decided || b.rpsMoves != nil {
		return
	}
	if !b.match.PlayerMove(move) {
		return
	}
	b.resetTurnClock()
	b.afterMove()
	b.broadcastForceUpdate()
}

// afterMove inspects the position after a committed human move and
// either finishes the game or hands the turn to the bot.
func (b *BotManager) afterMove() {
	state := b.match.State()
	switch state.Winner {
	case "":
		b.scheduleBotMove()
	case uttt.Tie:
		b.startRPS()
	default:
		b.decideWinner(b.tokenByAvatar(state.Winner))
	}
}

// scheduleBotMove commits the bot's reply after the thinking delay.
func (b *BotManager) scheduleBotMove() {
	go func() {
		time.Sleep(mcts.BotTurnDelay)
		if _, ok := b.match.BotMove(); !ok {
			return
		}
		b.mu.Lock()
		defer b.mu.Unlock()
		if b.decided {
			return
		}
		b.resetTurnClock()
		state := b.match.State()
		switch state.Winner {
		case "":
		case uttt.Tie:
			b.startRPS()
		default:
			b.decideWinner(b.tokenByAvatar(state.Winner))
		}
		b.broadcastForceUpdate()
	}()
}

// handleSetAvatar restarts the game with the human on the chosen mark;
// picking O gives the bot the opening move.
func (b *BotManager) handleSetAvatar(avatar string) {
	if b.decided || (avatar != uttt.X && avatar != uttt.O) {
		return
	}
	b.match.SetAvatar(avatar)
	b.rpsMoves = nil
	b.rpsWinner = ""
	b.rpsTie = false
	b.startClock()
	if avatar == uttt.O {
		b.scheduleBotMove()
	}
	b.broadcastForceUpdate()
}

func (b *BotManager) handleRestart() {
	if b.tour != nil {
		return
	}
	b.match.SetAvatar(uttt.X)
	b.rpsMoves = nil
	b.rpsWinner = ""
	b.rpsTie = false
	b.decided = false
	b.broadcastForceUpdate()
}

// handleRPSMove resolves the tie-break immediately: the bot throws a
// uniformly random hand against the human's.
func (b *BotManager) handleRPSMove(throw string) {
	if b.rpsMoves == nil || !uttt.ValidThrow(throw) {
		return
	}
	botThrow := botThrows[rand.Intn(len(botThrows))]
	b.rpsMoves[b.playerToken] = throw
	b.rpsMoves[b.aiToken] = botThrow
	b.rpsTie = false
	switch uttt.ResolveThrows(throw, botThrow) {
	case 0:
		b.rpsMoves = make(map[string]string)
		b.rpsTie = true
	case 1:
		b.rpsWinner = b.playerToken
		b.decideWinner(b.playerToken)
	case 2:
		b.rpsWinner = b.aiToken
		b.decideWinner(b.aiToken)
	}
	b.broadcastForceUpdate()
}

func (b *BotManager) tokenByAvatar(avatar string) string {
	if b.match.State().BotAvatar == avatar {
		return b.aiToken
	}
	return b.playerToken
}

// decideWinner reports a decided game to the score table and, inside a
// tournament, to the best-of series.
func (b *BotManager) decideWinner(winnerToken string) {
	b.stopClock()
	if b.store != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		defer cancel()
		winner, loser := b.playerToken, ""
		if winnerToken != b.playerToken {
			winner, loser = "", b.playerToken
		}
		if err := b.store.RecordWin(ctx, winner, loser); err != nil {
			b.logger.Warn("failed to record bot game result", zap.Error(err))
		}
	}
	if b.tour != nil {
		b.tourWin(winnerToken)
		return
	}
	b.decided = true
}

// tourWin mirrors the room series logic: the bracket hears about the
// match once one side reaches the target, otherwise the board resets
// with the opening move swapped.
func (b *BotManager) tourWin(winnerToken string) {
	if b.seriesOver {
		return
	}
	b.tour.GamesPlayed++
	b.tour.WinCount[winnerToken]++
	if b.tour.WinCount[winnerToken] >= b.tour.seriesTarget() {
		b.seriesOver = true
		b.decided = true
		if b.tour.OnWin != nil {
			b.tour.OnWin(winnerToken)
		}
		return
	}
	playerAvatar := uttt.OtherAvatar(b.match.State().BotAvatar)
	b.match.SetAvatar(uttt.OtherAvatar(playerAvatar))
	b.rpsMoves = nil
	b.rpsWinner = ""
	b.rpsTie = false
	b.startClock()
	if uttt.OtherAvatar(playerAvatar) == uttt.O {
		b.scheduleBotMove()
	}
}

func (b *BotManager) startRPS() {
	b.stopClock()
	b.rpsMoves = make(map[string]string)
	b.rpsWinner = ""
	b.rpsTie = false
}

func (b *BotManager) clientView() BotView {
	state := b.match.State()
	playerAvatar := uttt.OtherAvatar(state.BotAvatar)
	view := BotView{
		AI:           true,
		AllowRestart: b.tour == nil,
		Avatar:       playerAvatar,
		Boards:       state.Boards,
		WonBoards:    state.WonBoards,
		NextIndex:    state.NextIndex,
		MyTurn:       !state.BotsTurn && state.Winner == "",
		TimeLimit:    b.timeLimit,
	}
	if b.rpsMoves != nil || b.rpsWinner != "" || b.rpsTie {
		throw, submitted := b.rpsMoves[b.playerToken]
		rps := &RPSView{
			On:     true,
			Active: !submitted && b.rpsWinner == "",
			Tie:    b.rpsTie,
			Move:   throw,
		}
		if b.rpsWinner != "" {
			won := b.rpsWinner == b.playerToken
			rps.Winner = &won
			rps.OppMove = b.rpsMoves[b.aiToken]
		}
		view.RPS = rps
	}
	if b.tour != nil {
		view.TourData = b.tour.view()
	}
	return view
}

// Turn clock. Only tournament bot games run one; casual games let the
// human think forever.

func (b *BotManager) startClock() {
	b.stopClock()
	if b.timeLimit <= 0 || b.tour == nil {
		return
	}
	b.turnDeadline = time.Now().Add(time.Duration(b.timeLimit) * time.Second)
	stop := make(chan struct{})
	b.clockStop = stop
	go b.runClock(stop)
}

func (b *BotManager) resetTurnClock() {
	if b.clockStop == nil {
		return
	}
	b.turnDeadline = time.Now().Add(time.Duration(b.timeLimit) * time.Second)
}

func (b *BotManager) stopClock() {
	if b.clockStop != nil {
		close(b.clockStop)
		b.clockStop = nil
	}
}

func (b *BotManager) runClock(stop chan struct{}) {
	ticker := time.NewTicker(time.Second)
	defer ticker.Stop()
	for {
		select {
		case <-stop:
			return
		case <-ticker.C:
			b.mu.Lock()
			if b.decided || b.rpsMoves != nil {
				b.mu.Unlock()
				return
			}
			if time.Now().Before(b.turnDeadline) {
				b.mu.Unlock()
				continue
			}
			b.forceMove()
			b.mu.Unlock()
		}
	}
}

// forceMove plays a fallback for whichever side the clock ran out on.
func (b *BotManager) forceMove() {
	state := b.match.State()
	if state.Winner != "" {
		return
	}
	if state.BotsTurn {
		if _, ok := b.match.BotMove(); !ok {
			return
		}
	} else {
		move, ok := uttt.FallbackMove(state.Boards, state.WonBoards, state.NextIndex)
		if !ok {
			return
		}
		if !b.match.PlayerMove(move) {
			return
		}
		b.logger.Info("turn clock expired, forcing move", zap.String("token", b.playerToken))
	}
	b.resetTurnClock()
	b.afterMove()
	b.broadcastForceUpdate()
}

// ResolveByCoinFlip settles an abandoned bracket match.
func (b *BotManager) ResolveByCoinFlip() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.tour == nil || b.seriesOver {
		return
	}
	b.seriesOver = true
	b.decided = true
	winner := b.playerToken
	if rand.Intn(2) == 1 {
		winner = b.aiToken
	}
	b.logger.Info("resolving abandoned bot match by coin flip", zap.String("winner", winner))
	if b.tour.OnWin != nil {
		b.tour.OnWin(winner)
	}
}

func (b *BotManager) Deactivate() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.stopClock()
	b.match.Close()
}
