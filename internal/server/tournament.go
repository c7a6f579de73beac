package server

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"
)

const aiPrefix = "AI"

// TournamentSettings are owner-mutable until the bracket starts.
type TournamentSettings struct {
	BestOf      int  `json:"bestOf"`
	AI          bool `json:"ai"`
	PlayerLimit int  `json:"playerLimit"`
	TimeLimit   int  `json:"timeLimit"`
}

// TournamentManager owns one single-elimination bracket: registration,
// seeding, child match scheduling and winner propagation. Child Room
// and Bot sessions are created through the registry and report back via
// the onWin closure bound to their bracket slot.
type TournamentManager struct {
	session
	registry *Registry
	store    *Store

	names       *TwoWayMap
	owner       string
	bracket     [][]string
	survived    map[string]bool
	tokenToRoom map[string]string
	started     bool
	settings    TournamentSettings

	// numInitialPlayers is the real player count before padding; it is
	// the denominator of every placement string.
	numInitialPlayers int
}

func NewTournamentManager(id string, registry *Registry, store *Store, logger *zap.Logger, ownerToken string) *TournamentManager {
	return &TournamentManager{
		session:     newSession(id, KindTournament, logger),
		registry:    registry,
		store:       store,
		names:       NewTwoWayMap(),
		owner:       ownerToken,
		bracket:     [][]string{{}},
		survived:    make(map[string]bool),
		tokenToRoom: make(map[string]string),
		settings:    TournamentSettings{BestOf: 1, AI: true},
	}
}

// Join registers a token, assigning a de-duplicated default display
// name. Joining a started or full tournament is surfaced as an error;
// the connection stays attached as a viewer.
func (t *TournamentManager) Join(c *client) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()
	if t.names.HasKey(c.token) {
		return
	}
	if t.started {
		c.sendError(ErrTournamentStarted)
		return
	}
	if t.settings.PlayerLimit > 0 && len(t.bracket[0]) >= t.settings.PlayerLimit {
		c.sendError(ErrTournamentFull)
		return
	}
	t.names.Set(c.token, t.uniqueName(defaultPlayerName))
	t.bracket[0] = append(t.bracket[0], c.token)
	t.saveSnapshot()
	t.broadcastForceUpdate()
}

func (t *TournamentManager) HandleEvent(c *client, msg ClientMessage) {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.touch()

	switch msg.Type {
	case ChangeNameEvent:
		var req ChangeNameRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		t.handleChangeName(c, req.NewName)

	case ShuffleEvent:
		if c.token != t.owner || t.started {
			return
		}
		rand.Shuffle(len(t.bracket[0]), func(i, j int) {
			t.bracket[0][i], t.bracket[0][j] = t.bracket[0][j], t.bracket[0][i]
		})
		t.saveSnapshot()
		t.broadcastForceUpdate()

	case ChangeSettingsEvent:
		var req ChangeSettingsRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		t.handleChangeSettings(c.token, req)

	case StartEvent:
		if c.token != t.owner || t.started {
			return
		}
		t.started = true
		t.initializeMatches()
		t.saveSnapshot()
		t.broadcastForceUpdate()

	case KickPlayerEvent:
		var req KickPlayerRequest
		if err := json.Unmarshal(msg.Payload, &req); err != nil {
			return
		}
		t.handleKickPlayer(c.token, req.PlayerName)

	case UpdateEvent:
		c.send(ServerMessage{Type: UpdateEvent, Payload: t.clientView(c.token)})
	}
}

func (t *TournamentManager) handleChangeName(c *client, newName string) {
	current, _ := t.names.Get(c.token)
	if newName == current {
		return
	}
	newName = SanitizeToken(newName)
	if newName == "" || len(newName) > maxNameLength || strings.HasPrefix(newName, aiPrefix) {
		c.sendError(ErrInvalidName)
		return
	}
	if t.names.HasValue(newName) {
		c.sendError(ErrNameTaken)
		return
	}
	t.names.Set(c.token, t.uniqueName(newName))
	t.saveSnapshot()
	t.broadcastForceUpdate()
}

func (t *TournamentManager) handleChangeSettings(token string, req ChangeSettingsRequest) {
	if token != t.owner || t.started {
		return
	}
	if req.BestOf != nil {
		if v, err := strconv.Atoi(SanitizeToken(*req.BestOf)); err == nil && v > 0 && v%2 == 1 {
			t.settings.BestOf = v
		}
	}
	if req.AI != nil {
		t.settings.AI = *req.AI
	}
	if req.PlayerLimit != nil {
		if v, err := strconv.Atoi(SanitizeToken(*req.PlayerLimit)); err == nil && v >= 4 && isPowerOfTwo(v) {
			t.settings.PlayerLimit = v
		}
	}
	if req.TimeLimit != nil && *req.TimeLimit >= 0 {
		t.settings.TimeLimit = *req.TimeLimit
	}
	t.saveSnapshot()
	t.broadcastForceUpdate()
}

func (t *TournamentManager) handleKickPlayer(token, playerName string) {
	if token != t.owner || t.started {
		return
	}
	playerName = SanitizeToken(playerName)
	if playerName == "" || strings.HasPrefix(playerName, aiPrefix) {
		return
	}
	kicked, ok := t.names.RevGet(playerName)
	if !ok {
		return
	}
	t.names.RemoveValue(playerName)
	for i, entry := range t.bracket[0] {
		if entry == kicked {
			t.bracket[0] = append(t.bracket[0][:i], t.bracket[0][i+1:]...)
			break
		}
	}
	t.saveSnapshot()
	t.broadcastForceUpdate()
}

// Seeding.

func nextPowerOfTwo(n int) int {
	if n < 4 {
		n = 4
	}
	return 1 << int(math.Ceil(math.Log2(float64(n))))
}

func isPowerOfTwo(n int) bool {
	return n > 0 && n&(n-1) == 0
}

// insertAISlots pads the seed list to the next power of two with AI
// entries interleaved at odd positions, so real players keep their
// relative bracket adjacency.
func insertAISlots(tokens []string) []string {
	target := nextPowerOfTwo(len(tokens))
	padded := append([]string{}, tokens...)
	i := 1
	for len(padded) < target {
		if i >= len(padded) {
			padded = append(padded, aiPrefix)
		} else {
			padded = append(padded[:i], append([]string{aiPrefix}, padded[i:]...)...)
		}
		i += 2
	}
	return padded
}

// insertEmptySlots pads with bye markers spaced the same way as AI
// padding.
func insertEmptySlots(tokens []string) []string {
	target := nextPowerOfTwo(len(tokens))
	missing := target - len(tokens)
	padded := make([]string, 0, target)
	next := 0
	for i := 0; i < target; i++ {
		if i%2 == 1 && missing > 0 {
			padded = append(padded, "")
			missing--
		} else {
			padded = append(padded, tokens[next])
			next++
		}
	}
	return padded
}

func (t *TournamentManager) padSeeds(tokens []string) []string {
	if t.settings.AI {
		return insertAISlots(tokens)
	}
	return insertEmptySlots(tokens)
}

// distinctAITokens suffixes each AI slot with its seed position so
// multiple AI entries are distinct bracket contestants.
func distinctAITokens(tokens []string) []string {
	out := append([]string{}, tokens...)
	for i, token := range out {
		if token == aiPrefix {
			out[i] = fmt.Sprintf("%s_%d", aiPrefix, i)
		}
	}
	return out
}

func isAIToken(token string) bool {
	return strings.HasPrefix(token, aiPrefix)
}

// initializeMatches seeds round 0 and schedules every first-round
// match. Callers hold the lock.
func (t *TournamentManager) initializeMatches() {
	t.numInitialPlayers = len(t.bracket[0])
	seeds := distinctAITokens(t.padSeeds(t.bracket[0]))
	t.bracket[0] = seeds
	for _, token := range seeds {
		if token != "" {
			t.survived[token] = true
		}
	}
	for i := 0; i < len(seeds); i += 2 {
		t.initializeMatch(0, i, seeds[i], seeds[i+1])
	}
}

// initializeMatch schedules one bracket pair: a bye advances the real
// side, two AI entries coin-flip, one AI side gets a bot session and
// two humans get a room, each pre-loaded with the series context.
func (t *TournamentManager) initializeMatch(round, position int, token1, token2 string) {
	roomID := fmt.Sprintf("%s_%d_%d", t.id, round, position)
	t.tokenToRoom[token1] = roomID
	t.tokenToRoom[token2] = roomID

	switch {
	case token1 == "" || token2 == "":
		winner := token1
		if token1 == "" {
			winner = token2
		}
		t.onWin(round, position, winner)

	case isAIToken(token1) && isAIToken(token2):
		winner := token1
		if rand.Intn(2) == 1 {
			winner = token2
		}
		t.onWin(round, position, winner)

	default:
		tour := t.newMatchContext(round, position, token1, token2)
		if isAIToken(token1) || isAIToken(token2) {
			human, ai := token1, token2
			if isAIToken(token1) {
				human, ai = token2, token1
			}
			t.registry.Put(NewBotManager(roomID, t.store, t.logger, human, ai, t.settings.TimeLimit, tour))
		} else {
			t.registry.Put(NewRoomManager(roomID, t.store, t.logger, token1, token2, t.settings.TimeLimit, tour))
		}
	}
}

// newMatchContext builds the series context binding a child match to
// its bracket slot. Callers hold the lock.
func (t *TournamentManager) newMatchContext(round, position int, token1, token2 string) *TourContext {
	return &TourContext{
		TourID:   t.id,
		Round:    round,
		Position: position,
		BestOf:   t.settings.BestOf,
		WinCount: map[string]int{token1: 0, token2: 0},
		Names:    t.matchNames(token1, token2),
		OnWin: func(winnerToken string) {
			t.mu.Lock()
			defer t.mu.Unlock()
			t.onWin(round, position, winnerToken)
			t.saveSnapshot()
			t.broadcastForceUpdate()
		},
	}
}

// MatchContext rebuilds the series context for a rehydrated match so a
// restart does not orphan the bracket slot. The best-of tally restarts
// from zero.
func (t *TournamentManager) MatchContext(round, position int, token1, token2 string) *TourContext {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.newMatchContext(round, position, token1, token2)
}

func (t *TournamentManager) matchNames(tokens ...string) map[string]string {
	names := make(map[string]string, len(tokens))
	for _, token := range tokens {
		if isAIToken(token) || token == "" {
			names[token] = token
		} else if name, ok := t.names.Get(token); ok {
			names[token] = name
		}
	}
	return names
}

// onWin advances a decided slot: the loser is eliminated and placed,
// the winner moves to floor(position/2) of the next round, and the
// sibling match is scheduled as soon as both slots fill. Callers hold
// the lock.
func (t *TournamentManager) onWin(round, position int, winnerToken string) {
	if len(t.bracket) < round+2 {
		next := make([]string, len(t.bracket[round])/2)
		t.bracket = append(t.bracket, next)
	}

	winnerPos := -1
	for i, token := range t.bracket[round] {
		if token == winnerToken {
			winnerPos = i
			break
		}
	}
	if winnerPos >= 0 {
		lostPos := winnerPos + 1
		if winnerPos%2 == 1 {
			lostPos = winnerPos - 1
		}
		if lostPos < len(t.bracket[round]) {
			lostToken := t.bracket[round][lostPos]
			if lostToken != "" {
				t.survived[lostToken] = false
				if !isAIToken(lostToken) {
					t.recordPlacement(lostToken, t.placementAfterRound(round))
				}
			}
		}
	}

	t.tokenToRoom[winnerToken] = ""
	newPos := position / 2
	t.bracket[round+1][newPos] = winnerToken

	if len(t.bracket[round+1]) > 1 {
		rivalPos := newPos + 1
		if newPos%2 == 1 {
			rivalPos = newPos - 1
		}
		rival := t.bracket[round+1][rivalPos]
		if rival != "" || t.slotDecided(round+1, rivalPos) {
			left, right := orderedPair(newPos, winnerToken, rivalPos, rival)
			t.initializeMatch(round+1, newPos-newPos%2, left, right)
		}
	} else if !isAIToken(winnerToken) {
		t.recordPlacement(winnerToken, fmt.Sprintf("1/%d", t.numInitialPlayers))
	}
}

// orderedPair returns the two contestants in bracket position order.
func orderedPair(pos1 int, token1 string, pos2 int, token2 string) (string, string) {
	if pos1 < pos2 {
		return token1, token2
	}
	return token2, token1
}

// slotDecided reports whether a next-round slot has already been
// populated by a bye (empty winner advancing).
func (t *TournamentManager) slotDecided(round, pos int) bool {
	if round >= len(t.bracket) || pos >= len(t.bracket[round]) {
		return false
	}
	// An empty string is only a decided slot when every contestant of
	// the feeding pair was a bye marker; that cannot happen after
	// distinct AI seeding, so empty means undecided.
	return t.bracket[round][pos] != ""
}

// placementAfterRound is the eliminated player's rank: losing in round
// r leaves (N − 2^(r+1) + 1) of N.
func (t *TournamentManager) placementAfterRound(round int) string {
	rank := t.numInitialPlayers - (1 << (round + 1)) + 1
	if rank < 1 {
		rank = 1
	}
	return fmt.Sprintf("%d/%d", rank, t.numInitialPlayers)
}

func (t *TournamentManager) recordPlacement(token, placement string) {
	if t.store == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.store.RecordTournamentPlacement(ctx, token, placement); err != nil {
		t.logger.Warn("failed to record placement",
			zap.String("token", token), zap.String("placement", placement), zap.Error(err))
	}
}

// uniqueName suffixes a display name with the first free numeric
// suffix: "Player", "Player2", "Player3", ...
func (t *TournamentManager) uniqueName(name string) string {
	if !t.names.HasValue(name) {
		return name
	}
	base := name
	for i := 2; ; i++ {
		name = base + strconv.Itoa(i)
		if !t.names.HasValue(name) {
			return name
		}
	}
}

func (t *TournamentManager) displayName(token string) string {
	if token == "" || isAIToken(token) {
		return token
	}
	if name, ok := t.names.Get(token); ok {
		return name
	}
	return token
}

func (t *TournamentManager) clientView(token string) TournamentView {
	bracket := make([][]string, len(t.bracket))
	for i, round := range t.bracket {
		names := make([]string, len(round))
		for j, entry := range round {
			names[j] = t.displayName(entry)
		}
		bracket[i] = names
	}
	if !t.started && len(bracket) > 0 {
		bracket[0] = t.padSeeds(bracket[0])
	}

	survived := make(map[string]bool, len(t.survived))
	for entry, alive := range t.survived {
		survived[t.displayName(entry)] = alive
	}

	name, _ := t.names.Get(token)
	return TournamentView{
		Bracket:     bracket,
		Survived:    survived,
		Started:     t.started,
		BestOf:      t.settings.BestOf,
		AI:          t.settings.AI,
		PlayerLimit: t.settings.PlayerLimit,
		TimeLimit:   t.settings.TimeLimit,
		FirstPlayer: token == t.owner,
		RoomID:      t.tokenToRoom[token],
		MeSurvived:  t.survived[token],
		Name:        name,
	}
}

func (t *TournamentManager) Deactivate() {}

// Snapshots.

type tournamentSnapshot struct {
	FirstPlayer       string             `json:"firstPlayer"`
	Started           bool               `json:"started"`
	TokenToName       map[string]string  `json:"tokenToName"`
	TokenToRoom       map[string]string  `json:"tokenToRoom"`
	Bracket           [][]string         `json:"bracket"`
	Survived          map[string]bool    `json:"survived"`
	Settings          TournamentSettings `json:"settings"`
	NumInitialPlayers int                `json:"numInitialPlayers"`
}

// saveSnapshot persists the bracket, best-effort. Callers hold the
// lock.
func (t *TournamentManager) saveSnapshot() {
	if t.store == nil {
		return
	}
	snapshot := tournamentSnapshot{
		FirstPlayer:       t.owner,
		Started:           t.started,
		TokenToName:       t.names.Forward(),
		TokenToRoom:       t.tokenToRoom,
		Bracket:           t.bracket,
		Survived:          t.survived,
		Settings:          t.settings,
		NumInitialPlayers: t.numInitialPlayers,
	}
	ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
	defer cancel()
	if err := t.store.SaveTournament(ctx, t.id, ShardOf(t.id), snapshot); err != nil {
		t.logger.Warn("failed to persist tournament snapshot", zap.Error(err))
	}
}

// PersistSnapshot is the periodic-save entry point.
func (t *TournamentManager) PersistSnapshot() {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.saveSnapshot()
}

// NewTournamentFromSnapshot rebuilds a tournament manager from its
// persisted state during shard rehydration.
func NewTournamentFromSnapshot(id string, registry *Registry, store *Store, logger *zap.Logger, data []byte) (*TournamentManager, error) {
	var snapshot tournamentSnapshot
	if err := json.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("failed to decode tournament %s: %w", id, err)
	}
	t := NewTournamentManager(id, registry, store, logger, snapshot.FirstPlayer)
	t.started = snapshot.Started
	t.settings = snapshot.Settings
	t.numInitialPlayers = snapshot.NumInitialPlayers
	if len(snapshot.Bracket) > 0 {
		t.bracket = snapshot.Bracket
	}
	if snapshot.Survived != nil {
		t.survived = snapshot.Survived
	}
	if snapshot.TokenToRoom != nil {
		t.tokenToRoom = snapshot.TokenToRoom
	}
	for token, name := range snapshot.TokenToName {
		t.names.Set(token, name)
	}
	return t, nil
}
