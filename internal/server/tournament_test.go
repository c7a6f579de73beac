package server

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func newTestTournament(owner string) (*TournamentManager, *Registry) {
	registry := NewRegistry(zap.NewNop())
	tm := NewTournamentManager("1tour1", registry, nil, zap.NewNop(), owner)
	return tm, registry
}

func TestNextPowerOfTwo(t *testing.T) {
	assert.Equal(t, 4, nextPowerOfTwo(1))
	assert.Equal(t, 4, nextPowerOfTwo(3))
	assert.Equal(t, 4, nextPowerOfTwo(4))
	assert.Equal(t, 8, nextPowerOfTwo(5))
	assert.Equal(t, 8, nextPowerOfTwo(8))
	assert.Equal(t, 16, nextPowerOfTwo(9))
}

func TestInsertAISlots_InterleavesAtOddPositions(t *testing.T) {
	padded := insertAISlots([]string{"a", "b", "c"})
	assert.Equal(t, []string{"a", "AI", "b", "c"}, padded)

	padded = insertAISlots([]string{"a", "b", "c", "d", "e"})
	assert.Len(t, padded, 8)
	ai := 0
	for _, entry := range padded {
		if entry == "AI" {
			ai++
		}
	}
	assert.Equal(t, 3, ai)
	// Real players keep their relative order.
	real := make([]string, 0, 5)
	for _, entry := range padded {
		if entry != "AI" {
			real = append(real, entry)
		}
	}
	assert.Equal(t, []string{"a", "b", "c", "d", "e"}, real)
}

func TestInsertEmptySlots_PadsWithByes(t *testing.T) {
	padded := insertEmptySlots([]string{"a", "b", "c"})
	assert.Len(t, padded, 4)
	assert.Equal(t, "", padded[1])
	assert.Equal(t, []string{"a", "", "b", "c"}, padded)
}

func TestDistinctAITokens(t *testing.T) {
	seeds := distinctAITokens([]string{"a", "AI", "b", "AI"})
	assert.Equal(t, []string{"a", "AI_1", "b", "AI_3"}, seeds)
}

func TestTournament_JoinAssignsDedupedNames(t *testing.T) {
	tm, _ := newTestTournament("t1")

	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.Join(testClient("t3"))

	name1, _ := tm.names.Get("t1")
	name2, _ := tm.names.Get("t2")
	name3, _ := tm.names.Get("t3")
	assert.Equal(t, "Player", name1)
	assert.Equal(t, "Player2", name2)
	assert.Equal(t, "Player3", name3)
	assert.Equal(t, []string{"t1", "t2", "t3"}, tm.bracket[0])
}

func TestTournament_JoinAfterStartRejected(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.started = true

	tm.Join(testClient("t2"))
	assert.False(t, tm.names.HasKey("t2"))
}

func TestTournament_JoinRespectsPlayerLimit(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.settings.PlayerLimit = 4
	for i := 1; i <= 5; i++ {
		tm.Join(testClient(fmt.Sprintf("t%d", i)))
	}
	assert.Len(t, tm.bracket[0], 4)
}

func TestTournament_ChangeNameValidation(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))

	// AI-prefixed and empty names are rejected.
	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeNameEvent, ChangeNameRequest{NewName: "AI overlord"}))
	name, _ := tm.names.Get("t1")
	assert.Equal(t, "Player", name)

	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeNameEvent, ChangeNameRequest{NewName: "<<>>"}))
	name, _ = tm.names.Get("t1")
	assert.Equal(t, "Player", name)

	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeNameEvent, ChangeNameRequest{NewName: "Alice"}))
	name, _ = tm.names.Get("t1")
	assert.Equal(t, "Alice", name)

	// Taken names stay with their owner.
	tm.HandleEvent(testClient("t2"), rawMsg(t, ChangeNameEvent, ChangeNameRequest{NewName: "Alice"}))
	name, _ = tm.names.Get("t2")
	assert.Equal(t, "Player2", name)
}

func TestTournament_SettingsOwnerOnlyBeforeStart(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))

	three := "3"
	tm.HandleEvent(testClient("intruder"), rawMsg(t, ChangeSettingsEvent, ChangeSettingsRequest{BestOf: &three}))
	assert.Equal(t, 1, tm.settings.BestOf)

	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeSettingsEvent, ChangeSettingsRequest{BestOf: &three}))
	assert.Equal(t, 3, tm.settings.BestOf)

	// Even series lengths are rejected.
	two := "2"
	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeSettingsEvent, ChangeSettingsRequest{BestOf: &two}))
	assert.Equal(t, 3, tm.settings.BestOf)

	tm.started = true
	one := "1"
	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeSettingsEvent, ChangeSettingsRequest{BestOf: &one}))
	assert.Equal(t, 3, tm.settings.BestOf)
}

func TestTournament_KickPlayerFreesSlotAndName(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))

	tm.HandleEvent(testClient("t1"), rawMsg(t, KickPlayerEvent, KickPlayerRequest{PlayerName: "Player2"}))

	assert.False(t, tm.names.HasKey("t2"))
	assert.Equal(t, []string{"t1"}, tm.bracket[0])

	// Kicking AI entries is a no-op.
	tm.HandleEvent(testClient("t1"), rawMsg(t, KickPlayerEvent, KickPlayerRequest{PlayerName: "AI_1"}))
	assert.Equal(t, []string{"t1"}, tm.bracket[0])
}

func TestTournament_StartSeedsBracketAndSchedulesMatches(t *testing.T) {
	tm, registry := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.Join(testClient("t3"))

	tm.HandleEvent(testClient("t1"), rawMsg(t, StartEvent, struct{}{}))

	assert.True(t, tm.started)
	assert.Equal(t, 3, tm.numInitialPlayers)
	assert.Len(t, tm.bracket[0], 4)
	assert.Equal(t, []string{"t1", "AI_1", "t2", "t3"}, tm.bracket[0])

	// One bot match and one human match scheduled.
	bot, ok := registry.Get("1tour1_0_0")
	assert.True(t, ok)
	assert.Equal(t, KindBot, bot.Kind())
	room, ok := registry.Get("1tour1_0_2")
	assert.True(t, ok)
	assert.Equal(t, KindRoom, room.Kind())

	for _, m := range registry.Snapshot() {
		m.Deactivate()
	}
}

func TestTournament_OnWinAdvancesAndCrownsChampion(t *testing.T) {
	tm, registry := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.Join(testClient("t3"))
	tm.Join(testClient("t4"))
	tm.settings.AI = false
	tm.started = true
	tm.initializeMatches()

	assert.Equal(t, []string{"t1", "t2", "t3", "t4"}, tm.bracket[0])

	tm.onWin(0, 0, "t1")
	assert.Equal(t, "t1", tm.bracket[1][0])
	assert.False(t, tm.survived["t2"])
	assert.True(t, tm.survived["t1"])

	tm.onWin(0, 2, "t4")
	assert.Equal(t, "t4", tm.bracket[1][1])
	// Both finalists present schedules the final.
	final, ok := registry.Get("1tour1_1_0")
	assert.True(t, ok)
	assert.Equal(t, KindRoom, final.Kind())

	tm.onWin(1, 0, "t4")
	assert.Equal(t, "t4", tm.bracket[2][0])
	assert.True(t, tm.survived["t4"])
	assert.False(t, tm.survived["t1"])

	for _, m := range registry.Snapshot() {
		m.Deactivate()
	}
}

func TestTournament_ByeAdvancesRealPlayer(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.Join(testClient("t3"))
	tm.settings.AI = false
	tm.started = true
	tm.initializeMatches()

	// Seeding is t1, bye, t2, t3: the bye decides slot 0 immediately.
	assert.Equal(t, []string{"t1", "", "t2", "t3"}, tm.bracket[0])
	assert.Equal(t, "t1", tm.bracket[1][0])
}

func TestTournament_PlacementAfterRound(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.numInitialPlayers = 8

	assert.Equal(t, "7/8", tm.placementAfterRound(0))
	assert.Equal(t, "5/8", tm.placementAfterRound(1))
	assert.Equal(t, "1/8", tm.placementAfterRound(2))
}

func TestTournament_SnapshotRoundTrip(t *testing.T) {
	tm, registry := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.settings.BestOf = 3
	tm.numInitialPlayers = 2

	snapshot := tournamentSnapshot{
		FirstPlayer:       tm.owner,
		Started:           true,
		TokenToName:       tm.names.Forward(),
		TokenToRoom:       map[string]string{"t1": "1tour1_0_0"},
		Bracket:           [][]string{{"t1", "t2"}, {""}},
		Survived:          map[string]bool{"t1": true, "t2": true},
		Settings:          tm.settings,
		NumInitialPlayers: 2,
	}
	data, err := json.Marshal(snapshot)
	assert.NoError(t, err)

	restored, err := NewTournamentFromSnapshot("1tour1", registry, nil, zap.NewNop(), data)
	assert.NoError(t, err)
	assert.True(t, restored.started)
	assert.Equal(t, "t1", restored.owner)
	assert.Equal(t, 3, restored.settings.BestOf)
	assert.Equal(t, [][]string{{"t1", "t2"}, {""}}, restored.bracket)
	name, ok := restored.names.Get("t2")
	assert.True(t, ok)
	assert.Equal(t, "Player2", name)
	assert.Equal(t, "1tour1_0_0", restored.tokenToRoom["t1"])
}

func TestTournament_ClientViewShowsNamesNotTokens(t *testing.T) {
	tm, _ := newTestTournament("t1")
	tm.Join(testClient("t1"))
	tm.Join(testClient("t2"))
	tm.HandleEvent(testClient("t1"), rawMsg(t, ChangeNameEvent, ChangeNameRequest{NewName: "Alice"}))

	view := tm.clientView("t1")
	assert.Equal(t, "Alice", view.Name)
	assert.True(t, view.FirstPlayer)
	assert.NotContains(t, view.Bracket[0], "t1")
	assert.Contains(t, view.Bracket[0], "Alice")

	view = tm.clientView("t2")
	assert.False(t, view.FirstPlayer)
	assert.Equal(t, "Player2", view.Name)
}

func TestTournament_MatchContextRebindsBracketSlot(t *testing.T) {
	tm, registry := newTestTournament("t1")
	for _, token := range []string{"t1", "t2", "t3", "t4"} {
		tm.Join(testClient(token))
	}
	tm.HandleEvent(testClient("t1"), rawMsg(t, StartEvent, struct{}{}))

	// A restart drops the child session; the rebuilt room reports its
	// result through a freshly bound context.
	registry.Remove("1tour1_0_0")
	tour := tm.MatchContext(0, 0, "t1", "t2")
	tour.OnWin("t2")

	assert.Equal(t, "t2", tm.bracket[1][0])
	assert.False(t, tm.survived["t1"])
	assert.True(t, tm.survived["t2"])
}
