package server

import "uttt-server/internal/uttt"

// ============================================================================
// ERROR RESPONSES
// ============================================================================
// tygo:generate
type ErrorMessage struct {
	ErrorMessage string `json:"errorMessage"`
}

// ============================================================================
// ROOM EVENTS (newMove, setAvatar, rpsMove)
// ============================================================================
// tygo:generate
type SetAvatarRequest struct {
	Avatar string `json:"avatar"`
}

// tygo:generate
type RPSMoveRequest struct {
	Move string `json:"move"`
}

// ============================================================================
// TOURNAMENT EVENTS (changeName, changeSettings, kickPlayer)
// ============================================================================
// tygo:generate
type ChangeNameRequest struct {
	NewName string `json:"newName"`
}

// Pointer fields: only the present keys are applied.
// tygo:generate
type ChangeSettingsRequest struct {
	BestOf      *string `json:"bestOf,omitempty"`
	AI          *bool   `json:"ai,omitempty"`
	PlayerLimit *string `json:"playerLimit,omitempty"`
	TimeLimit   *int    `json:"timeLimit,omitempty"`
}

// tygo:generate
type KickPlayerRequest struct {
	PlayerName string `json:"playerName"`
}

// ============================================================================
// ROOM STATE (update response)
// ============================================================================
// tygo:generate
type RoomView struct {
	Avatar      string      `json:"avatar"`
	FirstPlayer bool        `json:"firstPlayer"`
	Boards      uttt.Boards `json:"boards"`
	WonBoards   [9]string   `json:"wonBoards"`
	NextIndex   int         `json:"nextIndex"`
	MyTurn      bool        `json:"myTurn"`
	TimeLimit   int         `json:"timeLimit,omitempty"`
	RPS         *RPSView    `json:"rps,omitempty"`
	TourData    *TourView   `json:"tourData,omitempty"`
}

// RPSView is personalized: the opponent's throw is revealed only once
// the round is resolved.
// tygo:generate
type RPSView struct {
	On      bool   `json:"on"`
	Active  bool   `json:"active"`
	Winner  *bool  `json:"winner"`
	Tie     bool   `json:"tie"`
	Move    string `json:"move,omitempty"`
	OppMove string `json:"oppMove,omitempty"`
}

// TourView is the tournament context attached to a bracket match, with
// win counts keyed by display name.
// tygo:generate
type TourView struct {
	TourID       string         `json:"tourID"`
	Round        int            `json:"round"`
	Position     int            `json:"position"`
	BestOf       int            `json:"bestOf"`
	GamesPlayed  int            `json:"gamesPlayed"`
	GameWinCount map[string]int `json:"gameWinCount"`
}

// ============================================================================
// TOURNAMENT STATE (update response)
// ============================================================================
// tygo:generate
type TournamentView struct {
	Bracket     [][]string      `json:"bracket"`
	Survived    map[string]bool `json:"survived"`
	Started     bool            `json:"started"`
	BestOf      int             `json:"bestOf"`
	AI          bool            `json:"ai"`
	PlayerLimit int             `json:"playerLimit"`
	TimeLimit   int             `json:"timeLimit"`
	FirstPlayer bool            `json:"firstPlayer"`
	RoomID      string          `json:"roomID,omitempty"`
	MeSurvived  bool            `json:"meSurvived"`
	Name        string          `json:"name"`
}

// ============================================================================
// BOT STATE (update response)
// ============================================================================
// tygo:generate
type BotView struct {
	AI           bool        `json:"ai"`
	AllowRestart bool        `json:"allowRestart"`
	Avatar       string      `json:"avatar"`
	Boards       uttt.Boards `json:"boards"`
	WonBoards    [9]string   `json:"wonBoards"`
	NextIndex    int         `json:"nextIndex"`
	MyTurn       bool        `json:"myTurn"`
	TimeLimit    int         `json:"timeLimit,omitempty"`
	RPS          *RPSView    `json:"rps,omitempty"`
	TourData     *TourView   `json:"tourData,omitempty"`
}

// ============================================================================
// MATCHMAKING (matchFound, getWaitTime)
// ============================================================================
// tygo:generate
type MatchFoundNotification struct {
	RoomID    string `json:"roomID"`
	TimeLimit int    `json:"timeLimit,omitempty"`
}

// tygo:generate
type WaitTimeNotification struct {
	Seconds int `json:"seconds"`
}
