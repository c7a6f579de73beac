package server

import "time"

// Wire event types shared with the client.
const (
	ErrorEvent             = "error"
	NewMoveEvent           = "newMove"
	UpdateEvent            = "update"
	RestartGameEvent       = "restartGame"
	SetAvatarEvent         = "setAvatar"
	ForceClientUpdateEvent = "forceClientUpdate"
	ChangeNameEvent        = "changeName"
	StartEvent             = "start"
	ShuffleEvent           = "shuffle"
	ChangeSettingsEvent    = "changeSettings"
	RPSMoveEvent           = "rpsMove"
	MatchFoundEvent        = "matchFound"
	GetWaitTimeEvent       = "getWaitTime"
	KickPlayerEvent        = "kickPlayer"
)

// Error strings surfaced to clients. Everything else fails closed.
const (
	ErrRoomFull          = "roomFull"
	ErrNameTaken         = "The entered name is already taken."
	ErrInvalidName       = "The entered name is invalid."
	ErrTournamentFull    = "The tournament you're trying to join is full."
	ErrTournamentStarted = "The tournament you're trying to join has already started."
)

const (
	defaultPlayerName = "Player"
	maxNameLength     = 20

	// Idle sessions with no active connections are reaped after
	// idleTimeout, checked every checkTimeoutDelay.
	idleTimeout       = time.Hour
	checkTimeoutDelay = 10 * time.Minute

	matchmakingPingInterval = 5 * time.Second

	// matchNotifyDelay staggers the two matchFound emissions so the
	// first client's session join is registered before the second
	// client races to read it.
	matchNotifyDelay = 150 * time.Millisecond

	// shardCount is the number of tournament partitions; a session id's
	// first character selects the shard.
	shardCount = 3
)

// Manager kinds stored in the registry.
const (
	KindRoom       = "room"
	KindTournament = "tournament"
	KindBot        = "bot"
)
