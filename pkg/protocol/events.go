package protocol

// Event types emitted by the server, in the order a typical turn produces
// them. Clients must tolerate tags they do not know.
const (
	EvtGameStarted           = "game_started"
	EvtGameEnded             = "game_ended"
	EvtTurnStarted           = "turn_started"
	EvtTurnEnded             = "turn_ended"
	EvtRollGranted           = "roll_granted"
	EvtDiceRolled            = "dice_rolled"
	EvtThreeSixesPenalty     = "three_sixes_penalty"
	EvtTokenMoved            = "token_moved"
	EvtTokenExitedHell       = "token_exited_hell"
	EvtTokenReachedHeaven    = "token_reached_heaven"
	EvtTokenCaptured         = "token_captured"
	EvtStackFormed           = "stack_formed"
	EvtStackDissolved        = "stack_dissolved"
	EvtStackSplit            = "stack_split"
	EvtStackMoved            = "stack_moved"
	EvtAwaitingChoice        = "awaiting_choice"
	EvtAwaitingCaptureChoice = "awaiting_capture_choice"
)

// Event is one numbered entry in the authoritative stream. Seq is assigned
// by the server with no gaps; events are immutable once received. The
// struct is the union of all per-type fields, zero-valued when absent.
type Event struct {
	Seq       int64  `json:"seq"`
	EventType string `json:"event_type"`

	PlayerID string `json:"player_id,omitempty"`
	TokenID  string `json:"token_id,omitempty"`
	StackID  string `json:"stack_id,omitempty"`

	// dice_rolled / roll_granted
	Value           int    `json:"value,omitempty"`
	RollNumber      int    `json:"roll_number,omitempty"`
	GrantsExtraRoll bool   `json:"grants_extra_roll,omitempty"`
	Reason          string `json:"reason,omitempty"`

	// movement
	FromState     string `json:"from_state,omitempty"`
	ToState       string `json:"to_state,omitempty"`
	FromProgress  int    `json:"from_progress,omitempty"`
	ToProgress    int    `json:"to_progress,omitempty"`
	RollUsed      int    `json:"roll_used,omitempty"`
	EffectiveRoll int    `json:"effective_roll,omitempty"`

	// token_captured
	CapturingPlayerID string `json:"capturing_player_id,omitempty"`
	CapturingTokenID  string `json:"capturing_token_id,omitempty"`
	CapturedPlayerID  string `json:"captured_player_id,omitempty"`
	CapturedTokenID   string `json:"captured_token_id,omitempty"`
	Position          int    `json:"position,omitempty"`

	// stack events
	TokenIDs          []string `json:"token_ids,omitempty"`
	OriginalStackID   string   `json:"original_stack_id,omitempty"`
	MovingTokenIDs    []string `json:"moving_token_ids,omitempty"`
	RemainingTokenIDs []string `json:"remaining_token_ids,omitempty"`
	NewStackID        string   `json:"new_stack_id,omitempty"`

	// turn / game lifecycle
	TurnNumber    int      `json:"turn_number,omitempty"`
	NextPlayerID  string   `json:"next_player_id,omitempty"`
	PlayerOrder   []string `json:"player_order,omitempty"`
	FirstPlayerID string   `json:"first_player_id,omitempty"`
	WinnerID      string   `json:"winner_id,omitempty"`
	FinalRankings []string `json:"final_rankings,omitempty"`

	// awaiting_choice / awaiting_capture_choice
	LegalMoves     []string `json:"legal_moves,omitempty"`
	RollToAllocate int      `json:"roll_to_allocate,omitempty"`
	Options        []string `json:"options,omitempty"`
}
