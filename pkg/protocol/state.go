package protocol

// GamePhase lifecycle of a match.
const (
	PhaseNotStarted = "not_started"
	PhaseInProgress = "in_progress"
	PhaseFinished   = "finished"
)

// What the server is currently waiting on.
const (
	CurrentPlayerRoll    = "player_roll"
	CurrentPlayerChoice  = "player_choice"
	CurrentCaptureChoice = "capture_choice"
)

// Token states. A token starts in hell, races along the road, turns into
// its color's homestretch, and retires in heaven.
const (
	TokenHell        = "hell"
	TokenRoad        = "road"
	TokenHomestretch = "homestretch"
	TokenHeaven      = "heaven"
)

// GameState is the full authoritative snapshot at EventSeq. It replaces
// the working state wholesale on connect and resync; it is never patched
// from outside the projector.
type GameState struct {
	Phase        string     `json:"phase"`
	Players      []Player   `json:"players"`
	CurrentEvent string     `json:"current_event"`
	BoardSetup   BoardSetup `json:"board_setup"`
	CurrentTurn  *Turn      `json:"current_turn"`
	Stacks       []Stack    `json:"stacks"`
	EventSeq     int64      `json:"event_seq"`
}

type Player struct {
	PlayerID         string  `json:"player_id"`
	Name             string  `json:"name"`
	Color            string  `json:"color"`
	TurnOrder        int     `json:"turn_order"`
	AbsStartingIndex int     `json:"abs_starting_index"`
	Tokens           []Token `json:"tokens"`
	Stacks           []Stack `json:"stacks"`
}

type Token struct {
	TokenID  string `json:"token_id"`
	State    string `json:"state"`
	Progress int    `json:"progress"`
	InStack  bool   `json:"in_stack"`
}

// Stack is a composite of same-color tokens that moves and is captured as
// one unit while its constituents stay individually addressable.
type Stack struct {
	StackID string   `json:"stack_id"`
	Tokens  []string `json:"tokens"`
}

type Turn struct {
	PlayerID         string   `json:"player_id"`
	InitialRoll      bool     `json:"initial_roll"`
	RollsToAllocate  []int    `json:"rolls_to_allocate"`
	LegalMoves       []string `json:"legal_moves"`
	CurrentTurnOrder int      `json:"current_turn_order"`
	ExtraRolls       int      `json:"extra_rolls"`
}

type BoardSetup struct {
	SquaresToWin         int   `json:"squares_to_win"`
	SquaresToHomestretch int   `json:"squares_to_homestretch"`
	StartingPositions    []int `json:"starting_positions"`
	SafeSpaces           []int `json:"safe_spaces"`
	GetOutRolls          []int `json:"get_out_rolls"`
}

// Clone returns a deep copy so readers never alias the projector's
// working state.
func (s *GameState) Clone() *GameState {
	if s == nil {
		return nil
	}
	out := *s
	out.Players = make([]Player, len(s.Players))
	for i, p := range s.Players {
		cp := p
		cp.Tokens = append([]Token(nil), p.Tokens...)
		cp.Stacks = cloneStacks(p.Stacks)
		out.Players[i] = cp
	}
	out.Stacks = cloneStacks(s.Stacks)
	if s.CurrentTurn != nil {
		t := *s.CurrentTurn
		t.RollsToAllocate = append([]int(nil), s.CurrentTurn.RollsToAllocate...)
		t.LegalMoves = append([]string(nil), s.CurrentTurn.LegalMoves...)
		out.CurrentTurn = &t
	}
	out.BoardSetup.StartingPositions = append([]int(nil), s.BoardSetup.StartingPositions...)
	out.BoardSetup.SafeSpaces = append([]int(nil), s.BoardSetup.SafeSpaces...)
	out.BoardSetup.GetOutRolls = append([]int(nil), s.BoardSetup.GetOutRolls...)
	return &out
}

func cloneStacks(in []Stack) []Stack {
	if in == nil {
		return nil
	}
	out := make([]Stack, len(in))
	for i, st := range in {
		out[i] = Stack{StackID: st.StackID, Tokens: append([]string(nil), st.Tokens...)}
	}
	return out
}
