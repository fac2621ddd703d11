// Package protocol defines the wire format the game server speaks: a thin
// JSON envelope, the control messages exchanged during a session, and the
// event/state shapes the sync core consumes.
package protocol

import "encoding/json"

// Envelope wraps every message in both directions.
type Envelope struct {
	Type      string          `json:"type"`
	RequestID string          `json:"request_id,omitempty"`
	Payload   json.RawMessage `json:"payload,omitempty"`
}

// Server -> Client
const (
	MsgAuthenticated = "authenticated"
	MsgConnected     = "connected" // legacy alias for authenticated
	MsgPong          = "pong"
	MsgError         = "error"
	MsgGameEvents    = "game_events"
	MsgGameState     = "game_state"
	MsgGameError     = "game_error"
)

// Client -> Server
const (
	MsgAuthenticate = "authenticate"
	MsgPing         = "ping"
	MsgGameAction   = "game_action"
	MsgRequestState = "request_state"
)

// AuthenticatePayload carries the credential and target room.
type AuthenticatePayload struct {
	Token    string `json:"token"`
	RoomCode string `json:"room_code"`
}

// AuthenticatedPayload confirms the handshake and seeds the client state.
type AuthenticatedPayload struct {
	UserID string     `json:"user_id"`
	State  *GameState `json:"state,omitempty"`
}

// ErrorPayload is shared by "error" and "game_error".
type ErrorPayload struct {
	ErrorCode string `json:"error_code"`
	Message   string `json:"message"`
}

// Error codes the server places in ErrorPayload. The first five are fatal
// for the session: reconnecting with the same credential cannot succeed.
const (
	ErrCodeAuthFailed       = "AUTH_FAILED"
	ErrCodeAuthExpired      = "AUTH_EXPIRED"
	ErrCodeRoomNotFound     = "ROOM_NOT_FOUND"
	ErrCodeRoomAccessDenied = "ROOM_ACCESS_DENIED"
	ErrCodeNotAuthenticated = "NOT_AUTHENTICATED"

	ErrCodeNotYourTurn   = "NOT_YOUR_TURN"
	ErrCodeInvalidMove   = "INVALID_MOVE"
	ErrCodeInvalidAction = "INVALID_ACTION"
	ErrCodeGameNotFound  = "GAME_NOT_FOUND"
)

// FatalErrorCode reports whether an error code ends the session.
func FatalErrorCode(code string) bool {
	switch code {
	case ErrCodeAuthFailed, ErrCodeAuthExpired, ErrCodeRoomNotFound,
		ErrCodeRoomAccessDenied, ErrCodeNotAuthenticated:
		return true
	}
	return false
}

// WebSocket close codes with dedicated semantics. All of them suppress
// reconnection; any other code takes the backoff-retry path.
const (
	CloseAuthFailed       = 4001
	CloseAuthExpired      = 4002
	CloseRoomNotFound     = 4003
	CloseRoomAccessDenied = 4004
	CloseAuthTimeout      = 4005
)

// FatalCloseCode reports whether a close code ends the session.
func FatalCloseCode(code int) bool {
	return code >= CloseAuthFailed && code <= CloseAuthTimeout
}

// GameEventsPayload is a batch of authoritative events.
type GameEventsPayload struct {
	Events []Event `json:"events"`
}

// Action types accepted inside a game_action message.
const (
	ActionRoll          = "roll"
	ActionMove          = "move"
	ActionCaptureChoice = "capture_choice"
	ActionStartGame     = "start_game"
)

// GameActionPayload is the outbound player decision.
type GameActionPayload struct {
	ActionType     string `json:"action_type"`
	Value          int    `json:"value,omitempty"`
	TokenOrStackID string `json:"token_or_stack_id,omitempty"`
	Choice         string `json:"choice,omitempty"`
}

// MustEnvelope marshals payload into an envelope of the given type.
// Payload shapes are our own structs, so marshal errors cannot happen.
func MustEnvelope(msgType, requestID string, payload any) Envelope {
	env := Envelope{Type: msgType, RequestID: requestID}
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			panic(err)
		}
		env.Payload = raw
	}
	return env
}
