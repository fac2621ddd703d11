package game

import (
	"slices"
	"sort"
	"strconv"
	"strings"

	"github.com/parques-online/client-go/pkg/protocol"
)

// Legal move ids arrive in two shapes:
//
//	token:       {player_id}_token_{n}
//	stack split: {stack_id}:{partial_count}
//
// A stack id without a colon moves the whole stack.

// ParsedMove is a decoded legal move id.
type ParsedMove struct {
	RawID      string
	Type       string // "token" | "stack"
	EntityID   string
	SplitCount int // 0 when not a split
}

// ParseMove decodes a single legal move id from the server.
func ParseMove(moveID string) ParsedMove {
	if id, countStr, ok := strings.Cut(moveID, ":"); ok {
		count, _ := strconv.Atoi(countStr)
		return ParsedMove{RawID: moveID, Type: "stack", EntityID: id, SplitCount: count}
	}
	if strings.Contains(moveID, "stack") {
		return ParsedMove{RawID: moveID, Type: "stack", EntityID: moveID}
	}
	return ParsedMove{RawID: moveID, Type: "token", EntityID: moveID}
}

// GroupMoves groups legal move ids by entity, exposing stacks that offer
// several split options under one key.
func GroupMoves(moveIDs []string) map[string][]ParsedMove {
	grouped := make(map[string][]ParsedMove)
	for _, id := range moveIDs {
		parsed := ParseMove(id)
		grouped[parsed.EntityID] = append(grouped[parsed.EntityID], parsed)
	}
	return grouped
}

// HighlightableTokens resolves legal move ids to the token ids a board
// should highlight: tokens directly, stacks through their lead token.
func HighlightableTokens(moveIDs []string, players []protocol.Player) []string {
	grouped := GroupMoves(moveIDs)
	entities := make([]string, 0, len(grouped))
	for entityID := range grouped {
		entities = append(entities, entityID)
	}
	sort.Strings(entities)

	var tokenIDs []string
	for _, entityID := range entities {
		if grouped[entityID][0].Type == "token" {
			tokenIDs = append(tokenIDs, entityID)
			continue
		}
		if lead := leadTokenInStack(entityID, players); lead != "" {
			tokenIDs = append(tokenIDs, lead)
		}
	}
	return tokenIDs
}

// leadTokenInStack picks the stack's display token deterministically
// (lowest trailing token number) so every client highlights the same one.
func leadTokenInStack(stackID string, players []protocol.Player) string {
	for _, player := range players {
		for _, stack := range player.Stacks {
			if stack.StackID != stackID || len(stack.Tokens) == 0 {
				continue
			}
			tokens := append([]string(nil), stack.Tokens...)
			sort.Slice(tokens, func(i, j int) bool {
				return tokenNumber(tokens[i]) < tokenNumber(tokens[j])
			})
			return tokens[0]
		}
	}
	return ""
}

func tokenNumber(tokenID string) int {
	parts := strings.Split(tokenID, "_")
	n, _ := strconv.Atoi(parts[len(parts)-1])
	return n
}

// FindEntityForToken maps a clicked token to the entity its legal move
// refers to. Legal moves are the source of truth: player stack lists may
// be stale right after a split.
func FindEntityForToken(tokenID string, players []protocol.Player, legalMoves []string) ParsedMove {
	if len(legalMoves) > 0 {
		grouped := GroupMoves(legalMoves)
		if moves, ok := grouped[tokenID]; ok {
			return moves[0]
		}
		for _, player := range players {
			for _, stack := range player.Stacks {
				if !slices.Contains(stack.Tokens, tokenID) {
					continue
				}
				if moves, ok := grouped[stack.StackID]; ok {
					return moves[0]
				}
			}
		}
	}

	for _, player := range players {
		for _, stack := range player.Stacks {
			if slices.Contains(stack.Tokens, tokenID) {
				return ParsedMove{RawID: stack.StackID, Type: "stack", EntityID: stack.StackID}
			}
		}
	}
	return ParsedMove{RawID: tokenID, Type: "token", EntityID: tokenID}
}

// HasMultipleSplitOptions reports whether an entity offers more than one
// way to move (a stack with several split counts).
func HasMultipleSplitOptions(entityID string, grouped map[string][]ParsedMove) bool {
	return len(grouped[entityID]) > 1
}
