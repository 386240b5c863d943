// Package budget estimates snapshot token counts and derives token budgets
// from model context windows.
package budget

import (
	"math"
	"strings"
)

// CharsPerToken is the heuristic ratio used for every estimate.
const CharsPerToken = 4.0

// EstimateTokensFromChars converts a character count into an estimated token
// count, rounding to the nearest integer. Zero or negative counts give 0.
func EstimateTokensFromChars(charCount int) int {
	if charCount <= 0 {
		return 0
	}
	return int(math.Round(float64(charCount) / CharsPerToken))
}

// ModelContextTokens returns an estimated maximum context window for a given
// model name. Unknown models fall back to a sensible default.
func ModelContextTokens(modelName string) int {
	name := strings.ToLower(strings.TrimSpace(modelName))
	if name == "" {
		return 8192
	}
	if v, ok := knownModelMax[name]; ok {
		return v
	}
	// Heuristics based on common suffixes present in model names
	for _, s := range suffixSizes {
		if strings.HasSuffix(name, s.suffix) {
			return s.tokens
		}
	}
	if strings.Contains(name, "-mini") {
		return 128_000
	}
	return 8192
}

// RemainingContext computes the remaining token budget given a model, a
// reservation for the rest of the prompt and the tokens already used.
// The result is never negative.
func RemainingContext(modelName string, reserved int, usedTokens int) int {
	maxCtx := ModelContextTokens(modelName)
	if reserved < 0 {
		reserved = 0
	}
	remaining := maxCtx - reserved - usedTokens
	if remaining < 0 {
		return 0
	}
	return remaining
}

// FitsInContext reports whether usedTokens fit into the model's context
// window after the reservation.
func FitsInContext(modelName string, reserved int, usedTokens int) bool {
	return RemainingContext(modelName, reserved, usedTokens) > 0
}

// HeadroomTokens returns a safety margin for tokenizer drift: the larger of
// 5% of the model context or 512 tokens.
func HeadroomTokens(modelName string) int {
	max := ModelContextTokens(modelName)
	dyn := int(math.Ceil(float64(max) * 0.05))
	if dyn < 512 {
		return 512
	}
	return dyn
}

// RemainingContextWithHeadroom is RemainingContext with HeadroomTokens added
// to the reservation.
func RemainingContextWithHeadroom(modelName string, reserved int, usedTokens int) int {
	headroom := HeadroomTokens(modelName)
	return RemainingContext(modelName, reserved+headroom, usedTokens)
}

// SnapshotBudget is the token budget a snapshot may use when it has to share
// the model's context with reserved prompt and output tokens.
func SnapshotBudget(modelName string, reserved int) int {
	return RemainingContextWithHeadroom(modelName, reserved, 0)
}

// knownModelMax contains rough context sizes for common model identifiers.
// These are best-effort and do not need to be exhaustive.
var knownModelMax = map[string]int{
	"gpt-4o":             128_000,
	"gpt-4o-mini":        128_000,
	"gpt-4-turbo":        128_000,
	"gpt-4-0125-preview": 128_000,
	"gpt-4.1":            1_000_000,
	"gpt-3.5-turbo":      16_384,

	"claude-3-5-sonnet": 200_000,
	"claude-3-opus":     200_000,
	"claude-3-sonnet":   200_000,
	"claude-3-haiku":    200_000,

	"llama-3":   8_192,
	"llama-3.1": 128_000,

	"openai/gpt-oss-20b": 4_096,
	"gpt-oss-20b":        4_096,
}

var suffixSizes = []struct {
	suffix string
	tokens int
}{
	{"1m", 1_000_000},
	{"512k", 512_000},
	{"200k", 200_000},
	{"180k", 180_000},
	{"128k", 128_000},
	{"32k", 32_768},
}
