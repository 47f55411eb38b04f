package engine

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
)

// cacheKeyPayload is the canonical form hashed into a cache key. Field
// order is fixed by the struct, so identical inputs always produce the
// same key.
type cacheKeyPayload struct {
	Prompt      string  `json:"prompt"`
	Model       string  `json:"model"`
	Temperature float64 `json:"temperature"`
	MaxTokens   int     `json:"max_tokens"`
}

// CacheKey derives the content address for a completion: a SHA-256 hex
// digest over the rendered prompt and the sampling parameters. Two
// requests with equal keys are interchangeable and share one cached
// completion.
func CacheKey(prompt string, params Params) string {
	payload, _ := json.Marshal(cacheKeyPayload{
		Prompt:      prompt,
		Model:       params.Model,
		Temperature: params.Temperature,
		MaxTokens:   params.MaxTokens,
	})
	sum := sha256.Sum256(payload)
	return hex.EncodeToString(sum[:])
}
