package codegen

import (
	"crypto/sha1"
	"encoding/hex"
	"fmt"
	"math/rand"
)

// Prompt salting defeats request-level response caches some providers put
// in front of popular models. Each trial draws a random system-message
// variant from a pool of semantically equivalent instructions and appends
// a no-op nonce comment to the user prompt, so no two trials ever hash to
// the same request.

// systemPool is the primary pool of equivalent system instructions.
var systemPool = []string{
	"You are a careful Python programmer. Respond with a single fenced Python code block containing only the requested code, no commentary.",
	"Act as an expert Python developer. Return exactly one ```python code block with the solution and nothing else.",
	"You write production-quality Python. Answer with one fenced python code block only; do not explain.",
	"Solve the task in Python. Output a single ```python fenced block with the complete solution and no surrounding prose.",
}

// altSystemPool is rotated in on retry passes to bust any residual cache
// keyed on the primary pool.
var altSystemPool = []string{
	"Python only. One fenced code block. No explanation before or after.",
	"Provide the Python implementation requested, inside one ```python block, with zero additional text.",
	"Write the solution as clean Python inside a single fenced code block; skip all commentary.",
}

// trialNonce derives a short deterministic nonce from the session id,
// trial number, and retry attempt.
func trialNonce(sessionID string, trial, attempt int) string {
	sum := sha1.Sum([]byte(fmt.Sprintf("%s:%d:%d", sessionID, trial, attempt)))
	return hex.EncodeToString(sum[:])[:12]
}

// saltedSystem picks a system message variant. Retry passes (attempt > 0)
// use the alternate pool. cacheProne additionally suffixes the message
// with the nonce for providers known to cache at request level.
func saltedSystem(rng *rand.Rand, attempt int, cacheProne bool, nonce string) string {
	pool := systemPool
	if attempt > 0 {
		pool = altSystemPool
	}
	msg := pool[rng.Intn(len(pool))]
	if cacheProne {
		msg += " [session " + nonce + "]"
	}
	return msg
}

// saltedPrompt appends the no-op nonce comment to the user prompt.
func saltedPrompt(prompt, nonce string) string {
	return prompt + "\n# request-id: " + nonce
}
