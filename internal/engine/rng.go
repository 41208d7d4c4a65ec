package engine

import (
	"hash/fnv"
	"io"
	"math/rand/v2"
	"strconv"
)

// turnRNG builds the deterministic per-turn generator. The seed is a hash
// of (session, driver, item, turn): replaying a turn with identical inputs
// yields bit-identical driver output, which is what makes boundary-layer
// retries idempotent.
func turnRNG(sessionID, driverID, itemID string, turn int) *rand.Rand {
	h := fnv.New64a()
	for _, part := range []string{sessionID, driverID, itemID, strconv.Itoa(turn)} {
		io.WriteString(h, part)
		h.Write([]byte{0})
	}
	seed1 := h.Sum64()

	io.WriteString(h, "stream")
	seed2 := h.Sum64()

	return rand.New(rand.NewPCG(seed1, seed2))
}
