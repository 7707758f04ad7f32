package broker

import (
	"github.com/google/uuid"
	"github.com/jxskiss/base62"
)

// newClientOrderID builds a compact unique id the exchange echoes back
// on fills. 16 uuid bytes encode to ~22 base62 chars, well inside the
// 36-char client order id limit.
func newClientOrderID() string {
	id := uuid.New()
	return "dca-" + base62.EncodeToString(id[:])
}
