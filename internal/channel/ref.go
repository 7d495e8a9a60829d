package channel

import (
	"strconv"
	"sync/atomic"
)

// refCounter allocates strictly increasing, non-zero decimal refs for a
// single session.
type refCounter struct {
	next atomic.Int64
}

// Next returns the next ref as a decimal string. The first call returns "1".
func (c *refCounter) Next() string {
	return strconv.FormatInt(c.next.Add(1), 10)
}
