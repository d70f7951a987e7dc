package protocol

import (
	"encoding/json"
	"errors"

	"github.com/rs/zerolog/log"
)

var ErrAccumulatorOverflow = errors.New("protocol: accumulator overflow")

// DefaultMaxAccumulate bounds the framing buffer. The wire has no length
// prefix, so a peer that never completes a parseable message would
// otherwise grow the buffer without limit.
const DefaultMaxAccumulate = 8 * 1024 * 1024

// Accumulator implements the peer's framing: bytes are appended until the
// buffer parses as one complete envelope, then the buffer resets.
//
// This assumes at most one message is in flight per read attempt; the peer
// does not interleave. Partial fragments discarded on overflow are logged
// so interleaving would at least be visible.
type Accumulator struct {
	buf []byte
	max int
}

func NewAccumulator(max int) *Accumulator {
	if max <= 0 {
		max = DefaultMaxAccumulate
	}
	return &Accumulator{max: max}
}

// Push appends a read and attempts a full parse. It returns the decoded
// message and true once the accumulated bytes form one valid envelope.
func (a *Accumulator) Push(b []byte) (Message, bool, error) {
	a.buf = append(a.buf, b...)

	var m Message
	if err := json.Unmarshal(a.buf, &m); err != nil {
		if len(a.buf) > a.max {
			log.Debug().Int("bytes", len(a.buf)).Msg("protocol: discarding unparseable fragment")
			a.buf = nil
			return Message{}, false, ErrAccumulatorOverflow
		}
		return Message{}, false, nil
	}
	a.buf = nil

	if err := m.Validate(); err != nil {
		log.Debug().Err(err).Msg("protocol: discarding malformed envelope")
		return Message{}, false, nil
	}
	return m, true, nil
}

// Pending reports buffered bytes awaiting a complete parse.
func (a *Accumulator) Pending() int {
	return len(a.buf)
}
