package engine

import "sync/atomic"

// BlockSource supplies the current block height. Height is an external
// signal injected into the engine; the engine never waits for or polls a
// chain itself.
type BlockSource interface {
	CurrentBlock() uint64
}

// ManualBlockSource is a BlockSource advanced by an external feed (an admin
// endpoint, a relayer, or a test).
type ManualBlockSource struct {
	height atomic.Uint64
}

// NewManualBlockSource starts a manual source at the given height.
func NewManualBlockSource(height uint64) *ManualBlockSource {
	s := &ManualBlockSource{}
	s.height.Store(height)
	return s
}

// CurrentBlock returns the last height fed in.
func (s *ManualBlockSource) CurrentBlock() uint64 {
	return s.height.Load()
}

// SetBlock moves the source to height. Heights below the current one are
// ignored; block time never runs backwards.
func (s *ManualBlockSource) SetBlock(height uint64) {
	for {
		cur := s.height.Load()
		if height <= cur {
			return
		}
		if s.height.CompareAndSwap(cur, height) {
			return
		}
	}
}

// Advance moves the source forward by n blocks.
func (s *ManualBlockSource) Advance(n uint64) {
	s.height.Add(n)
}
