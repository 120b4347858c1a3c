package probe

// BlockResult is the outcome of verifying one block.
type BlockResult struct {
	Index   int64
	Matched bool
	// AliasOf is the index of the block whose content was found at Index, or
	// -1. A mismatched block that holds another block's data points at
	// address wraparound rather than random corruption.
	AliasOf int64
}

// Sink receives progress events in order, on the goroutine running the probe.
// Implementations must not block for long: the next block is not started
// until the call returns.
type Sink interface {
	StateChanged(s State)
	BlockWritten(index int64)
	BlockVerified(r BlockResult)
}

// NopSink discards all events.
type NopSink struct{}

func (NopSink) StateChanged(State)        {}
func (NopSink) BlockWritten(int64)        {}
func (NopSink) BlockVerified(BlockResult) {}

type multiSink []Sink

// MultiSink fans events out to every non-nil sink in order.
func MultiSink(sinks ...Sink) Sink {
	var m multiSink
	for _, s := range sinks {
		if s != nil {
			m = append(m, s)
		}
	}
	if len(m) == 1 {
		return m[0]
	}
	return m
}

func (m multiSink) StateChanged(s State) {
	for _, sink := range m {
		sink.StateChanged(s)
	}
}

func (m multiSink) BlockWritten(index int64) {
	for _, sink := range m {
		sink.BlockWritten(index)
	}
}

func (m multiSink) BlockVerified(r BlockResult) {
	for _, sink := range m {
		sink.BlockVerified(r)
	}
}
