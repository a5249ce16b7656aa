package indexer

import "fmt"

// BlockRange is an inclusive span of blocks queried in one eth_getLogs call.
type BlockRange struct {
	From uint64
	To   uint64
}

func (r BlockRange) Len() uint64 {
	return r.To - r.From + 1
}

// SplitRange cuts [from, to] into consecutive ranges of at most size blocks.
func SplitRange(from, to, size uint64) ([]BlockRange, error) {
	switch {
	case size == 0:
		return nil, fmt.Errorf("batch size must be greater than zero")
	case to < from:
		return nil, fmt.Errorf("to block %d is before from block %d", to, from)
	}

	var out []BlockRange
	for start := from; ; start += size {
		end := to
		if to-start >= size {
			end = start + size - 1
		}
		out = append(out, BlockRange{From: start, To: end})
		if end == to {
			return out, nil
		}
	}
}
