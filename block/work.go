package block

import "github.com/holiman/uint256"

const defaultWorkDifficulty uint32 = 1

// Workable is either a full block or a bare header; the zero value counts as
// difficulty 1.
type Workable struct {
	block  *Block
	header *BlockHeader
}

func WorkOfBlock(b *Block) Workable {
	return Workable{block: b}
}

func WorkOfHeader(h *BlockHeader) Workable {
	return Workable{header: h}
}

func (w Workable) Difficulty() uint32 {
	switch {
	case w.block != nil:
		return w.block.Header.Difficulty
	case w.header != nil:
		return w.header.Difficulty
	default:
		return defaultWorkDifficulty
	}
}

// Work is 2^difficulty, saturating at 2^255.
func (w Workable) Work() *uint256.Int {
	d := w.Difficulty()
	if d > MaxDifficulty {
		d = MaxDifficulty
	}
	return new(uint256.Int).Lsh(uint256.NewInt(1), uint(d))
}

// ChainWork sums 2^difficulty over every header.
func ChainWork(headers []BlockHeader) *uint256.Int {
	total := uint256.NewInt(0)
	for i := range headers {
		total.Add(total, WorkOfHeader(&headers[i]).Work())
	}
	return total
}
