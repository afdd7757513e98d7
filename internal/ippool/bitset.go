package ippool

import "math"

const bitsPerWord = 64

// bitSet is a sparse bitSet.  A nil *bitSet is an empty bitSet.
type bitSet struct {
	words map[uint64]uint64
}

// newBitSet returns a new bitset.
func newBitSet() (s *bitSet) {
	return &bitSet{
		words: map[uint64]uint64{},
	}
}

// isSet returns true if the bit n is set.
func (s *bitSet) isSet(n uint64) (ok bool) {
	if s == nil {
		return false
	}

	word, ok := s.words[n/bitsPerWord]

	return ok && word&(1<<(n%bitsPerWord)) != 0
}

// set sets or unsets a bit.
func (s *bitSet) set(n uint64, ok bool) {
	if s == nil {
		return
	}

	wordIdx := n / bitsPerWord
	bitIdx := n % bitsPerWord

	word := s.words[wordIdx]
	if ok {
		word |= 1 << bitIdx
	} else {
		word &^= 1 << bitIdx
	}

	if word == 0 {
		delete(s.words, wordIdx)
	} else {
		s.words[wordIdx] = word
	}
}

// nextClear returns the first unset bit within [from, limit).  Fully set words
// are skipped at once.
func (s *bitSet) nextClear(from, limit uint64) (n uint64, ok bool) {
	for n = from; n < limit; {
		var word uint64
		if s != nil {
			word = s.words[n/bitsPerWord]
		}

		if word == math.MaxUint64 {
			n = (n/bitsPerWord + 1) * bitsPerWord

			continue
		} else if word&(1<<(n%bitsPerWord)) == 0 {
			return n, true
		}

		n++
	}

	return 0, false
}

// count returns the number of set bits.
func (s *bitSet) count() (n uint64) {
	if s == nil {
		return 0
	}

	for _, w := range s.words {
		for ; w != 0; w &= w - 1 {
			n++
		}
	}

	return n
}
