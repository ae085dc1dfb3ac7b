package resourcepool

import (
	"sync"

	"github.com/pkoukk/tiktoken-go"
)

// TokenEstimator estimates a tokens-namespace reservation size from a text
// payload, for patterns that move large transcripts between agents (test
// generation, state synchronization) and need a concrete resource to
// reserve against rather than guessing a byte count.
type TokenEstimator struct {
	once sync.Once
	enc  *tiktoken.Tiktoken
	err  error
}

// NewTokenEstimator builds a TokenEstimator. The underlying encoding is
// loaded lazily on first use since it may fetch a remote vocabulary file.
func NewTokenEstimator() *TokenEstimator {
	return &TokenEstimator{}
}

func (t *TokenEstimator) encoding() (*tiktoken.Tiktoken, error) {
	t.once.Do(func() {
		t.enc, t.err = tiktoken.GetEncoding("cl100k_base")
	})
	return t.enc, t.err
}

// Estimate returns the token count of text, falling back to a
// length-divided-by-four heuristic if the encoding couldn't be loaded.
func (t *TokenEstimator) Estimate(text string) int64 {
	enc, err := t.encoding()
	if err != nil {
		return int64(len(text)+3) / 4
	}
	return int64(len(enc.Encode(text, nil, nil)))
}
