package tokenizer

import "fmt"

// DefaultChunkLimit is the largest user chunk, in tokens, sent as one turn.
const DefaultChunkLimit = 1500

// ChunkIterator yields consecutive token-bounded pieces of a text.
// It is consumed once.
type ChunkIterator struct {
	enc   Encoder
	ids   []int
	limit int
	pos   int
}

// Split encodes text for model and returns an iterator over chunks of at
// most limit tokens each. Concatenating the chunks reproduces text whenever
// the encoder round-trips. Empty text yields no chunks.
//
// Split panics if limit is not positive.
func (t *Tokenizer) Split(text string, limit int, model string) *ChunkIterator {
	if limit <= 0 {
		panic(fmt.Sprintf("tokenizer: chunk limit must be positive, got %d", limit))
	}

	enc := t.encoder(model)
	var ids []int
	if text != "" {
		ids = enc.Encode(text)
	}
	return &ChunkIterator{enc: enc, ids: ids, limit: limit}
}

// Next returns the next chunk and true, or "" and false when exhausted.
func (it *ChunkIterator) Next() (string, bool) {
	if it.pos >= len(it.ids) {
		return "", false
	}

	end := it.pos + it.limit
	if end > len(it.ids) {
		end = len(it.ids)
	}
	chunk := it.enc.Decode(it.ids[it.pos:end])
	it.pos = end
	return chunk, true
}

// Remaining reports how many chunks are left.
func (it *ChunkIterator) Remaining() int {
	left := len(it.ids) - it.pos
	if left <= 0 {
		return 0
	}
	return (left + it.limit - 1) / it.limit
}

// All drains the iterator into a slice.
func (it *ChunkIterator) All() []string {
	chunks := make([]string, 0, it.Remaining())
	for {
		c, ok := it.Next()
		if !ok {
			return chunks
		}
		chunks = append(chunks, c)
	}
}
