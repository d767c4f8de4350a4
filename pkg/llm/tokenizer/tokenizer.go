// Package tokenizer counts tokens, resolves model context capacities and
// splits oversized text into token-bounded chunks.
//
// Counting is pluggable: by default the tiktoken encoding for the model is
// used, falling back to cl100k_base, and to a byte-level encoder when no BPE
// data can be loaded. Tests plug a deterministic encoder with WithEncoderFunc.
package tokenizer

import (
	"strings"
	"sync"

	"github.com/entrhq/parley/pkg/logging"
	"github.com/entrhq/parley/pkg/types"
	"github.com/pkoukk/tiktoken-go"
)

var debugLog *logging.Logger

func init() {
	var err error
	debugLog, err = logging.NewLogger("tokenizer")
	if err != nil {
		debugLog.Warnf("Failed to initialize tokenizer logger, using stderr fallback: %v", err)
	}
}

// DefaultEncoding is used for models tiktoken does not know.
const DefaultEncoding = "cl100k_base"

// DefaultReserved is the number of tokens kept free for the reply.
const DefaultReserved = 300

// Encoder turns text into token ids and back.
type Encoder interface {
	Encode(text string) []int
	Decode(ids []int) string
}

// EncoderFunc resolves the encoder for a model name.
type EncoderFunc func(model string) (Encoder, error)

// Tokenizer is the token budgeter: it prices text for a model and knows how
// large each model's context window is. It is safe for concurrent use.
type Tokenizer struct {
	encoders map[string]Encoder
	resolve  EncoderFunc
	capacity *CapacityTable
	reserved int
	mu       sync.RWMutex
}

// Option configures a Tokenizer.
type Option func(*Tokenizer)

// WithEncoderFunc replaces the tiktoken resolver.
func WithEncoderFunc(fn EncoderFunc) Option {
	return func(t *Tokenizer) {
		t.resolve = fn
	}
}

// WithEncoder uses enc for every model.
func WithEncoder(enc Encoder) Option {
	return WithEncoderFunc(func(string) (Encoder, error) { return enc, nil })
}

// WithCapacityTable sets the model capacity table.
func WithCapacityTable(table *CapacityTable) Option {
	return func(t *Tokenizer) {
		t.capacity = table
	}
}

// WithReserved sets the number of tokens held back for the reply.
func WithReserved(n int) Option {
	return func(t *Tokenizer) {
		t.reserved = n
	}
}

// New creates a Tokenizer. Encoders are resolved lazily per model, so New
// never touches the network.
func New(opts ...Option) *Tokenizer {
	t := &Tokenizer{
		encoders: make(map[string]Encoder),
		resolve:  tiktokenEncoder,
		capacity: DefaultCapacityTable(),
		reserved: DefaultReserved,
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Cost returns the number of tokens text occupies for model.
func (t *Tokenizer) Cost(text, model string) int {
	if text == "" {
		return 0
	}
	return len(t.encoder(model).Encode(text))
}

// CountMessages sums the content cost of msgs. Summary messages are charged
// like any other message.
func (t *Tokenizer) CountMessages(msgs []*types.Message, model string) int {
	total := 0
	for _, m := range msgs {
		total += t.Cost(m.Content, model)
	}
	return total
}

// Capacity returns the context window size of model in tokens.
func (t *Tokenizer) Capacity(model string) int {
	return t.capacity.Lookup(model)
}

// Reserved returns the number of tokens held back for the reply.
func (t *Tokenizer) Reserved() int {
	return t.reserved
}

// Budget describes how many tokens a request may spend on history.
type Budget struct {
	Capacity         int
	Reserved         int
	SystemPromptCost int
}

// Available is what remains for history once the reply and system prompt are paid for.
func (b Budget) Available() int {
	return b.Capacity - b.Reserved - b.SystemPromptCost
}

// Budget derives the history budget for a request to model with systemPrompt.
func (t *Tokenizer) Budget(systemPrompt, model string) Budget {
	return Budget{
		Capacity:         t.Capacity(model),
		Reserved:         t.reserved,
		SystemPromptCost: t.Cost(systemPrompt, model),
	}
}

func (t *Tokenizer) encoder(model string) Encoder {
	key := strings.ToLower(model)

	t.mu.RLock()
	enc, ok := t.encoders[key]
	t.mu.RUnlock()
	if ok {
		return enc
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	if enc, ok := t.encoders[key]; ok {
		return enc
	}

	enc, err := t.resolve(model)
	if err != nil || enc == nil {
		debugLog.Warnf("No encoder for model %q, counting bytes: %v", model, err)
		enc = ByteEncoder{}
	}
	t.encoders[key] = enc
	return enc
}

// tiktokenAdapter binds tiktoken's special-token arguments.
type tiktokenAdapter struct {
	tk *tiktoken.Tiktoken
}

func (a tiktokenAdapter) Encode(text string) []int {
	return a.tk.Encode(text, nil, nil)
}

func (a tiktokenAdapter) Decode(ids []int) string {
	return a.tk.Decode(ids)
}

func tiktokenEncoder(model string) (Encoder, error) {
	tk, err := tiktoken.EncodingForModel(model)
	if err != nil {
		tk, err = tiktoken.GetEncoding(DefaultEncoding)
		if err != nil {
			return nil, err
		}
	}
	return tiktokenAdapter{tk: tk}, nil
}

// ByteEncoder treats every byte as one token. It round-trips any input and
// never undercounts relative to BPE encodings.
type ByteEncoder struct{}

// Encode returns the bytes of text as ids.
func (ByteEncoder) Encode(text string) []int {
	ids := make([]int, len(text))
	for i := 0; i < len(text); i++ {
		ids[i] = int(text[i])
	}
	return ids
}

// Decode reassembles the bytes.
func (ByteEncoder) Decode(ids []int) string {
	b := make([]byte, len(ids))
	for i, id := range ids {
		b[i] = byte(id)
	}
	return string(b)
}
