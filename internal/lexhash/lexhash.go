// Package lexhash implements §4.1: two order-independent FNV-1a fingerprints
// over the script text, one per logical line (names generated tables and
// prepared statements) and one over the whole script (names the on-disk
// database). Grounded on the original engine's lexhash.h/lexhash.c, which
// hashes tokens rather than raw characters and folds per-line hashes into
// the whole-script hash commutatively so that line order and whitespace
// that does not change tokens never affect it.
package lexhash

import "encoding/binary"

// Hash is a 32-bit fingerprint, matching the original's hash_t.
type Hash uint32

const (
	fnvOffset32 = 2166136261
	fnvPrime32  = 16777619
)

// Hasher accumulates token/text bytes into a per-line hash and folds
// completed lines into a whole-script hash. The zero value is ready to use.
type Hasher struct {
	whole Hash // commutative accumulation across all lines seen so far
	line  Hash // the current, in-progress line
	last  Hash // the most recently completed line's hash
}

// Start resets the hasher to its initial state.
func (h *Hasher) Start() {
	*h = Hasher{whole: fnvOffset32, line: fnvOffset32}
}

func fnv1aByte(h Hash, b byte) Hash {
	h ^= Hash(b)
	h *= fnvPrime32
	return h
}

func fnv1aBytes(h Hash, data []byte) Hash {
	for _, b := range data {
		h = fnv1aByte(h, b)
	}
	return h
}

// Token folds an integer token identifier into the current line's hash.
func (h *Hasher) Token(tok int) {
	var buf [4]byte
	binary.LittleEndian.PutUint32(buf[:], uint32(tok))
	h.line = fnv1aBytes(h.line, buf[:])
}

// Text folds the bytes of a lexeme (identifier, string, number) into the
// current line's hash.
func (h *Hasher) Text(text string) {
	h.line = fnv1aBytes(h.line, []byte(text))
}

// TokenText is shorthand for Token followed by Text, the common case of a
// classified lexeme (e.g. an IDENT token together with its spelling).
func (h *Hasher) TokenText(tok int, text string) {
	h.Token(tok)
	h.Text(text)
}

// TokenBlob folds a token together with raw, possibly-binary data (used for
// quoted-string and byte-string constants) into the current line's hash.
func (h *Hasher) TokenBlob(tok int, data []byte) {
	h.Token(tok)
	h.line = fnv1aBytes(h.line, data)
}

// EndLine completes the current logical line: its hash is folded into the
// whole-script accumulator via XOR, which is commutative and associative, so
// the order in which lines are ended never affects the eventual Finish.
// A fresh, empty line hash is then started.
func (h *Hasher) EndLine() {
	h.last = h.line
	h.whole ^= h.line
	h.line = fnvOffset32
}

// CurLine returns the hash of the line in progress, without ending it.
func (h *Hasher) CurLine() Hash {
	return h.line
}

// LastLine returns the hash of the most recently completed line.
func (h *Hasher) LastLine() Hash {
	return h.last
}

// Finish folds a final avalanche multiply into the whole-script accumulator
// and returns it. It may be called repeatedly (e.g. after each new line) but
// note that, per the original design, it mutates the running accumulator by
// design only once real finalization is wanted; callers that want a stable
// running total without re-multiplying should call Whole instead.
func (h *Hasher) Finish() Hash {
	h.whole *= fnvPrime32
	return h.whole
}

// Whole returns the commutative accumulation of completed lines' hashes
// without applying Finish's avalanche multiply, i.e. it is safe to call at
// any time and is itself already order-independent.
func (h *Hasher) Whole() Hash {
	return h.whole
}
