package randomness

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"math/big"
	"strings"
)

// Word is one 256-bit random value delivered by the oracle (big-endian).
type Word [32]byte

// RequestID identifies an outstanding randomness request at the oracle.
type RequestID uint64

func (w Word) IsZero() bool { return w == Word{} }

func (w Word) Big() *big.Int { return new(big.Int).SetBytes(w[:]) }

// Mod returns w mod n. n must be positive.
func (w Word) Mod(n uint64) uint64 {
	if n == 0 {
		return 0
	}
	return new(big.Int).Mod(w.Big(), new(big.Int).SetUint64(n)).Uint64()
}

func (w Word) String() string { return "0x" + hex.EncodeToString(w[:]) }

func ParseWord(s string) (Word, error) {
	var w Word
	s = strings.TrimPrefix(strings.TrimSpace(s), "0x")
	if len(s) == 0 || len(s) > 64 {
		return w, fmt.Errorf("random word: bad length %d", len(s))
	}
	if len(s)%2 == 1 {
		s = "0" + s
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		return w, fmt.Errorf("random word: %w", err)
	}
	copy(w[32-len(b):], b)
	return w, nil
}

func WordFromUint64(v uint64) Word {
	var w Word
	binary.BigEndian.PutUint64(w[24:], v)
	return w
}

// DeriveWord deterministically expands a request id into its i-th word.
func DeriveWord(id RequestID, i int) Word {
	var buf [16]byte
	binary.BigEndian.PutUint64(buf[:8], uint64(id))
	binary.BigEndian.PutUint64(buf[8:], uint64(i))
	return Word(sha256.Sum256(buf[:]))
}

func (w Word) MarshalJSON() ([]byte, error) { return json.Marshal(w.String()) }

func (w *Word) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	v, err := ParseWord(s)
	if err != nil {
		return err
	}
	*w = v
	return nil
}
