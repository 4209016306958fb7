package testutil

import (
	"bytes"
	"testing"

	"sealbox/internal/coprocessor"
	"sealbox/internal/sb"
)

// Harness bundles a service with the stubs it was built from so tests can
// advance time, inject coprocessor failures, and inspect grants.
type Harness struct {
	Service *sb.SBService
	DB      sb.Database
	Copro   *coprocessor.TestCoprocessor
	Clock   *StubClock
	IDs     *StubIDGenerator
}

// NewHarness builds a service over db with a test coprocessor, a fixed
// clock, and the given limits (zero fields take defaults).
func NewHarness(t testing.TB, db sb.Database, limits sb.Limits) *Harness {
	t.Helper()
	h := &Harness{
		DB:    db,
		Copro: coprocessor.NewTestCoprocessor(),
		Clock: FixedClock(),
		IDs:   NewStubIDGenerator(),
	}
	h.Service = sb.NewSBService(db, h.Copro, sb.NewNopLogger(), h.Clock, h.IDs, limits)
	return h
}

// Seal seals each text as one chunk submitted by p.
func (h *Harness) Seal(t testing.TB, p sb.Principal, texts ...string) []sb.SealedChunk {
	t.Helper()
	out := make([]sb.SealedChunk, 0, len(texts))
	for _, s := range texts {
		c, err := h.Copro.Seal([]byte(s), p)
		if err != nil {
			t.Fatalf("sealing chunk: %v", err)
		}
		out = append(out, c)
	}
	return out
}

// Reveal decrypts chunks as p and concatenates them.
func (h *Harness) Reveal(t testing.TB, p sb.Principal, chunks []sb.ChunkHandle) (string, error) {
	t.Helper()
	rv, err := h.Copro.Unlock("")
	if err != nil {
		t.Fatalf("unlocking: %v", err)
	}
	var buf bytes.Buffer
	for _, c := range chunks {
		if err := rv.Reveal(c, p, &buf); err != nil {
			return "", err
		}
	}
	return buf.String(), nil
}
