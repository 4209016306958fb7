package sb

import (
	"fmt"
	"time"
)

// grantLedger records grant edges and pushes decrypt rights to the
// Coprocessor. It never owns records: edges outlive the record they name and
// are filtered at read time.
type grantLedger struct {
	tx    Tx
	copro Coprocessor
	idgen IDGenerator
	now   time.Time

	// pending holds rights on already-live chunks. They are pushed only
	// after the transaction commits.
	pending []pendingGrant
}

type pendingGrant struct {
	ref     RecordRef
	index   int
	chunk   ChunkHandle
	grantee Principal
}

// grant records grantee's right on r and queues decrypt on every chunk.
// Granting twice is harmless: the second edge is not stored, and the
// Coprocessor call is idempotent, so sharing again completes a share whose
// rights were not all pushed.
func (g *grantLedger) grant(r *Record, grantor, grantee Principal) (bool, error) {
	if grantee == NoOwner || grantee == r.Owner {
		return false, fmt.Errorf("%w: %q", ErrInvalidGrantee, grantee)
	}

	created, err := g.tx.InsertGrant(&Grant{
		ID:        g.idgen.New(),
		Record:    r.Ref(),
		Grantor:   grantor,
		Grantee:   grantee,
		CreatedAt: g.now,
	})
	if err != nil {
		return false, fmt.Errorf("recording grant: %w", err)
	}

	for i, h := range r.Ciphertext.Chunks() {
		g.pending = append(g.pending, pendingGrant{ref: r.Ref(), index: i, chunk: h, grantee: grantee})
	}
	return created, nil
}

// flush pushes the queued rights. A grantee never holds rights the ledger
// does not record: a rolled-back transaction pushes nothing.
func (g *grantLedger) flush() error {
	for _, p := range g.pending {
		if err := g.copro.GrantDecrypt(p.chunk, p.grantee); err != nil {
			return fmt.Errorf("granting decrypt on chunk %d of %s: %w", p.index, p.ref, err)
		}
	}
	g.pending = nil
	return nil
}

// grantAll grants p decrypt on every chunk r currently holds. It is only
// used on freshly ingested chunks, which no live record references until
// the transaction commits.
func (g *grantLedger) grantAll(r *Record, p Principal) error {
	for i, h := range r.Ciphertext.Chunks() {
		if err := g.copro.GrantDecrypt(h, p); err != nil {
			return fmt.Errorf("granting decrypt on chunk %d of %s: %w", i, r.Ref(), err)
		}
	}
	return nil
}

// regrant extends every standing grant on r to its current chunks. It runs
// after the ciphertext was replaced so existing grantees keep access.
func (g *grantLedger) regrant(r *Record) error {
	grants, err := g.tx.ListGrantsOn(r.Ref())
	if err != nil {
		return fmt.Errorf("listing grants on %s: %w", r.Ref(), err)
	}
	for _, gr := range grants {
		if err := g.grantAll(r, gr.Grantee); err != nil {
			return err
		}
	}
	return nil
}

// isSharedWith reports whether an edge (ref, p) exists. It does not look at
// the record: a grant on a deleted record is still recorded.
func isSharedWith(tx Tx, p Principal, ref RecordRef) (bool, error) {
	g, err := tx.GetGrant(ref, p)
	if err != nil {
		return false, fmt.Errorf("looking up grant: %w", err)
	}
	return g != nil, nil
}

// liveSharedWith lists the refs granted to p whose record is still live.
func liveSharedWith(tx Tx, p Principal) ([]RecordRef, error) {
	grants, err := tx.ListGrantsTo(p)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	refs := make([]RecordRef, 0, len(grants))
	for _, g := range grants {
		r, err := tx.GetRecord(g.Record)
		if err != nil {
			return nil, fmt.Errorf("loading %s: %w", g.Record, err)
		}
		if r == nil || r.Deleted() {
			continue
		}
		refs = append(refs, g.Record)
	}
	return refs, nil
}
