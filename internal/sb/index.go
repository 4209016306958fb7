package sb

import "fmt"

// indexRecord appends id to the category bucket (if any) and each tag bucket
// of owner. Buckets have set semantics; entries are never pruned or moved,
// so a later update leaves the old buckets pointing at the record.
func indexRecord(tx Tx, owner Principal, id uint64, f PublicFields) error {
	if f.Category != "" {
		if err := tx.AppendIndex(owner, IndexCategory, f.Category, id); err != nil {
			return fmt.Errorf("indexing category %q: %w", f.Category, err)
		}
	}
	for _, tag := range f.Tags {
		if err := tx.AppendIndex(owner, IndexTag, tag, id); err != nil {
			return fmt.Errorf("indexing tag %q: %w", tag, err)
		}
	}
	return nil
}

// lookupLive resolves an index bucket to the live tasks that still carry key.
// Stale ids (deleted records, or records whose field has since changed) are
// dropped here, at read time.
func lookupLive(tx Tx, owner Principal, kind IndexKind, key string) ([]*Record, error) {
	ids, err := tx.LookupIndex(owner, kind, key)
	if err != nil {
		return nil, fmt.Errorf("looking up %s index: %w", kind, err)
	}

	var out []*Record
	for _, id := range ids {
		r, err := tx.GetRecord(TaskRef(owner, id))
		if err != nil {
			return nil, fmt.Errorf("loading task %d: %w", id, err)
		}
		if r == nil || r.Deleted() || !r.Fields.matches(kind, key) {
			continue
		}
		out = append(out, r)
	}
	return out, nil
}

func (f PublicFields) matches(kind IndexKind, key string) bool {
	switch kind {
	case IndexCategory:
		return f.Category == key
	case IndexTag:
		for _, t := range f.Tags {
			if t == key {
				return true
			}
		}
	}
	return false
}
