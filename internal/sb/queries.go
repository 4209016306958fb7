package sb

import (
	"errors"
	"fmt"
	"iter"
)

// TaskFilter narrows ListTasks. The zero value lists every live task that
// is not archived.
type TaskFilter struct {
	Status          Status // empty matches any status
	IncludeArchived bool
	FavoritesOnly   bool
}

func (f TaskFilter) match(r *Record) bool {
	if f.Status != "" && r.Status != f.Status {
		return false
	}
	if r.Archived && !f.IncludeArchived {
		return false
	}
	if f.FavoritesOnly && !r.Favorite {
		return false
	}
	return true
}

// view runs fn against the committed state.
func (s *SBService) view(fn func(tx Tx) error) error {
	return s.database.View(fn)
}

// loadLive returns the live record at ref or ErrNotFound. Deleted slots are
// reported as not found for reads.
func loadLive(tx Tx, ref RecordRef, kind RecordKind) (*Record, error) {
	if ref.Collection.Kind != kind {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrNotFound, ref, kind)
	}
	r, err := tx.GetRecord(ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if r.Deleted() {
		return nil, fmt.Errorf("%w: %s was deleted", ErrNotFound, ref)
	}
	return r, nil
}

// ListTasks returns owner's live tasks in id order.
func (s *SBService) ListTasks(owner Principal, filter TaskFilter) ([]*Record, error) {
	var out []*Record
	err := s.view(func(tx Tx) error {
		all, err := tx.ListRecords(TaskCollection(owner))
		if err != nil {
			return err
		}
		for _, r := range all {
			if !r.Deleted() && filter.match(r) {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks: %w", err)
	}
	return out, nil
}

// GetTask returns a task's metadata. The owner and any grantee may read it.
func (s *SBService) GetTask(caller Principal, ref RecordRef) (*Record, error) {
	var r *Record
	err := s.view(func(tx Tx) error {
		var err error
		r, err = loadLive(tx, ref, KindTask)
		if err != nil {
			return err
		}
		if caller != NoOwner && caller == r.Owner {
			return nil
		}
		ok, err := isSharedWith(tx, caller, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s", ErrUnauthorized, ref)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting task: %w", err)
	}
	return r, nil
}

// GetTaskContent returns a task together with its chunk handles. The owner
// may always read it; anyone else needs a grant, or gets ErrNotShared.
func (s *SBService) GetTaskContent(caller Principal, ref RecordRef) (*Record, []ChunkHandle, error) {
	var r *Record
	err := s.view(func(tx Tx) error {
		var err error
		r, err = loadLive(tx, ref, KindTask)
		if err != nil {
			return err
		}
		if caller != NoOwner && caller == r.Owner {
			return nil
		}
		ok, err := isSharedWith(tx, caller, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s with %q", ErrNotShared, ref, caller)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("getting task content: %w", err)
	}
	return r, r.Ciphertext.Chunks(), nil
}

// GetSharedTaskContent is the grantee view of GetTaskContent. It never
// falls back to ownership: without a grant it fails with ErrNotShared.
func (s *SBService) GetSharedTaskContent(caller Principal, ref RecordRef) (*Record, []ChunkHandle, error) {
	var r *Record
	err := s.view(func(tx Tx) (err error) {
		if r, err = loadLive(tx, ref, KindTask); err != nil {
			return err
		}
		ok, err := isSharedWith(tx, caller, ref)
		if err != nil {
			return err
		}
		if !ok {
			return fmt.Errorf("%w: %s with %q", ErrNotShared, ref, caller)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("getting shared task content: %w", err)
	}
	return r, r.Ciphertext.Chunks(), nil
}

// ListTasksByCategory returns owner's live tasks whose category is category.
func (s *SBService) ListTasksByCategory(owner Principal, category string) ([]*Record, error) {
	return s.listIndexed(owner, IndexCategory, category)
}

// ListTasksByTag returns owner's live tasks carrying tag.
func (s *SBService) ListTasksByTag(owner Principal, tag string) ([]*Record, error) {
	return s.listIndexed(owner, IndexTag, tag)
}

func (s *SBService) listIndexed(owner Principal, kind IndexKind, key string) ([]*Record, error) {
	var out []*Record
	err := s.view(func(tx Tx) (err error) {
		out, err = lookupLive(tx, owner, kind, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("listing tasks by %s: %w", kind, err)
	}
	return out, nil
}

// LookupIndex returns the raw id bucket, stale entries included.
// Callers must re-validate every id against the live record.
func (s *SBService) LookupIndex(owner Principal, kind IndexKind, key string) ([]uint64, error) {
	var ids []uint64
	err := s.view(func(tx Tx) (err error) {
		ids, err = tx.LookupIndex(owner, kind, key)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("looking up %s index: %w", kind, err)
	}
	return ids, nil
}

// GetOwnerStats returns owner's incrementally maintained counters.
func (s *SBService) GetOwnerStats(owner Principal) (*OwnerStats, error) {
	var st *OwnerStats
	err := s.view(func(tx Tx) (err error) {
		st, err = tx.GetOwnerStats(owner)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting stats: %w", err)
	}
	return st, nil
}

// VerifyOwnerStats rescans owner's records and compares the result with the
// stored counters. It returns a *StatsDrift when they disagree.
func (s *SBService) VerifyOwnerStats(owner Principal) error {
	var stored *OwnerStats
	var computed OwnerStats
	err := s.view(func(tx Tx) (err error) {
		if stored, err = tx.GetOwnerStats(owner); err != nil {
			return err
		}
		computed, err = rescanOwner(tx, owner)
		return err
	})
	if err != nil {
		return fmt.Errorf("verifying stats: %w", err)
	}
	if err := stored.Check(); err != nil {
		s.logger.Warn("stats invariant broken", "owner", owner, "error", err)
		return &StatsDrift{Stored: *stored, Computed: computed}
	}
	if !sameCounters(*stored, computed) {
		s.logger.Warn("stats drift detected", "owner", owner)
		return &StatsDrift{Stored: *stored, Computed: computed}
	}
	return nil
}

// SharedWith yields the live records shared with p, oldest grant first.
// Each iteration reads a fresh snapshot, so the sequence can be restarted.
func (s *SBService) SharedWith(p Principal) iter.Seq2[RecordRef, error] {
	return func(yield func(RecordRef, error) bool) {
		var refs []RecordRef
		err := s.view(func(tx Tx) (err error) {
			refs, err = liveSharedWith(tx, p)
			return err
		})
		if err != nil {
			yield(RecordRef{}, fmt.Errorf("listing shared records: %w", err))
			return
		}
		for _, ref := range refs {
			if !yield(ref, nil) {
				return
			}
		}
	}
}

// ListSharedWith collects SharedWith into a slice.
func (s *SBService) ListSharedWith(p Principal) ([]RecordRef, error) {
	var out []RecordRef
	for ref, err := range s.SharedWith(p) {
		if err != nil {
			return nil, err
		}
		out = append(out, ref)
	}
	return out, nil
}

// IsSharedWith returns nil if ref was shared with p, and ErrNotShared
// otherwise. Grants on deleted records still count.
func (s *SBService) IsSharedWith(p Principal, ref RecordRef) error {
	var ok bool
	err := s.view(func(tx Tx) (err error) {
		ok, err = isSharedWith(tx, p, ref)
		return err
	})
	if err != nil {
		return fmt.Errorf("checking share: %w", err)
	}
	if !ok {
		return fmt.Errorf("%w: %s with %q", ErrNotShared, ref, p)
	}
	return nil
}

// Grantees returns the principals holding a grant on one of caller's
// tasks, oldest grant first. Only the owner may list them.
func (s *SBService) Grantees(caller Principal, ref RecordRef) ([]Principal, error) {
	var out []Principal
	err := s.view(func(tx Tx) error {
		r, err := loadLive(tx, ref, KindTask)
		if err != nil {
			return err
		}
		if caller == NoOwner || caller != r.Owner {
			return fmt.Errorf("%w: %s", ErrUnauthorized, ref)
		}
		grants, err := tx.ListGrantsOn(ref)
		if err != nil {
			return err
		}
		for _, g := range grants {
			out = append(out, g.Grantee)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing grantees: %w", err)
	}
	return out, nil
}

// ListBoxes returns owner's live boxes in id order.
func (s *SBService) ListBoxes(owner Principal) ([]*Box, error) {
	var out []*Box
	err := s.view(func(tx Tx) error {
		all, err := tx.ListBoxes(owner)
		if err != nil {
			return err
		}
		for _, b := range all {
			if !b.Deleted() {
				out = append(out, b)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing boxes: %w", err)
	}
	return out, nil
}

func loadLiveBox(tx Tx, ref BoxRef) (*Box, error) {
	b, err := tx.GetBox(ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	if b == nil || b.Deleted() {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	return b, nil
}

// GetBox returns a live box. Box metadata is public so that submitters can
// find it.
func (s *SBService) GetBox(ref BoxRef) (*Box, error) {
	var b *Box
	err := s.view(func(tx Tx) (err error) {
		b, err = loadLiveBox(tx, ref)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("getting box: %w", err)
	}
	return b, nil
}

// GetBoxStats scans a box's live submissions and aggregates ratings and
// sentiment. Unlike owner stats these are never stored.
func (s *SBService) GetBoxStats(ref BoxRef) (*BoxStats, error) {
	var st BoxStats
	err := s.view(func(tx Tx) error {
		if _, err := loadLiveBox(tx, ref); err != nil {
			return err
		}
		subs, err := tx.ListRecords(FeedbackCollection(ref))
		if err != nil {
			return err
		}
		st = computeBoxStats(ref, subs)
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("getting box stats: %w", err)
	}
	return &st, nil
}

// ListFeedback returns the live submissions of a box. Only its owner may list them.
func (s *SBService) ListFeedback(caller Principal, ref BoxRef) ([]*Record, error) {
	var out []*Record
	err := s.view(func(tx Tx) error {
		b, err := loadLiveBox(tx, ref)
		if err != nil {
			return err
		}
		if caller == NoOwner || caller != b.Owner {
			return fmt.Errorf("%w: %s is not owned by %q", ErrUnauthorized, ref, caller)
		}
		all, err := tx.ListRecords(FeedbackCollection(ref))
		if err != nil {
			return err
		}
		for _, r := range all {
			if !r.Deleted() {
				out = append(out, r)
			}
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing feedback: %w", err)
	}
	return out, nil
}

// GetFeedback returns one submission with its chunk handles, for the box owner.
func (s *SBService) GetFeedback(caller Principal, ref RecordRef) (*Record, []ChunkHandle, error) {
	var r *Record
	err := s.view(func(tx Tx) (err error) {
		if r, err = loadLive(tx, ref, KindFeedback); err != nil {
			return err
		}
		if caller == NoOwner || caller != r.Owner {
			return fmt.Errorf("%w: %s", ErrUnauthorized, ref)
		}
		return nil
	})
	if err != nil {
		return nil, nil, fmt.Errorf("getting feedback: %w", err)
	}
	return r, r.Ciphertext.Chunks(), nil
}

// MySubmissions lists the live submissions posted by submitter. Ratings,
// sentiment, and read state are visible; content is not.
func (s *SBService) MySubmissions(submitter Principal) ([]*Record, error) {
	var out []*Record
	err := s.view(func(tx Tx) error {
		refs, err := tx.ListSubmissions(submitter)
		if err != nil {
			return err
		}
		for _, ref := range refs {
			r, err := loadLive(tx, ref, KindFeedback)
			if errors.Is(err, ErrNotFound) {
				continue
			}
			if err != nil {
				return err
			}
			r.Ciphertext = Ciphertext{}
			out = append(out, r)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	return out, nil
}

// GetHistory returns the most recent journaled operations, newest first.
func (s *SBService) GetHistory(limit int) ([]*Operation, error) {
	ops, err := s.database.ListOperations(limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	return ops, nil
}
