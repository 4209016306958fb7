package sb

import (
	"fmt"
	"slices"
	"strings"
	"time"
	"unicode/utf8"
)

// recordStore applies record mutations inside one transaction. It is built
// fresh for every Update and never outlives it.
type recordStore struct {
	tx     Tx
	limits Limits
	now    time.Time
	ledger *grantLedger
}

func newRecordStore(tx Tx, limits Limits, copro Coprocessor, idgen IDGenerator, now time.Time) *recordStore {
	return &recordStore{
		tx:     tx,
		limits: limits,
		now:    now,
		ledger: &grantLedger{tx: tx, copro: copro, idgen: idgen, now: now},
	}
}

func (s *recordStore) loadStats(owner Principal) (*OwnerStats, error) {
	st, err := s.tx.GetOwnerStats(owner)
	if err != nil {
		return nil, fmt.Errorf("loading stats for %s: %w", owner, err)
	}
	return st, nil
}

func (s *recordStore) saveStats(st *OwnerStats) error {
	st.UpdatedAt = s.now
	if err := s.tx.PutOwnerStats(st); err != nil {
		return fmt.Errorf("saving stats for %s: %w", st.Owner, err)
	}
	return nil
}

// loadForMutation resolves ref and checks that caller may mutate it.
// Errors are checked in order: NotFound, AlreadyDeleted, Unauthorized.
func (s *recordStore) loadForMutation(caller Principal, ref RecordRef, kind RecordKind) (*Record, error) {
	if ref.Collection.Kind != kind {
		return nil, fmt.Errorf("%w: %s is not a %s", ErrNotFound, ref, kind)
	}
	r, err := s.tx.GetRecord(ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	if r == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if r.Deleted() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeleted, ref)
	}
	if caller == NoOwner || caller != r.Owner {
		return nil, fmt.Errorf("%w: %s is not owned by %q", ErrUnauthorized, ref, caller)
	}
	return r, nil
}

// normalizeTaskFields validates task metadata and drops feedback-only fields.
func (s *recordStore) normalizeTaskFields(f PublicFields) (PublicFields, error) {
	out := PublicFields{
		Title:    strings.TrimSpace(f.Title),
		Category: strings.TrimSpace(f.Category),
		Color:    strings.TrimSpace(f.Color),
	}
	if out.Title == "" {
		return out, fmt.Errorf("%w: title is required", ErrInvalidSize)
	}
	if n := utf8.RuneCountInString(out.Title); n > s.limits.MaxTitleLength {
		return out, fmt.Errorf("%w: title is %d characters, max %d", ErrInvalidSize, n, s.limits.MaxTitleLength)
	}
	for _, t := range f.Tags {
		t = strings.TrimSpace(t)
		if t == "" {
			return out, fmt.Errorf("%w: empty tag", ErrInvalidValue)
		}
		if !slices.Contains(out.Tags, t) {
			out.Tags = append(out.Tags, t)
		}
	}
	if len(out.Tags) > s.limits.MaxTags {
		return out, fmt.Errorf("%w: %d tags, max %d", ErrInvalidSize, len(out.Tags), s.limits.MaxTags)
	}
	return out, nil
}

// createTask appends a new task to owner's collection.
func (s *recordStore) createTask(owner Principal, chunks []ChunkHandle, fields PublicFields, priority Priority) (*Record, error) {
	if owner == NoOwner {
		return nil, fmt.Errorf("%w: no principal", ErrUnauthorized)
	}
	ct, err := NewCiphertext(chunks, s.limits.MaxChunksPerRecord)
	if err != nil {
		return nil, err
	}
	fields, err = s.normalizeTaskFields(fields)
	if err != nil {
		return nil, err
	}
	if priority == "" {
		priority = PriorityMedium
	}

	st, err := s.loadStats(owner)
	if err != nil {
		return nil, err
	}
	if st.TotalTasks >= s.limits.MaxTasksPerOwner {
		return nil, fmt.Errorf("%w: %s holds %d tasks", ErrQuotaExceeded, owner, st.TotalTasks)
	}

	c := TaskCollection(owner)
	id, err := s.tx.SequenceLength(c)
	if err != nil {
		return nil, fmt.Errorf("reading sequence length: %w", err)
	}

	r := &Record{
		Collection: c,
		ID:         id,
		Owner:      owner,
		Ciphertext: ct,
		Fields:     fields,
		Status:     StatusTodo,
		Priority:   priority,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
	}
	if err := s.tx.InsertRecord(r); err != nil {
		return nil, fmt.Errorf("inserting task: %w", err)
	}
	if err := indexRecord(s.tx, owner, id, fields); err != nil {
		return nil, err
	}
	st.addTask(r)
	if err := s.saveStats(st); err != nil {
		return nil, err
	}
	if err := s.ledger.grantAll(r, owner); err != nil {
		return nil, err
	}
	return r, nil
}

// updateTask replaces content and every public field. Status, priority, and
// flags are left alone.
func (s *recordStore) updateTask(caller Principal, ref RecordRef, chunks []ChunkHandle, fields PublicFields) (*Record, error) {
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, err
	}
	fields, err = s.normalizeTaskFields(fields)
	if err != nil {
		return nil, err
	}
	delta, err := r.Ciphertext.Replace(chunks, s.limits.MaxChunksPerRecord)
	if err != nil {
		return nil, err
	}
	r.Fields = fields
	r.UpdatedAt = s.now

	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}
	if err := indexRecord(s.tx, r.Owner, r.ID, fields); err != nil {
		return nil, err
	}

	st, err := s.loadStats(r.Owner)
	if err != nil {
		return nil, err
	}
	st.TotalStorage += int64(delta)
	if err := s.saveStats(st); err != nil {
		return nil, err
	}

	if err := s.ledger.grantAll(r, r.Owner); err != nil {
		return nil, err
	}
	if err := s.ledger.regrant(r); err != nil {
		return nil, err
	}
	return r, nil
}

// setStatus moves a task through its lifecycle. It reports false, and
// writes nothing, when status is already in effect.
func (s *recordStore) setStatus(caller Principal, ref RecordRef, status Status) (*Record, bool, error) {
	if !status.validFor(KindTask) {
		return nil, false, fmt.Errorf("%w: %q is not a task status", ErrInvalidValue, status)
	}
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, false, err
	}
	if r.Status == status {
		return r, false, nil
	}

	st, err := s.loadStats(r.Owner)
	if err != nil {
		return nil, false, err
	}
	st.moveStatus(r.Status, status)

	r.Status = status
	r.UpdatedAt = s.now
	if status == StatusCompleted {
		r.CompletedAt = s.now
	} else {
		r.CompletedAt = time.Time{}
	}

	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, false, fmt.Errorf("updating task: %w", err)
	}
	if err := s.saveStats(st); err != nil {
		return nil, false, err
	}
	return r, true, nil
}

func (s *recordStore) setPriority(caller Principal, ref RecordRef, p Priority) (*Record, bool, error) {
	switch p {
	case PriorityLow, PriorityMedium, PriorityHigh:
	default:
		return nil, false, fmt.Errorf("%w: priority %q", ErrInvalidValue, p)
	}
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, false, err
	}
	if r.Priority == p {
		return r, false, nil
	}
	r.Priority = p
	r.UpdatedAt = s.now
	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, false, fmt.Errorf("updating task: %w", err)
	}
	return r, true, nil
}

func (s *recordStore) setFlag(caller Principal, ref RecordRef, f Flag, on bool) (*Record, bool, error) {
	if f != FlagArchived && f != FlagFavorite {
		return nil, false, fmt.Errorf("%w: flag %q", ErrInvalidValue, f)
	}
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, false, err
	}
	cur := &r.Archived
	if f == FlagFavorite {
		cur = &r.Favorite
	}
	if *cur == on {
		return r, false, nil
	}

	st, err := s.loadStats(r.Owner)
	if err != nil {
		return nil, false, err
	}
	st.setFlag(f, on)

	*cur = on
	r.UpdatedAt = s.now
	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, false, fmt.Errorf("updating task: %w", err)
	}
	if err := s.saveStats(st); err != nil {
		return nil, false, err
	}
	return r, true, nil
}

// deleteTask soft-deletes a task: counters are reversed, chunks dropped, and
// the slot keeps its id and public fields under the sentinel owner.
func (s *recordStore) deleteTask(caller Principal, ref RecordRef) (*Record, error) {
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, err
	}
	st, err := s.loadStats(r.Owner)
	if err != nil {
		return nil, err
	}
	st.removeTask(r)

	r.Ciphertext.Clear()
	r.Owner = NoOwner
	r.UpdatedAt = s.now
	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, fmt.Errorf("deleting task: %w", err)
	}
	if err := s.saveStats(st); err != nil {
		return nil, err
	}
	return r, nil
}

// shareTask grants grantee decryption of every chunk of a task.
func (s *recordStore) shareTask(caller Principal, ref RecordRef, grantee Principal) (*Record, bool, error) {
	r, err := s.loadForMutation(caller, ref, KindTask)
	if err != nil {
		return nil, false, err
	}
	created, err := s.ledger.grant(r, caller, grantee)
	if err != nil {
		return nil, false, err
	}
	return r, created, nil
}
