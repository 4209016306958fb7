package database

import (
	"cmp"
	"fmt"
	"maps"
	"os"
	"slices"
	"sync"
	"sync/atomic"
	"time"

	"gopkg.in/yaml.v3"

	"sealbox/internal/sb"
)

// ArenaDatabase is an in-memory sb.Database that commits by swapping a
// copy-on-write state. Update works on a shallow clone of the committed
// maps; every slice and value it touches is copied before being written, so
// an aborted Update leaves the committed state exactly as it was.
type ArenaDatabase struct {
	writeMu sync.Mutex
	state   atomic.Pointer[arenaState]

	opsMu sync.Mutex
	ops   []sb.Operation
}

type indexKey struct {
	owner sb.Principal
	kind  sb.IndexKind
	key   string
}

type grantKey struct {
	ref     sb.RecordRef
	grantee sb.Principal
}

type arenaState struct {
	records     map[sb.Collection][]*sb.Record
	boxes       map[sb.Principal][]*sb.Box
	stats       map[sb.Principal]*sb.OwnerStats
	index       map[indexKey][]uint64
	grants      map[grantKey]*sb.Grant
	grantsTo    map[sb.Principal][]grantKey
	grantsOn    map[sb.RecordRef][]sb.Principal
	submissions map[sb.Principal][]sb.RecordRef
}

// NewArenaDatabase returns an empty arena.
func NewArenaDatabase() *ArenaDatabase {
	a := &ArenaDatabase{}
	a.state.Store(&arenaState{
		records:     map[sb.Collection][]*sb.Record{},
		boxes:       map[sb.Principal][]*sb.Box{},
		stats:       map[sb.Principal]*sb.OwnerStats{},
		index:       map[indexKey][]uint64{},
		grants:      map[grantKey]*sb.Grant{},
		grantsTo:    map[sb.Principal][]grantKey{},
		grantsOn:    map[sb.RecordRef][]sb.Principal{},
		submissions: map[sb.Principal][]sb.RecordRef{},
	})
	return a
}

func (s *arenaState) clone() *arenaState {
	return &arenaState{
		records:     maps.Clone(s.records),
		boxes:       maps.Clone(s.boxes),
		stats:       maps.Clone(s.stats),
		index:       maps.Clone(s.index),
		grants:      maps.Clone(s.grants),
		grantsTo:    maps.Clone(s.grantsTo),
		grantsOn:    maps.Clone(s.grantsOn),
		submissions: maps.Clone(s.submissions),
	}
}

// appendCOW appends v to a copy of s, never into s's backing array.
func appendCOW[T any](s []T, v T) []T {
	return append(slices.Clip(s), v)
}

// Update runs fn against a private clone and publishes it if fn returns nil.
func (a *ArenaDatabase) Update(fn func(tx sb.Tx) error) error {
	a.writeMu.Lock()
	defer a.writeMu.Unlock()

	next := a.state.Load().clone()
	if err := fn(&arenaTx{st: next}); err != nil {
		return err
	}
	a.state.Store(next)
	return nil
}

// View runs fn against the committed state without taking the writer lock.
func (a *ArenaDatabase) View(fn func(tx sb.Tx) error) error {
	return fn(&arenaTx{st: a.state.Load(), readOnly: true})
}

func (a *ArenaDatabase) CreateOperation(operation, parameters string) (*sb.Operation, error) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()

	op := sb.Operation{
		ID:         int64(len(a.ops)) + 1,
		Operation:  operation,
		Parameters: parameters,
		StartedAt:  time.Now().UTC(),
	}
	a.ops = append(a.ops, op)
	return &op, nil
}

func (a *ArenaDatabase) FinishOperation(id int64, status string) error {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()

	if id < 1 || id > int64(len(a.ops)) {
		return fmt.Errorf("finishing operation: no operation %d", id)
	}
	a.ops[id-1].Status = status
	a.ops[id-1].FinishedAt = time.Now().UTC()
	return nil
}

func (a *ArenaDatabase) ListOperations(limit int) ([]*sb.Operation, error) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()

	var out []*sb.Operation
	for i := len(a.ops) - 1; i >= 0 && len(out) < limit; i-- {
		op := a.ops[i]
		out = append(out, &op)
	}
	return out, nil
}

func (a *ArenaDatabase) MaxOperationID() (int64, error) {
	a.opsMu.Lock()
	defer a.opsMu.Unlock()
	return int64(len(a.ops)), nil
}

// CheckMigrations always succeeds: the arena has no persisted schema.
func (a *ArenaDatabase) CheckMigrations() error { return nil }

func (a *ArenaDatabase) Close() error { return nil }

var _ sb.Database = (*ArenaDatabase)(nil)

// arenaTx implements sb.Tx over one arenaState.
type arenaTx struct {
	st       *arenaState
	readOnly bool
}

func (t *arenaTx) writable() error {
	if t.readOnly {
		return errReadOnly
	}
	return nil
}

func (t *arenaTx) SequenceLength(c sb.Collection) (uint64, error) {
	return uint64(len(t.st.records[c])), nil
}

func (t *arenaTx) GetRecord(ref sb.RecordRef) (*sb.Record, error) {
	slots := t.st.records[ref.Collection]
	if ref.ID >= uint64(len(slots)) {
		return nil, nil
	}
	return slots[ref.ID].Clone(), nil
}

func (t *arenaTx) InsertRecord(r *sb.Record) error {
	if err := t.writable(); err != nil {
		return err
	}
	slots := t.st.records[r.Collection]
	if r.ID != uint64(len(slots)) {
		return fmt.Errorf("inserting record %d into %s: next id is %d", r.ID, r.Collection, len(slots))
	}
	t.st.records[r.Collection] = appendCOW(slots, r.Clone())
	return nil
}

func (t *arenaTx) UpdateRecord(r *sb.Record) error {
	if err := t.writable(); err != nil {
		return err
	}
	slots := t.st.records[r.Collection]
	if r.ID >= uint64(len(slots)) {
		return fmt.Errorf("updating record %s: no such slot", r.Ref())
	}
	slots = slices.Clone(slots)
	slots[r.ID] = r.Clone()
	t.st.records[r.Collection] = slots
	return nil
}

func (t *arenaTx) ListRecords(c sb.Collection) ([]*sb.Record, error) {
	slots := t.st.records[c]
	out := make([]*sb.Record, len(slots))
	for i, r := range slots {
		out[i] = r.Clone()
	}
	return out, nil
}

func (t *arenaTx) BoxCount(owner sb.Principal) (uint64, error) {
	return uint64(len(t.st.boxes[owner])), nil
}

func (t *arenaTx) GetBox(ref sb.BoxRef) (*sb.Box, error) {
	boxes := t.st.boxes[ref.Owner]
	if ref.ID >= uint64(len(boxes)) {
		return nil, nil
	}
	return boxes[ref.ID].Clone(), nil
}

func (t *arenaTx) InsertBox(b *sb.Box) error {
	if err := t.writable(); err != nil {
		return err
	}
	boxes := t.st.boxes[b.Ref.Owner]
	if b.Ref.ID != uint64(len(boxes)) {
		return fmt.Errorf("inserting %s: next id is %d", b.Ref, len(boxes))
	}
	t.st.boxes[b.Ref.Owner] = appendCOW(boxes, b.Clone())
	return nil
}

func (t *arenaTx) UpdateBox(b *sb.Box) error {
	if err := t.writable(); err != nil {
		return err
	}
	boxes := t.st.boxes[b.Ref.Owner]
	if b.Ref.ID >= uint64(len(boxes)) {
		return fmt.Errorf("updating %s: no such box", b.Ref)
	}
	boxes = slices.Clone(boxes)
	boxes[b.Ref.ID] = b.Clone()
	t.st.boxes[b.Ref.Owner] = boxes
	return nil
}

func (t *arenaTx) ListBoxes(owner sb.Principal) ([]*sb.Box, error) {
	boxes := t.st.boxes[owner]
	out := make([]*sb.Box, len(boxes))
	for i, b := range boxes {
		out[i] = b.Clone()
	}
	return out, nil
}

func (t *arenaTx) GetOwnerStats(owner sb.Principal) (*sb.OwnerStats, error) {
	if st, ok := t.st.stats[owner]; ok {
		return st.Clone(), nil
	}
	return &sb.OwnerStats{Owner: owner}, nil
}

func (t *arenaTx) PutOwnerStats(s *sb.OwnerStats) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.stats[s.Owner] = s.Clone()
	return nil
}

func (t *arenaTx) AppendIndex(owner sb.Principal, kind sb.IndexKind, key string, id uint64) error {
	if err := t.writable(); err != nil {
		return err
	}
	k := indexKey{owner: owner, kind: kind, key: key}
	ids := t.st.index[k]
	if slices.Contains(ids, id) {
		return nil
	}
	t.st.index[k] = appendCOW(ids, id)
	return nil
}

func (t *arenaTx) LookupIndex(owner sb.Principal, kind sb.IndexKind, key string) ([]uint64, error) {
	return slices.Clone(t.st.index[indexKey{owner: owner, kind: kind, key: key}]), nil
}

func (t *arenaTx) InsertGrant(g *sb.Grant) (bool, error) {
	if err := t.writable(); err != nil {
		return false, err
	}
	k := grantKey{ref: g.Record, grantee: g.Grantee}
	if _, ok := t.st.grants[k]; ok {
		return false, nil
	}
	c := *g
	t.st.grants[k] = &c
	t.st.grantsTo[g.Grantee] = appendCOW(t.st.grantsTo[g.Grantee], k)
	t.st.grantsOn[g.Record] = appendCOW(t.st.grantsOn[g.Record], g.Grantee)
	return true, nil
}

func (t *arenaTx) GetGrant(ref sb.RecordRef, grantee sb.Principal) (*sb.Grant, error) {
	g, ok := t.st.grants[grantKey{ref: ref, grantee: grantee}]
	if !ok {
		return nil, nil
	}
	c := *g
	return &c, nil
}

func (t *arenaTx) ListGrantsTo(grantee sb.Principal) ([]*sb.Grant, error) {
	keys := t.st.grantsTo[grantee]
	out := make([]*sb.Grant, len(keys))
	for i, k := range keys {
		c := *t.st.grants[k]
		out[i] = &c
	}
	return out, nil
}

func (t *arenaTx) ListGrantsOn(ref sb.RecordRef) ([]*sb.Grant, error) {
	grantees := t.st.grantsOn[ref]
	out := make([]*sb.Grant, len(grantees))
	for i, p := range grantees {
		c := *t.st.grants[grantKey{ref: ref, grantee: p}]
		out[i] = &c
	}
	return out, nil
}

func (t *arenaTx) AppendSubmission(submitter sb.Principal, ref sb.RecordRef) error {
	if err := t.writable(); err != nil {
		return err
	}
	t.st.submissions[submitter] = appendCOW(t.st.submissions[submitter], ref)
	return nil
}

func (t *arenaTx) ListSubmissions(submitter sb.Principal) ([]sb.RecordRef, error) {
	return slices.Clone(t.st.submissions[submitter]), nil
}

var _ sb.Tx = (*arenaTx)(nil)

// Snapshot documents. They exist only to give BackupTo a stable,
// human-readable layout.

type arenaSnapshot struct {
	TakenAt    time.Time          `yaml:"taken_at"`
	Records    []snapshotRecord   `yaml:"records"`
	Boxes      []*sb.Box          `yaml:"boxes"`
	Stats      []*sb.OwnerStats   `yaml:"stats"`
	Grants     []*sb.Grant        `yaml:"grants"`
	Operations []sb.Operation     `yaml:"operations"`
	Index      []snapshotIndexRow `yaml:"index"`
}

type snapshotRecord struct {
	Ref    string           `yaml:"ref"`
	Owner  sb.Principal     `yaml:"owner"`
	Status sb.Status        `yaml:"status"`
	Fields sb.PublicFields  `yaml:"fields"`
	Chunks []sb.ChunkHandle `yaml:"chunks,omitempty"`
}

type snapshotIndexRow struct {
	Owner sb.Principal `yaml:"owner"`
	Kind  sb.IndexKind `yaml:"kind"`
	Key   string       `yaml:"key"`
	IDs   []uint64     `yaml:"ids"`
}

// BackupTo writes the committed state to destPath as YAML.
func (a *ArenaDatabase) BackupTo(destPath string) error {
	st := a.state.Load()
	snap := arenaSnapshot{TakenAt: time.Now().UTC()}

	for _, slots := range st.records {
		for _, r := range slots {
			snap.Records = append(snap.Records, snapshotRecord{
				Ref:    r.Ref().String(),
				Owner:  r.Owner,
				Status: r.Status,
				Fields: r.Fields,
				Chunks: r.Ciphertext.Chunks(),
			})
		}
	}
	slices.SortFunc(snap.Records, func(x, y snapshotRecord) int { return cmp.Compare(x.Ref, y.Ref) })

	for _, boxes := range st.boxes {
		snap.Boxes = append(snap.Boxes, boxes...)
	}
	for _, s := range st.stats {
		snap.Stats = append(snap.Stats, s)
	}
	for _, g := range st.grants {
		snap.Grants = append(snap.Grants, g)
	}
	for k, ids := range st.index {
		snap.Index = append(snap.Index, snapshotIndexRow{Owner: k.owner, Kind: k.kind, Key: k.key, IDs: ids})
	}

	a.opsMu.Lock()
	snap.Operations = slices.Clone(a.ops)
	a.opsMu.Unlock()

	f, err := os.Create(destPath)
	if err != nil {
		return fmt.Errorf("creating snapshot file: %w", err)
	}
	defer f.Close()

	enc := yaml.NewEncoder(f)
	if err := enc.Encode(&snap); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("encoding snapshot: %w", err)
	}
	return nil
}
