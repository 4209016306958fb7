package sb

// Database is the persistence port. Backends provide storage primitives
// only; every invariant of the record store is enforced in this package.
type Database interface {
	// Update runs fn as one atomic unit. If fn returns nil every write is
	// committed together; otherwise none of them is ever observed.
	// Updates are serialized: at most one runs at a time.
	Update(fn func(tx Tx) error) error

	// View runs fn against the most recently committed state. Writes made
	// through tx inside a View are an error.
	View(fn func(tx Tx) error) error

	// Operation journal

	// CreateOperation records the start of a mutating command.
	CreateOperation(operation, parameters string) (*Operation, error)

	// FinishOperation stamps the finish time and final status.
	FinishOperation(id int64, status string) error

	// ListOperations returns the most recent operations, newest first.
	ListOperations(limit int) ([]*Operation, error)

	// MaxOperationID returns the highest operation ID, or 0.
	MaxOperationID() (int64, error)

	// CheckMigrations verifies the schema is up to date.
	CheckMigrations() error

	// BackupTo writes a complete snapshot of the store to destPath.
	BackupTo(destPath string) error

	// Close releases the backend.
	Close() error
}

// Tx exposes the storage primitives of one transaction.
// Lookups of absent rows return nil (or zero) and no error.
// Returned values are copies; mutating them has no effect until written back.
type Tx interface {
	// Records

	// SequenceLength returns how many slots c has ever allocated.
	// It never shrinks: deleted records keep their slots.
	SequenceLength(c Collection) (uint64, error)

	// GetRecord returns the record at ref, or nil if the slot was never allocated.
	GetRecord(ref RecordRef) (*Record, error)

	// InsertRecord appends r. r.ID must equal SequenceLength(r.Collection).
	InsertRecord(r *Record) error

	// UpdateRecord overwrites the slot at r.Ref(), chunks included.
	UpdateRecord(r *Record) error

	// ListRecords returns every slot of c in id order, deleted ones included.
	ListRecords(c Collection) ([]*Record, error)

	// Boxes

	// BoxCount returns how many box slots owner has ever allocated.
	BoxCount(owner Principal) (uint64, error)
	GetBox(ref BoxRef) (*Box, error)
	InsertBox(b *Box) error
	UpdateBox(b *Box) error
	ListBoxes(owner Principal) ([]*Box, error)

	// Stats

	// GetOwnerStats returns owner's counters, all zero if none were stored yet.
	GetOwnerStats(owner Principal) (*OwnerStats, error)
	PutOwnerStats(s *OwnerStats) error

	// Secondary index

	// AppendIndex adds id to the (owner, kind, key) bucket unless present.
	AppendIndex(owner Principal, kind IndexKind, key string, id uint64) error

	// LookupIndex returns the bucket in insertion order, stale ids included.
	LookupIndex(owner Principal, kind IndexKind, key string) ([]uint64, error)

	// Grants

	// InsertGrant stores g and reports true, or reports false if a grant for
	// (g.Record, g.Grantee) already exists.
	InsertGrant(g *Grant) (bool, error)
	GetGrant(ref RecordRef, grantee Principal) (*Grant, error)

	// ListGrantsTo returns every grant held by grantee, oldest first.
	ListGrantsTo(grantee Principal) ([]*Grant, error)

	// ListGrantsOn returns every grant on ref, oldest first.
	ListGrantsOn(ref RecordRef) ([]*Grant, error)

	// Submissions by submitter

	AppendSubmission(submitter Principal, ref RecordRef) error
	ListSubmissions(submitter Principal) ([]RecordRef, error)
}
