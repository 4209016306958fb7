package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"sync"
	"time"

	"sealbox/internal/database/migrations"
	"sealbox/internal/sb"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// SQLiteDatabase implements sb.Database on SQLite. Writers are serialized
// in-process; readers see the last committed transaction.
type SQLiteDatabase struct {
	db      *sql.DB
	path    string
	writeMu sync.Mutex
}

// NewSQLiteDatabase opens the database at path. path can be a file path or
// ":memory:". The schema is not touched; call Migrate or CheckMigrations.
func NewSQLiteDatabase(path string) (*SQLiteDatabase, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteDatabase{db: db, path: path}, nil
}

// OpenConnection opens and configures a SQLite connection pool.
// Foreign keys are enforced on every connection. File databases use WAL so
// that readers do not block the writer; an in-memory database is pinned to
// one connection because each connection would otherwise get its own.
func OpenConnection(path string) (*sql.DB, error) {
	dsn := path + "?_foreign_keys=on"
	if path != ":memory:" {
		dsn += "&_journal_mode=WAL&_busy_timeout=5000"
	}

	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if path == ":memory:" {
		db.SetMaxOpenConns(1)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}
	return db, nil
}

// Update runs fn in a write transaction, committing only if fn returns nil.
func (s *SQLiteDatabase) Update(fn func(tx sb.Tx) error) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	return s.run(fn, false)
}

// View runs fn in a transaction that is always rolled back.
func (s *SQLiteDatabase) View(fn func(tx sb.Tx) error) error {
	return s.run(fn, true)
}

func (s *SQLiteDatabase) run(fn func(tx sb.Tx) error, readOnly bool) error {
	ctx := context.Background()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	if err := fn(&sqliteTx{ctx: ctx, tx: tx, readOnly: readOnly}); err != nil {
		return err
	}
	if readOnly {
		return nil
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	return nil
}

// Operation journal

func (s *SQLiteDatabase) CreateOperation(operation, parameters string) (*sb.Operation, error) {
	started := time.Now().UTC()
	res, err := s.db.Exec(
		`INSERT INTO operations (operation, parameters, started_at) VALUES (?, ?, ?)`,
		operation, parameters, toNanos(started))
	if err != nil {
		return nil, fmt.Errorf("creating operation: %w", err)
	}
	id, err := res.LastInsertId()
	if err != nil {
		return nil, fmt.Errorf("reading operation id: %w", err)
	}
	return &sb.Operation{ID: id, Operation: operation, Parameters: parameters, StartedAt: started}, nil
}

func (s *SQLiteDatabase) FinishOperation(id int64, status string) error {
	_, err := s.db.Exec(`UPDATE operations SET finished_at = ?, status = ? WHERE id = ?`,
		toNanos(time.Now().UTC()), status, id)
	if err != nil {
		return fmt.Errorf("finishing operation: %w", err)
	}
	return nil
}

func (s *SQLiteDatabase) ListOperations(limit int) ([]*sb.Operation, error) {
	rows, err := s.db.Query(`SELECT id, operation, parameters, status, started_at, finished_at
		FROM operations ORDER BY id DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("listing operations: %w", err)
	}
	defer rows.Close()

	var ops []*sb.Operation
	for rows.Next() {
		var op sb.Operation
		var started, finished int64
		if err := rows.Scan(&op.ID, &op.Operation, &op.Parameters, &op.Status, &started, &finished); err != nil {
			return nil, fmt.Errorf("scanning operation: %w", err)
		}
		op.StartedAt, op.FinishedAt = fromNanos(started), fromNanos(finished)
		ops = append(ops, &op)
	}
	return ops, rows.Err()
}

func (s *SQLiteDatabase) MaxOperationID() (int64, error) {
	var id int64
	if err := s.db.QueryRow(`SELECT COALESCE(MAX(id), 0) FROM operations`).Scan(&id); err != nil {
		return 0, fmt.Errorf("getting max operation id: %w", err)
	}
	return id, nil
}

// Path returns the database file path (or ":memory:").
func (s *SQLiteDatabase) Path() string {
	return s.path
}

// Migrate brings the schema to the latest embedded version.
func (s *SQLiteDatabase) Migrate() error {
	return migrations.MigrateUp(s.db)
}

// CheckMigrations verifies the database schema is up-to-date.
func (s *SQLiteDatabase) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(s.db)
}

// Schema returns the current CREATE statements.
func (s *SQLiteDatabase) Schema() (string, error) {
	return migrations.DumpSchema(s.db)
}

// BackupTo creates a complete copy of the database at destPath using VACUUM INTO.
func (s *SQLiteDatabase) BackupTo(destPath string) error {
	if _, err := s.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up database: %w", err)
	}
	return nil
}

// Close closes the database connection.
func (s *SQLiteDatabase) Close() error {
	if s.db != nil {
		return s.db.Close()
	}
	return nil
}

var _ sb.Database = (*SQLiteDatabase)(nil)

var errReadOnly = errors.New("write in read-only transaction")

// sqliteTx maps the sb.Tx primitives onto SQL statements.
type sqliteTx struct {
	ctx      context.Context
	tx       *sql.Tx
	readOnly bool
}

func (t *sqliteTx) exec(query string, args ...any) (sql.Result, error) {
	if t.readOnly {
		return nil, errReadOnly
	}
	return t.tx.ExecContext(t.ctx, query, args...)
}

// toNanos stores the zero time as 0.
func toNanos(ts time.Time) int64 {
	if ts.IsZero() {
		return 0
	}
	return ts.UnixNano()
}

func fromNanos(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

// collectionArgs returns the three key columns of a collection.
func collectionArgs(c sb.Collection) []any {
	return []any{string(c.Kind), string(c.Owner), int64(c.Box)}
}

func refArgs(ref sb.RecordRef) []any {
	return append(collectionArgs(ref.Collection), int64(ref.ID))
}

// Records

const recordColumns = `kind, collection_owner, box_id, id, owner, submitter,
	title, category, color, rating, sentiment, status, priority, archived, favorite,
	created_at, updated_at, completed_at`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*sb.Record, error) {
	var (
		r                           sb.Record
		kind, collOwner             string
		boxID, id                   int64
		owner, submitter            string
		sentiment, status, priority string
		rating                      int64
		archived, favorite          bool
		created, updated, completed int64
	)
	err := row.Scan(&kind, &collOwner, &boxID, &id, &owner, &submitter,
		&r.Fields.Title, &r.Fields.Category, &r.Fields.Color, &rating, &sentiment, &status, &priority,
		&archived, &favorite, &created, &updated, &completed)
	if err != nil {
		return nil, err
	}
	r.Collection = sb.Collection{Kind: sb.RecordKind(kind), Owner: sb.Principal(collOwner), Box: uint64(boxID)}
	r.ID = uint64(id)
	r.Owner = sb.Principal(owner)
	r.Submitter = sb.Principal(submitter)
	r.Fields.Rating = uint8(rating)
	r.Fields.Sentiment = sb.Sentiment(sentiment)
	r.Status = sb.Status(status)
	r.Priority = sb.Priority(priority)
	r.Archived, r.Favorite = archived, favorite
	r.CreatedAt, r.UpdatedAt, r.CompletedAt = fromNanos(created), fromNanos(updated), fromNanos(completed)
	return &r, nil
}

func (t *sqliteTx) SequenceLength(c sb.Collection) (uint64, error) {
	var n int64
	err := t.tx.QueryRowContext(t.ctx,
		`SELECT COALESCE(MAX(id) + 1, 0) FROM records WHERE kind = ? AND collection_owner = ? AND box_id = ?`,
		collectionArgs(c)...).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("reading sequence length: %w", err)
	}
	return uint64(n), nil
}

func (t *sqliteTx) GetRecord(ref sb.RecordRef) (*sb.Record, error) {
	row := t.tx.QueryRowContext(t.ctx,
		`SELECT `+recordColumns+` FROM records WHERE kind = ? AND collection_owner = ? AND box_id = ? AND id = ?`,
		refArgs(ref)...)
	r, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting record: %w", err)
	}

	chunks, err := t.chunks(ref.Collection, &ref.ID)
	if err != nil {
		return nil, err
	}
	tags, err := t.tags(ref.Collection, &ref.ID)
	if err != nil {
		return nil, err
	}
	r.Ciphertext = sb.RestoreCiphertext(chunks[ref.ID])
	r.Fields.Tags = tags[ref.ID]
	return r, nil
}

// chunks loads chunk handles for one record (id != nil) or a whole collection.
func (t *sqliteTx) chunks(c sb.Collection, id *uint64) (map[uint64][]sb.ChunkHandle, error) {
	rows, err := t.childRows("record_chunks", "handle", c, id)
	if err != nil {
		return nil, fmt.Errorf("loading chunks: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]sb.ChunkHandle)
	for rows.Next() {
		var rid int64
		var h string
		if err := rows.Scan(&rid, &h); err != nil {
			return nil, fmt.Errorf("scanning chunk: %w", err)
		}
		out[uint64(rid)] = append(out[uint64(rid)], sb.ChunkHandle(h))
	}
	return out, rows.Err()
}

func (t *sqliteTx) tags(c sb.Collection, id *uint64) (map[uint64][]string, error) {
	rows, err := t.childRows("record_tags", "tag", c, id)
	if err != nil {
		return nil, fmt.Errorf("loading tags: %w", err)
	}
	defer rows.Close()

	out := make(map[uint64][]string)
	for rows.Next() {
		var rid int64
		var tag string
		if err := rows.Scan(&rid, &tag); err != nil {
			return nil, fmt.Errorf("scanning tag: %w", err)
		}
		out[uint64(rid)] = append(out[uint64(rid)], tag)
	}
	return out, rows.Err()
}

func (t *sqliteTx) childRows(table, column string, c sb.Collection, id *uint64) (*sql.Rows, error) {
	query := `SELECT record_id, ` + column + ` FROM ` + table +
		` WHERE kind = ? AND collection_owner = ? AND box_id = ?`
	args := collectionArgs(c)
	if id != nil {
		query += ` AND record_id = ?`
		args = append(args, int64(*id))
	}
	query += ` ORDER BY record_id, position`
	return t.tx.QueryContext(t.ctx, query, args...)
}

func (t *sqliteTx) InsertRecord(r *sb.Record) error {
	next, err := t.SequenceLength(r.Collection)
	if err != nil {
		return err
	}
	if r.ID != next {
		return fmt.Errorf("inserting record %d into %s: next id is %d", r.ID, r.Collection, next)
	}

	args := append(refArgs(r.Ref()), string(r.Owner), string(r.Submitter),
		r.Fields.Title, r.Fields.Category, r.Fields.Color, int64(r.Fields.Rating), string(r.Fields.Sentiment),
		string(r.Status), string(r.Priority), boolInt(r.Archived), boolInt(r.Favorite),
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt), toNanos(r.CompletedAt))
	if _, err := t.exec(`INSERT INTO records (`+recordColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...); err != nil {
		return fmt.Errorf("inserting record: %w", err)
	}
	return t.writeChildren(r)
}

func (t *sqliteTx) UpdateRecord(r *sb.Record) error {
	args := []any{string(r.Owner), string(r.Submitter),
		r.Fields.Title, r.Fields.Category, r.Fields.Color, int64(r.Fields.Rating), string(r.Fields.Sentiment),
		string(r.Status), string(r.Priority), boolInt(r.Archived), boolInt(r.Favorite),
		toNanos(r.CreatedAt), toNanos(r.UpdatedAt), toNanos(r.CompletedAt)}
	args = append(args, refArgs(r.Ref())...)

	res, err := t.exec(`UPDATE records SET owner = ?, submitter = ?,
		title = ?, category = ?, color = ?, rating = ?, sentiment = ?,
		status = ?, priority = ?, archived = ?, favorite = ?,
		created_at = ?, updated_at = ?, completed_at = ?
		WHERE kind = ? AND collection_owner = ? AND box_id = ? AND id = ?`, args...)
	if err != nil {
		return fmt.Errorf("updating record: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("updating record %s: no such slot", r.Ref())
	}

	for _, table := range []string{"record_chunks", "record_tags"} {
		if _, err := t.exec(`DELETE FROM `+table+
			` WHERE kind = ? AND collection_owner = ? AND box_id = ? AND record_id = ?`, refArgs(r.Ref())...); err != nil {
			return fmt.Errorf("clearing %s: %w", table, err)
		}
	}
	return t.writeChildren(r)
}

func (t *sqliteTx) writeChildren(r *sb.Record) error {
	key := refArgs(r.Ref())
	for i, h := range r.Ciphertext.Chunks() {
		if _, err := t.exec(`INSERT INTO record_chunks (kind, collection_owner, box_id, record_id, position, handle)
			VALUES (?, ?, ?, ?, ?, ?)`, append(key, i, string(h))...); err != nil {
			return fmt.Errorf("inserting chunk %d: %w", i, err)
		}
	}
	for i, tag := range r.Fields.Tags {
		if _, err := t.exec(`INSERT INTO record_tags (kind, collection_owner, box_id, record_id, position, tag)
			VALUES (?, ?, ?, ?, ?, ?)`, append(key, i, tag)...); err != nil {
			return fmt.Errorf("inserting tag %d: %w", i, err)
		}
	}
	return nil
}

func (t *sqliteTx) ListRecords(c sb.Collection) ([]*sb.Record, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+recordColumns+` FROM records WHERE kind = ? AND collection_owner = ? AND box_id = ? ORDER BY id`,
		collectionArgs(c)...)
	if err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}
	var out []*sb.Record
	for rows.Next() {
		r, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scanning record: %w", err)
		}
		out = append(out, r)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("listing records: %w", err)
	}

	chunks, err := t.chunks(c, nil)
	if err != nil {
		return nil, err
	}
	tags, err := t.tags(c, nil)
	if err != nil {
		return nil, err
	}
	for _, r := range out {
		r.Ciphertext = sb.RestoreCiphertext(chunks[r.ID])
		r.Fields.Tags = tags[r.ID]
	}
	return out, nil
}

// Boxes

const boxColumns = `owner, id, current_owner, name, description, allow_ratings, active, submissions, created_at, updated_at`

func scanBox(row scanner) (*sb.Box, error) {
	var (
		b                    sb.Box
		owner, current       string
		id                   int64
		created, updated     int64
		allowRatings, active bool
	)
	if err := row.Scan(&owner, &id, &current, &b.Name, &b.Description, &allowRatings, &active,
		&b.Submissions, &created, &updated); err != nil {
		return nil, err
	}
	b.Ref = sb.BoxRef{Owner: sb.Principal(owner), ID: uint64(id)}
	b.Owner = sb.Principal(current)
	b.AllowRatings, b.Active = allowRatings, active
	b.CreatedAt, b.UpdatedAt = fromNanos(created), fromNanos(updated)
	return &b, nil
}

func (t *sqliteTx) BoxCount(owner sb.Principal) (uint64, error) {
	var n int64
	if err := t.tx.QueryRowContext(t.ctx,
		`SELECT COALESCE(MAX(id) + 1, 0) FROM boxes WHERE owner = ?`, string(owner)).Scan(&n); err != nil {
		return 0, fmt.Errorf("counting boxes: %w", err)
	}
	return uint64(n), nil
}

func (t *sqliteTx) GetBox(ref sb.BoxRef) (*sb.Box, error) {
	b, err := scanBox(t.tx.QueryRowContext(t.ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE owner = ? AND id = ?`, string(ref.Owner), int64(ref.ID)))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting box: %w", err)
	}
	return b, nil
}

func (t *sqliteTx) InsertBox(b *sb.Box) error {
	_, err := t.exec(`INSERT INTO boxes (`+boxColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		string(b.Ref.Owner), int64(b.Ref.ID), string(b.Owner), b.Name, b.Description,
		boolInt(b.AllowRatings), boolInt(b.Active), b.Submissions, toNanos(b.CreatedAt), toNanos(b.UpdatedAt))
	if err != nil {
		return fmt.Errorf("inserting box: %w", err)
	}
	return nil
}

func (t *sqliteTx) UpdateBox(b *sb.Box) error {
	res, err := t.exec(`UPDATE boxes SET current_owner = ?, name = ?, description = ?, allow_ratings = ?,
		active = ?, submissions = ?, created_at = ?, updated_at = ? WHERE owner = ? AND id = ?`,
		string(b.Owner), b.Name, b.Description, boolInt(b.AllowRatings), boolInt(b.Active), b.Submissions,
		toNanos(b.CreatedAt), toNanos(b.UpdatedAt), string(b.Ref.Owner), int64(b.Ref.ID))
	if err != nil {
		return fmt.Errorf("updating box: %w", err)
	}
	if n, _ := res.RowsAffected(); n != 1 {
		return fmt.Errorf("updating %s: no such box", b.Ref)
	}
	return nil
}

func (t *sqliteTx) ListBoxes(owner sb.Principal) ([]*sb.Box, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT `+boxColumns+` FROM boxes WHERE owner = ? ORDER BY id`, string(owner))
	if err != nil {
		return nil, fmt.Errorf("listing boxes: %w", err)
	}
	defer rows.Close()

	var out []*sb.Box
	for rows.Next() {
		b, err := scanBox(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning box: %w", err)
		}
		out = append(out, b)
	}
	return out, rows.Err()
}

// Stats

func (t *sqliteTx) GetOwnerStats(owner sb.Principal) (*sb.OwnerStats, error) {
	st := sb.OwnerStats{Owner: owner}
	var updated int64
	err := t.tx.QueryRowContext(t.ctx, `SELECT total_tasks, todo, in_progress, completed, archived, favorite,
		total_storage, boxes, submissions, updated_at FROM owner_stats WHERE owner = ?`, string(owner)).
		Scan(&st.TotalTasks, &st.Todo, &st.InProgress, &st.Completed, &st.Archived, &st.Favorite,
			&st.TotalStorage, &st.Boxes, &st.Submissions, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return &st, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting owner stats: %w", err)
	}
	st.UpdatedAt = fromNanos(updated)
	return &st, nil
}

func (t *sqliteTx) PutOwnerStats(s *sb.OwnerStats) error {
	_, err := t.exec(`INSERT INTO owner_stats (owner, total_tasks, todo, in_progress, completed, archived,
			favorite, total_storage, boxes, submissions, updated_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (owner) DO UPDATE SET
			total_tasks = excluded.total_tasks, todo = excluded.todo, in_progress = excluded.in_progress,
			completed = excluded.completed, archived = excluded.archived, favorite = excluded.favorite,
			total_storage = excluded.total_storage, boxes = excluded.boxes,
			submissions = excluded.submissions, updated_at = excluded.updated_at`,
		string(s.Owner), s.TotalTasks, s.Todo, s.InProgress, s.Completed, s.Archived,
		s.Favorite, s.TotalStorage, s.Boxes, s.Submissions, toNanos(s.UpdatedAt))
	if err != nil {
		return fmt.Errorf("saving owner stats: %w", err)
	}
	return nil
}

// Secondary index

func (t *sqliteTx) AppendIndex(owner sb.Principal, kind sb.IndexKind, key string, id uint64) error {
	_, err := t.exec(`INSERT OR IGNORE INTO index_entries (owner, kind, key, record_id) VALUES (?, ?, ?, ?)`,
		string(owner), string(kind), key, int64(id))
	if err != nil {
		return fmt.Errorf("appending index entry: %w", err)
	}
	return nil
}

func (t *sqliteTx) LookupIndex(owner sb.Principal, kind sb.IndexKind, key string) ([]uint64, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT record_id FROM index_entries WHERE owner = ? AND kind = ? AND key = ? ORDER BY seq`,
		string(owner), string(kind), key)
	if err != nil {
		return nil, fmt.Errorf("looking up index: %w", err)
	}
	defer rows.Close()

	var ids []uint64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scanning index entry: %w", err)
		}
		ids = append(ids, uint64(id))
	}
	return ids, rows.Err()
}

// Grants

const grantColumns = `id, kind, collection_owner, box_id, record_id, grantor, grantee, created_at`

func scanGrant(row scanner) (*sb.Grant, error) {
	var (
		g                        sb.Grant
		kind, collOwner          string
		boxID, recordID, created int64
		grantor, grantee         string
	)
	if err := row.Scan(&g.ID, &kind, &collOwner, &boxID, &recordID, &grantor, &grantee, &created); err != nil {
		return nil, err
	}
	g.Record = sb.RecordRef{
		Collection: sb.Collection{Kind: sb.RecordKind(kind), Owner: sb.Principal(collOwner), Box: uint64(boxID)},
		ID:         uint64(recordID),
	}
	g.Grantor, g.Grantee = sb.Principal(grantor), sb.Principal(grantee)
	g.CreatedAt = fromNanos(created)
	return &g, nil
}

func (t *sqliteTx) InsertGrant(g *sb.Grant) (bool, error) {
	args := append([]any{g.ID}, refArgs(g.Record)...)
	args = append(args, string(g.Grantor), string(g.Grantee), toNanos(g.CreatedAt))
	res, err := t.exec(`INSERT OR IGNORE INTO grants (`+grantColumns+`) VALUES (?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return false, fmt.Errorf("inserting grant: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("inserting grant: %w", err)
	}
	return n == 1, nil
}

func (t *sqliteTx) GetGrant(ref sb.RecordRef, grantee sb.Principal) (*sb.Grant, error) {
	g, err := scanGrant(t.tx.QueryRowContext(t.ctx, `SELECT `+grantColumns+` FROM grants
		WHERE kind = ? AND collection_owner = ? AND box_id = ? AND record_id = ? AND grantee = ?`,
		append(refArgs(ref), string(grantee))...))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("getting grant: %w", err)
	}
	return g, nil
}

func (t *sqliteTx) ListGrantsTo(grantee sb.Principal) ([]*sb.Grant, error) {
	return t.listGrants(`grantee = ?`, string(grantee))
}

func (t *sqliteTx) ListGrantsOn(ref sb.RecordRef) ([]*sb.Grant, error) {
	return t.listGrants(`kind = ? AND collection_owner = ? AND box_id = ? AND record_id = ?`, refArgs(ref)...)
}

func (t *sqliteTx) listGrants(where string, args ...any) ([]*sb.Grant, error) {
	rows, err := t.tx.QueryContext(t.ctx, `SELECT `+grantColumns+` FROM grants WHERE `+where+` ORDER BY seq`, args...)
	if err != nil {
		return nil, fmt.Errorf("listing grants: %w", err)
	}
	defer rows.Close()

	var out []*sb.Grant
	for rows.Next() {
		g, err := scanGrant(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning grant: %w", err)
		}
		out = append(out, g)
	}
	return out, rows.Err()
}

// Submissions

func (t *sqliteTx) AppendSubmission(submitter sb.Principal, ref sb.RecordRef) error {
	if ref.Collection.Kind != sb.KindFeedback {
		return fmt.Errorf("recording submission: %s is not feedback", ref)
	}
	_, err := t.exec(`INSERT INTO submissions (submitter, box_owner, box_id, record_id) VALUES (?, ?, ?, ?)`,
		string(submitter), string(ref.Collection.Owner), int64(ref.Collection.Box), int64(ref.ID))
	if err != nil {
		return fmt.Errorf("recording submission: %w", err)
	}
	return nil
}

func (t *sqliteTx) ListSubmissions(submitter sb.Principal) ([]sb.RecordRef, error) {
	rows, err := t.tx.QueryContext(t.ctx,
		`SELECT box_owner, box_id, record_id FROM submissions WHERE submitter = ? ORDER BY seq`, string(submitter))
	if err != nil {
		return nil, fmt.Errorf("listing submissions: %w", err)
	}
	defer rows.Close()

	var out []sb.RecordRef
	for rows.Next() {
		var owner string
		var boxID, id int64
		if err := rows.Scan(&owner, &boxID, &id); err != nil {
			return nil, fmt.Errorf("scanning submission: %w", err)
		}
		out = append(out, sb.FeedbackRef(sb.BoxRef{Owner: sb.Principal(owner), ID: uint64(boxID)}, uint64(id)))
	}
	return out, rows.Err()
}

var _ sb.Tx = (*sqliteTx)(nil)
