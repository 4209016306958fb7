package app

import (
	"bytes"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"
	"time"

	"sealbox/internal/config"
	"sealbox/internal/coprocessor"
	"sealbox/internal/database"
	"sealbox/internal/sb"
	"sealbox/internal/vault"
)

// SBApp is the application layer between the CLI and SBService.
// It constructs all dependencies from config, exposes high-level operations
// that accept raw strings, seals plaintext into chunks, and manages the DB
// lifecycle on Close.
type SBApp struct {
	cfg     *config.Config
	db      sb.Database
	vault   sb.Vault
	copro   coprocessor.Confidential
	service *sb.SBService
	op      *Operation
	logFile *os.File
	caller  sb.Principal
}

// NewSBApp creates a fully wired SBApp from the given config.
// operation identifies the CLI command being run (e.g. "CreateTask", "ListBoxes").
// The caller must call Close when done.
func NewSBApp(cfg *config.Config, operation string) (*SBApp, error) {
	if len(cfg.Vaults) == 0 {
		return nil, fmt.Errorf("no vaults configured")
	}
	v, err := vault.NewVaultFromConfig(cfg.Vaults[0])
	if err != nil {
		return nil, fmt.Errorf("creating vault: %w", err)
	}

	db, err := database.NewDatabaseFromConfig(cfg.Database, cfg.StoreID)
	if err != nil {
		return nil, fmt.Errorf("creating database: %w", err)
	}

	if err := db.CheckMigrations(); err != nil {
		db.Close()
		return nil, fmt.Errorf("database schema out of date: %w", err)
	}

	// Refuse to run against a local DB older than the last uploaded snapshot.
	remoteVersion, err := v.GetMetadataVersion(cfg.StoreID, "db")
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking remote metadata version: %w", err)
	}

	localMax, err := db.MaxOperationID()
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("checking local metadata version: %w", err)
	}

	if remoteVersion > localMax {
		db.Close()
		return nil, fmt.Errorf("local database is behind remote (local=%d, remote=%d): restore from vault or re-initialize", localMax, remoteVersion)
	}

	copro, err := coprocessor.NewCoprocessorFromConfig(cfg.Coprocessor, v)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating coprocessor: %w", err)
	}

	opID := time.Now().UTC().Format("20060102T150405Z")
	logger, logFile, err := newLogger(cfg.LogDir, opID)
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("creating logger: %w", err)
	}

	svc := sb.NewSBService(db, copro, &slogAdapter{l: logger}, sb.RealClock{}, sb.UUIDGenerator{}, limitsFromConfig(cfg.Limits))

	return &SBApp{
		cfg:     cfg,
		db:      db,
		vault:   v,
		copro:   copro,
		service: svc,
		op:      NewOperation(operation, ""),
		logFile: logFile,
		caller:  sb.Principal(cfg.Principal),
	}, nil
}

func limitsFromConfig(c config.LimitsConfig) sb.Limits {
	return sb.Limits{
		MaxChunksPerRecord:   c.MaxChunksPerRecord,
		MaxTasksPerOwner:     c.MaxTasksPerOwner,
		MaxBoxesPerOwner:     c.MaxBoxesPerOwner,
		MaxSubmissionsPerBox: c.MaxSubmissionsPerBox,
		MaxTitleLength:       c.MaxTitleLength,
		MaxTags:              c.MaxTags,
	}.WithDefaults()
}

// Caller returns the principal commands run as.
func (a *SBApp) Caller() sb.Principal { return a.caller }

func (a *SBApp) requireCaller() (sb.Principal, error) {
	if a.caller == sb.NoOwner {
		return sb.NoOwner, fmt.Errorf("no principal configured: set principal in config or pass --as")
	}
	return a.caller, nil
}

// persistOperation saves the operation to the database, giving it an auto-increment ID.
// This should only be called for DB-mutating commands.
func (a *SBApp) persistOperation(parameters string) error {
	if a.op.Persisted() {
		return nil
	}
	a.op.Parameters = parameters
	dbOp, err := a.db.CreateOperation(a.op.Operation, a.op.Parameters)
	if err != nil {
		return fmt.Errorf("persisting operation: %w", err)
	}
	a.op.ID = dbOp.ID
	return nil
}

// mutate journals the operation, then runs fn. A failure marks the
// operation as errored so Close records it that way.
func (a *SBApp) mutate(parameters string, fn func(caller sb.Principal) error) error {
	caller, err := a.requireCaller()
	if err != nil {
		return err
	}
	if err := a.persistOperation(parameters); err != nil {
		return err
	}
	if err := fn(caller); err != nil {
		a.op.Fail()
		return err
	}
	return nil
}

// seal splits content into ChunkSize pieces and seals each for submitter.
// Empty content yields no chunks.
func (a *SBApp) seal(content []byte, submitter sb.Principal) ([]sb.SealedChunk, error) {
	size := a.cfg.ChunkSize
	if size <= 0 {
		size = config.DefaultChunkSize
	}
	var out []sb.SealedChunk
	for len(content) > 0 {
		n := min(size, len(content))
		c, err := a.copro.Seal(content[:n], submitter)
		if err != nil {
			return nil, fmt.Errorf("sealing chunk %d: %w", len(out), err)
		}
		out = append(out, c)
		content = content[n:]
	}
	return out, nil
}

// reveal decrypts chunks as p and writes the plaintext to w.
func (a *SBApp) reveal(passphrase string, p sb.Principal, chunks []sb.ChunkHandle, w io.Writer) error {
	rv, err := a.copro.Unlock(passphrase)
	if err != nil {
		return fmt.Errorf("unlocking coprocessor: %w", err)
	}
	for _, c := range chunks {
		if err := rv.Reveal(c, p, w); err != nil {
			return fmt.Errorf("revealing chunk: %w", err)
		}
	}
	return nil
}

// parseRef parses "[owner#]id". Without an owner the default is used.
func parseRef(s string, def sb.Principal) (sb.Principal, uint64, error) {
	owner := def
	idStr := s
	if i := strings.LastIndex(s, "#"); i >= 0 {
		owner, idStr = sb.Principal(s[:i]), s[i+1:]
	}
	id, err := strconv.ParseUint(idStr, 10, 64)
	if err != nil {
		return sb.NoOwner, 0, fmt.Errorf("parsing id %q: %w", s, err)
	}
	return owner, id, nil
}

// TaskRef resolves "[owner#]id" relative to the caller.
func (a *SBApp) TaskRef(s string) (sb.RecordRef, error) {
	owner, id, err := parseRef(s, a.caller)
	if err != nil {
		return sb.RecordRef{}, err
	}
	return sb.TaskRef(owner, id), nil
}

// BoxRef resolves "[owner#]id" relative to the caller.
func (a *SBApp) BoxRef(s string) (sb.BoxRef, error) {
	owner, id, err := parseRef(s, a.caller)
	if err != nil {
		return sb.BoxRef{}, err
	}
	return sb.BoxRef{Owner: owner, ID: id}, nil
}

// SetupCoprocessor generates the coprocessor keys, protected by passphrase.
func (a *SBApp) SetupCoprocessor(passphrase string) error {
	if a.copro.IsConfigured() {
		return fmt.Errorf("coprocessor already configured")
	}
	return a.copro.Setup(passphrase)
}

// NewPrincipal returns a fresh principal. Anonymous principals carry the
// anonymous prefix and are meant for feedback submission.
func (a *SBApp) NewPrincipal(anonymous bool) sb.Principal {
	if anonymous {
		return sb.NewAnonymousPrincipal(sb.UUIDGenerator{})
	}
	return sb.Principal(sb.UUIDGenerator{}.New())
}

// TaskInput carries the CLI view of a task's public fields.
type TaskInput struct {
	Title    string
	Category string
	Tags     []string
	Color    string
	Priority string
}

func (in TaskInput) fields() sb.PublicFields {
	return sb.PublicFields{Title: in.Title, Category: in.Category, Tags: in.Tags, Color: in.Color}
}

// CreateTask seals content and creates a task owned by the caller.
func (a *SBApp) CreateTask(content []byte, in TaskInput) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(in.Title, func(caller sb.Principal) error {
		prio, err := sb.ParsePriority(in.Priority)
		if err != nil {
			return err
		}
		sealed, err := a.seal(content, caller)
		if err != nil {
			return err
		}
		r, err = a.service.CreateTask(caller, sealed, in.fields(), prio)
		return err
	})
	return r, err
}

// UpdateTask replaces a task's content and public fields.
func (a *SBApp) UpdateTask(rawRef string, content []byte, in TaskInput) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(rawRef, func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		sealed, err := a.seal(content, caller)
		if err != nil {
			return err
		}
		r, err = a.service.UpdateTask(caller, ref, sealed, in.fields())
		return err
	})
	return r, err
}

// SetStatus moves a task to the named status.
func (a *SBApp) SetStatus(rawRef, status string) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(rawRef+" "+status, func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		st, err := sb.ParseStatus(status)
		if err != nil {
			return err
		}
		r, err = a.service.SetStatus(caller, ref, st)
		return err
	})
	return r, err
}

// SetPriority changes a task's priority.
func (a *SBApp) SetPriority(rawRef, priority string) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(rawRef+" "+priority, func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		p, err := sb.ParsePriority(priority)
		if err != nil {
			return err
		}
		r, err = a.service.SetPriority(caller, ref, p)
		return err
	})
	return r, err
}

// SetFlag turns the archived or favorite flag of a task on or off.
func (a *SBApp) SetFlag(rawRef string, flag sb.Flag, on bool) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(fmt.Sprintf("%s %s=%t", rawRef, flag, on), func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		r, err = a.service.SetFlag(caller, ref, flag, on)
		return err
	})
	return r, err
}

// DeleteTask deletes one of the caller's tasks.
func (a *SBApp) DeleteTask(rawRef string) error {
	return a.mutate(rawRef, func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		return a.service.DeleteTask(caller, ref)
	})
}

// ShareTask grants grantee standing read access to a task.
func (a *SBApp) ShareTask(rawRef, grantee string) error {
	return a.mutate(rawRef+" "+grantee, func(caller sb.Principal) error {
		ref, err := a.TaskRef(rawRef)
		if err != nil {
			return err
		}
		return a.service.ShareTask(caller, ref, sb.Principal(grantee))
	})
}

// ListTasks returns the caller's live tasks matching filter.
func (a *SBApp) ListTasks(filter sb.TaskFilter) ([]*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.ListTasks(caller, filter)
}

// ListByCategory returns the caller's live tasks in category.
func (a *SBApp) ListByCategory(category string) ([]*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.ListTasksByCategory(caller, category)
}

// ListByTag returns the caller's live tasks carrying tag.
func (a *SBApp) ListByTag(tag string) ([]*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.ListTasksByTag(caller, tag)
}

// GetTask returns a task the caller owns or was granted.
func (a *SBApp) GetTask(rawRef string) (*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	ref, err := a.TaskRef(rawRef)
	if err != nil {
		return nil, err
	}
	return a.service.GetTask(caller, ref)
}

// RevealTask decrypts a task's content into w.
func (a *SBApp) RevealTask(rawRef, passphrase string, w io.Writer) (*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	ref, err := a.TaskRef(rawRef)
	if err != nil {
		return nil, err
	}
	r, chunks, err := a.service.GetTaskContent(caller, ref)
	if err != nil {
		return nil, err
	}
	if err := a.reveal(passphrase, caller, chunks, w); err != nil {
		return nil, err
	}
	return r, nil
}

// Grantees lists who one of the caller's tasks is shared with.
func (a *SBApp) Grantees(rawRef string) ([]sb.Principal, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	ref, err := a.TaskRef(rawRef)
	if err != nil {
		return nil, err
	}
	return a.service.Grantees(caller, ref)
}

// SharedWith lists the live tasks shared with the caller.
func (a *SBApp) SharedWith() ([]sb.RecordRef, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.ListSharedWith(caller)
}

// Stats returns the caller's counters.
func (a *SBApp) Stats() (*sb.OwnerStats, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.GetOwnerStats(caller)
}

// VerifyStats recomputes the caller's counters from live records and
// reports any drift.
func (a *SBApp) VerifyStats() error {
	caller, err := a.requireCaller()
	if err != nil {
		return err
	}
	return a.service.VerifyOwnerStats(caller)
}

// GetHistory returns the most recent journaled operations.
func (a *SBApp) GetHistory(limit int) ([]*sb.Operation, error) {
	return a.service.GetHistory(limit)
}

// CreateBox creates a feedback box owned by the caller.
func (a *SBApp) CreateBox(name, description string, allowRatings bool) (*sb.Box, error) {
	var b *sb.Box
	err := a.mutate(name, func(caller sb.Principal) (err error) {
		b, err = a.service.CreateBox(caller, name, description, allowRatings)
		return err
	})
	return b, err
}

// UpdateBox renames a box. A nil description or allowRatings keeps the
// current value.
func (a *SBApp) UpdateBox(rawRef, name string, description *string, allowRatings *bool) (*sb.Box, error) {
	var b *sb.Box
	err := a.mutate(rawRef+" "+name, func(caller sb.Principal) error {
		ref, err := a.BoxRef(rawRef)
		if err != nil {
			return err
		}
		cur, err := a.service.GetBox(ref)
		if err != nil {
			return err
		}
		desc, ratings := cur.Description, cur.AllowRatings
		if description != nil {
			desc = *description
		}
		if allowRatings != nil {
			ratings = *allowRatings
		}
		b, err = a.service.UpdateBox(caller, ref, name, desc, ratings)
		return err
	})
	return b, err
}

// SetBoxActive opens or closes a box for submissions.
func (a *SBApp) SetBoxActive(rawRef string, active bool) (*sb.Box, error) {
	var b *sb.Box
	err := a.mutate(fmt.Sprintf("%s active=%t", rawRef, active), func(caller sb.Principal) error {
		ref, err := a.BoxRef(rawRef)
		if err != nil {
			return err
		}
		b, err = a.service.SetBoxActive(caller, ref, active)
		return err
	})
	return b, err
}

// DeleteBox deletes a box together with its submissions.
func (a *SBApp) DeleteBox(rawRef string) error {
	return a.mutate(rawRef, func(caller sb.Principal) error {
		ref, err := a.BoxRef(rawRef)
		if err != nil {
			return err
		}
		return a.service.DeleteBox(caller, ref)
	})
}

// ListBoxes returns the caller's live boxes.
func (a *SBApp) ListBoxes() ([]*sb.Box, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.ListBoxes(caller)
}

// GetBox returns a live box. Any principal may look a box up.
func (a *SBApp) GetBox(rawRef string) (*sb.Box, error) {
	ref, err := a.BoxRef(rawRef)
	if err != nil {
		return nil, err
	}
	return a.service.GetBox(ref)
}

// BoxStats computes the aggregate stats of a box.
func (a *SBApp) BoxStats(rawRef string) (*sb.BoxStats, error) {
	ref, err := a.BoxRef(rawRef)
	if err != nil {
		return nil, err
	}
	return a.service.GetBoxStats(ref)
}

// FeedbackInput carries the CLI view of a submission's public fields.
type FeedbackInput struct {
	Rating    uint8
	Sentiment string
}

// SubmitFeedback seals content as the caller and submits it to a box.
// The box is addressed as "owner#id".
func (a *SBApp) SubmitFeedback(rawBox string, content []byte, in FeedbackInput) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(rawBox, func(caller sb.Principal) error {
		ref, err := a.BoxRef(rawBox)
		if err != nil {
			return err
		}
		sentiment, err := sb.ParseSentiment(in.Sentiment)
		if err != nil {
			return err
		}
		sealed, err := a.seal(content, caller)
		if err != nil {
			return err
		}
		r, err = a.service.SubmitFeedback(caller, ref, sealed, sb.PublicFields{Rating: in.Rating, Sentiment: sentiment})
		return err
	})
	return r, err
}

// ListFeedback returns the live submissions in one of the caller's boxes.
func (a *SBApp) ListFeedback(rawBox string) ([]*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	ref, err := a.BoxRef(rawBox)
	if err != nil {
		return nil, err
	}
	return a.service.ListFeedback(caller, ref)
}

func (a *SBApp) feedbackRef(rawBox, rawID string) (sb.RecordRef, error) {
	box, err := a.BoxRef(rawBox)
	if err != nil {
		return sb.RecordRef{}, err
	}
	id, err := strconv.ParseUint(rawID, 10, 64)
	if err != nil {
		return sb.RecordRef{}, fmt.Errorf("parsing id %q: %w", rawID, err)
	}
	return sb.FeedbackRef(box, id), nil
}

// ReadFeedback decrypts a submission into w and marks it read.
func (a *SBApp) ReadFeedback(rawBox, rawID, passphrase string, w io.Writer) (*sb.Record, error) {
	var r *sb.Record
	err := a.mutate(rawBox+" "+rawID, func(caller sb.Principal) error {
		ref, err := a.feedbackRef(rawBox, rawID)
		if err != nil {
			return err
		}
		_, chunks, err := a.service.GetFeedback(caller, ref)
		if err != nil {
			return err
		}
		// Buffer so a failed reveal does not mark the submission read.
		var buf bytes.Buffer
		if err := a.reveal(passphrase, caller, chunks, &buf); err != nil {
			return err
		}
		if r, err = a.service.MarkRead(caller, ref); err != nil {
			return err
		}
		_, err = buf.WriteTo(w)
		return err
	})
	return r, err
}

// DeleteFeedback deletes a submission from one of the caller's boxes.
func (a *SBApp) DeleteFeedback(rawBox, rawID string) error {
	return a.mutate(rawBox+" "+rawID, func(caller sb.Principal) error {
		ref, err := a.feedbackRef(rawBox, rawID)
		if err != nil {
			return err
		}
		return a.service.DeleteFeedback(caller, ref)
	})
}

// MySubmissions lists the live submissions made by the caller.
func (a *SBApp) MySubmissions() ([]*sb.Record, error) {
	caller, err := a.requireCaller()
	if err != nil {
		return nil, err
	}
	return a.service.MySubmissions(caller)
}

// Close finalizes the operation and closes all resources.
// For persisted operations: finishes the operation record, snapshots the DB, and uploads it to the vault.
// For non-persisted operations: just closes the database.
func (a *SBApp) Close() error {
	var firstErr error

	if a.op.Persisted() {
		if err := a.db.FinishOperation(a.op.ID, a.op.Status); err != nil {
			firstErr = fmt.Errorf("finishing operation: %w", err)
		}

		tmpFile, err := os.CreateTemp("", "sealbox-db-backup-*.db")
		if err != nil && firstErr == nil {
			firstErr = fmt.Errorf("creating temp file for db backup: %w", err)
		}

		var tmpPath string
		if tmpFile != nil {
			tmpPath = tmpFile.Name()
			tmpFile.Close()

			if err := a.db.BackupTo(tmpPath); err != nil {
				if firstErr == nil {
					firstErr = fmt.Errorf("backing up database: %w", err)
				}
				os.Remove(tmpPath)
				tmpPath = ""
			}
		}

		if err := a.db.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}

		// Snapshot version is the operation ID.
		if tmpPath != "" {
			if err := a.uploadMetadata(tmpPath, a.op.ID); err != nil && firstErr == nil {
				firstErr = err
			}
			os.Remove(tmpPath)
		}
	} else {
		if err := a.db.Close(); err != nil {
			firstErr = fmt.Errorf("closing database: %w", err)
		}
	}

	if a.logFile != nil {
		a.logFile.Close()
	}

	return firstErr
}

// uploadMetadata opens the temp DB file and uploads it to the vault as metadata.
func (a *SBApp) uploadMetadata(path string, version int64) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("opening db backup for upload: %w", err)
	}
	defer f.Close()

	info, err := f.Stat()
	if err != nil {
		return fmt.Errorf("stat db backup: %w", err)
	}

	if err := a.vault.PutMetadata(a.cfg.StoreID, "db", f, info.Size(), version); err != nil {
		return fmt.Errorf("uploading metadata to vault: %w", err)
	}

	return nil
}
