package sb

import (
	"fmt"
)

// SBService is the orchestration layer the CLI talks to. Every mutating
// method runs as a single Database.Update: the record, its index entries,
// the owner's counters, and the grant edges commit together or not at all.
type SBService struct {
	database Database
	copro    Coprocessor
	logger   Logger
	clock    Clock
	idgen    IDGenerator
	limits   Limits
}

// NewSBService creates a new SBService with the provided dependencies.
// Zero-valued limits fall back to DefaultLimits.
func NewSBService(database Database, copro Coprocessor, logger Logger, clock Clock, idgen IDGenerator, limits Limits) *SBService {
	return &SBService{
		database: database,
		copro:    copro,
		logger:   logger,
		clock:    clock,
		idgen:    idgen,
		limits:   limits.WithDefaults(),
	}
}

// Limits returns the bounds the service enforces.
func (s *SBService) Limits() Limits { return s.limits }

// update runs fn in one transaction. The clock is read once so every
// timestamp written by the operation is identical. Rights on live chunks
// queued by fn reach the Coprocessor only once the transaction commits.
func (s *SBService) update(fn func(rs *recordStore) error) error {
	now := s.clock.Now()
	var rs *recordStore
	err := s.database.Update(func(tx Tx) error {
		rs = newRecordStore(tx, s.limits, s.copro, s.idgen, now)
		return fn(rs)
	})
	if err != nil {
		return err
	}
	return rs.ledger.flush()
}

// ingest hands sealed chunks to the Coprocessor and collects their handles.
// Ingestion happens before the transaction opens; if the transaction then
// fails, the stored chunks are unreferenced and harmless.
func (s *SBService) ingest(sealed []SealedChunk, submitter Principal) ([]ChunkHandle, error) {
	if err := checkChunkCount(len(sealed), s.limits.MaxChunksPerRecord); err != nil {
		return nil, err
	}
	if submitter == NoOwner {
		return nil, fmt.Errorf("%w: no principal", ErrUnauthorized)
	}
	handles := make([]ChunkHandle, len(sealed))
	for i, c := range sealed {
		h, err := s.copro.Ingest(c, submitter)
		if err != nil {
			return nil, fmt.Errorf("ingesting chunk %d: %w", i, err)
		}
		handles[i] = h
	}
	return handles, nil
}

// CreateTask stores a new task owned by owner and returns it.
// An empty priority defaults to PriorityMedium.
func (s *SBService) CreateTask(owner Principal, content []SealedChunk, fields PublicFields, priority Priority) (*Record, error) {
	handles, err := s.ingest(content, owner)
	if err != nil {
		return nil, err
	}

	var r *Record
	err = s.update(func(rs *recordStore) (err error) {
		r, err = rs.createTask(owner, handles, fields, priority)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating task: %w", err)
	}

	s.logger.Info("task created", "owner", owner, "id", r.ID, "chunks", r.ChunkCount())
	return r, nil
}

// UpdateTask replaces a task's content and public fields.
func (s *SBService) UpdateTask(caller Principal, ref RecordRef, content []SealedChunk, fields PublicFields) (*Record, error) {
	handles, err := s.ingest(content, caller)
	if err != nil {
		return nil, err
	}

	var r *Record
	err = s.update(func(rs *recordStore) (err error) {
		r, err = rs.updateTask(caller, ref, handles, fields)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("updating task: %w", err)
	}

	s.logger.Info("task updated", "ref", ref, "chunks", r.ChunkCount())
	return r, nil
}

// SetStatus moves a task to status. Setting the current status is a no-op.
func (s *SBService) SetStatus(caller Principal, ref RecordRef, status Status) (*Record, error) {
	var r *Record
	var changed bool
	err := s.update(func(rs *recordStore) (err error) {
		r, changed, err = rs.setStatus(caller, ref, status)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("setting status: %w", err)
	}
	if changed {
		s.logger.Info("task status changed", "ref", ref, "status", status)
	}
	return r, nil
}

// SetPriority changes a task's priority. Setting the current priority is a no-op.
func (s *SBService) SetPriority(caller Principal, ref RecordRef, p Priority) (*Record, error) {
	var r *Record
	var changed bool
	err := s.update(func(rs *recordStore) (err error) {
		r, changed, err = rs.setPriority(caller, ref, p)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("setting priority: %w", err)
	}
	if changed {
		s.logger.Info("task priority changed", "ref", ref, "priority", p)
	}
	return r, nil
}

// SetFlag sets or clears the archived or favorite flag of a task.
func (s *SBService) SetFlag(caller Principal, ref RecordRef, flag Flag, on bool) (*Record, error) {
	var r *Record
	var changed bool
	err := s.update(func(rs *recordStore) (err error) {
		r, changed, err = rs.setFlag(caller, ref, flag, on)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("setting %s: %w", flag, err)
	}
	if changed {
		s.logger.Info("task flag changed", "ref", ref, "flag", flag, "value", on)
	}
	return r, nil
}

// DeleteTask soft-deletes a task. Its id is never reused.
func (s *SBService) DeleteTask(caller Principal, ref RecordRef) error {
	err := s.update(func(rs *recordStore) error {
		_, err := rs.deleteTask(caller, ref)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting task: %w", err)
	}
	s.logger.Info("task deleted", "ref", ref)
	return nil
}

// ShareTask grants grantee standing decryption rights on a task.
// Sharing with the same grantee again is harmless. If the Coprocessor fails
// after the grant was recorded, the error is returned and sharing again
// pushes the missing rights.
func (s *SBService) ShareTask(caller Principal, ref RecordRef, grantee Principal) error {
	var created bool
	err := s.update(func(rs *recordStore) (err error) {
		_, created, err = rs.shareTask(caller, ref, grantee)
		return err
	})
	if err != nil {
		return fmt.Errorf("sharing task: %w", err)
	}
	if created {
		s.logger.Info("task shared", "ref", ref, "grantee", grantee)
	} else {
		s.logger.Debug("task already shared", "ref", ref, "grantee", grantee)
	}
	return nil
}

// CreateBox opens a new feedback box owned by owner.
func (s *SBService) CreateBox(owner Principal, name, description string, allowRatings bool) (*Box, error) {
	var b *Box
	err := s.update(func(rs *recordStore) (err error) {
		b, err = rs.createBox(owner, name, description, allowRatings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("creating box: %w", err)
	}
	s.logger.Info("box created", "box", b.Ref, "name", b.Name)
	return b, nil
}

// UpdateBox rewrites a box's name, description, and rating setting.
func (s *SBService) UpdateBox(caller Principal, ref BoxRef, name, description string, allowRatings bool) (*Box, error) {
	var b *Box
	err := s.update(func(rs *recordStore) (err error) {
		b, err = rs.updateBox(caller, ref, name, description, allowRatings)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("updating box: %w", err)
	}
	s.logger.Info("box updated", "box", ref)
	return b, nil
}

// SetBoxActive opens (true) or closes (false) a box for submissions.
func (s *SBService) SetBoxActive(caller Principal, ref BoxRef, active bool) (*Box, error) {
	var b *Box
	var changed bool
	err := s.update(func(rs *recordStore) (err error) {
		b, changed, err = rs.setBoxActive(caller, ref, active)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("setting box state: %w", err)
	}
	if changed {
		s.logger.Info("box state changed", "box", ref, "active", active)
	}
	return b, nil
}

// DeleteBox soft-deletes a box together with its live submissions.
func (s *SBService) DeleteBox(caller Principal, ref BoxRef) error {
	var removed int
	err := s.update(func(rs *recordStore) (err error) {
		_, removed, err = rs.deleteBox(caller, ref)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting box: %w", err)
	}
	s.logger.Info("box deleted", "box", ref, "submissions", removed)
	return nil
}

// SubmitFeedback posts a submission to a box on behalf of submitter,
// usually an anonymous principal.
func (s *SBService) SubmitFeedback(submitter Principal, box BoxRef, content []SealedChunk, fields PublicFields) (*Record, error) {
	handles, err := s.ingest(content, submitter)
	if err != nil {
		return nil, err
	}

	var r *Record
	err = s.update(func(rs *recordStore) (err error) {
		r, err = rs.submitFeedback(submitter, box, handles, fields)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("submitting feedback: %w", err)
	}

	s.logger.Info("feedback submitted", "box", box, "id", r.ID, "rating", r.Fields.Rating)
	return r, nil
}

// MarkRead marks a submission read. Marking it again is a no-op.
func (s *SBService) MarkRead(caller Principal, ref RecordRef) (*Record, error) {
	var r *Record
	var changed bool
	err := s.update(func(rs *recordStore) (err error) {
		r, changed, err = rs.markRead(caller, ref)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("marking feedback read: %w", err)
	}
	if changed {
		s.logger.Info("feedback read", "ref", ref)
	}
	return r, nil
}

// DeleteFeedback soft-deletes one submission.
func (s *SBService) DeleteFeedback(caller Principal, ref RecordRef) error {
	err := s.update(func(rs *recordStore) error {
		_, err := rs.deleteFeedback(caller, ref)
		return err
	})
	if err != nil {
		return fmt.Errorf("deleting feedback: %w", err)
	}
	s.logger.Info("feedback deleted", "ref", ref)
	return nil
}
