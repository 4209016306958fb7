package sb

import (
	"fmt"
	"time"
)

// OwnerStats are the per-owner counters. They are only ever changed by
// delta through the record store, in the same transaction as the record
// they describe.
type OwnerStats struct {
	Owner Principal

	TotalTasks int64
	Todo       int64
	InProgress int64
	Completed  int64
	Archived   int64
	Favorite   int64

	// TotalStorage is the chunk count summed over every live record the
	// owner holds, tasks and received feedback alike.
	TotalStorage int64

	Boxes       int64 // live boxes
	Submissions int64 // live feedback across all boxes

	UpdatedAt time.Time
}

// Clone returns a copy of s.
func (s *OwnerStats) Clone() *OwnerStats {
	c := *s
	return &c
}

// Check verifies the counter invariants.
func (s *OwnerStats) Check() error {
	for name, v := range map[string]int64{
		"total_tasks":   s.TotalTasks,
		"todo":          s.Todo,
		"in_progress":   s.InProgress,
		"completed":     s.Completed,
		"archived":      s.Archived,
		"favorite":      s.Favorite,
		"total_storage": s.TotalStorage,
		"boxes":         s.Boxes,
		"submissions":   s.Submissions,
	} {
		if v < 0 {
			return fmt.Errorf("stats for %s: %s is negative (%d)", s.Owner, name, v)
		}
	}
	if sum := s.Todo + s.InProgress + s.Completed; sum != s.TotalTasks {
		return fmt.Errorf("stats for %s: todo+in_progress+completed = %d, total_tasks = %d", s.Owner, sum, s.TotalTasks)
	}
	if s.Archived > s.TotalTasks || s.Favorite > s.TotalTasks {
		return fmt.Errorf("stats for %s: flag counters exceed total_tasks", s.Owner)
	}
	return nil
}

func (s *OwnerStats) statusCounter(st Status) *int64 {
	switch st {
	case StatusTodo:
		return &s.Todo
	case StatusInProgress:
		return &s.InProgress
	case StatusCompleted:
		return &s.Completed
	}
	return nil
}

func (s *OwnerStats) flagCounter(f Flag) *int64 {
	if f == FlagArchived {
		return &s.Archived
	}
	return &s.Favorite
}

func boolDelta(on bool) int64 {
	if on {
		return 1
	}
	return -1
}

// addTask accounts for a freshly created task.
func (s *OwnerStats) addTask(r *Record) {
	s.TotalTasks++
	*s.statusCounter(r.Status)++
	s.TotalStorage += int64(r.ChunkCount())
}

// removeTask accounts for a task about to be deleted. r must still hold its
// status, flags, and chunks.
func (s *OwnerStats) removeTask(r *Record) {
	s.TotalTasks--
	*s.statusCounter(r.Status)--
	if r.Archived {
		s.Archived--
	}
	if r.Favorite {
		s.Favorite--
	}
	s.TotalStorage -= int64(r.ChunkCount())
}

func (s *OwnerStats) moveStatus(from, to Status) {
	*s.statusCounter(from)--
	*s.statusCounter(to)++
}

func (s *OwnerStats) setFlag(f Flag, on bool) {
	*s.flagCounter(f) += boolDelta(on)
}

func (s *OwnerStats) addSubmission(r *Record) {
	s.Submissions++
	s.TotalStorage += int64(r.ChunkCount())
}

func (s *OwnerStats) removeSubmission(r *Record) {
	s.Submissions--
	s.TotalStorage -= int64(r.ChunkCount())
}

// BoxStats are read aggregates computed by scanning a box's live submissions
// at query time. Boxes are bounded by Limits.MaxSubmissionsPerBox, so the
// scan is bounded too.
type BoxStats struct {
	Box              BoxRef
	TotalSubmissions int64
	UnreadCount      int64
	RatedCount       int64
	AvgRating        int64 // floor(sum(rating)*100 / RatedCount); 0 when nothing is rated
	PositiveCount    int64
	NeutralCount     int64
	NegativeCount    int64
}

// computeBoxStats scans records; deleted ones are skipped.
func computeBoxStats(box BoxRef, records []*Record) BoxStats {
	st := BoxStats{Box: box}
	var ratingSum int64
	for _, r := range records {
		if r.Deleted() {
			continue
		}
		st.TotalSubmissions++
		if r.Status == StatusUnread {
			st.UnreadCount++
		}
		if r.Fields.Rating > 0 {
			st.RatedCount++
			ratingSum += int64(r.Fields.Rating)
		}
		switch r.Fields.Sentiment {
		case SentimentPositive:
			st.PositiveCount++
		case SentimentNegative:
			st.NegativeCount++
		default:
			st.NeutralCount++
		}
	}
	if st.RatedCount > 0 {
		st.AvgRating = ratingSum * 100 / st.RatedCount
	}
	return st
}

// StatsDrift reports where incrementally maintained counters disagree with a
// full rescan. A nil *StatsDrift means the counters are consistent.
type StatsDrift struct {
	Stored   OwnerStats
	Computed OwnerStats
}

func (d *StatsDrift) Error() string {
	return fmt.Sprintf("stats drift for %s: stored %+v, computed %+v", d.Stored.Owner, d.Stored, d.Computed)
}

// rescanOwner recomputes an owner's counters from every live record.
// It is only used for verification and never writes.
func rescanOwner(tx Tx, owner Principal) (OwnerStats, error) {
	st := OwnerStats{Owner: owner}

	tasks, err := tx.ListRecords(TaskCollection(owner))
	if err != nil {
		return st, fmt.Errorf("listing tasks: %w", err)
	}
	for _, r := range tasks {
		if r.Deleted() {
			continue
		}
		st.addTask(r)
		if r.Archived {
			st.Archived++
		}
		if r.Favorite {
			st.Favorite++
		}
	}

	boxes, err := tx.ListBoxes(owner)
	if err != nil {
		return st, fmt.Errorf("listing boxes: %w", err)
	}
	for _, b := range boxes {
		if b.Deleted() {
			continue
		}
		st.Boxes++
		subs, err := tx.ListRecords(FeedbackCollection(b.Ref))
		if err != nil {
			return st, fmt.Errorf("listing feedback for %s: %w", b.Ref, err)
		}
		for _, r := range subs {
			if !r.Deleted() {
				st.addSubmission(r)
			}
		}
	}
	return st, nil
}

// sameCounters compares every counter, ignoring UpdatedAt.
func sameCounters(a, b OwnerStats) bool {
	a.UpdatedAt, b.UpdatedAt = time.Time{}, time.Time{}
	return a == b
}
