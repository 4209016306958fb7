package sb

import (
	"fmt"
	"slices"
	"strings"
	"time"
)

// Status is a record's lifecycle state.
// Tasks cycle Todo → InProgress → Completed → Todo; feedback goes Unread → Read.
type Status string

const (
	StatusTodo       Status = "todo"
	StatusInProgress Status = "in_progress"
	StatusCompleted  Status = "completed"
	StatusUnread     Status = "unread"
	StatusRead       Status = "read"
)

// ParseStatus accepts the canonical names plus a few CLI spellings.
func ParseStatus(s string) (Status, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "todo":
		return StatusTodo, nil
	case "in_progress", "in-progress", "inprogress", "doing":
		return StatusInProgress, nil
	case "completed", "done":
		return StatusCompleted, nil
	case "unread":
		return StatusUnread, nil
	case "read":
		return StatusRead, nil
	default:
		return "", fmt.Errorf("%w: status %q", ErrInvalidValue, s)
	}
}

// validFor reports whether s belongs to the lifecycle of kind.
func (s Status) validFor(kind RecordKind) bool {
	switch kind {
	case KindTask:
		return s == StatusTodo || s == StatusInProgress || s == StatusCompleted
	case KindFeedback:
		return s == StatusUnread || s == StatusRead
	}
	return false
}

// Priority is the task urgency field. It has no counter.
type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
)

// ParsePriority parses a priority name; the empty string yields PriorityMedium.
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "":
		return PriorityMedium, nil
	case "low":
		return PriorityLow, nil
	case "medium":
		return PriorityMedium, nil
	case "high":
		return PriorityHigh, nil
	default:
		return "", fmt.Errorf("%w: priority %q", ErrInvalidValue, s)
	}
}

// Sentiment classifies a feedback submission.
type Sentiment string

const (
	SentimentNeutral  Sentiment = "neutral"
	SentimentPositive Sentiment = "positive"
	SentimentNegative Sentiment = "negative"
)

// ParseSentiment parses a sentiment name; the empty string yields SentimentNeutral.
func ParseSentiment(s string) (Sentiment, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "neutral":
		return SentimentNeutral, nil
	case "positive":
		return SentimentPositive, nil
	case "negative":
		return SentimentNegative, nil
	default:
		return "", fmt.Errorf("%w: sentiment %q", ErrInvalidValue, s)
	}
}

// Flag names a boolean task attribute with its own counter.
type Flag string

const (
	FlagArchived Flag = "archived"
	FlagFavorite Flag = "favorite"
)

// MaxRating is the top of the 1..MaxRating feedback scale. Zero means "no rating".
const MaxRating = 5

// PublicFields is the plaintext metadata of a record. It is never encrypted.
type PublicFields struct {
	// Task fields.
	Title    string
	Category string
	Tags     []string
	Color    string

	// Feedback fields.
	Rating    uint8
	Sentiment Sentiment
}

// Clone returns a deep copy.
func (f PublicFields) Clone() PublicFields {
	f.Tags = slices.Clone(f.Tags)
	return f
}

// Record is one task or one feedback submission.
type Record struct {
	Collection Collection
	ID         uint64

	// Owner is the current owner; NoOwner marks the record deleted.
	// For feedback it is the box owner, never the submitter.
	Owner     Principal
	Submitter Principal // feedback only

	Ciphertext Ciphertext
	Fields     PublicFields
	Status     Status
	Priority   Priority // tasks only
	Archived   bool     // tasks only
	Favorite   bool     // tasks only

	CreatedAt   time.Time
	UpdatedAt   time.Time
	CompletedAt time.Time // zero unless Status is StatusCompleted
}

// Ref returns the address of r.
func (r *Record) Ref() RecordRef {
	return RecordRef{Collection: r.Collection, ID: r.ID}
}

// Deleted reports whether r carries the sentinel owner.
func (r *Record) Deleted() bool { return r.Owner == NoOwner }

// ChunkCount returns the number of chunks currently held.
func (r *Record) ChunkCount() int { return r.Ciphertext.Len() }

// Clone returns a deep copy of r.
func (r *Record) Clone() *Record {
	c := *r
	c.Ciphertext = RestoreCiphertext(r.Ciphertext.chunks)
	c.Fields = r.Fields.Clone()
	return &c
}

// Box is an owner-managed collection accepting anonymous feedback.
type Box struct {
	Ref          BoxRef
	Owner        Principal // NoOwner once deleted
	Name         string
	Description  string
	AllowRatings bool
	Active       bool  // accepting submissions
	Submissions  int64 // live submissions, maintained incrementally
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Deleted reports whether b carries the sentinel owner.
func (b *Box) Deleted() bool { return b.Owner == NoOwner }

// Clone returns a copy of b.
func (b *Box) Clone() *Box {
	c := *b
	return &c
}

// Grant is a standing decryption right of Grantee on every chunk of Record.
type Grant struct {
	ID        string
	Record    RecordRef
	Grantor   Principal
	Grantee   Principal
	CreatedAt time.Time
}

// IndexKind selects a secondary index family.
type IndexKind string

const (
	IndexCategory IndexKind = "category"
	IndexTag      IndexKind = "tag"
)

// Operation is one journaled mutating command.
type Operation struct {
	ID         int64
	Operation  string
	Parameters string
	Status     string // "success" or "error"
	StartedAt  time.Time
	FinishedAt time.Time // zero while running
}
