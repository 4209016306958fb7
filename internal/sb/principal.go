package sb

import (
	"fmt"
	"strconv"
	"strings"
)

// Principal is an authenticated actor identity used for ownership and grants.
type Principal string

// NoOwner is the sentinel owner of a deleted record or box. It also serves
// as the unset principal, which can never own, create, or receive anything.
const NoOwner Principal = ""

// AnonymousPrefix marks principals minted for anonymous feedback submitters.
const AnonymousPrefix = "anon:"

// NewAnonymousPrincipal mints a submitter identity that is not linked to any owner.
func NewAnonymousPrincipal(idgen IDGenerator) Principal {
	return Principal(AnonymousPrefix + idgen.New())
}

func (p Principal) String() string { return string(p) }

// IsAnonymous reports whether p was minted by NewAnonymousPrincipal.
func (p Principal) IsAnonymous() bool { return strings.HasPrefix(string(p), AnonymousPrefix) }

// RecordKind distinguishes the two record variants sharing one store.
type RecordKind string

const (
	KindTask     RecordKind = "task"
	KindFeedback RecordKind = "feedback"
)

// Collection identifies one append-only record sequence. Tasks live in one
// collection per owner; feedback lives in one collection per box.
// Owner is the principal the sequence was created for and never changes,
// even after the records in it are deleted.
type Collection struct {
	Kind  RecordKind
	Owner Principal
	Box   uint64 // feedback only
}

// TaskCollection returns the task sequence of owner.
func TaskCollection(owner Principal) Collection {
	return Collection{Kind: KindTask, Owner: owner}
}

// FeedbackCollection returns the submission sequence of a box.
func FeedbackCollection(box BoxRef) Collection {
	return Collection{Kind: KindFeedback, Owner: box.Owner, Box: box.ID}
}

// Key returns a stable string key for storage maps.
func (c Collection) Key() string {
	if c.Kind == KindFeedback {
		return "feedback/" + strconv.FormatUint(c.Box, 10) + "/" + string(c.Owner)
	}
	return string(c.Kind) + "/" + string(c.Owner)
}

// BoxRef returns the box a feedback collection belongs to.
func (c Collection) BoxRef() BoxRef {
	return BoxRef{Owner: c.Owner, ID: c.Box}
}

func (c Collection) String() string { return c.Key() }

// RecordRef addresses one slot in a collection.
type RecordRef struct {
	Collection Collection
	ID         uint64
}

// TaskRef addresses task id in owner's task collection.
func TaskRef(owner Principal, id uint64) RecordRef {
	return RecordRef{Collection: TaskCollection(owner), ID: id}
}

// FeedbackRef addresses submission id in a box.
func FeedbackRef(box BoxRef, id uint64) RecordRef {
	return RecordRef{Collection: FeedbackCollection(box), ID: id}
}

func (r RecordRef) String() string {
	return fmt.Sprintf("%s#%d", r.Collection.Key(), r.ID)
}

// BoxRef addresses one box in an owner's box sequence.
type BoxRef struct {
	Owner Principal
	ID    uint64
}

func (b BoxRef) String() string {
	return fmt.Sprintf("box/%s#%d", b.Owner, b.ID)
}
