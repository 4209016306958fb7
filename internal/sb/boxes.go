package sb

import (
	"fmt"
	"strings"
	"unicode/utf8"
)

func (s *recordStore) loadBoxForMutation(caller Principal, ref BoxRef) (*Box, error) {
	b, err := s.tx.GetBox(ref)
	if err != nil {
		return nil, fmt.Errorf("loading %s: %w", ref, err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref)
	}
	if b.Deleted() {
		return nil, fmt.Errorf("%w: %s", ErrAlreadyDeleted, ref)
	}
	if caller == NoOwner || caller != b.Owner {
		return nil, fmt.Errorf("%w: %s is not owned by %q", ErrUnauthorized, ref, caller)
	}
	return b, nil
}

func (s *recordStore) checkBoxName(name string) (string, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return "", fmt.Errorf("%w: box name is required", ErrInvalidSize)
	}
	if n := utf8.RuneCountInString(name); n > s.limits.MaxTitleLength {
		return "", fmt.Errorf("%w: box name is %d characters, max %d", ErrInvalidSize, n, s.limits.MaxTitleLength)
	}
	return name, nil
}

func (s *recordStore) createBox(owner Principal, name, description string, allowRatings bool) (*Box, error) {
	if owner == NoOwner {
		return nil, fmt.Errorf("%w: no principal", ErrUnauthorized)
	}
	name, err := s.checkBoxName(name)
	if err != nil {
		return nil, err
	}

	st, err := s.loadStats(owner)
	if err != nil {
		return nil, err
	}
	if st.Boxes >= s.limits.MaxBoxesPerOwner {
		return nil, fmt.Errorf("%w: %s holds %d boxes", ErrQuotaExceeded, owner, st.Boxes)
	}

	id, err := s.tx.BoxCount(owner)
	if err != nil {
		return nil, fmt.Errorf("reading box count: %w", err)
	}
	b := &Box{
		Ref:          BoxRef{Owner: owner, ID: id},
		Owner:        owner,
		Name:         name,
		Description:  strings.TrimSpace(description),
		AllowRatings: allowRatings,
		Active:       true,
		CreatedAt:    s.now,
		UpdatedAt:    s.now,
	}
	if err := s.tx.InsertBox(b); err != nil {
		return nil, fmt.Errorf("inserting box: %w", err)
	}
	st.Boxes++
	if err := s.saveStats(st); err != nil {
		return nil, err
	}
	return b, nil
}

// updateBox rewrites the box metadata. Ratings already submitted are kept
// even if allowRatings is switched off.
func (s *recordStore) updateBox(caller Principal, ref BoxRef, name, description string, allowRatings bool) (*Box, error) {
	b, err := s.loadBoxForMutation(caller, ref)
	if err != nil {
		return nil, err
	}
	if b.Name, err = s.checkBoxName(name); err != nil {
		return nil, err
	}
	b.Description = strings.TrimSpace(description)
	b.AllowRatings = allowRatings
	b.UpdatedAt = s.now
	if err := s.tx.UpdateBox(b); err != nil {
		return nil, fmt.Errorf("updating box: %w", err)
	}
	return b, nil
}

// setBoxActive opens or closes a box for submissions.
func (s *recordStore) setBoxActive(caller Principal, ref BoxRef, active bool) (*Box, bool, error) {
	b, err := s.loadBoxForMutation(caller, ref)
	if err != nil {
		return nil, false, err
	}
	if b.Active == active {
		return b, false, nil
	}
	b.Active = active
	b.UpdatedAt = s.now
	if err := s.tx.UpdateBox(b); err != nil {
		return nil, false, fmt.Errorf("updating box: %w", err)
	}
	return b, true, nil
}

// deleteBox soft-deletes a box and every live submission in it.
// It returns the number of submissions removed.
func (s *recordStore) deleteBox(caller Principal, ref BoxRef) (*Box, int, error) {
	b, err := s.loadBoxForMutation(caller, ref)
	if err != nil {
		return nil, 0, err
	}
	st, err := s.loadStats(b.Owner)
	if err != nil {
		return nil, 0, err
	}

	subs, err := s.tx.ListRecords(FeedbackCollection(ref))
	if err != nil {
		return nil, 0, fmt.Errorf("listing feedback: %w", err)
	}
	removed := 0
	for _, r := range subs {
		if r.Deleted() {
			continue
		}
		st.removeSubmission(r)
		r.Ciphertext.Clear()
		r.Owner = NoOwner
		r.UpdatedAt = s.now
		if err := s.tx.UpdateRecord(r); err != nil {
			return nil, 0, fmt.Errorf("deleting feedback %d: %w", r.ID, err)
		}
		removed++
	}

	st.Boxes--
	b.Owner = NoOwner
	b.Active = false
	b.Submissions = 0
	b.UpdatedAt = s.now
	if err := s.tx.UpdateBox(b); err != nil {
		return nil, 0, fmt.Errorf("deleting box: %w", err)
	}
	if err := s.saveStats(st); err != nil {
		return nil, 0, err
	}
	return b, removed, nil
}
