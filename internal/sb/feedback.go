package sb

import (
	"fmt"
)

// normalizeFeedbackFields validates rating and sentiment against the box and
// drops task-only fields.
func normalizeFeedbackFields(f PublicFields, b *Box) (PublicFields, error) {
	out := PublicFields{Rating: f.Rating}
	if f.Rating > MaxRating {
		return out, fmt.Errorf("%w: rating %d, want 0..%d", ErrInvalidValue, f.Rating, MaxRating)
	}
	if f.Rating > 0 && !b.AllowRatings {
		return out, fmt.Errorf("%w: %s does not accept ratings", ErrInvalidValue, b.Ref)
	}
	sentiment, err := ParseSentiment(string(f.Sentiment))
	if err != nil {
		return out, err
	}
	out.Sentiment = sentiment
	return out, nil
}

// submitFeedback appends a submission to an open box. The record is owned by
// the box owner; the submitter is kept alongside but holds no rights on it.
func (s *recordStore) submitFeedback(submitter Principal, ref BoxRef, chunks []ChunkHandle, fields PublicFields) (*Record, error) {
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
	if !b.Active {
		return nil, fmt.Errorf("%w: %s", ErrBoxClosed, ref)
	}
	if submitter == NoOwner {
		return nil, fmt.Errorf("%w: no principal", ErrUnauthorized)
	}

	ct, err := NewCiphertext(chunks, s.limits.MaxChunksPerRecord)
	if err != nil {
		return nil, err
	}
	fields, err = normalizeFeedbackFields(fields, b)
	if err != nil {
		return nil, err
	}
	if b.Submissions >= s.limits.MaxSubmissionsPerBox {
		return nil, fmt.Errorf("%w: %s holds %d submissions", ErrQuotaExceeded, ref, b.Submissions)
	}

	c := FeedbackCollection(ref)
	id, err := s.tx.SequenceLength(c)
	if err != nil {
		return nil, fmt.Errorf("reading sequence length: %w", err)
	}
	r := &Record{
		Collection: c,
		ID:         id,
		Owner:      b.Owner,
		Submitter:  submitter,
		Ciphertext: ct,
		Fields:     fields,
		Status:     StatusUnread,
		CreatedAt:  s.now,
		UpdatedAt:  s.now,
	}
	if err := s.tx.InsertRecord(r); err != nil {
		return nil, fmt.Errorf("inserting feedback: %w", err)
	}
	if err := s.tx.AppendSubmission(submitter, r.Ref()); err != nil {
		return nil, fmt.Errorf("recording submission: %w", err)
	}

	b.Submissions++
	if err := s.tx.UpdateBox(b); err != nil {
		return nil, fmt.Errorf("updating box: %w", err)
	}
	st, err := s.loadStats(b.Owner)
	if err != nil {
		return nil, err
	}
	st.addSubmission(r)
	if err := s.saveStats(st); err != nil {
		return nil, err
	}

	if err := s.ledger.grantAll(r, b.Owner); err != nil {
		return nil, err
	}
	return r, nil
}

// markRead moves a submission from Unread to Read. Read is terminal.
func (s *recordStore) markRead(caller Principal, ref RecordRef) (*Record, bool, error) {
	r, err := s.loadForMutation(caller, ref, KindFeedback)
	if err != nil {
		return nil, false, err
	}
	if r.Status == StatusRead {
		return r, false, nil
	}
	r.Status = StatusRead
	r.UpdatedAt = s.now
	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, false, fmt.Errorf("updating feedback: %w", err)
	}
	return r, true, nil
}

// deleteFeedback soft-deletes one submission. Only the box owner may do so.
func (s *recordStore) deleteFeedback(caller Principal, ref RecordRef) (*Record, error) {
	r, err := s.loadForMutation(caller, ref, KindFeedback)
	if err != nil {
		return nil, err
	}
	b, err := s.tx.GetBox(ref.Collection.BoxRef())
	if err != nil {
		return nil, fmt.Errorf("loading box: %w", err)
	}
	if b == nil {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, ref.Collection.BoxRef())
	}
	st, err := s.loadStats(r.Owner)
	if err != nil {
		return nil, err
	}

	st.removeSubmission(r)
	b.Submissions--
	b.UpdatedAt = s.now

	r.Ciphertext.Clear()
	r.Owner = NoOwner
	r.UpdatedAt = s.now
	if err := s.tx.UpdateRecord(r); err != nil {
		return nil, fmt.Errorf("deleting feedback: %w", err)
	}
	if err := s.tx.UpdateBox(b); err != nil {
		return nil, fmt.Errorf("updating box: %w", err)
	}
	if err := s.saveStats(st); err != nil {
		return nil, err
	}
	return r, nil
}
