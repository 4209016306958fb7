package sb_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealbox/internal/sb"
	"sealbox/internal/testutil"
)

func submit(t *testing.T, h *testutil.Harness, box sb.BoxRef, text string, fields sb.PublicFields) (*sb.Record, sb.Principal) {
	t.Helper()
	anon := sb.NewAnonymousPrincipal(h.IDs)
	r, err := h.Service.SubmitFeedback(anon, box, h.Seal(t, anon, text), fields)
	require.NoError(t, err)
	return r, anon
}

func TestFeedback_OwnerReadsSubmitterDoesNot(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		box, err := h.Service.CreateBox(alice, "Suggestions", "anything goes", false)
		require.NoError(t, err)
		assert.True(t, box.Active)

		r, anon := submit(t, h, box.Ref, "more coffee", sb.PublicFields{Sentiment: sb.SentimentPositive})
		assert.Equal(t, alice, r.Owner)
		assert.Equal(t, anon, r.Submitter)
		assert.Equal(t, sb.StatusUnread, r.Status)

		got, chunks, err := h.Service.GetFeedback(alice, r.Ref())
		require.NoError(t, err)
		assert.Equal(t, sb.SentimentPositive, got.Fields.Sentiment)
		text, err := h.Reveal(t, alice, chunks)
		require.NoError(t, err)
		assert.Equal(t, "more coffee", text)

		_, _, err = h.Service.GetFeedback(anon, r.Ref())
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
		_, err = h.Reveal(t, anon, chunks)
		assert.Error(t, err)

		_, err = h.Service.ListFeedback(bob, box.Ref)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		mine, err := h.Service.MySubmissions(anon)
		require.NoError(t, err)
		require.Len(t, mine, 1)
		assert.Zero(t, mine[0].ChunkCount())
		assert.Equal(t, r.Ref(), mine[0].Ref())

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.Boxes)
		assert.EqualValues(t, 1, st.Submissions)
		assert.EqualValues(t, 1, st.TotalStorage)
		assert.Zero(t, st.TotalTasks)
		requireConsistent(t, h, alice)
	})
}

func TestFeedback_Validation(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		noRatings, err := h.Service.CreateBox(alice, "plain", "", false)
		require.NoError(t, err)
		rated, err := h.Service.CreateBox(alice, "rated", "", true)
		require.NoError(t, err)

		anon := sb.NewAnonymousPrincipal(h.IDs)
		tests := []struct {
			name   string
			box    sb.BoxRef
			fields sb.PublicFields
			want   error
		}{
			{name: "rating on unrated box", box: noRatings.Ref, fields: sb.PublicFields{Rating: 3}, want: sb.ErrInvalidValue},
			{name: "rating out of range", box: rated.Ref, fields: sb.PublicFields{Rating: 6}, want: sb.ErrInvalidValue},
			{name: "unknown sentiment", box: rated.Ref, fields: sb.PublicFields{Sentiment: "meh"}, want: sb.ErrInvalidValue},
			{name: "missing box", box: sb.BoxRef{Owner: alice, ID: 9}, want: sb.ErrNotFound},
		}
		for _, tt := range tests {
			_, err := h.Service.SubmitFeedback(anon, tt.box, h.Seal(t, anon, "x"), tt.fields)
			assert.ErrorIs(t, err, tt.want, tt.name)
		}

		_, err = h.Service.SubmitFeedback(anon, rated.Ref, nil, sb.PublicFields{})
		assert.ErrorIs(t, err, sb.ErrInvalidSize)

		// task-only fields are dropped from submissions
		r, _ := submit(t, h, rated.Ref, "x", sb.PublicFields{Title: "ignored", Tags: []string{"t"}, Rating: 5})
		assert.Empty(t, r.Fields.Title)
		assert.Empty(t, r.Fields.Tags)
		assert.Equal(t, sb.SentimentNeutral, r.Fields.Sentiment)

		st, err := h.Service.GetBoxStats(rated.Ref)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.TotalSubmissions)
		assert.EqualValues(t, 500, st.AvgRating)
	})
}

func TestFeedback_ClosedBox(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		box, err := h.Service.CreateBox(alice, "retro", "", true)
		require.NoError(t, err)

		_, err = h.Service.SetBoxActive(bob, box.Ref, false)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		closed, err := h.Service.SetBoxActive(alice, box.Ref, false)
		require.NoError(t, err)
		assert.False(t, closed.Active)

		anon := sb.NewAnonymousPrincipal(h.IDs)
		_, err = h.Service.SubmitFeedback(anon, box.Ref, h.Seal(t, anon, "late"), sb.PublicFields{})
		assert.ErrorIs(t, err, sb.ErrBoxClosed)

		_, err = h.Service.SetBoxActive(alice, box.Ref, true)
		require.NoError(t, err)
		submit(t, h, box.Ref, "on time", sb.PublicFields{})
	})
}

func TestFeedback_MarkReadAndDelete(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		box, err := h.Service.CreateBox(alice, "inbox", "", true)
		require.NoError(t, err)
		first, _ := submit(t, h, box.Ref, "one", sb.PublicFields{Rating: 2})
		second, anon := submit(t, h, box.Ref, "two", sb.PublicFields{})

		_, err = h.Service.MarkRead(anon, first.Ref())
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		read, err := h.Service.MarkRead(alice, first.Ref())
		require.NoError(t, err)
		assert.Equal(t, sb.StatusRead, read.Status)
		_, err = h.Service.MarkRead(alice, first.Ref())
		require.NoError(t, err)

		st, err := h.Service.GetBoxStats(box.Ref)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.UnreadCount)

		require.NoError(t, h.Service.DeleteFeedback(alice, second.Ref()))
		assert.ErrorIs(t, h.Service.DeleteFeedback(alice, second.Ref()), sb.ErrAlreadyDeleted)

		b, err := h.Service.GetBox(box.Ref)
		require.NoError(t, err)
		assert.EqualValues(t, 1, b.Submissions)

		list, err := h.Service.ListFeedback(alice, box.Ref)
		require.NoError(t, err)
		require.Len(t, list, 1)
		assert.Equal(t, first.ID, list[0].ID)

		mine, err := h.Service.MySubmissions(anon)
		require.NoError(t, err)
		assert.Empty(t, mine)

		third, _ := submit(t, h, box.Ref, "three", sb.PublicFields{})
		assert.EqualValues(t, 2, third.ID)
		requireConsistent(t, h, alice)
	})
}

func TestBox_DeleteCascades(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		newTask(t, h, alice, "keep me", 2, sb.PublicFields{})
		box, err := h.Service.CreateBox(alice, "doomed", "", true)
		require.NoError(t, err)
		first, _ := submit(t, h, box.Ref, "a", sb.PublicFields{Rating: 1})
		submit(t, h, box.Ref, "b", sb.PublicFields{})

		assert.ErrorIs(t, h.Service.DeleteBox(bob, box.Ref), sb.ErrUnauthorized)
		require.NoError(t, h.Service.DeleteBox(alice, box.Ref))
		assert.ErrorIs(t, h.Service.DeleteBox(alice, box.Ref), sb.ErrAlreadyDeleted)

		_, err = h.Service.GetBox(box.Ref)
		assert.ErrorIs(t, err, sb.ErrNotFound)
		_, err = h.Service.GetBoxStats(box.Ref)
		assert.ErrorIs(t, err, sb.ErrNotFound)
		_, _, err = h.Service.GetFeedback(alice, first.Ref())
		assert.ErrorIs(t, err, sb.ErrNotFound)

		anon := sb.NewAnonymousPrincipal(h.IDs)
		_, err = h.Service.SubmitFeedback(anon, box.Ref, h.Seal(t, anon, "x"), sb.PublicFields{})
		assert.ErrorIs(t, err, sb.ErrAlreadyDeleted)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.Zero(t, st.Boxes)
		assert.Zero(t, st.Submissions)
		assert.EqualValues(t, 2, st.TotalStorage)

		boxes, err := h.Service.ListBoxes(alice)
		require.NoError(t, err)
		assert.Empty(t, boxes)

		next, err := h.Service.CreateBox(alice, "again", "", false)
		require.NoError(t, err)
		assert.EqualValues(t, 1, next.Ref.ID)
		requireConsistent(t, h, alice)
	})
}

func TestBox_Quotas(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{MaxBoxesPerOwner: 1, MaxSubmissionsPerBox: 2})
		box, err := h.Service.CreateBox(alice, "only", "", false)
		require.NoError(t, err)
		_, err = h.Service.CreateBox(alice, "second", "", false)
		assert.ErrorIs(t, err, sb.ErrQuotaExceeded)

		first, _ := submit(t, h, box.Ref, "1", sb.PublicFields{})
		submit(t, h, box.Ref, "2", sb.PublicFields{})
		anon := sb.NewAnonymousPrincipal(h.IDs)
		_, err = h.Service.SubmitFeedback(anon, box.Ref, h.Seal(t, anon, "3"), sb.PublicFields{})
		assert.ErrorIs(t, err, sb.ErrQuotaExceeded)

		require.NoError(t, h.Service.DeleteFeedback(alice, first.Ref()))
		submit(t, h, box.Ref, "3", sb.PublicFields{})
	})
}

func TestBox_Update(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		box, err := h.Service.CreateBox(alice, "old", "", true)
		require.NoError(t, err)

		_, err = h.Service.UpdateBox(alice, box.Ref, " ", "", true)
		assert.ErrorIs(t, err, sb.ErrInvalidSize)
		_, err = h.Service.UpdateBox(bob, box.Ref, "new", "", true)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		up, err := h.Service.UpdateBox(alice, box.Ref, " new ", " desc ", false)
		require.NoError(t, err)
		assert.Equal(t, "new", up.Name)
		assert.Equal(t, "desc", up.Description)

		got, err := h.Service.GetBox(box.Ref)
		require.NoError(t, err)
		assert.False(t, got.AllowRatings)

		_, err = h.Service.CreateBox(sb.NoOwner, "nobody", "", false)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
	})
}
