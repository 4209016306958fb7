package sb_test

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sealbox/internal/sb"
	"sealbox/internal/testutil"
)

const (
	alice = sb.Principal("alice")
	bob   = sb.Principal("bob")
	carol = sb.Principal("carol")
)

func newTask(t *testing.T, h *testutil.Harness, owner sb.Principal, title string, chunks int, fields sb.PublicFields) *sb.Record {
	t.Helper()
	texts := make([]string, chunks)
	for i := range texts {
		texts[i] = fmt.Sprintf("%s part %d", title, i)
	}
	fields.Title = title
	r, err := h.Service.CreateTask(owner, h.Seal(t, owner, texts...), fields, "")
	require.NoError(t, err)
	return r
}

func requireConsistent(t *testing.T, h *testutil.Harness, owners ...sb.Principal) {
	t.Helper()
	for _, o := range owners {
		require.NoError(t, h.Service.VerifyOwnerStats(o), "stats for %s", o)
	}
}

func TestScenarioA_StatusLifecycle(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		t1 := newTask(t, h, alice, "Buy milk", 3, sb.PublicFields{})

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.TotalTasks)
		assert.EqualValues(t, 1, st.Todo)
		assert.EqualValues(t, 3, st.TotalStorage)

		now := h.Clock.Advance(time.Hour)
		r, err := h.Service.SetStatus(alice, t1.Ref(), sb.StatusCompleted)
		require.NoError(t, err)
		assert.True(t, r.CompletedAt.Equal(now), "CompletedAt = %v, want %v", r.CompletedAt, now)

		st, err = h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 0, st.Todo)
		assert.EqualValues(t, 1, st.Completed)

		h.Clock.Advance(time.Hour)
		_, err = h.Service.SetStatus(alice, t1.Ref(), sb.StatusTodo)
		require.NoError(t, err)

		got, err := h.Service.GetTask(alice, t1.Ref())
		require.NoError(t, err)
		assert.True(t, got.CompletedAt.IsZero())

		st, err = h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 0, st.Completed)
		assert.EqualValues(t, 1, st.Todo)
		requireConsistent(t, h, alice)
	})
}

func TestScenarioB_BoxStats(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		box, err := h.Service.CreateBox(alice, "Team retro", "", true)
		require.NoError(t, err)

		anon1 := sb.NewAnonymousPrincipal(h.IDs)
		anon2 := sb.NewAnonymousPrincipal(h.IDs)
		_, err = h.Service.SubmitFeedback(anon1, box.Ref, h.Seal(t, anon1, "great sprint"),
			sb.PublicFields{Rating: 4, Sentiment: sb.SentimentPositive})
		require.NoError(t, err)
		_, err = h.Service.SubmitFeedback(anon2, box.Ref, h.Seal(t, anon2, "too many meetings"),
			sb.PublicFields{Sentiment: sb.SentimentNegative})
		require.NoError(t, err)

		st, err := h.Service.GetBoxStats(box.Ref)
		require.NoError(t, err)
		assert.EqualValues(t, 2, st.TotalSubmissions)
		assert.EqualValues(t, 2, st.UnreadCount)
		assert.EqualValues(t, 400, st.AvgRating)
		assert.EqualValues(t, 1, st.PositiveCount)
		assert.EqualValues(t, 1, st.NegativeCount)
		assert.EqualValues(t, 0, st.NeutralCount)
		requireConsistent(t, h, alice)
	})
}

func TestScenarioC_DeleteNeverReusesID(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		newTask(t, h, alice, "first", 1, sb.PublicFields{})
		t1 := newTask(t, h, alice, "second", 2, sb.PublicFields{})

		require.NoError(t, h.Service.DeleteTask(alice, t1.Ref()))

		_, err := h.Service.GetTask(alice, t1.Ref())
		assert.ErrorIs(t, err, sb.ErrNotFound)

		err = h.Service.DeleteTask(alice, t1.Ref())
		assert.ErrorIs(t, err, sb.ErrAlreadyDeleted)

		next := newTask(t, h, alice, "third", 1, sb.PublicFields{})
		assert.EqualValues(t, 2, next.ID)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 2, st.TotalTasks)
		assert.EqualValues(t, 2, st.TotalStorage)
		requireConsistent(t, h, alice)
	})
}

func TestScenarioD_GrantOutlivesRecord(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "plan", 2, sb.PublicFields{})

		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))

		shared, err := h.Service.ListSharedWith(bob)
		require.NoError(t, err)
		assert.Equal(t, []sb.RecordRef{r.Ref()}, shared)

		_, chunks, err := h.Service.GetSharedTaskContent(bob, r.Ref())
		require.NoError(t, err)
		text, err := h.Reveal(t, bob, chunks)
		require.NoError(t, err)
		assert.Equal(t, "plan part 0plan part 1", text)

		require.NoError(t, h.Service.DeleteTask(alice, r.Ref()))

		assert.NoError(t, h.Service.IsSharedWith(bob, r.Ref()))
		_, _, err = h.Service.GetSharedTaskContent(bob, r.Ref())
		assert.ErrorIs(t, err, sb.ErrNotFound)

		shared, err = h.Service.ListSharedWith(bob)
		require.NoError(t, err)
		assert.Empty(t, shared)
	})
}

func TestCreateTask_ChunkBoundary(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{MaxChunksPerRecord: 4})

		_, err := h.Service.CreateTask(alice, nil, sb.PublicFields{Title: "x"}, "")
		assert.ErrorIs(t, err, sb.ErrInvalidSize)

		r := newTask(t, h, alice, "at limit", 4, sb.PublicFields{})
		assert.Equal(t, 4, r.ChunkCount())

		_, err = h.Service.CreateTask(alice, h.Seal(t, alice, "1", "2", "3", "4", "5"), sb.PublicFields{Title: "x"}, "")
		assert.ErrorIs(t, err, sb.ErrInvalidSize)

		ids, err := h.Service.ListTasks(alice, sb.TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, ids, 1)
	})
}

func TestCreateTask_RoundTrip(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r, err := h.Service.CreateTask(alice, h.Seal(t, alice, "a", "b"),
			sb.PublicFields{Title: "  Buy milk ", Category: "home", Tags: []string{"errand", "errand", "food"}, Color: "blue"},
			sb.PriorityHigh)
		require.NoError(t, err)

		got, err := h.Service.GetTask(alice, r.Ref())
		require.NoError(t, err)
		assert.Equal(t, "Buy milk", got.Fields.Title)
		assert.Equal(t, "home", got.Fields.Category)
		assert.Equal(t, []string{"errand", "food"}, got.Fields.Tags)
		assert.Equal(t, "blue", got.Fields.Color)
		assert.Equal(t, sb.PriorityHigh, got.Priority)
		assert.Equal(t, sb.StatusTodo, got.Status)
		assert.Equal(t, 2, got.ChunkCount())
		assert.True(t, got.CreatedAt.Equal(h.Clock.Now()))

		assert.True(t, h.Copro.HasGrant(got.Ciphertext.Chunks()[0], alice))
	})
}

func TestCreateTask_FieldValidation(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{MaxTitleLength: 5, MaxTags: 2})

		tests := []struct {
			name   string
			fields sb.PublicFields
			want   error
		}{
			{name: "blank title", fields: sb.PublicFields{Title: "   "}, want: sb.ErrInvalidSize},
			{name: "long title", fields: sb.PublicFields{Title: "abcdef"}, want: sb.ErrInvalidSize},
			{name: "empty tag", fields: sb.PublicFields{Title: "ok", Tags: []string{""}}, want: sb.ErrInvalidValue},
			{name: "too many tags", fields: sb.PublicFields{Title: "ok", Tags: []string{"a", "b", "c"}}, want: sb.ErrInvalidSize},
		}
		for _, tt := range tests {
			_, err := h.Service.CreateTask(alice, h.Seal(t, alice, "x"), tt.fields, "")
			assert.ErrorIs(t, err, tt.want, tt.name)
		}

		_, err := h.Service.CreateTask(sb.NoOwner, h.Seal(t, sb.NoOwner, "x"), sb.PublicFields{Title: "ok"}, "")
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.Zero(t, st.TotalTasks)
	})
}

func TestCreateTask_Quota(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{MaxTasksPerOwner: 2})
		first := newTask(t, h, alice, "one", 1, sb.PublicFields{})
		newTask(t, h, alice, "two", 1, sb.PublicFields{})

		_, err := h.Service.CreateTask(alice, h.Seal(t, alice, "x"), sb.PublicFields{Title: "three"}, "")
		assert.ErrorIs(t, err, sb.ErrQuotaExceeded)

		// quota binds the live count, so deleting frees a slot
		require.NoError(t, h.Service.DeleteTask(alice, first.Ref()))
		r := newTask(t, h, alice, "three", 1, sb.PublicFields{})
		assert.EqualValues(t, 2, r.ID)

		// other owners are unaffected
		newTask(t, h, bob, "bob's", 1, sb.PublicFields{})
	})
}

func TestMutations_Authorization(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "mine", 1, sb.PublicFields{})
		ref := r.Ref()

		_, err := h.Service.SetStatus(bob, ref, sb.StatusCompleted)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
		_, err = h.Service.SetFlag(bob, ref, sb.FlagFavorite, true)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
		_, err = h.Service.UpdateTask(bob, ref, h.Seal(t, bob, "x"), sb.PublicFields{Title: "hijack"})
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
		assert.ErrorIs(t, h.Service.DeleteTask(bob, ref), sb.ErrUnauthorized)
		assert.ErrorIs(t, h.Service.ShareTask(bob, ref, carol), sb.ErrUnauthorized)
		assert.ErrorIs(t, h.Service.DeleteTask(sb.NoOwner, ref), sb.ErrUnauthorized)

		_, err = h.Service.GetTask(bob, ref)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)
		_, _, err = h.Service.GetTaskContent(bob, ref)
		assert.ErrorIs(t, err, sb.ErrNotShared)

		_, err = h.Service.SetStatus(alice, sb.TaskRef(alice, 99), sb.StatusCompleted)
		assert.ErrorIs(t, err, sb.ErrNotFound)
		_, err = h.Service.GetTask(alice, sb.FeedbackRef(sb.BoxRef{Owner: alice}, 0))
		assert.ErrorIs(t, err, sb.ErrNotFound)
	})
}

func TestSetStatusAndFlag_Idempotent(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "steady", 1, sb.PublicFields{})
		created := r.UpdatedAt

		before, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)

		h.Clock.Advance(time.Minute)
		_, err = h.Service.SetStatus(alice, r.Ref(), sb.StatusTodo)
		require.NoError(t, err)
		_, err = h.Service.SetFlag(alice, r.Ref(), sb.FlagArchived, false)
		require.NoError(t, err)
		_, err = h.Service.SetPriority(alice, r.Ref(), sb.PriorityMedium)
		require.NoError(t, err)

		got, err := h.Service.GetTask(alice, r.Ref())
		require.NoError(t, err)
		assert.True(t, got.UpdatedAt.Equal(created), "UpdatedAt moved on a no-op")

		after, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.True(t, after.UpdatedAt.Equal(before.UpdatedAt), "stats touched on a no-op")
		assert.Equal(t, before.Todo, after.Todo)

		_, err = h.Service.SetStatus(alice, r.Ref(), sb.StatusRead)
		assert.ErrorIs(t, err, sb.ErrInvalidValue)
		_, err = h.Service.SetFlag(alice, r.Ref(), sb.Flag("pinned"), true)
		assert.ErrorIs(t, err, sb.ErrInvalidValue)
	})
}

func TestFlags_CountersAndFilter(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		a := newTask(t, h, alice, "a", 1, sb.PublicFields{})
		b := newTask(t, h, alice, "b", 1, sb.PublicFields{})
		newTask(t, h, alice, "c", 1, sb.PublicFields{})

		_, err := h.Service.SetFlag(alice, a.Ref(), sb.FlagArchived, true)
		require.NoError(t, err)
		_, err = h.Service.SetFlag(alice, b.Ref(), sb.FlagFavorite, true)
		require.NoError(t, err)
		_, err = h.Service.SetStatus(alice, b.Ref(), sb.StatusInProgress)
		require.NoError(t, err)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.Archived)
		assert.EqualValues(t, 1, st.Favorite)
		assert.EqualValues(t, 1, st.InProgress)

		visible, err := h.Service.ListTasks(alice, sb.TaskFilter{})
		require.NoError(t, err)
		assert.Len(t, visible, 2)

		all, err := h.Service.ListTasks(alice, sb.TaskFilter{IncludeArchived: true})
		require.NoError(t, err)
		assert.Len(t, all, 3)

		favs, err := h.Service.ListTasks(alice, sb.TaskFilter{FavoritesOnly: true, Status: sb.StatusInProgress})
		require.NoError(t, err)
		require.Len(t, favs, 1)
		assert.Equal(t, b.ID, favs[0].ID)

		// deleting a flagged task releases its flag counters
		require.NoError(t, h.Service.DeleteTask(alice, a.Ref()))
		require.NoError(t, h.Service.DeleteTask(alice, b.Ref()))
		st, err = h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.Zero(t, st.Archived)
		assert.Zero(t, st.Favorite)
		assert.Zero(t, st.InProgress)
		requireConsistent(t, h, alice)
	})
}

func TestUpdateTask_StorageAndRegrant(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "draft", 3, sb.PublicFields{})
		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))

		h.Clock.Advance(time.Minute)
		up, err := h.Service.UpdateTask(alice, r.Ref(), h.Seal(t, alice, "final"), sb.PublicFields{Title: "final"})
		require.NoError(t, err)
		assert.Equal(t, 1, up.ChunkCount())
		assert.True(t, up.UpdatedAt.After(up.CreatedAt))

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.EqualValues(t, 1, st.TotalStorage)

		_, chunks, err := h.Service.GetSharedTaskContent(bob, r.Ref())
		require.NoError(t, err)
		text, err := h.Reveal(t, bob, chunks)
		require.NoError(t, err)
		assert.Equal(t, "final", text)

		_, err = h.Service.UpdateTask(alice, r.Ref(), nil, sb.PublicFields{Title: "empty"})
		assert.ErrorIs(t, err, sb.ErrInvalidSize)
		requireConsistent(t, h, alice)
	})
}

func TestIndex_StaleEntriesFilteredOnRead(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "groceries", 1, sb.PublicFields{Category: "home", Tags: []string{"errand"}})
		other := newTask(t, h, alice, "taxes", 1, sb.PublicFields{Category: "home"})

		_, err := h.Service.UpdateTask(alice, r.Ref(), h.Seal(t, alice, "x"), sb.PublicFields{Title: "groceries", Category: "work", Tags: []string{"urgent"}})
		require.NoError(t, err)

		// the old bucket still names the record
		ids, err := h.Service.LookupIndex(alice, sb.IndexCategory, "home")
		require.NoError(t, err)
		assert.ElementsMatch(t, []uint64{r.ID, other.ID}, ids)

		home, err := h.Service.ListTasksByCategory(alice, "home")
		require.NoError(t, err)
		require.Len(t, home, 1)
		assert.Equal(t, other.ID, home[0].ID)

		work, err := h.Service.ListTasksByCategory(alice, "work")
		require.NoError(t, err)
		require.Len(t, work, 1)

		errands, err := h.Service.ListTasksByTag(alice, "errand")
		require.NoError(t, err)
		assert.Empty(t, errands)

		require.NoError(t, h.Service.DeleteTask(alice, other.Ref()))
		home, err = h.Service.ListTasksByCategory(alice, "home")
		require.NoError(t, err)
		assert.Empty(t, home)

		bobs, err := h.Service.ListTasksByCategory(bob, "work")
		require.NoError(t, err)
		assert.Empty(t, bobs)
	})
}

func TestShareTask_Grantees(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "shared", 2, sb.PublicFields{})

		assert.ErrorIs(t, h.Service.ShareTask(alice, r.Ref(), alice), sb.ErrInvalidGrantee)
		assert.ErrorIs(t, h.Service.ShareTask(alice, r.Ref(), sb.NoOwner), sb.ErrInvalidGrantee)
		assert.ErrorIs(t, h.Service.IsSharedWith(bob, r.Ref()), sb.ErrNotShared)

		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))
		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))
		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), carol))

		for _, c := range r.Ciphertext.Chunks() {
			assert.True(t, h.Copro.HasGrant(c, bob))
			assert.True(t, h.Copro.HasGrant(c, carol))
		}

		shared, err := h.Service.ListSharedWith(bob)
		require.NoError(t, err)
		assert.Len(t, shared, 1)

		grantees, err := h.Service.Grantees(alice, r.Ref())
		require.NoError(t, err)
		assert.Equal(t, []sb.Principal{bob, carol}, grantees)
		_, err = h.Service.Grantees(bob, r.Ref())
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		got, err := h.Service.GetTask(bob, r.Ref())
		require.NoError(t, err)
		assert.Equal(t, "shared", got.Fields.Title)

		// grantees cannot mutate
		_, err = h.Service.SetStatus(bob, r.Ref(), sb.StatusCompleted)
		assert.ErrorIs(t, err, sb.ErrUnauthorized)

		// the owner's own content path needs no grant
		_, _, err = h.Service.GetSharedTaskContent(alice, r.Ref())
		assert.ErrorIs(t, err, sb.ErrNotShared)
		_, _, err = h.Service.GetTaskContent(alice, r.Ref())
		assert.NoError(t, err)
	})
}

func TestSharedWith_StopsEarly(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		for i := range 3 {
			r := newTask(t, h, alice, fmt.Sprintf("t%d", i), 1, sb.PublicFields{})
			require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))
		}

		var seen []uint64
		for ref, err := range h.Service.SharedWith(bob) {
			require.NoError(t, err)
			seen = append(seen, ref.ID)
			if len(seen) == 2 {
				break
			}
		}
		assert.Equal(t, []uint64{0, 1}, seen)
	})
}

func TestAtomicity_FailedGrantRollsBack(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		sealed := h.Seal(t, alice, "a", "b", "c")

		// the third grant of the create fails after the record, index, and stats were written
		h.Copro.FailGrantAfter = h.Copro.GrantCalls() + 3
		_, err := h.Service.CreateTask(alice, sealed, sb.PublicFields{Title: "doomed", Category: "home"}, "")
		require.Error(t, err)

		tasks, err := h.Service.ListTasks(alice, sb.TaskFilter{IncludeArchived: true})
		require.NoError(t, err)
		assert.Empty(t, tasks)

		ids, err := h.Service.LookupIndex(alice, sb.IndexCategory, "home")
		require.NoError(t, err)
		assert.Empty(t, ids)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.Zero(t, st.TotalTasks)
		assert.Zero(t, st.TotalStorage)

		h.Copro.FailGrantAfter = 0
		r := newTask(t, h, alice, "survivor", 1, sb.PublicFields{})
		assert.EqualValues(t, 0, r.ID, "failed create must not consume an id")

		// a rejected share leaves no edge
		require.Error(t, h.Service.ShareTask(carol, r.Ref(), bob))
		assert.ErrorIs(t, h.Service.IsSharedWith(bob, r.Ref()), sb.ErrNotShared)
		requireConsistent(t, h, alice)
	})
}

func TestShareTask_RightsNeverOutrunLedger(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		r := newTask(t, h, alice, "secret", 2, sb.PublicFields{})
		chunks := r.Ciphertext.Chunks()

		// the rejected share pushes no rights at all
		require.Error(t, h.Service.ShareTask(bob, r.Ref(), carol))
		assert.False(t, h.Copro.HasGrant(chunks[0], carol))

		// the coprocessor fails on the first chunk of the share
		h.Copro.FailGrantAfter = h.Copro.GrantCalls() + 1
		require.Error(t, h.Service.ShareTask(alice, r.Ref(), bob))
		h.Copro.FailGrantAfter = 0
		assert.False(t, h.Copro.HasGrant(chunks[0], bob))
		assert.False(t, h.Copro.HasGrant(chunks[1], bob))
		_, err := h.Reveal(t, bob, chunks[:1])
		assert.Error(t, err)

		// the coprocessor fails on the second chunk: bob holds a right on
		// chunk 0 only because the edge was recorded first
		h.Copro.FailGrantAfter = h.Copro.GrantCalls() + 2
		require.Error(t, h.Service.ShareTask(alice, r.Ref(), carol))
		h.Copro.FailGrantAfter = 0
		assert.True(t, h.Copro.HasGrant(chunks[0], carol))
		assert.False(t, h.Copro.HasGrant(chunks[1], carol))
		assert.NoError(t, h.Service.IsSharedWith(carol, r.Ref()))

		// sharing again completes both shares
		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), bob))
		require.NoError(t, h.Service.ShareTask(alice, r.Ref(), carol))
		for _, c := range chunks {
			assert.True(t, h.Copro.HasGrant(c, bob))
			assert.True(t, h.Copro.HasGrant(c, carol))
		}
		got, err := h.Reveal(t, bob, chunks)
		require.NoError(t, err)
		assert.Equal(t, "secret part 0secret part 1", got)
		requireConsistent(t, h, alice)
	})
}

func TestAtomicity_FailedIngestWritesNothing(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		h.Copro.FailIngest = fmt.Errorf("coprocessor offline")

		_, err := h.Service.CreateTask(alice, h.Seal(t, alice, "x"), sb.PublicFields{Title: "x"}, "")
		require.Error(t, err)

		st, err := h.Service.GetOwnerStats(alice)
		require.NoError(t, err)
		assert.Zero(t, st.TotalTasks)
	})
}

func TestIngest_RejectsForeignProof(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		h := testutil.NewHarness(t, db, sb.Limits{})
		_, err := h.Service.CreateTask(alice, h.Seal(t, bob, "x"), sb.PublicFields{Title: "x"}, "")
		assert.Error(t, err)
	})
}
