package sb_test

import (
	"fmt"
	"sync/atomic"
	"testing"

	"pgregory.net/rapid"

	"sealbox/internal/sb"
	"sealbox/internal/testutil"
)

var runs atomic.Int64

// model tracks what the store should hold so random operation sequences can
// be checked against it.
type model struct {
	live    map[sb.RecordRef]int // chunk count of each live task
	deleted []sb.RecordRef
	next    map[sb.Principal]uint64
}

func randomOps(t *testing.T, db sb.Database) func(*rapid.T) {
	return func(rt *rapid.T) {
		h := testutil.NewHarness(t, db, sb.Limits{MaxChunksPerRecord: 4, MaxTasksPerOwner: 6})
		// the database is shared across iterations, so work under fresh owners
		run := runs.Add(1)
		owners := []sb.Principal{
			sb.Principal(fmt.Sprintf("alice-%d", run)),
			sb.Principal(fmt.Sprintf("bob-%d", run)),
		}
		m := model{live: map[sb.RecordRef]int{}, next: map[sb.Principal]uint64{}}

		steps := rapid.IntRange(1, 40).Draw(rt, "steps")
		for i := range steps {
			owner := rapid.SampledFrom(owners).Draw(rt, "owner")
			switch op := rapid.IntRange(0, 5).Draw(rt, "op"); op {
			case 0, 1:
				n := rapid.IntRange(0, 5).Draw(rt, "chunks")
				texts := make([]string, n)
				for j := range texts {
					texts[j] = fmt.Sprintf("step %d chunk %d", i, j)
				}
				r, err := h.Service.CreateTask(owner, h.Seal(t, owner, texts...), sb.PublicFields{Title: "t"}, "")
				liveCount := 0
				for ref := range m.live {
					if ref.Collection.Owner == owner {
						liveCount++
					}
				}
				switch {
				case n == 0 || n > 4:
					if err == nil {
						rt.Fatalf("create with %d chunks succeeded", n)
					}
				case liveCount >= 6:
					if err == nil {
						rt.Fatalf("create over quota succeeded")
					}
				default:
					if err != nil {
						rt.Fatalf("create: %v", err)
					}
					if r.ID != m.next[owner] {
						rt.Fatalf("create got id %d, want %d", r.ID, m.next[owner])
					}
					m.next[owner]++
					m.live[r.Ref()] = n
				}
			case 2:
				ref, ok := pick(rt, m, owner)
				if !ok {
					continue
				}
				st := rapid.SampledFrom([]sb.Status{sb.StatusTodo, sb.StatusInProgress, sb.StatusCompleted}).Draw(rt, "status")
				if _, err := h.Service.SetStatus(owner, ref, st); err != nil {
					rt.Fatalf("set status: %v", err)
				}
			case 3:
				ref, ok := pick(rt, m, owner)
				if !ok {
					continue
				}
				f := rapid.SampledFrom([]sb.Flag{sb.FlagArchived, sb.FlagFavorite}).Draw(rt, "flag")
				if _, err := h.Service.SetFlag(owner, ref, f, rapid.Bool().Draw(rt, "on")); err != nil {
					rt.Fatalf("set flag: %v", err)
				}
			case 4:
				ref, ok := pick(rt, m, owner)
				if !ok {
					continue
				}
				n := rapid.IntRange(1, 4).Draw(rt, "new chunks")
				texts := make([]string, n)
				for j := range texts {
					texts[j] = fmt.Sprintf("update %d chunk %d", i, j)
				}
				if _, err := h.Service.UpdateTask(owner, ref, h.Seal(t, owner, texts...), sb.PublicFields{Title: "u"}); err != nil {
					rt.Fatalf("update: %v", err)
				}
				m.live[ref] = n
			case 5:
				ref, ok := pick(rt, m, owner)
				if !ok {
					continue
				}
				if err := h.Service.DeleteTask(owner, ref); err != nil {
					rt.Fatalf("delete: %v", err)
				}
				delete(m.live, ref)
				m.deleted = append(m.deleted, ref)
			}

			for _, o := range owners {
				checkOwner(rt, h, m, o)
			}
		}

		for _, ref := range m.deleted {
			if _, err := h.Service.GetTask(ref.Collection.Owner, ref); err == nil {
				rt.Fatalf("deleted %s still readable", ref)
			}
		}
	}
}

func pick(rt *rapid.T, m model, owner sb.Principal) (sb.RecordRef, bool) {
	var refs []sb.RecordRef
	for id := range m.next[owner] {
		ref := sb.TaskRef(owner, id)
		if _, ok := m.live[ref]; ok {
			refs = append(refs, ref)
		}
	}
	if len(refs) == 0 {
		return sb.RecordRef{}, false
	}
	return rapid.SampledFrom(refs).Draw(rt, "task"), true
}

func checkOwner(rt *rapid.T, h *testutil.Harness, m model, owner sb.Principal) {
	st, err := h.Service.GetOwnerStats(owner)
	if err != nil {
		rt.Fatalf("stats: %v", err)
	}
	if err := st.Check(); err != nil {
		rt.Fatalf("invariant: %v", err)
	}

	var tasks, storage int64
	for ref, n := range m.live {
		if ref.Collection.Owner == owner {
			tasks++
			storage += int64(n)
		}
	}
	if st.TotalTasks != tasks {
		rt.Fatalf("%s total_tasks = %d, want %d", owner, st.TotalTasks, tasks)
	}
	if st.TotalStorage != storage {
		rt.Fatalf("%s total_storage = %d, want %d", owner, st.TotalStorage, storage)
	}
	if err := h.Service.VerifyOwnerStats(owner); err != nil {
		rt.Fatalf("verify: %v", err)
	}
}

func TestProperty_CountersMatchLiveRecords(t *testing.T) {
	testutil.Backends(t, func(t *testing.T, db sb.Database) {
		rapid.Check(t, randomOps(t, db))
	})
}
