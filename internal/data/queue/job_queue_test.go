package queue

import (
	"context"
	"errors"
	"fmt"
	"io"
	"testing"
	"time"

	"zira/internal/core/jobs"

	"pgregory.net/rapid"
)

func lintJob(id string, slot int) jobs.Job {
	return jobs.Job{
		ID:      id,
		Kind:    jobs.KindLint,
		Owner:   jobs.Owner{Slot: slot, Generation: uint64(slot + 1)},
		Replace: true,
	}
}

func TestJobQueue_PushClaimOrder(t *testing.T) {
	q := NewJobQueue()
	t.Cleanup(func() { q.Close() })

	for _, id := range []string{"a", "b", "c"} {
		if _, _, err := q.Push(jobs.Job{ID: id, Kind: jobs.KindExternalCommand}); err != nil {
			t.Fatalf("push %s failed: %v", id, err)
		}
	}

	for _, want := range []string{"a", "b", "c"} {
		job, _, err := q.Claim(context.Background())
		if err != nil {
			t.Fatalf("claim failed: %v", err)
		}
		if job.ID != want {
			t.Fatalf("expected %s, got %s", want, job.ID)
		}
		q.Finish(job.ID)
	}
}

func TestJobQueue_AssignsSequence(t *testing.T) {
	q := NewJobQueue()
	first, _, _ := q.Push(jobs.Job{ID: "a", Kind: jobs.KindCustom})
	second, _, _ := q.Push(jobs.Job{ID: "b", Kind: jobs.KindCustom})
	if first.Seq == 0 || second.Seq <= first.Seq {
		t.Fatalf("expected increasing sequence, got %d then %d", first.Seq, second.Seq)
	}
	if first.SubmittedAt.IsZero() {
		t.Fatal("expected submission time to be stamped")
	}
}

func TestJobQueue_ReplaceLatestSupersedes(t *testing.T) {
	q := NewJobQueue()
	t.Cleanup(func() { q.Close() })

	_, _, _ = q.Push(lintJob("old", 1))
	_, _, _ = q.Push(jobs.Job{ID: "other", Kind: jobs.KindExternalCommand})
	_, superseded, err := q.Push(lintJob("new", 1))
	if err != nil {
		t.Fatalf("push failed: %v", err)
	}
	if len(superseded) != 1 || superseded[0].ID != "old" {
		t.Fatalf("expected old job superseded, got %#v", superseded)
	}

	pending := q.Pending()
	if len(pending) != 2 || pending[0].ID != "other" || pending[1].ID != "new" {
		t.Fatalf("expected newer submission at its own FIFO position, got %#v", pending)
	}
}

func TestJobQueue_ReplaceKeepsOtherOwners(t *testing.T) {
	q := NewJobQueue()
	_, _, _ = q.Push(lintJob("tab1", 1))
	_, superseded, _ := q.Push(lintJob("tab2", 2))
	if len(superseded) != 0 {
		t.Fatalf("expected no supersede across owners, got %#v", superseded)
	}
	if q.Len() != 2 {
		t.Fatalf("expected 2 pending, got %d", q.Len())
	}
}

func TestJobQueue_FIFOKindDoesNotSupersede(t *testing.T) {
	q := NewJobQueue()
	owner := jobs.Owner{Slot: 0, Generation: 1}
	_, _, _ = q.Push(jobs.Job{ID: "git1", Kind: jobs.KindVcsCommand, Owner: owner})
	_, superseded, _ := q.Push(jobs.Job{ID: "git2", Kind: jobs.KindVcsCommand, Owner: owner})
	if len(superseded) != 0 || q.Len() != 2 {
		t.Fatalf("expected FIFO queueing, superseded=%v len=%d", superseded, q.Len())
	}
}

func TestJobQueue_OnlyOneActive(t *testing.T) {
	q := NewJobQueue()
	t.Cleanup(func() { q.Close() })
	_, _, _ = q.Push(jobs.Job{ID: "a", Kind: jobs.KindCustom})
	_, _, _ = q.Push(jobs.Job{ID: "b", Kind: jobs.KindCustom})

	first, _, err := q.Claim(context.Background())
	if err != nil || first.ID != "a" {
		t.Fatalf("expected a, got %v %v", first.ID, err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	if _, _, err := q.Claim(ctx); !errors.Is(err, context.DeadlineExceeded) {
		t.Fatalf("expected second claim to wait while a is active, got %v", err)
	}

	q.Finish(first.ID)
	second, _, err := q.Claim(context.Background())
	if err != nil || second.ID != "b" {
		t.Fatalf("expected b after finish, got %v %v", second.ID, err)
	}
}

func TestJobQueue_CancelPendingAndActive(t *testing.T) {
	q := NewJobQueue()
	t.Cleanup(func() { q.Close() })
	_, _, _ = q.Push(jobs.Job{ID: "a", Kind: jobs.KindCustom})
	_, _, _ = q.Push(jobs.Job{ID: "b", Kind: jobs.KindCustom})

	_, jobCtx, err := q.Claim(context.Background())
	if err != nil {
		t.Fatalf("claim failed: %v", err)
	}

	if got := q.Cancel("b"); got != CancelRemoved {
		t.Fatalf("expected pending cancel to remove, got %s", got)
	}
	if q.Len() != 0 {
		t.Fatalf("expected empty queue, got %d", q.Len())
	}

	if got := q.Cancel("a"); got != CancelSignalled {
		t.Fatalf("expected active cancel to signal, got %s", got)
	}
	select {
	case <-jobCtx.Done():
	default:
		t.Fatal("expected job context to be cancelled")
	}
	if !errors.Is(context.Cause(jobCtx), ErrJobCancelled) {
		t.Fatalf("expected ErrJobCancelled cause, got %v", context.Cause(jobCtx))
	}

	q.Finish("a")
	if got := q.Cancel("a"); got != CancelNoop {
		t.Fatalf("expected cancel after finish to be a no-op, got %s", got)
	}
}

func TestJobQueue_CloseReturnsEOFAndDropsPending(t *testing.T) {
	q := NewJobQueue()
	_, _, _ = q.Push(jobs.Job{ID: "a", Kind: jobs.KindCustom})
	_, _, _ = q.Push(jobs.Job{ID: "b", Kind: jobs.KindCustom})
	_, jobCtx, _ := q.Claim(context.Background())

	dropped := q.Close()
	if len(dropped) != 1 || dropped[0].ID != "b" {
		t.Fatalf("expected b dropped, got %#v", dropped)
	}
	if !errors.Is(context.Cause(jobCtx), ErrClosed) {
		t.Fatalf("expected active job cancelled by close, got %v", context.Cause(jobCtx))
	}
	q.Finish("a")

	if _, _, err := q.Claim(context.Background()); err != io.EOF {
		t.Fatalf("expected io.EOF on closed queue, got %v", err)
	}
	if _, _, err := q.Push(jobs.Job{ID: "c"}); !errors.Is(err, ErrClosed) {
		t.Fatalf("expected ErrClosed on push after close, got %v", err)
	}
}

// For any interleaving of submissions per owner, only the last unclaimed
// job of each replace-latest (kind, owner) survives, and FIFO kinds keep
// every submission.
func TestJobQueue_SupersedeProperty(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		q := NewJobQueue()
		n := rapid.IntRange(1, 40).Draw(t, "n")

		lastLint := map[int]string{}
		fifo := 0
		for i := 0; i < n; i++ {
			slot := rapid.IntRange(0, 3).Draw(t, "slot")
			replace := rapid.Bool().Draw(t, "replace")
			id := fmt.Sprintf("j%d", i)
			if replace {
				_, _, _ = q.Push(lintJob(id, slot))
				lastLint[slot] = id
			} else {
				_, _, _ = q.Push(jobs.Job{ID: id, Kind: jobs.KindVcsCommand, Owner: jobs.Owner{Slot: slot, Generation: 1}})
				fifo++
			}
		}

		pending := q.Pending()
		if len(pending) != len(lastLint)+fifo {
			t.Fatalf("expected %d pending, got %d", len(lastLint)+fifo, len(pending))
		}
		var prev uint64
		for _, job := range pending {
			if job.Seq <= prev {
				t.Fatalf("pending order not FIFO by seq: %#v", pending)
			}
			prev = job.Seq
			if job.Kind == jobs.KindLint && lastLint[job.Owner.Slot] != job.ID {
				t.Fatalf("stale lint %s survived for slot %d", job.ID, job.Owner.Slot)
			}
		}
	})
}
