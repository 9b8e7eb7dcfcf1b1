package shell

import (
	"errors"
	"testing"
	"time"
)

func TestNewHistory(t *testing.T) {
	h := NewHistory(nil)
	if h == nil {
		t.Fatal("expected non-nil history")
	}
	if h.entries == nil {
		t.Error("expected initialized entries map")
	}
	if h.ttl != DefaultHistoryTTL {
		t.Errorf("expected default TTL %v, got %v", DefaultHistoryTTL, h.ttl)
	}
	h.StopSweeper()
}

func TestHistoryRecordAndListForName(t *testing.T) {
	h := NewHistory(nil)
	defer h.StopSweeper()

	start := time.Now().Add(-time.Second)
	end := time.Now()
	h.Record("worker", "sh -c run.sh", "/tmp", start, end, 0, nil, "done\n", "")

	recs := h.ListForName("worker")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].ReturnCode != 0 || recs[0].StdoutTail != "done\n" {
		t.Errorf("unexpected record: %+v", recs[0])
	}
}

func TestHistoryRecordCapturesWaitErr(t *testing.T) {
	h := NewHistory(nil)
	defer h.StopSweeper()

	h.Record("failed", "sh -c 'exit 1'", "", time.Now(), time.Now(), 1, errors.New("exit status 1"), "", "boom")

	recs := h.ListForName("failed")
	if len(recs) != 1 {
		t.Fatalf("expected 1 record, got %d", len(recs))
	}
	if recs[0].WaitErr != "exit status 1" {
		t.Errorf("expected wait error to be recorded, got %q", recs[0].WaitErr)
	}
}

func TestHistoryListAllAcrossNames(t *testing.T) {
	h := NewHistory(nil)
	defer h.StopSweeper()

	h.Record("a", "cmd-a", "", time.Now(), time.Now(), 0, nil, "", "")
	h.Record("b", "cmd-b", "", time.Now(), time.Now(), 0, nil, "", "")

	all := h.ListAll()
	if len(all) != 2 {
		t.Fatalf("expected 2 records across names, got %d", len(all))
	}
}

func TestHistoryPruneRemovesExpiredEntries(t *testing.T) {
	h := NewHistory(nil)
	h.ttl = time.Millisecond
	defer h.StopSweeper()

	h.Record("stale", "cmd", "", time.Now(), time.Now().Add(-time.Hour), 0, nil, "", "")
	h.prune()

	if recs := h.ListForName("stale"); len(recs) != 0 {
		t.Errorf("expected expired entry to be pruned, got %v", recs)
	}
}

func TestClampTTL(t *testing.T) {
	if got := ClampTTL(time.Second); got != MinHistoryTTL {
		t.Errorf("expected ClampTTL to floor at MinHistoryTTL, got %v", got)
	}
	if got := ClampTTL(24 * time.Hour); got != MaxHistoryTTL {
		t.Errorf("expected ClampTTL to cap at MaxHistoryTTL, got %v", got)
	}
}

func TestHistoryClear(t *testing.T) {
	h := NewHistory(nil)
	defer h.StopSweeper()

	h.Record("a", "cmd-a", "", time.Now(), time.Now(), 0, nil, "", "")
	h.Clear()

	if all := h.ListAll(); len(all) != 0 {
		t.Errorf("expected no records after Clear, got %v", all)
	}
}

func TestTailTruncatesToLastNChars(t *testing.T) {
	if got := Tail("hello world", 5); got != "world" {
		t.Errorf("expected %q, got %q", "world", got)
	}
	if got := Tail("hi", 5); got != "hi" {
		t.Errorf("expected short text unchanged, got %q", got)
	}
}
