package pipeline

import (
	"bufio"
	"bytes"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/aluiziolira/go-scrape-reviews/models"
	"github.com/aluiziolira/go-scrape-reviews/parser"
)

func decodeLines(t *testing.T, buf *bytes.Buffer) []map[string]any {
	t.Helper()
	var out []map[string]any
	scanner := bufio.NewScanner(bytes.NewReader(buf.Bytes()))
	for scanner.Scan() {
		var line map[string]any
		if err := json.Unmarshal(scanner.Bytes(), &line); err != nil {
			t.Fatalf("decode %q: %v", scanner.Text(), err)
		}
		out = append(out, line)
	}
	return out
}

func TestRunLogLifecycle(t *testing.T) {
	var lifecycle, errs bytes.Buffer
	l := NewRunLog(&lifecycle, &errs)

	l.Begin(models.ProductRef{ID: "p1", MediaType: "games"})
	if entry, ok := l.Entry("p1"); !ok || entry.Status != models.StatusPending {
		t.Fatalf("entry = %+v, want pending", entry)
	}

	l.Start("p1", "Game", 2)
	if err := l.Record("p1", "r1", nil); err != nil {
		t.Fatalf("record r1: %v", err)
	}
	if err := l.Record("p1", "r2", &PersistenceError{Tier: parser.TierRaw, Err: errors.New("boom")}); err != nil {
		t.Fatalf("record r2: %v", err)
	}

	done := l.Finish("p1")
	if done.Status != models.StatusDone || done.Success != 1 || done.Failed != 1 || done.Total != 2 {
		t.Fatalf("finished entry = %+v, want done 1/1 of 2", done)
	}

	lines := decodeLines(t, &lifecycle)
	wantMsgs := []string{"product pending", "product processing", "review saved", "product done"}
	if len(lines) != len(wantMsgs) {
		t.Fatalf("lifecycle lines = %d, want %d: %s", len(lines), len(wantMsgs), lifecycle.String())
	}
	for i, msg := range wantMsgs {
		if lines[i]["msg"] != msg {
			t.Fatalf("line %d msg = %v, want %q", i, lines[i]["msg"], msg)
		}
	}
	if lines[2]["key"] != "r1" {
		t.Fatalf("saved key = %v, want r1", lines[2]["key"])
	}
	if lines[3]["total_data"] != float64(2) {
		t.Fatalf("total_data = %v, want 2", lines[3]["total_data"])
	}

	errLines := decodeLines(t, &errs)
	if len(errLines) != 1 {
		t.Fatalf("error lines = %d, want 1", len(errLines))
	}
	if errLines[0]["reason"] != "persistence" || errLines[0]["key"] != "r2" {
		t.Fatalf("error line = %v", errLines[0])
	}
}

func TestRunLogRejectsOverflow(t *testing.T) {
	var lifecycle, errs bytes.Buffer
	l := NewRunLog(&lifecycle, &errs)

	l.Begin(models.ProductRef{ID: "p1"})
	if err := l.Record("p1", "early", nil); !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("record before start = %v, want ErrCounterOverflow", err)
	}

	l.Start("p1", "App", 1)
	if err := l.Record("p1", "r1", nil); err != nil {
		t.Fatalf("record r1: %v", err)
	}
	if err := l.Record("p1", "r2", nil); !errors.Is(err, ErrCounterOverflow) {
		t.Fatalf("record past total = %v, want ErrCounterOverflow", err)
	}

	entry, _ := l.Entry("p1")
	if entry.Success != 1 || entry.Failed != 0 {
		t.Fatalf("entry = %+v, want 1 success", entry)
	}
}

func TestRunLogSkipKeepsPending(t *testing.T) {
	var lifecycle, errs bytes.Buffer
	l := NewRunLog(&lifecycle, &errs)

	l.Begin(models.ProductRef{ID: "p2"})
	l.Skip("p2", &parser.NormalizationError{ProductID: "p2", Field: "detail", Err: errors.New("bad")})

	entry, ok := l.Entry("p2")
	if !ok || entry.Status != models.StatusPending || entry.Error == "" {
		t.Fatalf("entry = %+v, want pending with error", entry)
	}

	errLines := decodeLines(t, &errs)
	if len(errLines) != 1 || errLines[0]["reason"] != "normalization" {
		t.Fatalf("error lines = %v", errLines)
	}
}

func TestRunLogEntriesSorted(t *testing.T) {
	var lifecycle, errs bytes.Buffer
	l := NewRunLog(&lifecycle, &errs)
	for _, id := range []string{"c", "a", "b"} {
		l.Begin(models.ProductRef{ID: id})
	}

	entries := l.Entries()
	if len(entries) != 3 || entries[0].ProductID != "a" || entries[2].ProductID != "c" {
		t.Fatalf("entries = %+v, want sorted a..c", entries)
	}
}

func TestOpenRunLogAppends(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "logs")

	for i := 0; i < 2; i++ {
		l, err := OpenRunLog(dir)
		if err != nil {
			t.Fatalf("open run log: %v", err)
		}
		l.Begin(models.ProductRef{ID: "p1"})
		if err := l.Close(); err != nil {
			t.Fatalf("close run log: %v", err)
		}
	}

	data, err := os.ReadFile(filepath.Join(dir, "lifecycle.jsonl"))
	if err != nil {
		t.Fatalf("read lifecycle: %v", err)
	}
	if got := bytes.Count(data, []byte("\n")); got != 2 {
		t.Fatalf("lifecycle lines = %d, want 2", got)
	}
	if _, err := os.Stat(filepath.Join(dir, "errors.jsonl")); err != nil {
		t.Fatalf("errors.jsonl missing: %v", err)
	}
}
