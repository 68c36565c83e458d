package storage

import (
	"fmt"
	"path/filepath"
	"testing"

	"orderintake/internal"
)

func TestRunLedger(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "data", "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	for i := 0; i < 3; i++ {
		run := internal.RunRecord{
			RunID:        fmt.Sprintf("run-%d", i),
			SourceFile:   "order.xlsx",
			SourceHash:   "abc",
			Status:       "success",
			FormatType:   "purchase_order_kr",
			ItemCount:    i + 1,
			WarningCount: 0,
			OutputPath:   fmt.Sprintf("out/order_%d.json", i),
			CreatedAt:    fmt.Sprintf("2024-03-0%dT00:00:00Z", i+1),
		}
		if err := db.InsertRun(run); err != nil {
			t.Fatal(err)
		}
	}
	failed := internal.RunRecord{
		RunID:       "run-failed",
		SourceFile:  "missing.xlsx",
		Status:      "failed",
		FailedStage: "LOADED",
		Error:       "source unavailable",
		CreatedAt:   "2024-03-09T00:00:00Z",
	}
	if err := db.InsertRun(failed); err != nil {
		t.Fatal(err)
	}

	runs, err := db.ListRuns(2)
	if err != nil {
		t.Fatal(err)
	}
	if len(runs) != 2 || runs[0].RunID != "run-failed" || runs[1].RunID != "run-2" {
		t.Fatalf("runs = %+v", runs)
	}

	got, err := db.GetRun("run-failed")
	if err != nil {
		t.Fatal(err)
	}
	if got == nil || *got != failed {
		t.Fatalf("got %+v want %+v", got, failed)
	}
	if missing, err := db.GetRun("nope"); err != nil || missing != nil {
		t.Fatalf("missing run = %+v, %v", missing, err)
	}

	latest, err := db.FindBySourceHash("abc")
	if err != nil {
		t.Fatal(err)
	}
	if latest == nil || latest.RunID != "run-2" {
		t.Fatalf("latest = %+v", latest)
	}
	if none, err := db.FindBySourceHash("zzz"); err != nil || none != nil {
		t.Fatalf("unknown hash = %+v, %v", none, err)
	}

	if err := db.InsertRun(failed); err == nil {
		t.Fatal("duplicate run id accepted")
	}
}

func TestOpenReusesSchema(t *testing.T) {
	path := filepath.Join(t.TempDir(), "runs.db")
	for i := 0; i < 2; i++ {
		db, err := Open(path)
		if err != nil {
			t.Fatal(err)
		}
		if err := db.Close(); err != nil {
			t.Fatal(err)
		}
	}
}

func TestRunsOrderedByInstant(t *testing.T) {
	db, err := Open(filepath.Join(t.TempDir(), "runs.db"))
	if err != nil {
		t.Fatal(err)
	}
	defer db.Close()

	// inserted newest first; "05.12" sorts before "05.1Z" as text
	for _, run := range []internal.RunRecord{
		{RunID: "newer", SourceFile: "a.xlsx", SourceHash: "h", Status: "success", CreatedAt: "2024-01-01T00:00:05.12Z"},
		{RunID: "older", SourceFile: "a.xlsx", SourceHash: "h", Status: "success", CreatedAt: "2024-01-01T00:00:05.1Z"},
		{RunID: "oldest", SourceFile: "a.xlsx", SourceHash: "h", Status: "success", CreatedAt: "2024-01-01T09:00:04+09:00"},
	} {
		if err := db.InsertRun(run); err != nil {
			t.Fatal(err)
		}
	}

	runs, err := db.ListRuns(10)
	if err != nil {
		t.Fatal(err)
	}
	var ids []string
	for _, r := range runs {
		ids = append(ids, r.RunID)
	}
	if fmt.Sprint(ids) != "[newer older oldest]" {
		t.Fatalf("order = %v", ids)
	}

	latest, err := db.FindBySourceHash("h")
	if err != nil || latest == nil || latest.RunID != "newer" {
		t.Fatalf("latest = %+v, %v", latest, err)
	}

	if err := db.InsertRun(internal.RunRecord{RunID: "bad", SourceFile: "a.xlsx", Status: "success", CreatedAt: "yesterday"}); err == nil {
		t.Fatal("unparseable createdAt accepted")
	}
}
