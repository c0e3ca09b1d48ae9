package gitrepo

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"
)

func TestRecordLifecycle(t *testing.T) {
	tempDir := t.TempDir()
	svc := New(tempDir)

	first, err := svc.Record(Record{
		DocumentID: "doc-1",
		BranchID:   "main-id",
		VersionID:  "v1",
		AuthorID:   7,
		Kind:       "create",
		Content:    "Hello",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}
	if first.Hash == "" || first.VersionID != "v1" {
		t.Fatalf("unexpected commit info: %+v", first)
	}
	if first.Author != "user-7" {
		t.Fatalf("expected author user-7, got %q", first.Author)
	}
	if _, err := os.Stat(filepath.Join(tempDir, "doc-1", ".git")); err != nil {
		t.Fatalf("repo directory missing: %v", err)
	}

	second, err := svc.Record(Record{
		DocumentID: "doc-1",
		BranchID:   "main-id",
		VersionID:  "v2",
		AuthorID:   7,
		Kind:       "update",
		Content:    "Hello world",
	})
	if err != nil {
		t.Fatalf("Record() error = %v", err)
	}

	history, err := svc.History("doc-1", "main-id", 10)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 archived versions, got %d", len(history))
	}
	if history[0].VersionID != "v2" || history[1].VersionID != "v1" {
		t.Fatalf("expected newest first, got %+v", history)
	}

	old, err := svc.ContentAt("doc-1", first.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if old != "Hello" {
		t.Fatalf("expected Hello, got %q", old)
	}
	latest, err := svc.ContentAt("doc-1", second.Hash)
	if err != nil {
		t.Fatalf("ContentAt() error = %v", err)
	}
	if latest != "Hello world" {
		t.Fatalf("expected Hello world, got %q", latest)
	}
}

func TestUnchangedContentStillCommits(t *testing.T) {
	svc := New(t.TempDir())
	for i, kind := range []string{"create", "checkpoint"} {
		if _, err := svc.Record(Record{
			DocumentID: "doc",
			BranchID:   "main-id",
			VersionID:  fmt.Sprintf("v%d", i),
			Kind:       kind,
			Content:    "same",
		}); err != nil {
			t.Fatalf("Record(%s) error = %v", kind, err)
		}
	}
	history, err := svc.History("doc", "main-id", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	if len(history) != 2 {
		t.Fatalf("expected 2 commits, got %d", len(history))
	}
}

func TestForkedBranchInheritsHistory(t *testing.T) {
	svc := New(t.TempDir())
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "main-id", VersionID: "v1", Kind: "create", Content: "Hello"})
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "feature-id", FromBranchID: "main-id", VersionID: "v2", Kind: "branch", Name: "feature", Content: "Hello"})
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "feature-id", VersionID: "v3", Kind: "update", Content: "Hello world"})

	history, err := svc.History("doc", "feature-id", 0)
	if err != nil {
		t.Fatalf("History() error = %v", err)
	}
	ids := make([]string, 0, len(history))
	for _, c := range history {
		ids = append(ids, c.VersionID)
	}
	if strings.Join(ids, ",") != "v3,v2,v1" {
		t.Fatalf("unexpected feature history: %v", ids)
	}
	if !strings.HasPrefix(history[1].Message, "branch: feature") {
		t.Fatalf("expected named branch subject, got %q", history[1].Message)
	}

	mainHistory, err := svc.History("doc", "main-id", 0)
	if err != nil {
		t.Fatalf("History(main) error = %v", err)
	}
	if len(mainHistory) != 1 {
		t.Fatalf("main must not see feature commits, got %d", len(mainHistory))
	}
}

func TestDeleteBranch(t *testing.T) {
	svc := New(t.TempDir())
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "main-id", VersionID: "v1", Kind: "create", Content: "a"})
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "feature-id", FromBranchID: "main-id", VersionID: "v2", Kind: "branch", Content: "a"})

	if err := svc.DeleteBranch("doc", "feature-id"); err != nil {
		t.Fatalf("DeleteBranch() error = %v", err)
	}
	if _, err := svc.History("doc", "feature-id", 0); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived for deleted branch, got %v", err)
	}

	// A new branch can still be created after HEAD pointed at the deleted ref.
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "other-id", VersionID: "v3", Kind: "branch", Content: "b"})

	if err := svc.DeleteBranch("never-archived", "x"); err != nil {
		t.Fatalf("DeleteBranch on missing repo should be a no-op, got %v", err)
	}
}

func TestDeleteDocument(t *testing.T) {
	dir := t.TempDir()
	svc := New(dir)
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "main-id", VersionID: "v1", Kind: "create", Content: "a"})

	if err := svc.DeleteDocument("doc"); err != nil {
		t.Fatalf("DeleteDocument() error = %v", err)
	}
	if _, err := svc.History("doc", "main-id", 0); !errors.Is(err, ErrNotArchived) {
		t.Fatalf("expected ErrNotArchived, got %v", err)
	}
}

func TestConcurrentRecordsOnOneDocument(t *testing.T) {
	svc := New(t.TempDir())
	mustRecord(t, svc, Record{DocumentID: "doc", BranchID: "main-id", VersionID: "v0", Kind: "create", Content: "seed"})

	var wg sync.WaitGroup
	errs := make(chan error, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			branch := "main-id"
			if i%2 == 1 {
				branch = "side-id"
			}
			_, err := svc.Record(Record{
				DocumentID: "doc",
				BranchID:   branch,
				VersionID:  fmt.Sprintf("v%d", i+1),
				Kind:       "update",
				Content:    fmt.Sprintf("edit %d", i),
				When:       time.Now(),
			})
			errs <- err
		}(i)
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		if err != nil {
			t.Fatalf("concurrent Record() error = %v", err)
		}
	}

	mainHistory, err := svc.History("doc", "main-id", 0)
	if err != nil {
		t.Fatalf("History(main) error = %v", err)
	}
	sideHistory, err := svc.History("doc", "side-id", 0)
	if err != nil {
		t.Fatalf("History(side) error = %v", err)
	}
	if len(mainHistory) != 5 || len(sideHistory) != 4 {
		t.Fatalf("expected 5 main and 4 side commits, got %d and %d", len(mainHistory), len(sideHistory))
	}
}

func mustRecord(t *testing.T, svc *Service, rec Record) CommitInfo {
	t.Helper()
	info, err := svc.Record(rec)
	if err != nil {
		t.Fatalf("Record(%s) error = %v", rec.VersionID, err)
	}
	return info
}
