package repositories

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"cryptorafts/platform/internal/common"
	"cryptorafts/platform/internal/db"
	"cryptorafts/platform/internal/logging"
)

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	logging.SetLogger(zap.NewNop().Sugar())

	orm, err := db.InitSQLiteORM(":memory:")
	if err != nil {
		t.Fatalf("Failed to connect to test database: %v", err)
	}
	if err := db.Migrate(orm); err != nil {
		t.Fatalf("Failed to migrate test database: %v", err)
	}
	t.Cleanup(func() {
		if sqlDB, err := orm.DB(); err == nil {
			_ = sqlDB.Close()
		}
	})
	return orm
}

type testDoc struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Count  int    `json:"count"`
}

func TestDocumentRepository_SetAndGet(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	if err := repo.Set(ctx, "calls", "c1", testDoc{Name: "first", Status: "ringing"}); err != nil {
		t.Fatalf("Set() error = %v", err)
	}
	if err := repo.Set(ctx, "calls", "c1", testDoc{Name: "first", Status: "ended"}); err != nil {
		t.Fatalf("Set() overwrite error = %v", err)
	}

	snap, err := repo.Get(ctx, "calls", "c1")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	var got testDoc
	if err := snap.DataTo(&got); err != nil {
		t.Fatalf("DataTo() error = %v", err)
	}
	if got.Status != "ended" {
		t.Errorf("Status = %q, want ended", got.Status)
	}
	if snap.CreateTime.IsZero() || snap.UpdateTime.IsZero() {
		t.Error("server timestamps should be populated")
	}
}

func TestDocumentRepository_GetMissing(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)

	_, err := repo.Get(context.Background(), "calls", "nope")
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Get() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestDocumentRepository_CreateRejectsDuplicates(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	if err := repo.Create(ctx, "chatRooms/R1/messages", "call_1_started", testDoc{Name: "a"}); err != nil {
		t.Fatalf("Create() error = %v", err)
	}
	err := repo.Create(ctx, "chatRooms/R1/messages", "call_1_started", testDoc{Name: "b"})
	if !errors.Is(err, ErrDocumentExists) {
		t.Fatalf("second Create() error = %v, want ErrDocumentExists", err)
	}

	snap, _ := repo.Get(ctx, "chatRooms/R1/messages", "call_1_started")
	var got testDoc
	_ = snap.DataTo(&got)
	if got.Name != "a" {
		t.Errorf("duplicate create overwrote document: %+v", got)
	}

	// same id in another collection is a different document
	if err := repo.Create(ctx, "chatRooms/R2/messages", "call_1_started", testDoc{Name: "c"}); err != nil {
		t.Errorf("Create() in other collection error = %v", err)
	}
}

func TestDocumentRepository_UpdateMergesFields(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	_ = repo.Set(ctx, "calls", "c1", testDoc{Name: "first", Status: "ringing", Count: 3})
	if err := repo.Update(ctx, "calls", "c1", map[string]any{"status": "connected"}); err != nil {
		t.Fatalf("Update() error = %v", err)
	}

	snap, _ := repo.Get(ctx, "calls", "c1")
	var got testDoc
	_ = snap.DataTo(&got)
	if got.Status != "connected" || got.Name != "first" || got.Count != 3 {
		t.Errorf("merged document = %+v", got)
	}
}

func TestDocumentRepository_UpdateMissing(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)

	err := repo.Update(context.Background(), "calls", "gone", map[string]any{"status": "ended"})
	if !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Update() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestDocumentRepository_Delete(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	_ = repo.Set(ctx, "calls", "c1", testDoc{Name: "x"})
	if err := repo.Delete(ctx, "calls", "c1"); err != nil {
		t.Fatalf("Delete() error = %v", err)
	}
	if _, err := repo.Get(ctx, "calls", "c1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("Get() after Delete error = %v", err)
	}
	if err := repo.Delete(ctx, "calls", "c1"); !errors.Is(err, ErrDocumentNotFound) {
		t.Errorf("second Delete() error = %v, want ErrDocumentNotFound", err)
	}
}

func TestDocumentRepository_QueryFilters(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	_ = repo.Set(ctx, "notifications", "n1", map[string]any{"userId": "u1", "type": "incoming_call"})
	_ = repo.Set(ctx, "notifications", "n2", map[string]any{"userId": "u2", "type": "incoming_call"})
	_ = repo.Set(ctx, "notifications", "n3", map[string]any{"userId": "u1", "type": "other"})

	snaps, err := repo.Query(ctx, "notifications", Where("userId", "u1"))
	if err != nil {
		t.Fatalf("Query() error = %v", err)
	}
	if len(snaps) != 2 {
		t.Fatalf("Query(userId=u1) returned %d docs, want 2", len(snaps))
	}

	snaps, _ = repo.Query(ctx, "notifications", Where("userId", "u1"), Where("type", "incoming_call"))
	if len(snaps) != 1 || snaps[0].ID != "n1" {
		t.Errorf("Query with two filters = %v", snaps)
	}
}

type changeRecorder struct {
	mu      sync.Mutex
	batches [][]DocumentChange
	signal  chan struct{}
}

func newChangeRecorder() *changeRecorder {
	return &changeRecorder{signal: make(chan struct{}, 64)}
}

func (r *changeRecorder) record(changes []DocumentChange) {
	r.mu.Lock()
	r.batches = append(r.batches, changes)
	r.mu.Unlock()
	r.signal <- struct{}{}
}

func (r *changeRecorder) wait(t *testing.T, n int) [][]DocumentChange {
	t.Helper()
	for {
		r.mu.Lock()
		if len(r.batches) >= n {
			out := append([][]DocumentChange(nil), r.batches...)
			r.mu.Unlock()
			return out
		}
		r.mu.Unlock()
		select {
		case <-r.signal:
		case <-time.After(2 * time.Second):
			t.Fatalf("timed out waiting for %d deliveries", n)
		}
	}
}

func TestDocumentRepository_ListenCollection(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), common.NewLocalChangeHub())
	ctx := context.Background()

	_ = repo.Set(ctx, "calls", "existing", testDoc{Name: "old"})

	rec := newChangeRecorder()
	stop, err := repo.ListenCollection(ctx, "calls", rec.record)
	if err != nil {
		t.Fatalf("ListenCollection() error = %v", err)
	}
	defer stop()

	batches := rec.wait(t, 1)
	if len(batches[0]) != 1 || batches[0][0].Type != common.ChangeAdded || batches[0][0].Doc.ID != "existing" {
		t.Fatalf("initial delivery = %+v", batches[0])
	}

	_ = repo.Set(ctx, "calls", "new", testDoc{Name: "new"})
	_ = repo.Update(ctx, "calls", "new", map[string]any{"status": "ended"})
	_ = repo.Delete(ctx, "calls", "new")
	_ = repo.Set(ctx, "users", "u1", testDoc{Name: "ignored"})

	batches = rec.wait(t, 4)
	want := []common.ChangeType{common.ChangeAdded, common.ChangeModified, common.ChangeRemoved}
	for i, typ := range want {
		got := batches[i+1][0]
		if got.Type != typ || got.Doc.ID != "new" {
			t.Errorf("delivery %d = %s %s, want %s new", i+1, got.Type, got.Doc.ID, typ)
		}
	}
}

func TestDocumentRepository_ListenDocument(t *testing.T) {
	repo := NewDocumentRepository(setupTestDB(t), nil)
	ctx := context.Background()

	var mu sync.Mutex
	var seen []*Snapshot
	done := make(chan struct{}, 8)

	stop, err := repo.ListenDocument(ctx, "calls", "c1", func(s *Snapshot) {
		mu.Lock()
		seen = append(seen, s)
		mu.Unlock()
		done <- struct{}{}
	})
	if err != nil {
		t.Fatalf("ListenDocument() error = %v", err)
	}
	defer stop()

	<-done // initial: absent
	_ = repo.Set(ctx, "calls", "other", testDoc{Name: "noise"})
	_ = repo.Set(ctx, "calls", "c1", testDoc{Status: "ringing"})
	<-done
	_ = repo.Delete(ctx, "calls", "c1")
	<-done

	mu.Lock()
	defer mu.Unlock()
	if len(seen) != 3 {
		t.Fatalf("deliveries = %d, want 3", len(seen))
	}
	if seen[0] != nil || seen[1] == nil || seen[2] != nil {
		t.Errorf("unexpected delivery sequence: %v", seen)
	}
}
