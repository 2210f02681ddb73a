package store

import (
	"errors"
	"math"
	"path/filepath"
	"testing"

	"go.etcd.io/bbolt"
)

func openTestStore(t *testing.T) *BoltStore {
	t.Helper()
	s, err := NewBoltStore(filepath.Join(t.TempDir(), "test.db"))
	if err != nil {
		t.Fatalf("Failed to create BoltStore: %v", err)
	}
	t.Cleanup(func() { s.Close() })
	return s
}

func TestBoltStore_AppendAndGetJob(t *testing.T) {
	s := openTestStore(t)

	first := &JobRecord{DirID: 1, Priority: 5, Filters: []string{"*.dat"}, Recipient: "ftp://a/in"}
	second := &JobRecord{DirID: 1, Priority: 5, Filters: []string{"*.txt"}, Recipient: "ftp://a/in"}
	if err := s.AppendJob(first); err != nil {
		t.Fatalf("Failed to append job: %v", err)
	}
	if err := s.AppendJob(second); err != nil {
		t.Fatalf("Failed to append job: %v", err)
	}
	if first.ID != 0 || second.ID != 1 {
		t.Fatalf("Expected ids 0 and 1, got %d and %d", first.ID, second.ID)
	}

	got, err := s.GetJob(1)
	if err != nil {
		t.Fatalf("Failed to get job: %v", err)
	}
	if got.Filters[0] != "*.txt" || got.Recipient != "ftp://a/in" {
		t.Errorf("Unexpected record: %+v", got)
	}

	if _, err := s.GetJob(42); !errors.Is(err, ErrJobNotFound) {
		t.Errorf("Expected ErrJobNotFound, got %v", err)
	}

	all, err := s.LoadJobs()
	if err != nil {
		t.Fatalf("Failed to load jobs: %v", err)
	}
	if len(all) != 2 {
		t.Errorf("Expected 2 jobs, got %d", len(all))
	}
}

func TestBoltStore_JobIDWraps(t *testing.T) {
	s := openTestStore(t)

	err := s.db.Update(func(tx *bbolt.Tx) error {
		return tx.Bucket(metaBucket).Put(nextJobIDKey, u32key(math.MaxInt32))
	})
	if err != nil {
		t.Fatalf("Failed to seed next id: %v", err)
	}

	last := &JobRecord{Recipient: "a"}
	wrapped := &JobRecord{Recipient: "b"}
	if err := s.AppendJob(last); err != nil {
		t.Fatalf("append: %v", err)
	}
	if err := s.AppendJob(wrapped); err != nil {
		t.Fatalf("append: %v", err)
	}
	if last.ID != math.MaxInt32 {
		t.Errorf("Expected id %d, got %d", math.MaxInt32, last.ID)
	}
	if wrapped.ID != 0 {
		t.Errorf("Expected wrap to 0, got %d", wrapped.ID)
	}
}

func TestBoltStore_PersistsAcrossReopen(t *testing.T) {
	path := filepath.Join(t.TempDir(), "state.db")
	s, err := NewBoltStore(path)
	if err != nil {
		t.Fatalf("open: %v", err)
	}
	if err := s.AppendJob(&JobRecord{Recipient: "a"}); err != nil {
		t.Fatalf("append: %v", err)
	}
	dirID, err := s.DirectoryID("alpha|/in/alpha")
	if err != nil {
		t.Fatalf("dir id: %v", err)
	}
	s.Close()

	s, err = NewBoltStore(path)
	if err != nil {
		t.Fatalf("reopen: %v", err)
	}
	defer s.Close()

	rec := &JobRecord{Recipient: "b"}
	if err := s.AppendJob(rec); err != nil {
		t.Fatalf("append: %v", err)
	}
	if rec.ID != 1 {
		t.Errorf("Expected id counter to survive reopen, got %d", rec.ID)
	}
	again, err := s.DirectoryID("alpha|/in/alpha")
	if err != nil {
		t.Fatalf("dir id: %v", err)
	}
	if again != dirID {
		t.Errorf("Directory id changed across reopen: %d != %d", again, dirID)
	}
	other, _ := s.DirectoryID("beta|/in/beta")
	if other == dirID {
		t.Errorf("Distinct keys must not share an id")
	}
}

func TestBoltStore_MessageBacklog(t *testing.T) {
	s := openTestStore(t)

	var seqs []uint64
	for _, payload := range []string{"one", "two", "three"} {
		seq, err := s.AppendMessage([]byte(payload))
		if err != nil {
			t.Fatalf("append message: %v", err)
		}
		seqs = append(seqs, seq)
	}

	msgs, err := s.PendingMessages()
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(msgs) != 3 || string(msgs[0].Data) != "one" || string(msgs[2].Data) != "three" {
		t.Fatalf("Unexpected backlog order: %+v", msgs)
	}

	if err := s.DeleteMessages(seqs[0], seqs[1]); err != nil {
		t.Fatalf("delete: %v", err)
	}
	msgs, _ = s.PendingMessages()
	if len(msgs) != 1 || string(msgs[0].Data) != "three" {
		t.Errorf("Expected only the last message to remain, got %+v", msgs)
	}
}
