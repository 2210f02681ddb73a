package engine

import (
	"encoding/binary"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"

	"github.com/franksops/gofanout/jobdb"
	"github.com/franksops/gofanout/store"
)

// JobIDDataStepSize is the growth increment of the in-memory job table.
const JobIDDataStepSize = 256

// Registry maps job descriptors to stable job ids. It is the only writer of
// the job table and of the message directory read by the consumer.
type Registry struct {
	store  store.JobStore
	msgDir string
	logger *slog.Logger
	now    func() time.Time

	mu      sync.Mutex
	records []*store.JobRecord
	index   map[uint64][]int
	byID    map[uint32]int
}

// NewRegistry loads every persisted job record from js.
func NewRegistry(js store.JobStore, msgDir string, logger *slog.Logger) (*Registry, error) {
	if err := os.MkdirAll(msgDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create message directory: %w", err)
	}
	recs, err := js.LoadJobs()
	if err != nil {
		return nil, fmt.Errorf("failed to load job table: %w", err)
	}
	r := &Registry{
		store:   js,
		msgDir:  msgDir,
		logger:  logger,
		now:     time.Now,
		records: make([]*store.JobRecord, 0, roundUpStep(len(recs)+1)),
		index:   make(map[uint64][]int, len(recs)),
		byID:    make(map[uint32]int, len(recs)),
	}
	for _, rec := range recs {
		r.add(rec)
	}
	return r, nil
}

// Resolve returns the job id for d, registering d when it is new. Either
// way the job's message artifact is left present with a fresh mtime.
func (r *Registry) Resolve(d jobdb.JobDescriptor) (uint32, error) {
	h := descriptorHash(d)

	r.mu.Lock()
	defer r.mu.Unlock()

	for _, i := range r.index[h] {
		rec := r.records[i]
		if rec == nil || !recordDescriptor(rec).Equal(d) {
			continue
		}
		if err := r.touch(rec.ID, d); err != nil {
			r.logger.Warn("failed to refresh message", "job", rec.ID, "error", err)
		}
		return rec.ID, nil
	}

	rec := &store.JobRecord{
		DirID:           d.DirID,
		Priority:        d.Priority,
		Filters:         d.Filters,
		LocalOptions:    d.LocalOptions,
		StandardOptions: d.StandardOptions,
		Recipient:       d.Recipient,
		Hash:            h,
		Created:         r.now(),
	}
	if err := r.store.AppendJob(rec); err != nil {
		return 0, fatal(fmt.Errorf("failed to append job: %w", err))
	}
	r.add(rec)
	if err := r.writeMessage(rec.ID, d); err != nil {
		r.logger.Warn("failed to create message", "job", rec.ID, "error", err)
	}
	r.logger.Info("registered job", "job", rec.ID, "dir_id", d.DirID, "recipient", d.Recipient)
	return rec.ID, nil
}

// Lookup returns the record for id if it is current.
func (r *Registry) Lookup(id uint32) (*store.JobRecord, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	i, ok := r.byID[id]
	if !ok {
		return nil, false
	}
	return r.records[i], true
}

// Len is the number of current job records.
func (r *Registry) Len() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.byID)
}

// MessagePath is the artifact the consumer reads for job id.
func (r *Registry) MessagePath(id uint32) string {
	return filepath.Join(r.msgDir, strconv.FormatUint(uint64(id), 10))
}

func (r *Registry) add(rec *store.JobRecord) {
	if old, ok := r.byID[rec.ID]; ok {
		// A wrapped id supersedes the previous holder.
		r.records[old] = nil
	}
	if len(r.records) == cap(r.records) {
		grown := make([]*store.JobRecord, len(r.records), cap(r.records)+JobIDDataStepSize)
		copy(grown, r.records)
		r.records = grown
	}
	r.records = append(r.records, rec)
	i := len(r.records) - 1
	r.byID[rec.ID] = i
	if rec.Hash == 0 {
		rec.Hash = descriptorHash(recordDescriptor(rec))
	}
	r.index[rec.Hash] = append(r.index[rec.Hash], i)
}

func (r *Registry) touch(id uint32, d jobdb.JobDescriptor) error {
	now := r.now()
	err := os.Chtimes(r.MessagePath(id), now, now)
	if errors.Is(err, fs.ErrNotExist) {
		r.logger.Info("recreating missing message", "job", id)
		return r.writeMessage(id, d)
	}
	return err
}

func (r *Registry) writeMessage(id uint32, d jobdb.JobDescriptor) error {
	path := r.MessagePath(id)
	tmp, err := os.CreateTemp(r.msgDir, ".msg-*")
	if err != nil {
		return err
	}
	if _, err := tmp.WriteString(d.String()); err != nil {
		tmp.Close()
		os.Remove(tmp.Name())
		return err
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	if err := os.Chmod(tmp.Name(), 0o644); err != nil {
		os.Remove(tmp.Name())
		return err
	}
	return os.Rename(tmp.Name(), path)
}

func recordDescriptor(rec *store.JobRecord) jobdb.JobDescriptor {
	return jobdb.JobDescriptor{
		DirID:           rec.DirID,
		Priority:        rec.Priority,
		Filters:         rec.Filters,
		LocalOptions:    rec.LocalOptions,
		StandardOptions: rec.StandardOptions,
		Recipient:       rec.Recipient,
	}
}

// descriptorHash hashes a length-prefixed encoding of d so that list
// boundaries are part of the identity.
func descriptorHash(d jobdb.JobDescriptor) uint64 {
	h := xxhash.New()
	var buf [8]byte
	putUint := func(v uint64) {
		binary.LittleEndian.PutUint64(buf[:], v)
		h.Write(buf[:])
	}
	putString := func(s string) {
		putUint(uint64(len(s)))
		h.WriteString(s)
	}
	putList := func(l []string) {
		putUint(uint64(len(l)))
		for _, s := range l {
			putString(s)
		}
	}
	putUint(uint64(d.DirID))
	putUint(uint64(d.Priority))
	putList(d.Filters)
	putList(d.LocalOptions)
	putList(d.StandardOptions)
	putString(d.Recipient)
	return h.Sum64()
}

func roundUpStep(n int) int {
	return (n + JobIDDataStepSize - 1) / JobIDDataStepSize * JobIDDataStepSize
}
