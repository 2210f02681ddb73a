package store

import (
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"time"

	"go.etcd.io/bbolt"
)

var (
	// ErrJobNotFound is returned when a job id has no record.
	ErrJobNotFound = errors.New("job not found")
)

var (
	jobsBucket     = []byte("jobs")
	metaBucket     = []byte("meta")
	messagesBucket = []byte("messages")
	dirsBucket     = []byte("dirs")

	nextJobIDKey = []byte("next_job_id")
)

// JobRecord is the persisted form of a registered job descriptor.
type JobRecord struct {
	ID              uint32    `json:"id"`
	DirID           uint32    `json:"dir_id"`
	Priority        byte      `json:"priority"`
	Filters         []string  `json:"filters"`
	LocalOptions    []string  `json:"local_options,omitempty"`
	StandardOptions []string  `json:"standard_options,omitempty"`
	Recipient       string    `json:"recipient"`
	Hash            uint64    `json:"hash"`
	Created         time.Time `json:"created"`
}

// Message is one buffered notification with its queue position.
type Message struct {
	Seq  uint64
	Data []byte
}

// JobStore persists the job identity table.
type JobStore interface {
	AppendJob(rec *JobRecord) error
	GetJob(id uint32) (*JobRecord, error)
	LoadJobs() ([]*JobRecord, error)
}

// MessageStore persists notifications the consumer has not accepted yet.
type MessageStore interface {
	AppendMessage(data []byte) (uint64, error)
	PendingMessages() ([]Message, error)
	DeleteMessages(seqs ...uint64) error
}

// Store is everything the daemon keeps on disk.
type Store interface {
	JobStore
	MessageStore
	DirectoryID(key string) (uint32, error)
	Close() error
}

// BoltStore is a Store implementation backed by bbolt.
type BoltStore struct {
	db *bbolt.DB
}

// NewBoltStore opens or creates the store at path.
func NewBoltStore(path string) (*BoltStore, error) {
	db, err := bbolt.Open(path, 0600, &bbolt.Options{Timeout: time.Second})
	if err != nil {
		return nil, fmt.Errorf("failed to open bbolt database: %w", err)
	}

	err = db.Update(func(tx *bbolt.Tx) error {
		for _, name := range [][]byte{jobsBucket, metaBucket, messagesBucket, dirsBucket} {
			if _, err := tx.CreateBucketIfNotExists(name); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to create buckets: %w", err)
	}

	return &BoltStore{db: db}, nil
}

// AppendJob assigns rec the next job id and stores it. Ids count up from
// zero and wrap back to zero past the signed 32-bit range; a wrapped id
// supersedes whatever record held it before.
func (s *BoltStore) AppendJob(rec *JobRecord) error {
	return s.db.Update(func(tx *bbolt.Tx) error {
		meta := tx.Bucket(metaBucket)
		var next uint32
		if v := meta.Get(nextJobIDKey); v != nil {
			next = binary.BigEndian.Uint32(v)
		}
		rec.ID = next

		following := next + 1
		if following > math.MaxInt32 {
			following = 0
		}
		if err := meta.Put(nextJobIDKey, u32key(following)); err != nil {
			return fmt.Errorf("failed to advance job id: %w", err)
		}

		data, err := json.Marshal(rec)
		if err != nil {
			return fmt.Errorf("failed to marshal job: %w", err)
		}
		if err := tx.Bucket(jobsBucket).Put(u32key(rec.ID), data); err != nil {
			return fmt.Errorf("failed to put job: %w", err)
		}
		return nil
	})
}

// GetJob retrieves a job record by id.
func (s *BoltStore) GetJob(id uint32) (*JobRecord, error) {
	var job JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		data := tx.Bucket(jobsBucket).Get(u32key(id))
		if data == nil {
			return ErrJobNotFound
		}
		if err := json.Unmarshal(data, &job); err != nil {
			return fmt.Errorf("failed to unmarshal job: %w", err)
		}
		return nil
	})
	if err != nil {
		return nil, err
	}
	return &job, nil
}

// LoadJobs returns every job record in id order.
func (s *BoltStore) LoadJobs() ([]*JobRecord, error) {
	var jobs []*JobRecord
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(jobsBucket).ForEach(func(_, v []byte) error {
			var job JobRecord
			if err := json.Unmarshal(v, &job); err != nil {
				return fmt.Errorf("failed to unmarshal job: %w", err)
			}
			jobs = append(jobs, &job)
			return nil
		})
	})
	if err != nil {
		return nil, err
	}
	return jobs, nil
}

// AppendMessage queues data at the end of the backlog.
func (s *BoltStore) AppendMessage(data []byte) (uint64, error) {
	var seq uint64
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		var err error
		seq, err = b.NextSequence()
		if err != nil {
			return err
		}
		return b.Put(u64key(seq), data)
	})
	if err != nil {
		return 0, fmt.Errorf("failed to buffer message: %w", err)
	}
	return seq, nil
}

// PendingMessages returns the backlog oldest first.
func (s *BoltStore) PendingMessages() ([]Message, error) {
	var msgs []Message
	err := s.db.View(func(tx *bbolt.Tx) error {
		return tx.Bucket(messagesBucket).ForEach(func(k, v []byte) error {
			msgs = append(msgs, Message{
				Seq:  binary.BigEndian.Uint64(k),
				Data: append([]byte(nil), v...),
			})
			return nil
		})
	})
	if err != nil {
		return nil, fmt.Errorf("failed to read message backlog: %w", err)
	}
	return msgs, nil
}

// DeleteMessages drops delivered messages from the backlog.
func (s *BoltStore) DeleteMessages(seqs ...uint64) error {
	if len(seqs) == 0 {
		return nil
	}
	return s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(messagesBucket)
		for _, seq := range seqs {
			if err := b.Delete(u64key(seq)); err != nil {
				return fmt.Errorf("failed to delete message %d: %w", seq, err)
			}
		}
		return nil
	})
}

// DirectoryID returns the id bound to key, assigning the next free one on
// first use.
func (s *BoltStore) DirectoryID(key string) (uint32, error) {
	var id uint32
	err := s.db.Update(func(tx *bbolt.Tx) error {
		b := tx.Bucket(dirsBucket)
		if v := b.Get([]byte(key)); v != nil {
			id = binary.BigEndian.Uint32(v)
			return nil
		}
		seq, err := b.NextSequence()
		if err != nil {
			return err
		}
		if seq > math.MaxUint32 {
			return fmt.Errorf("directory id space exhausted")
		}
		id = uint32(seq)
		return b.Put([]byte(key), u32key(id))
	})
	if err != nil {
		return 0, fmt.Errorf("failed to assign directory id: %w", err)
	}
	return id, nil
}

// Close closes the underlying store.
func (s *BoltStore) Close() error {
	return s.db.Close()
}

func u32key(v uint32) []byte {
	b := make([]byte, 4)
	binary.BigEndian.PutUint32(b, v)
	return b
}

func u64key(v uint64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, v)
	return b
}
