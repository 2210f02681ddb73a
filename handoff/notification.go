// Package handoff delivers job-ready notifications to the downstream
// consumer, buffering them durably while the consumer is away.
package handoff

import (
	"encoding/binary"
	"fmt"
	"time"
)

// RecordSize is the encoded size of a Notification.
const RecordSize = 16

// Notification announces one finished job directory.
//
// Layout, little endian:
//
//	0..8   creation time, unix seconds
//	8..12  job id
//	12..14 sequence number
//	14     priority
//	15     unused
type Notification struct {
	Created  time.Time
	JobID    uint32
	Sequence uint16
	Priority byte
}

// MarshalBinary encodes n into its fixed record layout.
func (n Notification) MarshalBinary() ([]byte, error) {
	b := make([]byte, RecordSize)
	binary.LittleEndian.PutUint64(b[0:8], uint64(n.Created.Unix()))
	binary.LittleEndian.PutUint32(b[8:12], n.JobID)
	binary.LittleEndian.PutUint16(b[12:14], n.Sequence)
	b[14] = n.Priority
	return b, nil
}

// UnmarshalBinary decodes a record produced by MarshalBinary.
func (n *Notification) UnmarshalBinary(b []byte) error {
	if len(b) != RecordSize {
		return fmt.Errorf("notification record: want %d bytes, got %d", RecordSize, len(b))
	}
	n.Created = time.Unix(int64(binary.LittleEndian.Uint64(b[0:8])), 0)
	n.JobID = binary.LittleEndian.Uint32(b[8:12])
	n.Sequence = binary.LittleEndian.Uint16(b[12:14])
	n.Priority = b[14]
	return nil
}

// JobDirName is the outgoing directory name a notification refers to.
func (n Notification) JobDirName() string {
	return JobDirName(n.Priority, n.Created.Unix(), n.Sequence, n.JobID)
}

// JobDirName formats <priority>_<unix seconds>_<sequence>_<job id>.
func JobDirName(priority byte, unix int64, seq uint16, jobID uint32) string {
	return fmt.Sprintf("%d_%d_%04d_%d", priority, unix, seq, jobID)
}
