package state

import (
	"encoding/binary"

	ethcrypto "github.com/ethereum/go-ethereum/crypto"

	"agorachain/native/cpi"
)

var (
	cpiBucketPrefix   = []byte("cpi:bucket:")
	cpiSnapshotPrefix = []byte("cpi:snapshot:")
)

func cpiBucketKey(start uint64) []byte {
	buf := make([]byte, len(cpiBucketPrefix)+8)
	copy(buf, cpiBucketPrefix)
	binary.BigEndian.PutUint64(buf[len(cpiBucketPrefix):], start)
	return ethcrypto.Keccak256(buf)
}

func cpiSnapshotKey(window, periodStart uint64) []byte {
	buf := make([]byte, len(cpiSnapshotPrefix)+16)
	copy(buf, cpiSnapshotPrefix)
	binary.BigEndian.PutUint64(buf[len(cpiSnapshotPrefix):], window)
	binary.BigEndian.PutUint64(buf[len(cpiSnapshotPrefix)+8:], periodStart)
	return ethcrypto.Keccak256(buf)
}

// Bucket loads the trade-value bucket starting at start, or nil when no trade
// has been recorded in that slot.
func (m *Manager) Bucket(start uint64) (*cpi.Bucket, error) {
	bucket := new(cpi.Bucket)
	ok, err := m.KVGet(cpiBucketKey(start), bucket)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return bucket, nil
}

// PutBucket persists the bucket under its slot start.
func (m *Manager) PutBucket(bucket *cpi.Bucket) error {
	return m.KVPut(cpiBucketKey(bucket.Start), bucket)
}

// IndexSnapshot loads the retained index for the period identified by
// (window, periodStart), or nil when none was stored.
func (m *Manager) IndexSnapshot(window, periodStart uint64) (*cpi.Snapshot, error) {
	snapshot := new(cpi.Snapshot)
	ok, err := m.KVGet(cpiSnapshotKey(window, periodStart), snapshot)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}
	return snapshot, nil
}

// PutIndexSnapshot retains the computed period index.
func (m *Manager) PutIndexSnapshot(snapshot *cpi.Snapshot) error {
	return m.KVPut(cpiSnapshotKey(snapshot.Window, snapshot.PeriodStart), snapshot)
}
