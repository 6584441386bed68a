package state

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"lukechampine.com/blake3"

	"stakeledger/native/staking"
	"stakeledger/native/token"
	"stakeledger/storage"
)

var (
	// ErrNoSnapshot is returned by Load when nothing has been persisted yet.
	ErrNoSnapshot = errors.New("state: no snapshot persisted")
	// ErrCorruptSnapshot indicates the stored payload does not match its root.
	ErrCorruptSnapshot = errors.New("state: snapshot checksum mismatch")
)

// Snapshot is the combined ledger state written after every committed
// operation.
type Snapshot struct {
	Sequence uint64        `json:"sequence"`
	TakenAt  int64         `json:"takenAt"`
	Staking  staking.State `json:"staking"`
	Token    token.State   `json:"token"`
}

// Root is the blake3 digest of a snapshot's encoded form.
type Root [32]byte

// Hex renders the root with a 0x prefix.
func (r Root) Hex() string { return "0x" + hex.EncodeToString(r[:]) }

// Store persists ledger snapshots in a key-value database.
type Store struct {
	db storage.Database
}

// NewStore wraps the supplied database.
func NewStore(db storage.Database) *Store {
	return &Store{db: db}
}

// Save encodes and writes the snapshot together with its root in a single
// batch. The snapshot sequence is assigned by the store.
func (s *Store) Save(snap Snapshot) (Root, error) {
	if s == nil || s.db == nil {
		return Root{}, fmt.Errorf("state: store unavailable")
	}
	seq, err := s.sequence()
	if err != nil {
		return Root{}, err
	}
	snap.Sequence = seq + 1
	payload, err := json.Marshal(snap)
	if err != nil {
		return Root{}, fmt.Errorf("state: encode snapshot: %w", err)
	}
	root := Root(blake3.Sum256(payload))
	seqBuf := make([]byte, 8)
	binary.BigEndian.PutUint64(seqBuf, snap.Sequence)
	err = s.db.WriteBatch(map[string][]byte{
		string(snapshotLatestKey): payload,
		string(snapshotRootKey):   root[:],
		string(snapshotSeqKey):    seqBuf,
	})
	if err != nil {
		return Root{}, fmt.Errorf("state: write snapshot: %w", err)
	}
	return root, nil
}

// Load returns the latest snapshot after verifying it against its root.
func (s *Store) Load() (*Snapshot, Root, error) {
	if s == nil || s.db == nil {
		return nil, Root{}, fmt.Errorf("state: store unavailable")
	}
	payload, err := s.db.Get(snapshotLatestKey)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, Root{}, ErrNoSnapshot
	}
	if err != nil {
		return nil, Root{}, fmt.Errorf("state: read snapshot: %w", err)
	}
	stored, err := s.db.Get(snapshotRootKey)
	if err != nil {
		return nil, Root{}, fmt.Errorf("state: read snapshot root: %w", err)
	}
	root := Root(blake3.Sum256(payload))
	if !bytes.Equal(stored, root[:]) {
		return nil, Root{}, ErrCorruptSnapshot
	}
	var snap Snapshot
	if err := json.Unmarshal(payload, &snap); err != nil {
		return nil, Root{}, fmt.Errorf("state: decode snapshot: %w", err)
	}
	return &snap, root, nil
}

func (s *Store) sequence() (uint64, error) {
	raw, err := s.db.Get(snapshotSeqKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, fmt.Errorf("state: read sequence: %w", err)
	}
	if len(raw) != 8 {
		return 0, fmt.Errorf("state: malformed sequence (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint64(raw), nil
}
