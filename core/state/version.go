package state

import (
	"encoding/binary"
	"errors"
	"fmt"

	"stakeledger/storage"
)

// StateVersion identifies the expected on-disk schema layout for persisted
// ledger snapshots. Increment this constant whenever breaking changes are made
// to the stored structure.
const StateVersion uint32 = 1

var (
	stateVersionKey = []byte("ledger/version")
	// ErrStateVersionMismatch indicates the stored schema version does not
	// match the version supported by the current binary.
	ErrStateVersionMismatch = errors.New("state: schema version mismatch")
)

// SetStateVersion records the provided schema version.
func (s *Store) SetStateVersion(version uint32) error {
	if s == nil || s.db == nil {
		return fmt.Errorf("state: store unavailable")
	}
	buf := make([]byte, 4)
	binary.BigEndian.PutUint32(buf, version)
	return s.db.Put(stateVersionKey, buf)
}

// StateVersion returns the stored schema version and a boolean indicating
// whether the value was present.
func (s *Store) StateVersion() (uint32, bool, error) {
	if s == nil || s.db == nil {
		return 0, false, fmt.Errorf("state: store unavailable")
	}
	raw, err := s.db.Get(stateVersionKey)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, false, nil
	}
	if err != nil {
		return 0, false, err
	}
	if len(raw) != 4 {
		return 0, false, fmt.Errorf("state: malformed schema version (%d bytes)", len(raw))
	}
	return binary.BigEndian.Uint32(raw), true, nil
}

// EnsureStateVersion verifies that the on-disk version matches the version
// supported by this binary. An empty database is stamped with the current
// version. When allowMigrate is true, mismatches are tolerated so operators
// can perform manual migrations.
func (s *Store) EnsureStateVersion(allowMigrate bool) error {
	version, ok, err := s.StateVersion()
	if err != nil {
		return err
	}
	if !ok {
		return s.SetStateVersion(StateVersion)
	}
	if version == StateVersion || allowMigrate {
		return nil
	}
	return fmt.Errorf("%w: on-disk=%d expected=%d", ErrStateVersionMismatch, version, StateVersion)
}
