package state

import (
	"testing"

	"github.com/holiman/uint256"
	"github.com/stretchr/testify/require"

	"stakeledger/native/staking"
	"stakeledger/native/token"
	"stakeledger/storage"
)

func sampleSnapshot(t *testing.T) Snapshot {
	t.Helper()
	ledger := token.NewLedger("STK")
	var owner [20]byte
	owner[19] = 1
	require.NoError(t, ledger.Mint(owner, uint256.NewInt(1_000)))
	module := staking.DefaultModuleAddress()
	engine := staking.NewEngine(ledger, module)
	require.NoError(t, ledger.Approve(owner, module, uint256.NewInt(400)))
	require.NoError(t, engine.Stake(owner, uint256.NewInt(400).ToBig()))
	return Snapshot{TakenAt: 1_700_000_000, Staking: engine.Export(), Token: ledger.Export()}
}

func TestStoreLoadWithoutSnapshot(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	_, _, err := store.Load()
	require.ErrorIs(t, err, ErrNoSnapshot)
}

func TestStoreRoundTrip(t *testing.T) {
	dir := t.TempDir()
	db, err := storage.NewLevelDB(dir)
	require.NoError(t, err)

	snap := sampleSnapshot(t)
	store := NewStore(db)
	root, err := store.Save(snap)
	require.NoError(t, err)
	second, err := store.Save(snap)
	require.NoError(t, err)
	require.NotEqual(t, root, second, "sequence is part of the digest")
	db.Close()

	db, err = storage.NewLevelDB(dir)
	require.NoError(t, err)
	defer db.Close()
	loaded, loadedRoot, err := NewStore(db).Load()
	require.NoError(t, err)
	require.Equal(t, second, loadedRoot)
	require.Equal(t, uint64(2), loaded.Sequence)
	require.Equal(t, snap.Staking, loaded.Staking)
	require.Equal(t, snap.Token, loaded.Token)

	restored := token.NewLedger("")
	require.NoError(t, restored.Restore(loaded.Token))
	engine := staking.NewEngine(restored, staking.DefaultModuleAddress())
	require.NoError(t, engine.Restore(loaded.Staking))
	require.Equal(t, "400", engine.TotalStakedBalance().String())
}

func TestStoreDetectsCorruption(t *testing.T) {
	db := storage.NewMemDB()
	store := NewStore(db)
	_, err := store.Save(sampleSnapshot(t))
	require.NoError(t, err)

	require.NoError(t, db.Put(snapshotLatestKey, []byte(`{"sequence":1}`)))
	_, _, err = store.Load()
	require.ErrorIs(t, err, ErrCorruptSnapshot)
}

func TestEnsureStateVersion(t *testing.T) {
	store := NewStore(storage.NewMemDB())
	require.NoError(t, store.EnsureStateVersion(false))
	version, ok, err := store.StateVersion()
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, StateVersion, version)

	require.NoError(t, store.SetStateVersion(StateVersion+1))
	require.ErrorIs(t, store.EnsureStateVersion(false), ErrStateVersionMismatch)
	require.NoError(t, store.EnsureStateVersion(true))
}
