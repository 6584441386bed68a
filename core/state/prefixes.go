package state

var (
	snapshotLatestKey = []byte("ledger/snapshot/latest")
	snapshotRootKey   = []byte("ledger/snapshot/root")
	snapshotSeqKey    = []byte("ledger/snapshot/sequence")
)
