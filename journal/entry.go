package journal

import (
	"time"
)

// Entry ids with a special meaning to the journal.
const (
	MetaEntryIDLedgerKey         int64 = -0x1000
	MetaEntryIDFenceKey          int64 = -0x2000
	MetaEntryIDForceLedger       int64 = -0x4000
	MetaEntryIDLedgerExplicitLAC int64 = -0x8000
)

// WriteCallback is called once an entry is durable (rc == EOK) or failed.
type WriteCallback func(rc int, ledgerID, entryID int64, ctx interface{})

type entryKind int8

const (
	addEntry entryKind = iota
	forceEntry
	shutdownEntry
)

// QueueEntry is an append waiting for the journal goroutine.
type QueueEntry struct {
	kind          entryKind
	ledgerID      int64
	entryID       int64
	payload       []byte
	ackBeforeSync bool
	cb            WriteCallback
	ctx           interface{}
	enqueueTime   time.Time
}

func (qe *QueueEntry) completion(rc int) completion {
	return completion{cb: qe.cb, rc: rc, ledgerID: qe.ledgerID, entryID: qe.entryID, ctx: qe.ctx}
}

var shutdownMarker = &QueueEntry{kind: shutdownEntry}
