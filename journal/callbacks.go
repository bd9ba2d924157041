package journal

import (
	"github.com/eapache/channels"

	"github.com/ledgerd/bookie/utils/log"
)

type completion struct {
	cb       WriteCallback
	rc       int
	ledgerID int64
	entryID  int64
	ctx      interface{}
}

// callbackDispatcher runs write callbacks on its own goroutine in the order
// they were dispatched. The hand-off never blocks so a slow callback cannot
// stall the journal goroutine.
type callbackDispatcher struct {
	ch   *channels.InfiniteChannel
	done chan struct{}
}

func newCallbackDispatcher() *callbackDispatcher {
	d := &callbackDispatcher{
		ch:   channels.NewInfiniteChannel(),
		done: make(chan struct{}),
	}
	go d.run()
	return d
}

func (d *callbackDispatcher) run() {
	defer close(d.done)
	for v := range d.ch.Out() {
		d.invoke(v.(completion))
	}
}

func (d *callbackDispatcher) invoke(c completion) {
	if c.cb == nil {
		return
	}
	defer func() {
		if r := recover(); r != nil {
			log.Error("write callback for ledger %d entry %d panicked: %v", c.ledgerID, c.entryID, r)
		}
	}()
	c.cb(c.rc, c.ledgerID, c.entryID, c.ctx)
}

func (d *callbackDispatcher) dispatch(c completion) {
	d.ch.In() <- c
}

// close waits for every dispatched callback to run.
func (d *callbackDispatcher) close() {
	d.ch.Close()
	<-d.done
}
