package journal_test

import (
	"errors"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

type writeCall struct {
	off int64
	n   int
}

// recordingFile remembers every WriteAt.
type recordingFile struct {
	journal.File
	mu     sync.Mutex
	writes []writeCall
}

func (f *recordingFile) WriteAt(p []byte, off int64) (int, error) {
	f.mu.Lock()
	f.writes = append(f.writes, writeCall{off: off, n: len(p)})
	f.mu.Unlock()
	return f.File.WriteAt(p, off)
}

func (f *recordingFile) writeCalls() []writeCall {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]writeCall(nil), f.writes...)
}

// fakeProvider opens real files and lets tests inspect or break them.
type fakeProvider struct {
	mu      sync.Mutex
	reuse   bool
	files   []*recordingFile
	renames [][2]string
	// failFlag makes Open fail for any flag containing it.
	failFlag int
	failAll  bool
}

var errInjected = errors.New("injected failure")

func (p *fakeProvider) Open(path string, flag int) (journal.File, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.failAll || (p.failFlag != 0 && flag&p.failFlag != 0) {
		return nil, errInjected
	}
	fp, err := os.OpenFile(path, flag, 0o644)
	if err != nil {
		return nil, err
	}
	f := &recordingFile{File: fp}
	p.files = append(p.files, f)
	return f, nil
}

func (p *fakeProvider) SupportsReuse() bool { return p.reuse }

func (p *fakeProvider) NotifyRename(oldPath, newPath string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.renames = append(p.renames, [2]string{oldPath, newPath})
}

func (p *fakeProvider) Close() error { return nil }

func (p *fakeProvider) lastFile() *recordingFile {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.files[len(p.files)-1]
}

func testChannelOptions() journal.ChannelOptions {
	opts := journal.DefaultChannelOptions()
	opts.PreAllocSize = 64 * journal.KB
	opts.WriteBufferSize = 4 * journal.KB
	return opts
}

func testConfig(dir string) journal.Config {
	cfg := journal.DefaultConfig(dir)
	cfg.PreAllocSize = 64 * journal.KB
	cfg.WriteBufferSize = 4 * journal.KB
	cfg.MaxJournalSize = journal.MB
	cfg.RemovePagesFromCache = false
	cfg.ShutdownTimeout = 5 * time.Second
	return cfg
}

// writeJournalFile writes a raw journal file: a header for version (none for V1)
// followed by body.
func writeJournalFile(t *testing.T, dir string, id int64, version int, body ...[]byte) string {
	t.Helper()
	data := wal.EncodeHeader(version)
	for _, b := range body {
		data = append(data, b...)
	}
	fp := wal.FilePath(dir, id)
	require.Nil(t, os.WriteFile(fp, data, 0o644))
	return fp
}

func record(payload string) []byte {
	l := wal.EncodeLength(len(payload))
	return append(l[:], payload...)
}

func paddingRecord(n int) []byte {
	mask := wal.EncodeLength(int(wal.PaddingMask))
	l := wal.EncodeLength(n)
	out := append(mask[:], l[:]...)
	return append(out, make([]byte, n)...)
}

// scanAll returns the payloads of every journal in dir, oldest first.
func scanAll(t *testing.T, dir string) []string {
	t.Helper()
	var payloads []string
	for _, id := range journal.ListJournalIDs(dir, nil) {
		_, err := journal.ScanJournal(dir, id, 0, journal.ScannerFunc(func(_ int, _ int64, entry []byte) error {
			payloads = append(payloads, string(entry))
			return nil
		}), false, nil)
		require.Nil(t, err)
	}
	return payloads
}

func touch(t *testing.T, dir string, name string) {
	t.Helper()
	require.Nil(t, os.WriteFile(filepath.Join(dir, name), nil, 0o644))
}
