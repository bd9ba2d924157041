package journaltool

import (
	"encoding/binary"
	"fmt"
	"io"

	"github.com/gocarina/gocsv"
	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

const (
	csvDesc         = "print the records as CSV"
	fromDesc        = "start scanning at this offset, only valid together with --id"
	skipInvalidDesc = "stop at a corrupt record instead of failing"
)

var (
	scanCmd = &cobra.Command{
		Use:   "scan",
		Short: "Print the records of journal files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSelector(journalDir, match, journalID)
			if err != nil {
				return err
			}
			if scanFrom != 0 && s.id == nil {
				return fmt.Errorf("--from needs --id")
			}
			cmd.SilenceUsage = true
			return scanJournals(cmd.OutOrStdout(), s, scanFrom, scanSkipInvalid, scanCSV)
		},
	}

	scanCSV         bool
	scanFrom        int64
	scanSkipInvalid bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	scanCmd.Flags().BoolVar(&scanCSV, "csv", false, csvDesc)
	scanCmd.Flags().Int64Var(&scanFrom, "from", 0, fromDesc)
	scanCmd.Flags().BoolVar(&scanSkipInvalid, "skip-invalid", false, skipInvalidDesc)
}

// scanRecord is one journal record. Records shorter than the ledger and entry
// id prefix have both ids set to -1.
type scanRecord struct {
	Journal  string `csv:"journal"`
	Version  int    `csv:"version"`
	Offset   int64  `csv:"offset"`
	Length   int    `csv:"length"`
	LedgerID int64  `csv:"ledger_id"`
	EntryID  int64  `csv:"entry_id"`
}

func newScanRecord(name string, version int, offset int64, entry []byte) *scanRecord {
	r := &scanRecord{
		Journal:  name,
		Version:  version,
		Offset:   offset,
		Length:   len(entry),
		LedgerID: -1,
		EntryID:  -1,
	}
	if len(entry) >= 16 {
		r.LedgerID = int64(binary.BigEndian.Uint64(entry[:8]))
		r.EntryID = int64(binary.BigEndian.Uint64(entry[8:16]))
	}
	return r
}

func scanJournals(w io.Writer, s *selector, from int64, skipInvalid, asCSV bool) error {
	var records []*scanRecord
	for _, id := range s.ids() {
		name := wal.FileName(id)
		end, err := journal.ScanJournal(s.dir, id, from, journal.ScannerFunc(
			func(version int, offset int64, entry []byte) error {
				r := newScanRecord(name, version, offset, entry)
				if asCSV {
					records = append(records, r)
					return nil
				}
				_, err := fmt.Fprintf(w, "%s\tV%d\toffset=%d\tlength=%d\tledger=%d\tentry=%d\n",
					r.Journal, r.Version, r.Offset, r.Length, r.LedgerID, r.EntryID)
				return err
			}), skipInvalid, nil)
		if err != nil {
			return fmt.Errorf("scan %s: %w", name, err)
		}
		if !asCSV {
			fmt.Fprintf(w, "%s\tend=%d\n", name, end)
		}
	}
	if asCSV {
		return gocsv.Marshal(records, w)
	}
	return nil
}
