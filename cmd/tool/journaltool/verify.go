package journaltool

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/ledgerd/bookie/journal"
	"github.com/ledgerd/bookie/journal/wal"
)

const truncateDesc = "truncate a journal file after its last valid record"

var (
	verifyCmd = &cobra.Command{
		Use:   "verify",
		Short: "Check that every record of the journal files can be read",
		RunE: func(cmd *cobra.Command, _ []string) error {
			s, err := newSelector(journalDir, match, journalID)
			if err != nil {
				return err
			}
			cmd.SilenceUsage = true
			bad, err := verifyJournals(cmd.OutOrStdout(), s, verifyTruncate)
			if err != nil {
				return err
			}
			if bad > 0 && !verifyTruncate {
				return fmt.Errorf("%d corrupt journal files", bad)
			}
			return nil
		},
	}

	verifyTruncate bool
)

// nolint:gochecknoinits // cobra's standard way to initialize flags
func init() {
	verifyCmd.Flags().BoolVar(&verifyTruncate, "truncate", false, truncateDesc)
}

// verifyJournals scans every selected journal and reports the corrupt ones.
// With truncate, a corrupt file is cut right after its last valid record.
func verifyJournals(w io.Writer, s *selector, truncate bool) (int, error) {
	bad := 0
	for _, id := range s.ids() {
		name := wal.FileName(id)
		records, validEnd, err := verifyJournal(s.dir, id)
		if err == nil {
			fmt.Fprintf(w, "%s\tOK\t%d records\n", name, records)
			continue
		}
		if !isCorruption(err) {
			return bad, fmt.Errorf("verify %s: %w", name, err)
		}

		bad++
		fmt.Fprintf(w, "%s\tCORRUPT\t%d valid records up to offset %d: %v\n", name, records, validEnd, err)
		if truncate {
			fp := wal.FilePath(s.dir, id)
			if err := os.Truncate(fp, validEnd); err != nil {
				return bad, fmt.Errorf("truncate %s: %w", fp, err)
			}
			fmt.Fprintf(w, "%s\ttruncated to %d bytes\n", name, validEnd)
		}
	}
	return bad, nil
}

// verifyJournal returns the number of readable records and where the last of
// them ends.
func verifyJournal(dir string, id int64) (int, int64, error) {
	c, err := journal.OpenChannelForRead(dir, id, 0, nil)
	if err != nil {
		return 0, 0, err
	}
	validEnd := c.HeaderSize()
	_ = c.Close()

	records := 0
	_, err = journal.ScanJournal(dir, id, 0, journal.ScannerFunc(func(_ int, offset int64, entry []byte) error {
		records++
		validEnd = offset + wal.RecordSize(len(entry))
		return nil
	}), false, nil)
	return records, validEnd, err
}

func isCorruption(err error) bool {
	var (
		corrupt   wal.CorruptRecordError
		shortRead wal.ShortReadError
	)
	return errors.As(err, &corrupt) || errors.As(err, &shortRead)
}
