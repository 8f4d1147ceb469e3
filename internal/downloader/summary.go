package downloader

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
)

// State is the terminal state of a run.
type State string

const (
	StateDone            State = "done"
	StatePartiallyFailed State = "partially_failed"
	StateInterrupted     State = "interrupted"
	StateAborted         State = "aborted"
)

// Summary describes the outcome of a run.
type Summary struct {
	RunID string
	State State

	// Total is the number of distinct items enumerated.
	Total int
	// Considered is the number of items planned for download in the first round.
	Considered int
	// Skipped items were already verified on disk.
	Skipped   int
	Succeeded int
	Rounds    int

	BytesDownloaded int64

	// Failed holds the filenames of items that did not complete in this run.
	Failed []string
}

// Successful is the number of items verified on disk at the end of the run.
func (s *Summary) Successful() int {
	return s.Total - len(s.Failed)
}

func (s *Summary) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "run %s finished: %s\n", s.RunID, s.State)
	fmt.Fprintf(&b, "total: %d, skipped: %d, downloaded: %d, failed: %d, rounds: %d, transferred: %s\n",
		s.Total, s.Skipped, s.Succeeded, len(s.Failed), s.Rounds, humanize.IBytes(uint64(s.BytesDownloaded)))

	if len(s.Failed) > 0 {
		b.WriteString("failed files:\n")

		for _, name := range s.Failed {
			fmt.Fprintf(&b, "  - %s\n", name)
		}
	}

	return b.String()
}
