package progress

import "io"

// Reader wraps an io.Reader and reports cumulative progress via a callback.
// Initial accounts for bytes already on disk when a transfer resumes.
type Reader struct {
	Reader         io.Reader
	Initial        int64
	Total          int64
	OnProgress     func(written int64, total int64)
	totalRead      int64 // bytes read through this reader
	lastReport     int64 // bytes since last report
	reportInterval int64 // bytes
}

func NewReader(r io.Reader, initial, total, interval int64, cb func(written int64, total int64)) *Reader {
	return &Reader{
		Reader:         r,
		Initial:        initial,
		Total:          total,
		OnProgress:     cb,
		reportInterval: interval,
	}
}

// Read reports when the interval elapses and once more when the reader is drained.
func (pr *Reader) Read(p []byte) (int, error) {
	n, err := pr.Reader.Read(p)
	if n > 0 {
		pr.totalRead += int64(n)
		pr.lastReport += int64(n)

		if pr.reportInterval > 0 && pr.lastReport >= pr.reportInterval {
			pr.report()
		}
	}

	if err == io.EOF && pr.lastReport > 0 {
		pr.report()
	}

	return n, err
}

// Written returns the bytes on disk including the resumed prefix.
func (pr *Reader) Written() int64 {
	return pr.Initial + pr.totalRead
}

func (pr *Reader) report() {
	pr.lastReport = 0

	if pr.OnProgress != nil {
		pr.OnProgress(pr.Written(), pr.Total)
	}
}
