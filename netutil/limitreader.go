package netutil

import (
	"errors"
	"fmt"
	"io"
)

// LimitedReader reads at most Limit bytes from R and fails with
// SizeLimitExceededError as soon as more data is available. The optional
// OnRead hook observes the running byte count, which transfer tasks use
// for progress reporting.
type LimitedReader struct {
	R      io.Reader
	OnRead func(total int64)
	Limit  int64
	read   int64
}

// NewLimitedReader creates a LimitedReader. A non-positive limit admits
// no data at all.
func NewLimitedReader(r io.Reader, limit int64) *LimitedReader {
	return &LimitedReader{R: r, Limit: limit}
}

// Read implements io.Reader.
func (l *LimitedReader) Read(p []byte) (int, error) {
	remaining := l.Limit - l.read
	if remaining <= 0 {
		// Read one more byte so that data exactly at the limit is still accepted.
		var extra [1]byte
		n, err := l.R.Read(extra[:])
		if n > 0 {
			return 0, &SizeLimitExceededError{Limit: l.Limit, Read: l.read + int64(n)}
		}
		if err == nil {
			err = io.EOF
		}
		return 0, err
	}
	if int64(len(p)) > remaining {
		p = p[:remaining]
	}
	n, err := l.R.Read(p)
	l.read += int64(n)
	if n > 0 && l.OnRead != nil {
		l.OnRead(l.read)
	}
	return n, err
}

// BytesRead returns the number of bytes read so far.
func (l *LimitedReader) BytesRead() int64 {
	return l.read
}

// SizeLimitExceededError is returned when the size limit is exceeded.
type SizeLimitExceededError struct {
	Limit int64
	Read  int64
}

func (e *SizeLimitExceededError) Error() string {
	return fmt.Sprintf("size limit exceeded: read %d bytes, limit is %s", e.Read, FormatSize(e.Limit))
}

// IsSizeLimitExceededError returns true if the error is a SizeLimitExceededError.
func IsSizeLimitExceededError(err error) bool {
	var sizeLimitErr *SizeLimitExceededError
	return errors.As(err, &sizeLimitErr)
}

// FormatSize returns a human-readable size string.
func FormatSize(bytes int64) string {
	const (
		KB = 1024
		MB = KB * 1024
		GB = MB * 1024
	)

	switch {
	case bytes >= GB:
		return fmt.Sprintf("%.1f GB", float64(bytes)/GB)
	case bytes >= MB:
		return fmt.Sprintf("%.1f MB", float64(bytes)/MB)
	case bytes >= KB:
		return fmt.Sprintf("%.1f KB", float64(bytes)/KB)
	default:
		return fmt.Sprintf("%d bytes", bytes)
	}
}

// ProgressReader counts bytes read from R and reports them with the
// expected total, which is -1 when unknown.
type ProgressReader struct {
	R        io.Reader
	OnChange func(read, total int64)
	Total    int64
	read     int64
}

// Read implements io.Reader.
func (p *ProgressReader) Read(b []byte) (int, error) {
	n, err := p.R.Read(b)
	if n > 0 {
		p.read += int64(n)
		if p.OnChange != nil {
			p.OnChange(p.read, p.Total)
		}
	}
	return n, err
}
