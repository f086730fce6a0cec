package netutil_test

import (
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/reglet-dev/minihost/netutil"
)

func Test_LimitedReader_EnforcesLimit(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		content   string
		limit     int64
		wantError bool
		wantBody  string
	}{
		{name: "content under limit", content: "hello", limit: 10, wantBody: "hello"},
		{name: "content at limit", content: "hello", limit: 5, wantBody: "hello"},
		{name: "content over limit", content: "hello world", limit: 5, wantError: true, wantBody: "hello"},
		{name: "empty content", content: "", limit: 10, wantBody: ""},
		{name: "zero limit blocks data", content: "hello", limit: 0, wantError: true, wantBody: ""},
		{name: "zero limit admits empty body", content: "", limit: 0, wantBody: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			r := netutil.NewLimitedReader(strings.NewReader(tt.content), tt.limit)
			got, err := io.ReadAll(r)
			if tt.wantError {
				require.Error(t, err)
				assert.True(t, netutil.IsSizeLimitExceededError(err))
			} else {
				require.NoError(t, err)
			}
			assert.Equal(t, tt.wantBody, string(got))
		})
	}
}

func Test_LimitedReader_ReportsProgress(t *testing.T) {
	var seen []int64
	r := netutil.NewLimitedReader(strings.NewReader("abcdef"), 100)
	r.OnRead = func(total int64) { seen = append(seen, total) }

	buf := make([]byte, 4)
	_, err := r.Read(buf)
	require.NoError(t, err)
	_, err = r.Read(buf)
	require.NoError(t, err)

	assert.Equal(t, []int64{4, 6}, seen)
	assert.Equal(t, int64(6), r.BytesRead())
}

func Test_ProgressReader(t *testing.T) {
	var lastRead, lastTotal int64
	p := &netutil.ProgressReader{
		R:     strings.NewReader("0123456789"),
		Total: 10,
		OnChange: func(read, total int64) {
			lastRead, lastTotal = read, total
		},
	}
	_, err := io.Copy(io.Discard, p)
	require.NoError(t, err)
	assert.Equal(t, int64(10), lastRead)
	assert.Equal(t, int64(10), lastTotal)
}

func Test_SizeLimitExceededError(t *testing.T) {
	err := &netutil.SizeLimitExceededError{Limit: 2048, Read: 2049}
	assert.Contains(t, err.Error(), "2049")
	assert.Contains(t, err.Error(), "2.0 KB")
	assert.False(t, netutil.IsSizeLimitExceededError(nil))
}

func Test_FormatSize(t *testing.T) {
	assert.Equal(t, "512 bytes", netutil.FormatSize(512))
	assert.Equal(t, "1.5 KB", netutil.FormatSize(1536))
	assert.Equal(t, "10.0 MB", netutil.FormatSize(10*1024*1024))
	assert.Equal(t, "2.0 GB", netutil.FormatSize(2*1024*1024*1024))
}
