package network

import (
	"context"
	"io"
	"mime/multipart"
	"net/http"
	"path"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/netutil"
	"github.com/reglet-dev/minihost/policy"
)

// Download describes a file download.
type Download struct {
	Header map[string]string
	URL    string
	// FilePath saves the download to a user path instead of a temp file.
	FilePath string
	Timeout  time.Duration
}

// Upload describes a multipart file upload.
type Upload struct {
	Header   map[string]string
	FormData map[string]string
	URL      string
	FilePath string
	Name     string
	Timeout  time.Duration
}

// FileTask is the handle returned by downloads and uploads.
type FileTask struct {
	*Task
}

// DownloadFile fetches d.URL into a temp file, or into d.FilePath.
func (c *Client) DownloadFile(ctx context.Context, d Download) (*FileTask, error) {
	u, err := parseURL(d.URL, "http", "https")
	if err != nil {
		return nil, err
	}
	if c.fs == nil {
		return nil, hosterr.Host(hosterr.CodeInternal, "file system unavailable")
	}
	t, ctx := c.newTask(ctx, "DownloadTask", d.Timeout)
	ft := &FileTask{Task: t}
	if err := c.checkDomain(policy.KindDownload, u); err != nil {
		ft.reject(err)
		return ft, nil
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		ft.reject(hosterr.Contract("url", "%v", err))
		return ft, nil
	}
	for k, v := range d.Header {
		req.Header.Set(k, v)
	}
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}
	go func() {
		v, err := ft.download(c, req, d.FilePath)
		ft.finish(v, err)
	}()
	return ft, nil
}

func (t *FileTask) download(c *Client, req *http.Request, filePath string) (dynamic.Value, error) {
	if err := t.Start(); err != nil {
		return dynamic.Null(), err
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return dynamic.Null(), err
	}
	defer func() { _ = resp.Body.Close() }()
	t.Emit(EventHeadersReceived, dynamic.Object("header", headerValue(resp.Header)))

	guest, f, err := c.fs.CreateTemp(path.Ext(req.URL.Path))
	if err != nil {
		return dynamic.Null(), err
	}
	p := newProgress(t.Task, "totalBytesWritten", "totalBytesExpectedToWrite")
	body := &netutil.ProgressReader{R: resp.Body, Total: resp.ContentLength, OnChange: p.report}
	_, err = io.Copy(f, netutil.NewLimitedReader(body, c.maxFile))
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		_ = c.fs.Unlink(guest)
		return dynamic.Null(), err
	}
	if filePath == "" {
		return dynamic.Object("tempFilePath", guest, "statusCode", resp.StatusCode), nil
	}
	saved, err := c.fs.SaveFile(guest, filePath)
	if err != nil {
		_ = c.fs.Unlink(guest)
		return dynamic.Null(), err
	}
	return dynamic.Object("filePath", saved, "statusCode", resp.StatusCode), nil
}

// UploadFile posts the file at u.FilePath as multipart form field u.Name.
func (c *Client) UploadFile(ctx context.Context, up Upload) (*FileTask, error) {
	u, err := parseURL(up.URL, "http", "https")
	if err != nil {
		return nil, err
	}
	if up.FilePath == "" {
		return nil, hosterr.Contract("filePath", "must not be empty")
	}
	if up.Name == "" {
		return nil, hosterr.Contract("name", "must not be empty")
	}
	if c.fs == nil {
		return nil, hosterr.Host(hosterr.CodeInternal, "file system unavailable")
	}
	t, ctx := c.newTask(ctx, "UploadTask", up.Timeout)
	ft := &FileTask{Task: t}
	if err := c.checkDomain(policy.KindUpload, u); err != nil {
		ft.reject(err)
		return ft, nil
	}
	go func() {
		v, err := ft.upload(ctx, c, u.String(), up)
		ft.finish(v, err)
	}()
	return ft, nil
}

func (t *FileTask) upload(ctx context.Context, c *Client, target string, up Upload) (dynamic.Value, error) {
	if err := t.Start(); err != nil {
		return dynamic.Null(), err
	}
	f, size, err := c.fs.Open(up.FilePath)
	if err != nil {
		return dynamic.Null(), err
	}
	defer func() { _ = f.Close() }()

	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)
	p := newProgress(t.Task, "totalBytesSent", "totalBytesExpectedToSend")
	go func() {
		pw.CloseWithError(writeMultipart(mw, up, &netutil.ProgressReader{R: f, Total: size, OnChange: p.report}))
	}()

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, target, pr)
	if err != nil {
		_ = pr.Close()
		return dynamic.Null(), hosterr.Contract("url", "%v", err)
	}
	for k, v := range up.Header {
		req.Header.Set(k, v)
	}
	req.Header.Set("Content-Type", mw.FormDataContentType())
	if req.Header.Get("User-Agent") == "" && c.userAgent != "" {
		req.Header.Set("User-Agent", c.userAgent)
	}

	resp, err := c.http.Do(req)
	if err != nil {
		return dynamic.Null(), err
	}
	defer func() { _ = resp.Body.Close() }()
	t.Emit(EventHeadersReceived, dynamic.Object("header", headerValue(resp.Header)))

	body, err := io.ReadAll(netutil.NewLimitedReader(resp.Body, c.maxBody))
	if err != nil {
		return dynamic.Null(), err
	}
	return dynamic.Object("data", string(body), "statusCode", resp.StatusCode), nil
}

func writeMultipart(mw *multipart.Writer, up Upload, file io.Reader) error {
	for k, v := range up.FormData {
		if err := mw.WriteField(k, v); err != nil {
			return err
		}
	}
	part, err := mw.CreateFormFile(up.Name, path.Base(up.FilePath))
	if err != nil {
		return err
	}
	if _, err := io.Copy(part, file); err != nil {
		return err
	}
	return mw.Close()
}

// progress emits progressUpdate events when the whole percentage changes.
type progress struct {
	t        *Task
	doneKey  string
	totalKey string
	last     int64
}

func newProgress(t *Task, doneKey, totalKey string) *progress {
	return &progress{t: t, doneKey: doneKey, totalKey: totalKey, last: -1}
}

func (p *progress) report(done, total int64) {
	var pct int64
	if total > 0 {
		pct = min(done*100/total, 100)
	}
	if pct == p.last && total > 0 {
		return
	}
	p.last = pct
	p.t.Emit(EventProgressUpdate, dynamic.Object(
		"progress", pct,
		p.doneKey, done,
		p.totalKey, total,
	))
}
