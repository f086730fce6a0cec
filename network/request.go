package network

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/url"
	"slices"
	"strconv"
	"strings"
	"time"

	"github.com/reglet-dev/minihost/dynamic"
	"github.com/reglet-dev/minihost/hosterr"
	"github.com/reglet-dev/minihost/netutil"
	"github.com/reglet-dev/minihost/policy"
)

// Methods lists the accepted request methods.
var Methods = []string{"GET", "HEAD", "POST", "PUT", "DELETE", "TRACE", "CONNECT", "OPTIONS"}

// Request describes a guest HTTP request.
type Request struct {
	Header       map[string]string
	Data         dynamic.Value
	URL          string
	Method       string
	DataType     string
	ResponseType string
	Timeout      time.Duration
}

// RequestTask is the handle returned by Client.Request.
type RequestTask struct {
	*Task
}

// Request validates req and issues it in the background. Contract errors
// are returned synchronously and no request is sent. Every later failure,
// including a domain denial, settles the task's future.
func (c *Client) Request(ctx context.Context, req Request) (*RequestTask, error) {
	u, err := parseURL(req.URL, "http", "https")
	if err != nil {
		return nil, err
	}
	method := strings.ToUpper(req.Method)
	if method == "" {
		method = http.MethodGet
	}
	if !slices.Contains(Methods, method) {
		return nil, hosterr.Contract("method", "unsupported method %q", req.Method)
	}
	switch req.ResponseType {
	case "", "text", "arraybuffer":
	default:
		return nil, hosterr.Contract("responseType", "unsupported response type %q", req.ResponseType)
	}

	t, ctx := c.newTask(ctx, "RequestTask", req.Timeout)
	rt := &RequestTask{Task: t}
	if err := c.checkDomain(policy.KindRequest, u); err != nil {
		rt.reject(err)
		return rt, nil
	}

	httpReq, err := c.buildRequest(ctx, method, u, req)
	if err != nil {
		rt.reject(err)
		return rt, nil
	}
	go rt.run(c, httpReq, req)
	return rt, nil
}

func (t *RequestTask) run(c *Client, httpReq *http.Request, req Request) {
	if err := t.Start(); err != nil {
		t.finish(dynamic.Null(), err)
		return
	}
	start := time.Now()
	resp, err := c.http.Do(httpReq)
	if err != nil {
		c.logger.Debug("request failed", "url", netutil.StripCredentials(req.URL), "error", err)
		t.finish(dynamic.Null(), err)
		return
	}
	defer func() { _ = resp.Body.Close() }()

	header := headerValue(resp.Header)
	t.Emit(EventHeadersReceived, dynamic.Object("header", header))

	body, err := io.ReadAll(netutil.NewLimitedReader(resp.Body, c.maxBody))
	if err != nil {
		t.finish(dynamic.Null(), err)
		return
	}
	tlsVersion := "none"
	if resp.TLS != nil {
		tlsVersion = netutil.TLSVersionString(resp.TLS.Version)
	}
	c.logger.Debug("request completed",
		"url", netutil.StripCredentials(req.URL),
		"status", resp.StatusCode,
		"tls", tlsVersion,
		"bytes", len(body),
		"latency", time.Since(start))

	t.finish(dynamic.Object(
		"data", decodeBody(body, req.DataType, req.ResponseType),
		"statusCode", resp.StatusCode,
		"header", header,
		"cookies", resp.Header.Values("Set-Cookie"),
	), nil)
}

func (c *Client) buildRequest(ctx context.Context, method string, u *url.URL, req Request) (*http.Request, error) {
	target := *u
	header := make(http.Header, len(req.Header))
	for k, v := range req.Header {
		header.Set(k, v)
	}
	var body io.Reader
	if method == http.MethodGet || method == http.MethodHead {
		target.RawQuery = appendQuery(target.RawQuery, req.Data)
	} else {
		b, contentType, err := encodeBody(req.Data, header.Get("Content-Type"))
		if err != nil {
			return nil, err
		}
		if b != nil {
			body = bytes.NewReader(b)
		}
		if contentType != "" && header.Get("Content-Type") == "" {
			header.Set("Content-Type", contentType)
		}
	}
	httpReq, err := http.NewRequestWithContext(ctx, method, target.String(), body)
	if err != nil {
		return nil, hosterr.Contract("url", "%v", err)
	}
	httpReq.Header = header
	if httpReq.Header.Get("User-Agent") == "" && c.userAgent != "" {
		httpReq.Header.Set("User-Agent", c.userAgent)
	}
	return httpReq, nil
}

// appendQuery adds data to a GET query. Maps become key/value pairs and
// strings are appended verbatim.
func appendQuery(raw string, data dynamic.Value) string {
	var extra string
	switch data.Kind() {
	case dynamic.KindMap:
		q := url.Values{}
		for _, k := range data.Keys() {
			v, _ := data.Get(k)
			q.Add(k, scalar(v))
		}
		extra = q.Encode()
	case dynamic.KindString:
		extra, _ = data.AsString()
	default:
		return raw
	}
	switch {
	case extra == "":
		return raw
	case raw == "":
		return extra
	}
	return raw + "&" + extra
}

// encodeBody serializes data for a request body and reports the content
// type to default to.
func encodeBody(data dynamic.Value, contentType string) ([]byte, string, error) {
	switch data.Kind() {
	case dynamic.KindNull:
		return nil, "", nil
	case dynamic.KindString:
		s, _ := data.AsString()
		return []byte(s), "", nil
	case dynamic.KindBinary:
		b, _ := data.AsBinary()
		return b, "application/octet-stream", nil
	}
	if strings.Contains(contentType, "x-www-form-urlencoded") && data.Kind() == dynamic.KindMap {
		return []byte(appendQuery("", data)), "", nil
	}
	b, err := json.Marshal(data)
	if err != nil {
		return nil, "", hosterr.Contract("data", "cannot encode: %v", err)
	}
	return b, "application/json", nil
}

func scalar(v dynamic.Value) string {
	switch v.Kind() {
	case dynamic.KindString:
		s, _ := v.AsString()
		return s
	case dynamic.KindNumber:
		n, _ := v.AsNumber()
		return strconv.FormatFloat(n, 'f', -1, 64)
	case dynamic.KindNull:
		return ""
	}
	return v.String()
}

// decodeBody renders a response body. With dataType json a text body is
// parsed when possible and left as a string otherwise.
func decodeBody(body []byte, dataType, responseType string) dynamic.Value {
	if responseType == "arraybuffer" {
		return dynamic.Binary(body)
	}
	if dataType == "" || dataType == "json" {
		if v, err := dynamic.Parse(body); err == nil {
			return v
		}
	}
	return dynamic.String(string(body))
}

func headerValue(h http.Header) dynamic.Value {
	keys := make([]string, 0, len(h))
	for k := range h {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	pairs := make([]any, 0, 2*len(keys))
	for _, k := range keys {
		pairs = append(pairs, k, strings.Join(h.Values(k), ", "))
	}
	return dynamic.Object(pairs...)
}
