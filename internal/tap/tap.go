// Package tap observes the host application's own API traffic as it
// passes through the reverse proxy.
//
// The tap is read-only. Request and response bodies reach their
// destination byte for byte; the tap keeps a copy and parses it after the
// fact. Anything it cannot parse is logged and dropped, and a panic in a
// parser never reaches the proxied exchange.
package tap

import (
	"bytes"
	"compress/gzip"
	"io"
	"net/http"
	"net/http/httputil"
	"net/url"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/roach88/remsync/internal/logger"
	"github.com/roach88/remsync/internal/remote"
	"github.com/roach88/remsync/internal/transport"
)

// Events receives what the tap observes. *engine.Engine implements it.
type Events interface {
	JobObserved(job remote.Job)
	FieldChanged(change remote.FieldChange)
}

// TokenSink receives credential tokens seen on outgoing requests.
// *credential.Captured implements it.
type TokenSink interface {
	Set(token string) bool
}

// Tap is an http.RoundTripper that forwards to Next and reports what it
// sees to Events and Tokens.
type Tap struct {
	Next   http.RoundTripper
	Events Events
	Tokens TokenSink
	Logger *zap.SugaredLogger
}

// New creates a Tap over next. A nil next uses http.DefaultTransport.
func New(next http.RoundTripper, events Events, tokens TokenSink, l *zap.SugaredLogger) *Tap {
	if next == nil {
		next = http.DefaultTransport
	}
	if l == nil {
		l = logger.Named(nil, "tap")
	}
	return &Tap{Next: next, Events: events, Tokens: tokens, Logger: l}
}

// RoundTrip implements http.RoundTripper.
func (t *Tap) RoundTrip(req *http.Request) (*http.Response, error) {
	if token := req.Header.Get(transport.HeaderToken); token != "" && t.Tokens != nil {
		if t.Tokens.Set(token) {
			t.Logger.Debugw("credential token captured", "path", req.URL.Path)
		}
	}

	var change *remote.FieldChange
	if req.Method == http.MethodPost && strings.HasSuffix(req.URL.Path, remote.EndpointSaveChanges) {
		change = t.inspectSave(req)
	}

	resp, err := t.Next.RoundTrip(req)
	if err != nil {
		return resp, err
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return resp, nil
	}

	switch {
	case change != nil:
		c := *change
		resp.Body = onComplete(resp.Body, func() {
			t.guard("field change", func() { t.Events.FieldChanged(c) })
		})
	case strings.HasSuffix(req.URL.Path, remote.EndpointJobDetail):
		encoding := resp.Header.Get("Content-Encoding")
		resp.Body = tee(resp.Body, func(body []byte) {
			t.guard("job detail", func() { t.observeJob(body, encoding) })
		})
	}
	return resp, nil
}

// inspectSave buffers the request body, restores it for the upstream, and
// parses the copy.
func (t *Tap) inspectSave(req *http.Request) *remote.FieldChange {
	if req.Body == nil || req.Body == http.NoBody {
		return nil
	}
	body, err := io.ReadAll(req.Body)
	_ = req.Body.Close()
	req.Body = io.NopCloser(bytes.NewReader(body))
	req.ContentLength = int64(len(body))
	if err != nil {
		t.Logger.Warnw("failed to read save request body", "error", err)
		return nil
	}

	var change *remote.FieldChange
	t.guard("save request", func() {
		c, ok, perr := remote.ParseJobFieldSave(body)
		if perr != nil {
			t.Logger.Debugw("ignoring malformed save request", "error", perr)
			return
		}
		if !ok {
			return
		}
		if c.JobID == "" {
			t.Logger.Warnw("ignoring job save without an Id", "job", c.JobNumber)
			return
		}
		change = &c
	})
	return change
}

func (t *Tap) observeJob(body []byte, encoding string) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "", "identity":
	case "gzip":
		zr, err := gzip.NewReader(bytes.NewReader(body))
		if err != nil {
			t.Logger.Debugw("ignoring job detail with bad gzip header", "error", err)
			return
		}
		plain, err := io.ReadAll(zr)
		if err != nil {
			t.Logger.Debugw("ignoring truncated gzip job detail", "error", err)
			return
		}
		body = plain
	default:
		// NewProxy asks for gzip; another encoding means something in
		// between rewrote the exchange.
		t.Logger.Warnw("ignoring job detail in unsupported encoding", "encoding", encoding)
		return
	}

	job, ok, err := remote.ParseJobDetail(body)
	if err != nil {
		t.Logger.Debugw("ignoring malformed job detail", "error", err)
		return
	}
	if !ok {
		return
	}
	t.Events.JobObserved(job)
}

func (t *Tap) guard(what string, fn func()) {
	defer func() {
		if r := recover(); r != nil {
			t.Logger.Errorw("recovered panic in tap", "stage", what, "panic", r)
		}
	}()
	fn()
}

// NewProxy returns a reverse proxy to upstream whose transport is tapped.
// Job detail requests are narrowed to gzip so the tap can read them.
func NewProxy(upstream *url.URL, tap *Tap) *httputil.ReverseProxy {
	proxy := httputil.NewSingleHostReverseProxy(upstream)
	director := proxy.Director
	proxy.Director = func(req *http.Request) {
		director(req)
		req.Host = upstream.Host
		if strings.HasSuffix(req.URL.Path, remote.EndpointJobDetail) && req.Header.Get("Accept-Encoding") != "" {
			req.Header.Set("Accept-Encoding", "gzip")
		}
	}
	proxy.Transport = tap
	proxy.ErrorHandler = func(w http.ResponseWriter, r *http.Request, err error) {
		tap.Logger.Warnw("upstream request failed", "path", r.URL.Path, "error", err)
		w.WriteHeader(http.StatusBadGateway)
	}
	return proxy
}

// teeBody copies everything read through it and hands the copy to done
// once, on EOF. With always set, Close also fires done and nothing is
// buffered.
type teeBody struct {
	rc     io.ReadCloser
	buf    bytes.Buffer
	done   func([]byte)
	once   sync.Once
	eof    bool
	always bool
}

func tee(rc io.ReadCloser, done func([]byte)) io.ReadCloser {
	return &teeBody{rc: rc, done: done}
}

func (b *teeBody) Read(p []byte) (int, error) {
	n, err := b.rc.Read(p)
	if n > 0 && !b.always {
		b.buf.Write(p[:n])
	}
	if err == io.EOF {
		b.eof = true
		b.finish()
	}
	return n, err
}

func (b *teeBody) Close() error {
	err := b.rc.Close()
	// a body closed early is incomplete; parsing it would only log noise
	if b.eof || b.always {
		b.finish()
	}
	return err
}

func (b *teeBody) finish() {
	b.once.Do(func() { b.done(b.buf.Bytes()) })
}

// onComplete runs fn once the response has been delivered or abandoned.
// The upstream already accepted the save either way.
func onComplete(rc io.ReadCloser, fn func()) io.ReadCloser {
	return &teeBody{rc: rc, done: func([]byte) { fn() }, always: true}
}
