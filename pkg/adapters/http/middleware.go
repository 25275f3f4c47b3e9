package http

import (
	"errors"
	"io"
	"log/slog"
	"net/http"

	"github.com/aretw0/spooler/internal/logging"
	"github.com/aretw0/spooler/pkg/domain"
	"github.com/aretw0/spooler/pkg/session"
	"github.com/google/uuid"
)

// SpoolOption configures the Spool middleware.
type SpoolOption func(*spooling)

// WithBufferSize sets how many bytes are read from the request body per fragment.
func WithBufferSize(n int) SpoolOption {
	return func(s *spooling) {
		if n > 0 {
			s.bufferSize = n
		}
	}
}

// WithLogger sets the logger used for request failures.
func WithLogger(logger *slog.Logger) SpoolOption {
	return func(s *spooling) {
		if logger != nil {
			s.logger = logger
		}
	}
}

type spooling struct {
	manager    *session.Manager
	bufferSize int
	logger     *slog.Logger
}

// Spool returns a middleware aggregating chunked request bodies through the gate
// of the request's connection. Handlers behind it see a request with a
// Content-Length and a body read from the spool file; the file is removed once
// the handler returns. Other requests pass through untouched.
func Spool(manager *session.Manager, opts ...SpoolOption) func(http.Handler) http.Handler {
	s := &spooling{
		manager:    manager,
		bufferSize: 32 * 1024,
		logger:     logging.NewNop(),
	}
	for _, opt := range opts {
		opt(s)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			s.serve(next, w, r)
		})
	}
}

func (s *spooling) serve(next http.Handler, w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()

	cio, tracked := connFromContext(ctx)
	if !tracked || r.ProtoMajor >= 2 {
		// Untracked or multiplexed connections get a gate per request.
		cio = &connIO{id: "req-" + uuid.NewString()}
		defer s.manager.Release(ctx, cio.id)
	}

	ex := &exchange{w: w}
	cio.bind(ex)
	defer cio.bind(nil)

	gate := s.manager.Attach(cio.id, cio, cio)

	head := requestMessage(r)
	unit := domain.Classify(head)
	if err := gate.Handle(ctx, unit); err != nil {
		s.fail(w, r, err)
		return
	}
	if _, chunked := unit.(domain.ChunkedHeader); !chunked {
		next.ServeHTTP(w, r)
		return
	}

	buf := make([]byte, s.bufferSize)
	for {
		n, err := r.Body.Read(buf)
		last := errors.Is(err, io.EOF)
		if err != nil && !last {
			gate.Reset(ctx, err)
			s.logger.Warn("failed to read request body", "conn_id", cio.id, "err", err)
			http.Error(w, "failed to read request body", http.StatusBadRequest)
			return
		}
		if n > 0 || last {
			// The gate writes the fragment before returning, so buf can be reused.
			if err := gate.Handle(ctx, domain.BodyFragment{Data: buf[:n], Last: last}); err != nil {
				s.fail(w, r, err)
				return
			}
		}
		if last {
			break
		}
	}

	msg := ex.message
	if msg == nil || msg.Body == nil {
		s.fail(w, r, errors.New("gate did not produce a message"))
		return
	}
	defer func() {
		if err := msg.Body.Discard(); err != nil {
			s.logger.Warn("failed to remove spool file", "conn_id", cio.id, "err", err)
		}
	}()

	body, err := msg.Body.Open()
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer body.Close()

	next.ServeHTTP(w, spooledRequest(r, msg, body))
}

func (s *spooling) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := http.StatusInternalServerError
	switch {
	case errors.Is(err, domain.ErrStorage):
		// The body cannot be spooled; the connection is not reusable.
		w.Header().Set("Connection", "close")
	case errors.Is(err, domain.ErrUnexpectedFragment), errors.Is(err, domain.ErrUnexpectedMessage):
		status = http.StatusBadRequest
	}
	s.logger.Error("failed to spool request", "method", r.Method, "path", r.URL.Path, "err", err)
	http.Error(w, http.StatusText(status), status)
}

// requestMessage converts the head decoded by net/http into a domain message.
// net/http moves Transfer-Encoding out of the header map; it is put back here.
func requestMessage(r *http.Request) *domain.Message {
	target := r.RequestURI
	if target == "" {
		target = r.URL.RequestURI()
	}
	m := domain.NewRequest(r.Method, target)
	m.Proto = r.Proto
	m.Header = r.Header.Clone()
	if m.Header == nil {
		m.Header = make(http.Header)
	}
	for _, te := range r.TransferEncoding {
		m.Header.Add(domain.HeaderTransferEncoding, te)
	}
	m.ContentLength = r.ContentLength
	return m
}

// spooledRequest rebuilds r around the finalized message.
func spooledRequest(r *http.Request, msg *domain.Message, body io.ReadCloser) *http.Request {
	out := r.Clone(r.Context())
	out.Header = msg.Header.Clone()
	out.TransferEncoding = msg.TransferEncodings()
	out.Header.Del(domain.HeaderTransferEncoding)
	out.ContentLength = msg.ContentLength
	out.Body = body
	return out
}
