package domain

import (
	"net/http"
	"strconv"
	"strings"
)

// MessageKind distinguishes requests from responses.
type MessageKind string

const (
	KindRequest  MessageKind = "request"
	KindResponse MessageKind = "response"
)

// Message is a decoded HTTP message head, plus the body once it has been aggregated.
type Message struct {
	Kind MessageKind

	// Start line. Method and Target are set for requests, Status for responses.
	Method string
	Target string
	Status int
	Proto  string

	Header http.Header

	// ContentLength is the declared body length. -1 means unknown.
	ContentLength int64

	// Body is attached when a chunked body has been spooled. Nil otherwise.
	Body Body
}

// NewRequest creates a request head with an empty header set.
func NewRequest(method, target string) *Message {
	return &Message{
		Kind:          KindRequest,
		Method:        method,
		Target:        target,
		Proto:         "HTTP/1.1",
		Header:        make(http.Header),
		ContentLength: -1,
	}
}

// NewResponse creates a response head with an empty header set.
func NewResponse(status int) *Message {
	return &Message{
		Kind:          KindResponse,
		Status:        status,
		Proto:         "HTTP/1.1",
		Header:        make(http.Header),
		ContentLength: -1,
	}
}

// TransferEncodings returns the declared transfer codings, in order, lower-cased.
// Comma separated values and repeated header lines are both accepted.
func (m *Message) TransferEncodings() []string {
	var out []string
	for _, line := range m.Header.Values(HeaderTransferEncoding) {
		for _, tok := range strings.Split(line, ",") {
			tok = strings.ToLower(strings.TrimSpace(tok))
			if tok != "" {
				out = append(out, tok)
			}
		}
	}
	return out
}

// IsChunked reports whether the message declares chunked transfer encoding.
func (m *Message) IsChunked() bool {
	for _, enc := range m.TransferEncodings() {
		if enc == EncodingChunked {
			return true
		}
	}
	return false
}

// ExpectsContinue reports whether the sender waits for a 100 Continue before sending the body.
func (m *Message) ExpectsContinue() bool {
	return strings.EqualFold(strings.TrimSpace(m.Header.Get(HeaderExpect)), ExpectContinue)
}

// StripChunked removes the chunked coding from the Transfer-Encoding declaration.
// Other codings are kept; the header is removed when none remain.
func (m *Message) StripChunked() {
	var kept []string
	for _, enc := range m.TransferEncodings() {
		if enc != EncodingChunked {
			kept = append(kept, enc)
		}
	}
	if len(kept) == 0 {
		m.Header.Del(HeaderTransferEncoding)
		return
	}
	m.Header.Set(HeaderTransferEncoding, strings.Join(kept, ", "))
}

// MarkOverflow attaches the overflow warning. Calling it more than once is harmless.
func (m *Message) MarkOverflow() {
	m.Header.Set(HeaderWarning, OverflowWarning)
}

// Overflowed reports whether the overflow warning is attached.
func (m *Message) Overflowed() bool {
	for _, v := range m.Header.Values(HeaderWarning) {
		if v == OverflowWarning {
			return true
		}
	}
	return false
}

// SetContentLength records the final body length both on the message and in its headers.
func (m *Message) SetContentLength(n int64) {
	m.ContentLength = n
	m.Header.Set(HeaderContentLength, strconv.FormatInt(n, 10))
}
