package domain

// Header vocabulary used by the aggregator.
const (
	HeaderTransferEncoding = "Transfer-Encoding"
	HeaderExpect           = "Expect"
	HeaderContentLength    = "Content-Length"
	HeaderWarning          = "Warning"
)

const (
	EncodingChunked = "chunked"
	ExpectContinue  = "100-continue"
)

// OverflowWarning is the fixed diagnostic attached to messages whose body was truncated.
const OverflowWarning = "spooler.content.length.exceeded"

// Unlimited disables the maximum content length check.
const Unlimited int64 = -1
