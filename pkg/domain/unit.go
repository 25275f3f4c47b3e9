package domain

// Unit is one item delivered to the inbound pipeline of a connection.
// The set of implementations is closed: FullMessage, ChunkedHeader, BodyFragment and Opaque.
type Unit interface {
	isUnit()
}

// FullMessage is a complete message that needs no aggregation.
type FullMessage struct {
	Message *Message
}

// ChunkedHeader is a message head declaring chunked transfer encoding.
type ChunkedHeader struct {
	Message *Message
}

// BodyFragment is one piece of a chunked body. The terminal fragment may be empty.
type BodyFragment struct {
	Data []byte
	Last bool
}

// Opaque is anything that is neither a message head nor a body fragment.
// It is forwarded untouched.
type Opaque struct {
	Value any
}

func (FullMessage) isUnit()   {}
func (ChunkedHeader) isUnit() {}
func (BodyFragment) isUnit()  {}
func (Opaque) isUnit()        {}

// Classify wraps a decoded head into the unit the gate expects for it.
func Classify(m *Message) Unit {
	if m.IsChunked() {
		return ChunkedHeader{Message: m}
	}
	return FullMessage{Message: m}
}
