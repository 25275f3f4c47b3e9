/*
Package spooler reassembles chunked HTTP message bodies into single messages whose
body is spooled to a temporary file.

It is one stage of an inbound processing pipeline: message heads and body
fragments, already decoded by the transport, go in; complete messages come out.
Only one body is aggregated per connection at a time, peak memory does not
depend on body size, and an optional size limit truncates (rather than rejects)
oversized bodies, flagging them with a Warning header.

# Concept

A Spooler holds the configuration shared by every connection (where to spool,
the size limit, hooks, registry). Each connection gets its own Gate, which owns
the aggregation state:

	IDLE --chunked head--> AWAITING_BODY --fragment--> AWAITING_BODY --last fragment--> IDLE

Heads that are not chunked, and anything that is neither a head nor a body
fragment, pass through untouched.

# Usage

	sp, err := spooler.New(
		spooler.WithTempDir("/var/spool/myserver"),
		spooler.WithMaxContentLength(64<<20),
	)
	if err != nil {
		log.Fatal(err)
	}

	gate := sp.NewGate("conn-1", interim, ports.StageFunc(func(ctx context.Context, u domain.Unit) error {
		if full, ok := u.(domain.FullMessage); ok && full.Message.Body != nil {
			defer full.Message.Body.Discard()
			// consume full.Message.Body.Open() ...
		}
		return nil
	}))
	defer gate.Close(ctx)

	err = gate.Handle(ctx, domain.Classify(head))
	// ... then one Handle call per body fragment, the last one with Last: true.

Fragment data is written before Handle returns, so callers may reuse the buffer.
*/
package spooler
