/*
Package ports defines the driven ports (interfaces) of the spooler gate.

These interfaces decouple the aggregation state machine from storage and
transport, so the same core runs behind net/http, a raw connection handler or
a test harness.

# Key Interfaces

  - StoreFactory / BackingStore: the append-only sink a chunked body is spooled to.
  - Interim: the connection side of the 100-continue handshake.
  - Stage: the next pipeline stage, receiving forwarded and finalized units.
  - SessionRegistry: an index of active sessions, used for inspection and orphan cleanup.
*/
package ports
