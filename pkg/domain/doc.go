/*
Package domain holds the core types shared by the spooler engine and its adapters.

It has no dependencies on storage or transport: a Message is an already decoded
request or response head, and a Unit is one item flowing through the inbound
pipeline of a connection.

# Units

Unit is a closed set of variants:

  - FullMessage: a complete, non-chunked message.
  - ChunkedHeader: a head declaring chunked transfer encoding.
  - BodyFragment: one piece of a chunked body; Last marks the terminal piece.
  - Opaque: anything else travelling through the pipeline.
*/
package domain
