/*
Package session tracks the gates of live connections.

A transport attaches a connection when it is accepted, delivers units through
the Manager, and releases the connection when it closes. Releasing a connection
in the middle of a chunked body discards the partially spooled file.
*/
package session
