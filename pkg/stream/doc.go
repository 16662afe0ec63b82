// Package stream fans ingested events out to live in-process subscriptions
// and streaming transport connections.
//
// Fan-out isolates failures per consumer: a panicking callback or a failed
// stream send is reported through an error signal and never reaches the
// producer that ingested the event.
package stream
