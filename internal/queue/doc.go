// package queue defines the work messages of the indexing pipeline and
// the transports that carry them.
//
// Messages travel as tagged JSON objects. Delivery is at-least-once with
// optional visibility delay; consumers tolerate duplicates through the
// store's unique constraints rather than any deduplication here.
package queue
