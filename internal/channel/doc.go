// Package channel owns the lifecycle of one push connection per scope: it
// dials the transport, parses inbound status events, keeps a bounded
// history, fans events out to listeners in arrival order, and reconnects
// with capped exponential backoff after abnormal closure. Callbacks from a
// superseded connection instance are discarded using a generation counter.
package channel
