// Package syncengine reconciles a local DWN replica with the remote DWN
// endpoints of each registered identity.
//
// A pass processes every (identity, endpoint, direction) tuple. Push copies
// events from the local node to the endpoint; pull copies events from the
// endpoint to the local node. Within a tuple, events are transferred in
// source log order and the watermark advances page by page, only after the
// page has been attempted without a connection-level failure.
//
// # Failure containment
//
// Nothing that happens while talking to a replica escapes a pass:
//   - An identity whose DID cannot be resolved is skipped
//   - A transport failure aborts its tuple; the watermark stays put and the
//     next pass retries from the same point
//   - A rejected message is logged and skipped. It is not retried, because
//     the watermark moves past it once its page completes.
//
// Only ErrNoAgent, a configuration error, is returned to the caller.
package syncengine
