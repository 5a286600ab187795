// Package dwn defines the Decentralized Web Node message model shared by the
// local node, the remote transports and the sync engine.
//
// This package contains types and content addressing only. Every other
// internal package imports dwn; dwn imports nothing internal.
//
// Key design constraints:
//   - Message CIDs cover the descriptor and authorization, never encodedData
//   - CIDs are SHA-256 over RFC 8785 canonical JSON with domain separation
//   - Watermarks and cursors are opaque strings owned by the event log
//   - JSON tags use camelCase to match the DWN wire convention
package dwn
