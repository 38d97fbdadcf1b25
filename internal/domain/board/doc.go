// Package board holds the client-side model of a pegasus board: decoded
// records, rendered notes and their registry, the poll watermark, deletion
// tombstones, lock and lifecycle state, and the render events the rest of
// the client emits.
package board
