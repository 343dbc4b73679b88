/*
Package ledger implements Sentinel's single source of truth: an
append-only, segmented, newline-delimited JSON event log.

Every other subsystem is a client of this package — the Mission Engine,
Commit Engine, Capability Registry and Derived-State Projector never
hold authoritative state of their own; they fold the ledger into views.

# Guarantees

  - Single-writer-per-file: a writer lock (Ledger.mu) serializes every
    Append. Concurrent readers only ever observe fully-written entries,
    because each entry is written as one []byte + Sync() before the
    lock is released.
  - Ordering: (segment index, byte offset) is a total order; Seq is a
    monotonic per-writer counter; Ts is monotonic per-process.
  - Durability: once Append returns, the entry has been fsync'd to the
    active segment file.
  - Never rewritten: rotation opens a new segment file; existing
    segments are only ever appended to or, after rotation, left
    untouched until an operator explicitly retires them.

# On-disk format

	<dir>/<name>-YYYYMMDD-NNN.jsonl

Each line is one complete JSON object with required fields ts, seq,
kind, payload. The active segment has a sidecar <name>-YYYYMMDD-NNN.jsonl.active
marker file; its absence on the newest segment at startup is a signal
(not proof) that the previous process exited cleanly after its last
rotation.

Rotation triggers: segment size >= 64 MiB, or a UTC day boundary.

# Corruption policy

A line that fails json.Unmarshal is logged as a CorruptTail and the
reader stops at the last good line of that segment; it is never
treated as a write error for already-durable entries. The reader itself
does not check for a terminating newline: a final line that parses is
returned even without one. When the active segment is resumed at
startup, a trailing line that fails to parse or lacks its newline is
truncated away before new entries are appended.
*/
package ledger
