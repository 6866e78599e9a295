/*
Package fencekv provides the metadata and write-batch protocol layer of
a fence-partitioned LSM storage engine.

Fences divide each level of the tree into disjoint key ranges; files
are routed to the fence owning their smallest key, and files preceding
the first fence of a level form its sentinel range. Fence placement is
decided by hashing key bytes, so the partitioning is deterministic and
reproducible across replays of the same data.

The package exposes the public write surface:

  - WriteBatch accumulates Put/Delete operations in the binary batch
    format and can be replayed atomically.
  - Comparator defines key ordering; BytewiseComparator is the default.
  - Options configures the level count, fence hash schedule, and the
    ambient filesystem and logging seams.

The durable metadata protocol (version edits, the MANIFEST log, fence
selection, and batch replay) lives under internal/ and is driven
through these types.

# Concurrency

A WriteBatch is not safe for concurrent use; build it on one goroutine
and hand it off.
*/
package fencekv
