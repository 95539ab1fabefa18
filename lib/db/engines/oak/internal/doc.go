// Package internal holds the in-memory tree node variant of the oak engine and the
// binary layout of everything oak writes into segment files.
//
// Every piece of data in a segment is a record:
//
//	kind u8 | VUInt payload length | payload | crc32 (IEEE, big-endian) of all preceding bytes
//
// Record kinds are the segment header, leaf and internal tree nodes (optionally
// snappy-compressed, flagged in the kind byte), commit records and the trailer
// written when a segment is sealed.
package internal
