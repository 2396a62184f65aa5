// Package hash provides the CRC32-Castagnoli checksum used to protect blocks
// stored in object stores and key-value stores.
//
// Go's crc32 package uses SSE4.2 or the ARM CRC extension when available.
package hash
