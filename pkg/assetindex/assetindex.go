// Copyright 2025 Google LLC
// SPDX-License-Identifier: Apache-2.0

// Package assetindex implements the binary asset manifest: a fixed-width,
// sorted index from truncated path hashes to content hashes. The encoded form
// is what gets persisted per project; lookups binary-search the raw buffer so
// the serving path never materializes per-entry structures.
//
// Layout:
//
//	header (16 bytes): u32be version | u32be entryCount | 8 reserved bytes
//	entries (48 bytes each): 16-byte path hash | 32-byte content hash
//
// Entries are sorted bytewise ascending by path hash. Reserved header bytes
// are written as zero and ignored on decode.
package assetindex

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"sort"

	"github.com/pkg/errors"

	"github.com/pagedock/pagedock/pkg/content"
)

// Version is the only manifest version currently produced or accepted.
const Version = 1

const (
	headerSize = 16
	entrySize  = content.PathHashSize + content.HashSize
)

// Entry pairs a pathname with the content hash it resolves to.
type Entry struct {
	Pathname string
	Hash     string
}

// Encode builds the binary manifest for the given entries. Entries may arrive
// in any order; the encoding is canonical (sorted by path hash). Duplicate
// pathnames and malformed hashes are rejected.
func Encode(entries []Entry) ([]byte, error) {
	type record struct {
		pathHash [content.PathHashSize]byte
		hash     [content.HashSize]byte
	}
	records := make([]record, 0, len(entries))
	for _, e := range entries {
		var rec record
		rec.pathHash = content.PathHash(e.Pathname)
		if !content.ValidHash(e.Hash) {
			return nil, errors.Errorf("entry %q: malformed content hash %q", e.Pathname, e.Hash)
		}
		if _, err := hex.Decode(rec.hash[:], []byte(e.Hash)); err != nil {
			return nil, errors.Wrapf(err, "entry %q", e.Pathname)
		}
		records = append(records, rec)
	}
	sort.Slice(records, func(i, j int) bool {
		return bytes.Compare(records[i].pathHash[:], records[j].pathHash[:]) < 0
	})
	for i := 1; i < len(records); i++ {
		if records[i].pathHash == records[i-1].pathHash {
			return nil, errors.Errorf("duplicate path hash %x", records[i].pathHash)
		}
	}
	out := make([]byte, headerSize+entrySize*len(records))
	binary.BigEndian.PutUint32(out[0:4], Version)
	binary.BigEndian.PutUint32(out[4:8], uint32(len(records)))
	for i, rec := range records {
		off := headerSize + entrySize*i
		copy(out[off:], rec.pathHash[:])
		copy(out[off+content.PathHashSize:], rec.hash[:])
	}
	return out, nil
}

// Index wraps an encoded manifest for lookups. The raw buffer is retained
// as-is and must not be mutated by the caller.
type Index struct {
	raw []byte
}

// Parse validates the header and framing of an encoded manifest.
func Parse(raw []byte) (*Index, error) {
	if len(raw) < headerSize {
		return nil, errors.Errorf("manifest too short: %d bytes", len(raw))
	}
	if v := binary.BigEndian.Uint32(raw[0:4]); v != Version {
		return nil, errors.Errorf("unsupported manifest version %d", v)
	}
	body := len(raw) - headerSize
	if body%entrySize != 0 {
		return nil, errors.Errorf("manifest body not a multiple of %d bytes", entrySize)
	}
	if n := binary.BigEndian.Uint32(raw[4:8]); int(n) != body/entrySize {
		return nil, errors.Errorf("manifest declares %d entries, found %d", n, body/entrySize)
	}
	return &Index{raw: raw}, nil
}

// Len returns the number of entries.
func (idx *Index) Len() int {
	return (len(idx.raw) - headerSize) / entrySize
}

// Lookup returns the hex content hash for the given pathname, if present.
func (idx *Index) Lookup(pathname string) (string, bool) {
	target := content.PathHash(pathname)
	n := idx.Len()
	if n == 0 {
		return "", false
	}
	i := sort.Search(n, func(i int) bool {
		off := headerSize + entrySize*i
		return bytes.Compare(idx.raw[off:off+content.PathHashSize], target[:]) >= 0
	})
	if i >= n {
		return "", false
	}
	off := headerSize + entrySize*i
	if !bytes.Equal(idx.raw[off:off+content.PathHashSize], target[:]) {
		return "", false
	}
	start := off + content.PathHashSize
	return hex.EncodeToString(idx.raw[start : start+content.HashSize]), true
}
