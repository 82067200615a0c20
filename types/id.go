// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import (
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/chaincfg/chainhash"
)

// IDSize is the size of a transaction ID in bytes.
const IDSize = chainhash.HashSize

var ErrIDStrSize = fmt.Errorf("max ID string length is %v bytes", IDSize*2)

// ID is a transaction ID. The bytes are held in the natural hash order,
// the same order produced by hashing the transaction. The hex string
// form is byte-reversed from the internal order, following the usual
// display convention for txids.
type ID [IDSize]byte

// Compare returns 1 if id > target, -1 if id < target and 0 if
// id == target, treating the ID as a fixed-width big unsigned integer.
//
// Because the internal byte order holds the least significant byte
// first, the comparison runs from the last byte down to the first.
// This is equivalent to a lexicographic comparison of the reversed
// (display order) byte representation. Getting this backwards is an
// easy mistake; the ordering of history queries depends on it.
func (id ID) Compare(target ID) int {
	for i := len(id) - 1; i >= 0; i-- {
		a := id[i]
		b := target[i]
		if a > b {
			return 1
		}
		if a < b {
			return -1
		}
	}
	return 0
}

// String returns the ID as a hex string in display order (byte-reversed
// from the internal order).
func (id ID) String() string {
	rev := make([]byte, len(id))
	for i := 0; i < len(id); i++ {
		rev[i] = id[len(id)-1-i]
	}
	return hex.EncodeToString(rev)
}

func (id ID) Bytes() []byte {
	return id[:]
}

func (id *ID) SetBytes(data []byte) {
	copy(id[:], data)
}

func (id ID) MarshalJSON() ([]byte, error) {
	return []byte("\"" + id.String() + "\""), nil
}

func (id *ID) UnmarshalJSON(data []byte) error {
	s := string(data)
	if len(s) >= 2 && s[0] == '"' && s[len(s)-1] == '"' {
		s = s[1 : len(s)-1]
	}
	i, err := NewIDFromString(s)
	if err != nil {
		return err
	}
	*id = i
	return nil
}

// NewID returns an ID from bytes in the natural hash order.
func NewID(digest []byte) ID {
	var id ID
	id.SetBytes(digest)
	return id
}

// NewIDFromHash returns an ID from a chainhash.Hash. Both hold bytes in
// the natural hash order so no reversal takes place.
func NewIDFromHash(h chainhash.Hash) ID {
	return NewID(h[:])
}

// NewIDFromString parses a display order (byte-reversed) hex string.
func NewIDFromString(id string) (ID, error) {
	if len(id) > IDSize*2 {
		return ID{}, ErrIDStrSize
	}
	ret, err := hex.DecodeString(id)
	if err != nil {
		return ID{}, err
	}
	var newID ID
	for i := 0; i < len(ret); i++ {
		newID[len(ret)-1-i] = ret[i]
	}
	return newID, nil
}
