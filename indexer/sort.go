// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"github.com/tagdex/tagdexd/types"
)

// unconfirmedLess orders mempool transactions ascending by time first
// seen, breaking ties by txid treated as a numeric value.
func unconfirmedLess(a, b *types.Tx) bool {
	if a.TimeFirstSeen != b.TimeFirstSeen {
		return a.TimeFirstSeen < b.TimeFirstSeen
	}
	return a.ID().Compare(b.ID()) < 0
}

// confirmedLess orders confirmed transactions ascending by block
// height, then by position within the block.
func confirmedLess(a, b *types.Tx) bool {
	if a.Height != b.Height {
		return a.Height < b.Height
	}
	return a.BlockIndex < b.BlockIndex
}

// historyLess orders transactions newest first: descending by time
// first seen, with unconfirmed transactions ahead of confirmed ones of
// the same recency, and the numerically larger txid first on ties.
func historyLess(a, b *types.Tx) bool {
	if a.TimeFirstSeen != b.TimeFirstSeen {
		return a.TimeFirstSeen > b.TimeFirstSeen
	}
	if a.IsConfirmed() != b.IsConfirmed() {
		return !a.IsConfirmed()
	}
	return a.ID().Compare(b.ID()) > 0
}

// outpointLess orders outpoints by txid treated as a numeric value,
// then by output index.
func outpointLess(a, b types.Outpoint) bool {
	if c := a.TxID.Compare(b.TxID); c != 0 {
		return c < 0
	}
	return a.Index < b.Index
}
