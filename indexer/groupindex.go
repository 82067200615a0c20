// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"fmt"

	"github.com/tagdex/tagdexd/types"
)

// GroupKey identifies a single group within the namespace of the
// plugin that emitted it. Group holds the raw group bytes.
type GroupKey struct {
	Plugin string
	Group  string
}

func (k GroupKey) String() string {
	return fmt.Sprintf("%s/%x", k.Plugin, []byte(k.Group))
}

// groupEntry holds the per-group view. UTXOs and member transactions
// are each partitioned into an unconfirmed and a confirmed set; a
// given outpoint or txid lives in at most one side of its partition.
type groupEntry struct {
	unconfirmedUtxos map[types.Outpoint]struct{}
	confirmedUtxos   map[types.Outpoint]struct{}
	unconfirmedTxs   map[types.ID]*types.Tx
	confirmedTxs     map[types.ID]*types.Tx
}

func newGroupEntry() *groupEntry {
	return &groupEntry{
		unconfirmedUtxos: make(map[types.Outpoint]struct{}),
		confirmedUtxos:   make(map[types.Outpoint]struct{}),
		unconfirmedTxs:   make(map[types.ID]*types.Tx),
		confirmedTxs:     make(map[types.ID]*types.Tx),
	}
}

func (e *groupEntry) empty() bool {
	return len(e.unconfirmedUtxos) == 0 && len(e.confirmedUtxos) == 0 &&
		len(e.unconfirmedTxs) == 0 && len(e.confirmedTxs) == 0
}

// groupIndex maintains the group to UTXO and group to transaction
// views. It performs no locking of its own; the owning index
// serializes access.
type groupIndex struct {
	groups map[GroupKey]*groupEntry
}

func newGroupIndex() *groupIndex {
	return &groupIndex{groups: make(map[GroupKey]*groupEntry)}
}

func (g *groupIndex) entry(key GroupKey) *groupEntry {
	e, ok := g.groups[key]
	if !ok {
		e = newGroupEntry()
		g.groups[key] = e
	}
	return e
}

// prune drops the entry for key if it no longer tracks anything.
func (g *groupIndex) prune(key GroupKey) {
	if e, ok := g.groups[key]; ok && e.empty() {
		delete(g.groups, key)
	}
}

func (g *groupIndex) addTx(key GroupKey, tx *types.Tx, confirmed bool) {
	e := g.entry(key)
	if confirmed {
		e.confirmedTxs[tx.ID()] = tx
	} else {
		e.unconfirmedTxs[tx.ID()] = tx
	}
}

// moveTx relocates a member transaction across the partition. It is a
// no-op if the transaction is not in the source side.
func (g *groupIndex) moveTx(key GroupKey, txid types.ID, toConfirmed bool) {
	e, ok := g.groups[key]
	if !ok {
		return
	}
	if toConfirmed {
		if tx, ok := e.unconfirmedTxs[txid]; ok {
			delete(e.unconfirmedTxs, txid)
			e.confirmedTxs[txid] = tx
		}
	} else {
		if tx, ok := e.confirmedTxs[txid]; ok {
			delete(e.confirmedTxs, txid)
			e.unconfirmedTxs[txid] = tx
		}
	}
}

func (g *groupIndex) removeTx(key GroupKey, txid types.ID) {
	e, ok := g.groups[key]
	if !ok {
		return
	}
	delete(e.unconfirmedTxs, txid)
	delete(e.confirmedTxs, txid)
	g.prune(key)
}

func (g *groupIndex) addUtxo(key GroupKey, op types.Outpoint, confirmed bool) {
	e := g.entry(key)
	if confirmed {
		e.confirmedUtxos[op] = struct{}{}
	} else {
		e.unconfirmedUtxos[op] = struct{}{}
	}
}

// moveUtxo relocates an outpoint across the partition. Outpoints that
// have already been spent are in neither side and are left alone.
func (g *groupIndex) moveUtxo(key GroupKey, op types.Outpoint, toConfirmed bool) {
	e, ok := g.groups[key]
	if !ok {
		return
	}
	if toConfirmed {
		if _, ok := e.unconfirmedUtxos[op]; ok {
			delete(e.unconfirmedUtxos, op)
			e.confirmedUtxos[op] = struct{}{}
		}
	} else {
		if _, ok := e.confirmedUtxos[op]; ok {
			delete(e.confirmedUtxos, op)
			e.unconfirmedUtxos[op] = struct{}{}
		}
	}
}

func (g *groupIndex) removeUtxo(key GroupKey, op types.Outpoint) {
	e, ok := g.groups[key]
	if !ok {
		return
	}
	delete(e.unconfirmedUtxos, op)
	delete(e.confirmedUtxos, op)
	g.prune(key)
}

// utxos returns the outpoints of both sides of the partition in
// unspecified order.
func (g *groupIndex) utxos(key GroupKey) []types.Outpoint {
	e, ok := g.groups[key]
	if !ok {
		return nil
	}
	ops := make([]types.Outpoint, 0, len(e.unconfirmedUtxos)+len(e.confirmedUtxos))
	for op := range e.unconfirmedUtxos {
		ops = append(ops, op)
	}
	for op := range e.confirmedUtxos {
		ops = append(ops, op)
	}
	return ops
}

func (g *groupIndex) unconfirmedTxs(key GroupKey) []*types.Tx {
	e, ok := g.groups[key]
	if !ok {
		return nil
	}
	txs := make([]*types.Tx, 0, len(e.unconfirmedTxs))
	for _, tx := range e.unconfirmedTxs {
		txs = append(txs, tx)
	}
	return txs
}

func (g *groupIndex) confirmedTxs(key GroupKey) []*types.Tx {
	e, ok := g.groups[key]
	if !ok {
		return nil
	}
	txs := make([]*types.Tx, 0, len(e.confirmedTxs))
	for _, tx := range e.confirmedTxs {
		txs = append(txs, tx)
	}
	return txs
}

func (g *groupIndex) allTxs(key GroupKey) []*types.Tx {
	e, ok := g.groups[key]
	if !ok {
		return nil
	}
	txs := make([]*types.Tx, 0, len(e.unconfirmedTxs)+len(e.confirmedTxs))
	for _, tx := range e.unconfirmedTxs {
		txs = append(txs, tx)
	}
	for _, tx := range e.confirmedTxs {
		txs = append(txs, tx)
	}
	return txs
}
