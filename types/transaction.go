// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import (
	"errors"
	"io"
	"sort"

	"github.com/btcsuite/btcd/wire"
)

// ErrCorruptTxRecord is returned when a serialized transaction record
// read from the datastore does not decode.
var ErrCorruptTxRecord = errors.New("corrupt transaction record")

const (
	// UnconfirmedHeight is the height recorded for a transaction that
	// lives in the mempool.
	UnconfirmedHeight int32 = -1

	// maxEntryItemSize caps a single plugin data or group item when
	// deserializing from the datastore.
	maxEntryItemSize = 1 << 20
)

// Outpoint references a transaction output by txid and output index.
type Outpoint struct {
	TxID  ID
	Index uint32
}

// NewOutpoint returns an outpoint for the given txid and index.
func NewOutpoint(txid ID, index uint32) Outpoint {
	return Outpoint{TxID: txid, Index: index}
}

// OutpointFromWire converts a wire outpoint.
func OutpointFromWire(op wire.OutPoint) Outpoint {
	return Outpoint{TxID: NewIDFromHash(op.Hash), Index: op.Index}
}

func (o Outpoint) String() string {
	return o.TxID.String() + ":" + uitoa(o.Index)
}

func uitoa(n uint32) string {
	if n == 0 {
		return "0"
	}
	var buf [10]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	return string(buf[i:])
}

// Tx is a transaction owned by the index. It wraps the raw wire
// transaction with the lifecycle metadata and the plugin annotations
// computed when the transaction was first seen.
//
// OutputPlugins and InputPlugins always have the same length as the
// transaction's outputs and inputs respectively. A nil map means no
// plugin produced (or inherited) an entry for that slot. Annotations
// are computed exactly once; confirmation and disconnection only move
// the record between partitions and never touch them.
type Tx struct {
	MsgTx *wire.MsgTx

	// TimeFirstSeen is the unix timestamp at which the transaction was
	// first observed. For transactions that skipped the mempool it is
	// the timestamp of the containing block.
	TimeFirstSeen int64

	// Height is the block height, or UnconfirmedHeight while the
	// transaction is in the mempool partition.
	Height int32

	// BlockIndex is the position within the confirmed block. Only
	// meaningful while Height != UnconfirmedHeight.
	BlockIndex uint32

	OutputPlugins []map[string]*PluginEntry
	InputPlugins  []map[string]*PluginEntry

	txid ID
}

// NewTx wraps a wire transaction with empty annotation slots.
func NewTx(msgTx *wire.MsgTx) *Tx {
	return &Tx{
		MsgTx:         msgTx,
		Height:        UnconfirmedHeight,
		OutputPlugins: make([]map[string]*PluginEntry, len(msgTx.TxOut)),
		InputPlugins:  make([]map[string]*PluginEntry, len(msgTx.TxIn)),
		txid:          NewIDFromHash(msgTx.TxHash()),
	}
}

// ID returns the transaction ID.
func (t *Tx) ID() ID {
	if t.txid == (ID{}) {
		t.txid = NewIDFromHash(t.MsgTx.TxHash())
	}
	return t.txid
}

// IsConfirmed returns whether the transaction is in the confirmed
// partition.
func (t *Tx) IsConfirmed() bool {
	return t.Height != UnconfirmedHeight
}

// Spends returns the outpoints referenced by the transaction's inputs.
func (t *Tx) Spends() []Outpoint {
	outpoints := make([]Outpoint, 0, len(t.MsgTx.TxIn))
	for _, in := range t.MsgTx.TxIn {
		outpoints = append(outpoints, OutpointFromWire(in.PreviousOutPoint))
	}
	return outpoints
}

// Serialize writes the transaction, its metadata and its annotations
// in a deterministic byte format suitable for the datastore.
func (t *Tx) Serialize(w io.Writer) error {
	if err := t.MsgTx.Serialize(w); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(t.TimeFirstSeen)); err != nil {
		return err
	}
	// Unconfirmed height (-1) serializes as zero.
	if err := wire.WriteVarInt(w, 0, uint64(t.Height+1)); err != nil {
		return err
	}
	if err := wire.WriteVarInt(w, 0, uint64(t.BlockIndex)); err != nil {
		return err
	}
	if err := serializeEntryMaps(w, t.OutputPlugins); err != nil {
		return err
	}
	return serializeEntryMaps(w, t.InputPlugins)
}

// DeserializeTx reads a transaction in the format written by Serialize.
func DeserializeTx(r io.Reader) (*Tx, error) {
	msgTx := &wire.MsgTx{}
	if err := msgTx.Deserialize(r); err != nil {
		return nil, err
	}
	t := NewTx(msgTx)
	firstSeen, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	t.TimeFirstSeen = int64(firstSeen)
	height, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	t.Height = int32(height) - 1
	blockIndex, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	t.BlockIndex = uint32(blockIndex)
	if err := deserializeEntryMaps(r, t.OutputPlugins); err != nil {
		return nil, err
	}
	if err := deserializeEntryMaps(r, t.InputPlugins); err != nil {
		return nil, err
	}
	return t, nil
}

// serializeEntryMaps writes only the populated slots, each as
// (slot index, plugin count, sorted plugin name/entry pairs). Plugin
// names are sorted so the output is deterministic.
func serializeEntryMaps(w io.Writer, maps []map[string]*PluginEntry) error {
	populated := uint64(0)
	for _, m := range maps {
		if len(m) > 0 {
			populated++
		}
	}
	if err := wire.WriteVarInt(w, 0, populated); err != nil {
		return err
	}
	for i, m := range maps {
		if len(m) == 0 {
			continue
		}
		if err := wire.WriteVarInt(w, 0, uint64(i)); err != nil {
			return err
		}
		if err := wire.WriteVarInt(w, 0, uint64(len(m))); err != nil {
			return err
		}
		names := make([]string, 0, len(m))
		for name := range m {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			if err := wire.WriteVarString(w, 0, name); err != nil {
				return err
			}
			if err := m[name].serialize(w); err != nil {
				return err
			}
		}
	}
	return nil
}

func deserializeEntryMaps(r io.Reader, maps []map[string]*PluginEntry) error {
	populated, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return err
	}
	for i := uint64(0); i < populated; i++ {
		slot, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return err
		}
		if slot >= uint64(len(maps)) {
			return ErrCorruptTxRecord
		}
		count, err := wire.ReadVarInt(r, 0)
		if err != nil {
			return err
		}
		m := make(map[string]*PluginEntry, count)
		for j := uint64(0); j < count; j++ {
			name, err := wire.ReadVarString(r, 0)
			if err != nil {
				return err
			}
			entry, err := deserializePluginEntry(r)
			if err != nil {
				return err
			}
			m[name] = entry
		}
		maps[slot] = m
	}
	return nil
}
