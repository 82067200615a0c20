// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package types

import (
	"bytes"
	"io"

	"github.com/btcsuite/btcd/wire"
)

// PluginEntry is the record a plugin attaches to a single transaction
// output. Data is an ordered sequence of byte strings chosen entirely by
// the plugin. Groups is a set of byte string tags the output is indexed
// under; duplicates collapse but first-seen order is retained.
//
// An absent entry is semantically distinct from an empty one: an output
// annotated with an empty entry was still seen by the plugin.
type PluginEntry struct {
	Data   [][]byte
	Groups [][]byte
}

// AddGroup appends the group tag if it is not already present.
func (e *PluginEntry) AddGroup(group []byte) {
	for _, g := range e.Groups {
		if bytes.Equal(g, group) {
			return
		}
	}
	e.Groups = append(e.Groups, group)
}

// HasGroup returns whether the entry carries the group tag.
func (e *PluginEntry) HasGroup(group []byte) bool {
	for _, g := range e.Groups {
		if bytes.Equal(g, group) {
			return true
		}
	}
	return false
}

// Clone returns a deep copy of the entry.
func (e *PluginEntry) Clone() *PluginEntry {
	clone := &PluginEntry{
		Data:   make([][]byte, len(e.Data)),
		Groups: make([][]byte, len(e.Groups)),
	}
	for i, d := range e.Data {
		clone.Data[i] = append([]byte{}, d...)
	}
	for i, g := range e.Groups {
		clone.Groups[i] = append([]byte{}, g...)
	}
	return clone
}

func (e *PluginEntry) serialize(w io.Writer) error {
	if err := wire.WriteVarInt(w, 0, uint64(len(e.Data))); err != nil {
		return err
	}
	for _, d := range e.Data {
		if err := wire.WriteVarBytes(w, 0, d); err != nil {
			return err
		}
	}
	if err := wire.WriteVarInt(w, 0, uint64(len(e.Groups))); err != nil {
		return err
	}
	for _, g := range e.Groups {
		if err := wire.WriteVarBytes(w, 0, g); err != nil {
			return err
		}
	}
	return nil
}

func deserializePluginEntry(r io.Reader) (*PluginEntry, error) {
	entry := &PluginEntry{}
	n, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		d, err := wire.ReadVarBytes(r, 0, maxEntryItemSize, "plugin data")
		if err != nil {
			return nil, err
		}
		entry.Data = append(entry.Data, d)
	}
	n, err = wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	for i := uint64(0); i < n; i++ {
		g, err := wire.ReadVarBytes(r, 0, maxEntryItemSize, "group tag")
		if err != nil {
			return nil, err
		}
		entry.Groups = append(entry.Groups, g)
	}
	return entry, nil
}
