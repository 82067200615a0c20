// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package plugin

import (
	"fmt"
	"sort"
)

// Registry holds the loaded plugins keyed by name. Iteration is always
// in sorted name order so annotation is deterministic regardless of
// registration order.
type Registry struct {
	plugins map[string]Plugin
	names   []string
}

// NewRegistry returns an empty plugin registry.
func NewRegistry() *Registry {
	return &Registry{
		plugins: make(map[string]Plugin),
	}
}

// Register adds a plugin under the given name. Registration happens at
// startup before any ingestion; the registry is read-only afterwards.
func (r *Registry) Register(name string, p Plugin) error {
	if name == "" {
		return fmt.Errorf("plugin name must not be empty")
	}
	if len(p.LokadID()) == 0 {
		return fmt.Errorf("plugin %s declares an empty lokad ID", name)
	}
	if _, ok := r.plugins[name]; ok {
		return fmt.Errorf("plugin %s already registered", name)
	}
	r.plugins[name] = p
	r.names = append(r.names, name)
	sort.Strings(r.names)

	log.Infof("Loaded plugin %s (version %s) with LOKAD ID %q", name, p.Version(), p.LokadID())
	return nil
}

// Names returns the registered plugin names in sorted order.
func (r *Registry) Names() []string {
	return append([]string{}, r.names...)
}

// Plugin returns the plugin registered under name, or nil.
func (r *Registry) Plugin(name string) Plugin {
	return r.plugins[name]
}

// invoke runs a plugin against the view, converting a panic inside the
// plugin into an error so a faulty plugin cannot abort ingestion.
func invoke(p Plugin, view *TxView) (outputs []Output, err error) {
	defer func() {
		if r := recover(); r != nil {
			outputs = nil
			err = fmt.Errorf("plugin panicked: %v", r)
		}
	}()
	return p.Run(view)
}
