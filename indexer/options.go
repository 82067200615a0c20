// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package indexer

import (
	"errors"

	"github.com/tagdex/tagdexd/plugin"
	"github.com/tagdex/tagdexd/repo"
)

const defaultNotificationBuffer = 128

// Option is configuration option function for the PluginIndex.
type Option func(cfg *config) error

// Datastore sets the datastore that transaction records are
// persisted to.
//
// This option is required.
func Datastore(ds repo.Datastore) Option {
	return func(cfg *config) error {
		cfg.ds = ds
		return nil
	}
}

// Registry sets the plugin registry used to annotate transactions.
//
// This option is required.
func Registry(r *plugin.Registry) Option {
	return func(cfg *config) error {
		cfg.registry = r
		return nil
	}
}

// NotificationBuffer sets the number of pending events a subscriber
// may accumulate before it is disconnected.
//
// Default is 128.
func NotificationBuffer(n int) Option {
	return func(cfg *config) error {
		cfg.notificationBuffer = n
		return nil
	}
}

type config struct {
	ds                 repo.Datastore
	registry           *plugin.Registry
	notificationBuffer int
}

func (cfg *config) validate() error {
	if cfg == nil {
		return errors.New("config is nil")
	}
	if cfg.ds == nil {
		return errors.New("datastore is nil")
	}
	if cfg.registry == nil {
		return errors.New("plugin registry is nil")
	}
	if cfg.notificationBuffer < 1 {
		return errors.New("notification buffer must be positive")
	}
	return nil
}
