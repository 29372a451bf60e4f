// SPDX-License-Identifier: GPL-3.0-or-later

package node

import (
	"fmt"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/dtn7/dtn7-go/pkg/routing"
)

// Config describes a Node's configuration, loadable from a TOML file. It
// carries exactly the options listed in the external interfaces table:
// store capacity, cleanup/routing intervals, TCP/UDP ports and framing mode,
// spray max-copies and fragment max size - the latter two live inside
// Routing and FragmentMaxSize respectively.
type Config struct {
	Core    CoreConfig
	Routing routing.RoutingConf
	Listen  []ConvergenceConfig
	Peer    []ConvergenceConfig
}

// CoreConfig describes the Core's configuration block.
type CoreConfig struct {
	// Store is the directory for the bundle and metadata storage.
	Store string

	// NodeId is this Node's singleton Endpoint ID, e.g. "dtn://node1/".
	NodeId string `toml:"node-id"`

	// InspectAllBundles inspects administrative records addressed to any
	// endpoint, not only those addressed to this node.
	InspectAllBundles bool `toml:"inspect-all-bundles"`

	// MaxBundles caps the store's bundle count; zero means unbounded.
	// Defaults to 1000, per §6.
	MaxBundles int `toml:"max-bundles"`

	// CleanupIntervalSeconds is the period between expiry sweeps of the
	// bundle store. Defaults to 60, per §6.
	CleanupIntervalSeconds uint `toml:"cleanup-interval"`

	// RoutingIntervalSeconds is the period between re-checks of pending
	// bundles. Defaults to 10, per §6.
	RoutingIntervalSeconds uint `toml:"routing-interval"`

	// FragmentMaxSize bounds the encoded size of an outgoing bundle handed
	// to a ConvergenceSender unfragmented; zero disables fragmentation.
	FragmentMaxSize int `toml:"fragment-max-size"`
}

// ConvergenceConfig describes a "listen" or "peer" convergence-layer
// configuration block.
type ConvergenceConfig struct {
	// Protocol selects the convergence layer, either "tcp" or "udp".
	Protocol string

	// Endpoint is the local listen address (for Listen) or the remote dial
	// address (for Peer), e.g. "0.0.0.0:4556".
	Endpoint string

	// Node is the remote peer's Endpoint ID. Required for Peer entries,
	// ignored for Listen entries.
	Node string

	// Permanent keeps the connection open between sends instead of
	// closing it after each bundle.
	Permanent bool
}

const (
	defaultMaxBundles      = 1000
	defaultCleanupInterval = 60 * time.Second
	defaultRoutingInterval = 10 * time.Second
)

// applyDefaults fills zero-valued CoreConfig fields with the defaults from §6.
func (conf *CoreConfig) applyDefaults() {
	if conf.MaxBundles == 0 {
		conf.MaxBundles = defaultMaxBundles
	}
}

func (conf CoreConfig) cleanupInterval() time.Duration {
	if conf.CleanupIntervalSeconds == 0 {
		return defaultCleanupInterval
	}
	return time.Duration(conf.CleanupIntervalSeconds) * time.Second
}

func (conf CoreConfig) routingInterval() time.Duration {
	if conf.RoutingIntervalSeconds == 0 {
		return defaultRoutingInterval
	}
	return time.Duration(conf.RoutingIntervalSeconds) * time.Second
}

// ParseConfig decodes a Node's Config from a TOML file at filename.
func ParseConfig(filename string) (conf Config, err error) {
	if _, err = toml.DecodeFile(filename, &conf); err != nil {
		return
	}

	conf.Core.applyDefaults()

	if conf.Core.Store == "" {
		err = fmt.Errorf("core.store must not be empty")
		return
	}
	if conf.Core.NodeId == "" {
		err = fmt.Errorf("core.node-id must not be empty")
		return
	}
	if conf.Routing.Algorithm == "" {
		conf.Routing.Algorithm = "epidemic"
	}

	return
}
