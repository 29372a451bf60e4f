// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"fmt"
	"sync"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
)

// LocalDelivery demultiplexes bundles addressed to this node's own
// endpoints to registered handlers. A node-lifecycle application wrapper
// (REST/WebSocket endpoints, a CLI) is outside this module's scope; a
// caller that embeds this package registers a plain Go callback per
// endpoint it owns.
type LocalDelivery struct {
	mutex    sync.Mutex
	handlers map[string]func(bpv7.Bundle)
}

// NewLocalDelivery creates an empty LocalDelivery demultiplexer.
func NewLocalDelivery() *LocalDelivery {
	return &LocalDelivery{
		handlers: make(map[string]func(bpv7.Bundle)),
	}
}

// Register installs handler as the recipient for bundles destined to eid.
// A later Register for the same eid replaces the previous handler.
func (ld *LocalDelivery) Register(eid bpv7.EndpointID, handler func(bpv7.Bundle)) {
	ld.mutex.Lock()
	defer ld.mutex.Unlock()

	ld.handlers[eid.String()] = handler
}

// Unregister removes eid's handler, if any.
func (ld *LocalDelivery) Unregister(eid bpv7.EndpointID) {
	ld.mutex.Lock()
	defer ld.mutex.Unlock()

	delete(ld.handlers, eid.String())
}

// HasEndpoint reports whether some handler is registered for eid.
func (ld *LocalDelivery) HasEndpoint(eid bpv7.EndpointID) bool {
	ld.mutex.Lock()
	defer ld.mutex.Unlock()

	_, ok := ld.handlers[eid.String()]
	return ok
}

// Deliver hands the BundleDescriptor's bundle to the handler registered for
// its destination. Returns an error if no handler is registered.
func (ld *LocalDelivery) Deliver(descriptor BundleDescriptor) error {
	b, bErr := descriptor.Bundle()
	if bErr != nil {
		return bErr
	}

	ld.mutex.Lock()
	handler, ok := ld.handlers[b.PrimaryBlock.Destination.String()]
	ld.mutex.Unlock()

	if !ok {
		log.WithField("bundle", b).Warn("LocalDelivery has no registered handler for this bundle's destination")
		return fmt.Errorf("no registered handler for this bundle's destination")
	}

	descriptor.RemoveConstraint(LocalEndpoint)
	if err := descriptor.Sync(); err != nil {
		log.WithField("bundle", b).WithError(err).Warn("LocalDelivery errored while synchronizing BundleDescriptor")
		return err
	}

	log.WithField("bundle", b).Debug("LocalDelivery delivers bundle to its handler")
	handler(*b)
	return nil
}

// Close is a no-op kept for symmetry with other Core-owned subsystems;
// LocalDelivery holds no resources of its own to release.
func (ld *LocalDelivery) Close() error {
	return nil
}
