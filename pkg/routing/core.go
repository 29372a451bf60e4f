// SPDX-FileCopyrightText: 2019, 2020 Alvar Penning
// SPDX-FileCopyrightText: 2019, 2020 Markus Sommer
//
// SPDX-License-Identifier: GPL-3.0-or-later

package routing

import (
	"encoding/gob"
	"fmt"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
	"github.com/dtn7/dtn7-go/pkg/storage"
)

// Core is the inner processing of our DTN which handles transmission, reception and
// reception of bundles.
type Core struct {
	InspectAllBundles bool
	NodeId            bpv7.EndpointID

	// FragmentationMTU bounds the encoded size of a bundle this Core will
	// hand to a ConvergenceSender unfragmented. Bundles whose encoding
	// exceeds it are split with bpv7.Bundle.Fragment before transmission.
	// Zero disables fragmentation.
	FragmentationMTU int

	localDelivery *LocalDelivery
	cron          *Cron
	claManager    *cla.Manager
	idKeeper      IdKeeper
	routing       Algorithm

	store *storage.Store

	stopSyn chan struct{}
	stopAck chan struct{}
}

// NewCore will be created according to the parameters.
//
// 	storePath: path for the bundle and metadata storage
// 	nodeId: singleton Endpoint ID/Node ID
// 	inspectAllBundles: inspect all administrative records, not only those addressed to this node
// 	routingConf: selected routing algorithm and its configuration
// 	maxBundles: store capacity cap, see storage.NewStore; 0 for unbounded
// 	cleanupInterval: period between expiry sweeps of the bundle store
// 	routingInterval: period between re-checks of pending bundles
// 	fragmentationMTU: upper bound on each outgoing fragment's encoded size; 0 disables fragmentation
func NewCore(
	storePath string,
	nodeId bpv7.EndpointID,
	inspectAllBundles bool,
	routingConf RoutingConf,
	maxBundles int,
	cleanupInterval time.Duration,
	routingInterval time.Duration,
	fragmentationMTU int,
) (*Core, error) {
	var c = new(Core)

	c.FragmentationMTU = fragmentationMTU

	gob.Register([]bpv7.EndpointID{})
	gob.Register(bpv7.EndpointID{})
	gob.Register(map[cla.CLAType][]bpv7.EndpointID{})
	gob.Register(bpv7.DtnEndpoint{})
	gob.Register(bpv7.IpnEndpoint{})
	gob.Register(map[Constraint]bool{})
	gob.Register(time.Time{})

	if !nodeId.IsSingleton() {
		return nil, fmt.Errorf("passed Node ID MUST be a singleton; %s is not", nodeId)
	}
	c.InspectAllBundles = inspectAllBundles
	c.NodeId = nodeId

	c.cron = NewCron()

	if store, err := storage.NewStore(storePath, maxBundles); err != nil {
		return nil, err
	} else {
		c.store = store
	}

	c.localDelivery = NewLocalDelivery()

	c.claManager = cla.NewManager()

	c.idKeeper = NewIdKeeper()

	if ra, raErr := routingConf.RoutingAlgorithm(c); raErr != nil {
		return nil, raErr
	} else {
		c.routing = ra
	}

	c.stopSyn = make(chan struct{})
	c.stopAck = make(chan struct{})

	if routingInterval < time.Second {
		routingInterval = 10 * time.Second
	}
	if cleanupInterval < time.Second {
		cleanupInterval = 60 * time.Second
	}

	if err := c.cron.Register("pending_bundles", c.checkPendingBundles, routingInterval); err != nil {
		log.WithError(err).Warn("Failed to register pending_bundles at cron")
	}
	if err := c.cron.Register("clean_store", c.store.DeleteExpired, cleanupInterval); err != nil {
		log.WithError(err).Warn("Failed to register clean_store at cron")
	}

	go c.handler()

	return c, nil
}

// SetRoutingAlgorithm overwrites the used Algorithm, which defaults to
// EpidemicRouting.
func (c *Core) SetRoutingAlgorithm(routing Algorithm) {
	c.routing = routing
}

// checkPendingBundles queries pending bundle (packs) from the store and
// tries to dispatch them.
func (c *Core) checkPendingBundles() {
	if bis, err := c.store.QueryPending(); err != nil {
		log.WithFields(log.Fields{
			"error": err,
		}).Warn("Failed to fetch pending bundle packs")
	} else {
		for _, bi := range bis {
			log.WithFields(log.Fields{
				"bundle": bi.Id,
			}).Info("Retrying bundle from store")

			c.dispatching(NewBundleDescriptor(bi.BId, c.store))
		}
	}
}

// handler does the Core's background tasks
func (c *Core) handler() {
	for {
		select {
		// Invoked by Close(), shuts down
		case <-c.stopSyn:
			c.cron.Stop()

			if err := c.claManager.Close(); err != nil {
				log.WithError(err).Warn("Closing CLA Manager while shutting down errored")
			}

			if err := c.store.Close(); err != nil {
				log.WithError(err).Warn("Closing store while shutting down errored")
			}

			close(c.stopAck)
			return

		// Handle a received ConvergenceStatus
		case cs := <-c.claManager.Channel():
			switch cs.MessageType {
			case cla.ReceivedBundle:
				crb := cs.Message.(cla.ConvergenceReceivedBundle)

				bp := NewBundleDescriptorFromBundle(*crb.Bundle, c.store)
				bp.Receiver = crb.Endpoint
				_ = bp.Sync()

				c.receive(bp)

			case cla.PeerAppeared:
				c.routing.ReportPeerAppeared(cs.Sender)
				c.checkPendingBundles()

			case cla.PeerDisappeared:
				c.routing.ReportPeerDisappeared(cs.Sender)

			default:
				log.WithFields(log.Fields{
					"cla":    cs.Sender,
					"type":   cs.MessageType,
					"status": cs,
				}).Warn("Received ConvergenceStatus with unknown type")
			}
		}
	}
}

// Close shuts the Core down and notifies all bounded ConvergenceReceivers to
// also close the connection.
func (c *Core) Close() {
	close(c.stopSyn)
	<-c.stopAck
}

// RegisterLocalEndpoint installs handler as the recipient for bundles
// addressed to eid, one of this node's own endpoints.
func (c *Core) RegisterLocalEndpoint(eid bpv7.EndpointID, handler func(bpv7.Bundle)) {
	c.localDelivery.Register(eid, handler)
}

// senderForDestination returns an array of ConvergenceSenders whose endpoint ID
// equals the requested one. This is used for direct delivery, comparing the
// PrimaryBlock's destination to the assigned endpoint ID of each CLA.
func (c *Core) senderForDestination(endpoint bpv7.EndpointID) (css []cla.ConvergenceSender) {
	for _, cs := range c.claManager.Sender() {
		if cs.GetPeerEndpointID().SameNode(endpoint) {
			css = append(css, cs)
		}
	}
	return
}

// HasEndpoint checks if the given endpoint ID is assigned either to an
// application or a CLA governed by this Application Agent.
func (c *Core) HasEndpoint(endpoint bpv7.EndpointID) bool {
	if c.NodeId.SameNode(endpoint) {
		return true
	}

	if c.localDelivery.HasEndpoint(endpoint) {
		return true
	}

	if c.claManager.HasEndpoint(endpoint) {
		return true
	}

	for _, cr := range c.claManager.Receiver() {
		if cr.GetEndpointID().SameNode(endpoint) {
			return true
		}
	}

	return false
}

// SendStatusReport creates a new status report in response to the given
// BundleDescriptor and transmits it.
func (c *Core) SendStatusReport(descriptor BundleDescriptor, status bpv7.StatusInformationPos, reason bpv7.StatusReportReason) {
	// Don't respond to other administrative records
	bndl, _ := descriptor.Bundle()
	if bndl.PrimaryBlock.BundleControlFlags.Has(bpv7.AdministrativeRecordPayload) {
		return
	}

	// Don't respond to ourself
	if c.HasEndpoint(bndl.PrimaryBlock.ReportTo) {
		return
	}

	log.WithFields(log.Fields{
		"bundle": descriptor.ID(),
		"status": status,
		"reason": reason,
	}).Info("Sending a status report for a bundle")

	var sr = bpv7.NewStatusReport(*bndl, status, reason, bpv7.DtnTimeNow())
	var ar, arErr = bpv7.AdministrativeRecordToCbor(sr)
	if arErr != nil {
		log.WithFields(log.Fields{
			"bundle": descriptor.ID(),
			"error":  arErr,
		}).Warn("Serializing administrative record failed")

		return
	}

	var aaEndpoint = descriptor.Receiver
	if aaEndpoint == bpv7.DtnNone() {
		aaEndpoint = c.NodeId
	}

	if !c.HasEndpoint(aaEndpoint) && aaEndpoint != c.NodeId {
		log.WithFields(log.Fields{
			"bundle":   descriptor.ID(),
			"endpoint": aaEndpoint,
		}).Warn("Failed to create status report, receiver is not a current endpoint")

		return
	}

	var outBndl, err = bpv7.Builder().
		BundleCtrlFlags(bpv7.AdministrativeRecordPayload).
		Source(aaEndpoint).
		Destination(bndl.PrimaryBlock.ReportTo).
		CreationTimestampNow().
		Lifetime("60m").
		Canonical(ar).
		Build()

	if err != nil {
		log.WithFields(log.Fields{
			"bundle": descriptor.ID(),
			"error":  err,
		}).Warn("Creating status report bundle failed")

		return
	}

	c.SendBundle(&outBndl)
}

// RegisterConvergable is the exposed Register method from the CLA Manager.
func (c *Core) RegisterConvergable(conv cla.Convergable) {
	c.claManager.Register(conv)
}

// RegisterCLA registers a CLA with the clamanager (just as the RegisterConvergable-method)
// but also adds the CLAs endpoint id to the set of registered IDs for its type.
func (c *Core) RegisterCLA(conv cla.Convergable, claType cla.CLAType, eid bpv7.EndpointID) {
	c.claManager.RegisterEndpointID(claType, eid)
	c.claManager.Register(conv)
}

// RegisteredCLAs returns the EndpointIDs of all registered CLAs of the specified type.
// Returns an empty slice if no CLAs of the tye exist.
func (c *Core) RegisteredCLAs(claType cla.CLAType) []bpv7.EndpointID {
	return c.claManager.EndpointIDs(claType)
}
