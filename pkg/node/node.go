// SPDX-License-Identifier: GPL-3.0-or-later

// Package node wires a Core, its bundle store, its routing algorithm and a
// set of convergence layers together into a single runnable DTN node,
// configured from a Config loaded by ParseConfig.
package node

import (
	"fmt"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
	"github.com/dtn7/dtn7-go/pkg/cla/tcp"
	"github.com/dtn7/dtn7-go/pkg/cla/udp"
	"github.com/dtn7/dtn7-go/pkg/routing"
)

// Node bundles a Core with the convergence layers configured for it.
type Node struct {
	Core *routing.Core

	nodeId bpv7.EndpointID
}

// New creates a Node from conf: it opens the bundle store, starts the
// routing Core and registers every listen and peer convergence-layer
// endpoint named in conf.
func New(conf Config) (*Node, error) {
	nodeId, err := bpv7.NewEndpointID(conf.Core.NodeId)
	if err != nil {
		return nil, fmt.Errorf("parsing core.node-id failed: %v", err)
	}

	core, err := routing.NewCore(
		conf.Core.Store,
		nodeId,
		conf.Core.InspectAllBundles,
		conf.Routing,
		conf.Core.MaxBundles,
		conf.Core.cleanupInterval(),
		conf.Core.routingInterval(),
		conf.Core.FragmentMaxSize,
	)
	if err != nil {
		return nil, fmt.Errorf("starting core failed: %v", err)
	}

	n := &Node{Core: core, nodeId: nodeId}

	for _, listenConf := range conf.Listen {
		if err := n.registerListen(listenConf); err != nil {
			core.Close()
			return nil, err
		}
	}

	for _, peerConf := range conf.Peer {
		if err := n.registerPeer(peerConf); err != nil {
			core.Close()
			return nil, err
		}
	}

	return n, nil
}

func (n *Node) registerListen(conf ConvergenceConfig) error {
	switch conf.Protocol {
	case "tcp":
		server := tcp.NewServer(conf.Endpoint, n.nodeId, conf.Permanent)
		n.Core.RegisterCLA(server, cla.TCP, n.nodeId)

	case "udp":
		server := udp.NewServer(conf.Endpoint, n.nodeId, conf.Permanent)
		n.Core.RegisterCLA(server, cla.UDP, n.nodeId)

	default:
		return fmt.Errorf("unknown listen protocol %q", conf.Protocol)
	}

	log.WithFields(log.Fields{
		"protocol": conf.Protocol,
		"endpoint": conf.Endpoint,
	}).Info("Registered listening convergence layer")

	return nil
}

func (n *Node) registerPeer(conf ConvergenceConfig) error {
	peerEid, err := bpv7.NewEndpointID(conf.Node)
	if err != nil {
		return fmt.Errorf("parsing peer.node failed: %v", err)
	}

	switch conf.Protocol {
	case "tcp":
		client := tcp.NewClient(conf.Endpoint, peerEid, conf.Permanent)
		n.Core.RegisterConvergable(client)

	case "udp":
		client := udp.NewClient(conf.Endpoint, peerEid, conf.Permanent)
		n.Core.RegisterConvergable(client)

	default:
		return fmt.Errorf("unknown peer protocol %q", conf.Protocol)
	}

	log.WithFields(log.Fields{
		"protocol": conf.Protocol,
		"endpoint": conf.Endpoint,
		"peer":     peerEid,
	}).Info("Registered peer convergence layer")

	return nil
}

// RegisterApplication installs handler as the recipient for bundles
// addressed to eid, one of this Node's own endpoints.
func (n *Node) RegisterApplication(eid bpv7.EndpointID, handler func(bpv7.Bundle)) {
	n.Core.RegisterLocalEndpoint(eid, handler)
}

// Send hands bndl to the Core for dispatching.
func (n *Node) Send(bndl *bpv7.Bundle) {
	n.Core.SendBundle(bndl)
}

// NodeId returns this Node's singleton Endpoint ID.
func (n *Node) NodeId() bpv7.EndpointID {
	return n.nodeId
}

// Close shuts the Node's Core and every registered convergence layer down.
func (n *Node) Close() {
	n.Core.Close()
}
