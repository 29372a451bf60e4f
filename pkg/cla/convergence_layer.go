// Package cla defines the convergence-layer contract routing drives: a
// ConvergenceReceiver decodes inbound bundles and reports them upstream, a
// ConvergenceSender transmits bundles to a single peer, and a Manager
// supervises a collection of both.
//
// An implemented convergence layer can be a ConvergenceReceiver,
// ConvergenceSender, or both, depending on the underlying transport. Those
// types are generalized by the Convergable interface so a Manager can treat
// senders, receivers and providers uniformly.
package cla

import "github.com/dtn7/dtn7-go/pkg/bpv7"

// Convergable describes any kind of type which supports convergence layer
// related services: a Convergence adapter or a ConvergenceProvider.
type Convergable interface {
	// Close signals this Convergable to shut down.
	Close() error
}

// Convergence is the shared contract for all Convergence Layer Adapters.
// There should not be a direct implementation of this interface; implement
// ConvergenceReceiver and/or ConvergenceSender instead.
type Convergence interface {
	Convergable

	// Start starts this Convergence{Receiver,Sender} and might return an
	// error and a boolean indicating if another Start should be tried later.
	Start() (err error, retry bool)

	// Channel represents a return channel for peer-appearance/disappearance
	// and received-bundle status messages.
	Channel() chan ConvergenceStatus

	// Address returns a unique address string identifying this adapter and
	// preventing it from being opened twice.
	Address() string

	// IsPermanent returns true if this CLA should not be removed after
	// failures.
	IsPermanent() bool
}

// ConvergenceReceiver receives bundles from a remote peer and reports them
// through Channel as ConvergenceReceivedBundle messages.
type ConvergenceReceiver interface {
	Convergence

	// GetEndpointID returns the endpoint ID assigned to this CLA.
	GetEndpointID() bpv7.EndpointID
}

// ConvergenceSender transmits bundles to a single, known peer.
type ConvergenceSender interface {
	Convergence

	// Send transmits a bundle to this ConvergenceSender's peer. Safe for
	// concurrent use; a single sender finishes one bundle before the next.
	Send(bndl bpv7.Bundle) error

	// GetPeerEndpointID returns the peer's endpoint ID, if known. Otherwise
	// the zero endpoint is returned.
	GetPeerEndpointID() bpv7.EndpointID
}

// ConvergenceProvider is a CLA service that does not transfer bundles
// itself but creates Convergence adapters and hands them to a Manager, e.g.
// a listening socket spawning one adapter per accepted connection.
type ConvergenceProvider interface {
	Convergable

	// RegisterManager tells the ConvergenceProvider which Manager new
	// Convergence instances should be reported to.
	RegisterManager(*Manager)

	// Start starts this ConvergenceProvider. The Manager calls
	// RegisterManager before Start.
	Start() error
}
