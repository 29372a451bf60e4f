// SPDX-FileCopyrightText: 2018, 2019, 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"strings"

	"github.com/dtn7/cboring"
)

// EndpointType is the "scheme-specific part" of an EndpointID, as defined in
// section 4.1.5.1. Only the "dtn" and "ipn" URI schemes are supported, each
// implemented by DtnEndpoint and IpnEndpoint respectively.
type EndpointType interface {
	cboring.CborMarshaler

	// CheckValid returns an error for structurally invalid data.
	CheckValid() error

	// Authority is the authority part of this endpoint's URI.
	Authority() string

	// Path is the path part of this endpoint's URI.
	Path() string

	// IsSingleton reports whether this endpoint identifies exactly one node.
	IsSingleton() bool

	// SchemeName is the URI scheme's textual name, e.g. "dtn".
	SchemeName() string

	// SchemeNo is the URI scheme's numeric code used on the wire.
	SchemeNo() uint64

	String() string
}

// EndpointID represents an Endpoint ID as defined in section 4.1.5.1.
type EndpointID struct {
	EndpointType EndpointType
}

// NewEndpointID creates a new EndpointID from a URI, dispatching on its
// scheme. Currently "dtn" and "ipn" scheme names are supported.
func NewEndpointID(uri string) (EndpointID, error) {
	switch {
	case strings.HasPrefix(uri, dtnEndpointSchemeName+":"):
		et, err := NewDtnEndpoint(uri)
		if err != nil {
			return EndpointID{}, err
		}
		return EndpointID{et}, nil

	case strings.HasPrefix(uri, ipnEndpointSchemeName+":"):
		et, err := NewIpnEndpoint(uri)
		if err != nil {
			return EndpointID{}, err
		}
		return EndpointID{et}, nil

	default:
		return EndpointID{}, fmt.Errorf("EndpointID: unsupported or malformed URI %q", uri)
	}
}

// MustNewEndpointID returns a new EndpointID as NewEndpointID, but panics in
// case of an error.
func MustNewEndpointID(uri string) EndpointID {
	ep, err := NewEndpointID(uri)
	if err != nil {
		panic(err)
	}
	return ep
}

// CheckValid returns an error for structurally invalid data.
func (eid EndpointID) CheckValid() error {
	if eid.EndpointType == nil {
		return fmt.Errorf("EndpointID: no EndpointType set")
	}
	return eid.EndpointType.CheckValid()
}

// Authority is the authority part of the Endpoint URI, e.g., "foo" for "dtn://foo/bar".
func (eid EndpointID) Authority() string {
	if eid.EndpointType == nil {
		return ""
	}
	return eid.EndpointType.Authority()
}

// Path is the path part of the Endpoint URI, e.g., "/bar" for "dtn://foo/bar".
func (eid EndpointID) Path() string {
	if eid.EndpointType == nil {
		return ""
	}
	return eid.EndpointType.Path()
}

// IsSingleton reports whether this EndpointID identifies exactly one node.
func (eid EndpointID) IsSingleton() bool {
	if eid.EndpointType == nil {
		return false
	}
	return eid.EndpointType.IsSingleton()
}

// isNoneLike reports whether this EndpointID carries no specific node
// identity, either because it has no EndpointType at all or because it is
// the "dtn:none" null endpoint.
func (eid EndpointID) isNoneLike() bool {
	if eid.EndpointType == nil {
		return true
	}
	if dtn, ok := eid.EndpointType.(*DtnEndpoint); ok {
		return dtn.IsDtnNone
	}
	return false
}

// SameNode reports whether both EndpointIDs refer to the same node,
// disregarding any demultiplexing (service) part.
func (eid EndpointID) SameNode(o EndpointID) bool {
	if eid.isNoneLike() && o.isNoneLike() {
		return true
	}
	if eid.isNoneLike() != o.isNoneLike() {
		return false
	}

	switch te := eid.EndpointType.(type) {
	case *DtnEndpoint:
		to, ok := o.EndpointType.(*DtnEndpoint)
		return ok && te.NodeName == to.NodeName

	case *IpnEndpoint:
		to, ok := o.EndpointType.(*IpnEndpoint)
		return ok && te.Node == to.Node

	default:
		return false
	}
}

func (eid EndpointID) String() string {
	if eid.EndpointType == nil {
		return "none"
	}
	return eid.EndpointType.String()
}

// MarshalCbor writes this EndpointID's CBOR representation, a two-element
// array of the scheme number and the scheme-specific part.
func (eid *EndpointID) MarshalCbor(w io.Writer) error {
	if eid.EndpointType == nil {
		return fmt.Errorf("EndpointID: no EndpointType set")
	}

	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	if err := cboring.WriteUInt(eid.EndpointType.SchemeNo(), w); err != nil {
		return err
	}
	return eid.EndpointType.MarshalCbor(w)
}

// UnmarshalCbor reads a CBOR representation of an EndpointID.
func (eid *EndpointID) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("EndpointID: expected array of length 2, got %d", n)
	}

	schemeNo, err := cboring.ReadUInt(r)
	if err != nil {
		return err
	}

	switch schemeNo {
	case dtnEndpointSchemeNo:
		var dtn DtnEndpoint
		if err := dtn.UnmarshalCbor(r); err != nil {
			return err
		}
		eid.EndpointType = &dtn

	case ipnEndpointSchemeNo:
		var ipn IpnEndpoint
		if err := ipn.UnmarshalCbor(r); err != nil {
			return err
		}
		eid.EndpointType = &ipn

	default:
		return fmt.Errorf("EndpointID: unknown scheme number %d", schemeNo)
	}

	return nil
}
