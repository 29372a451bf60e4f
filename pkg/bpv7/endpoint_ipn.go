// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"regexp"
	"strconv"

	"github.com/dtn7/cboring"
)

const (
	ipnEndpointSchemeName string = "ipn"
	ipnEndpointSchemeNo   uint64 = 2
)

var ipnEndpointRegexp = regexp.MustCompile(`^ipn:(\d+)\.(\d+)$`)

// IpnEndpoint describes the "ipn" URI scheme for EndpointIDs, as defined in
// RFC 6260: a node number and a service number, e.g. "ipn:23.42".
type IpnEndpoint struct {
	Node    uint64
	Service uint64
}

// NewIpnEndpoint parses an "ipn" scheme URI into an IpnEndpoint.
func NewIpnEndpoint(uri string) (EndpointType, error) {
	matches := ipnEndpointRegexp.FindStringSubmatch(uri)
	if matches == nil {
		return nil, fmt.Errorf("IpnEndpoint: %q does not match the ipn URI scheme", uri)
	}

	node, err := strconv.ParseUint(matches[1], 10, 64)
	if err != nil {
		return nil, err
	}
	service, err := strconv.ParseUint(matches[2], 10, 64)
	if err != nil {
		return nil, err
	}

	e := &IpnEndpoint{Node: node, Service: service}
	if err := e.CheckValid(); err != nil {
		return nil, err
	}
	return e, nil
}

// SchemeName is "ipn" for IpnEndpoints.
func (_ *IpnEndpoint) SchemeName() string {
	return ipnEndpointSchemeName
}

// SchemeNo is 2 for IpnEndpoints.
func (_ *IpnEndpoint) SchemeNo() uint64 {
	return ipnEndpointSchemeNo
}

// Authority is the authority part of the Endpoint URI, e.g., "23" for "ipn:23.42".
func (e *IpnEndpoint) Authority() string {
	return fmt.Sprintf("%d", e.Node)
}

// Path is the path part of the Endpoint URI, e.g., "42" for "ipn:23.42".
func (e *IpnEndpoint) Path() string {
	return fmt.Sprintf("%d", e.Service)
}

// IsSingleton checks if this Endpoint represents a singleton.
//
// All IPN Endpoints are singletons by definition.
func (_ *IpnEndpoint) IsSingleton() bool {
	return true
}

// CheckValid returns an error for structurally invalid data.
func (e *IpnEndpoint) CheckValid() error {
	if e.Node < 1 || e.Service < 1 {
		return fmt.Errorf("IpnEndpoint: node and service number must be >= 1")
	}
	return nil
}

func (e *IpnEndpoint) String() string {
	return fmt.Sprintf("ipn:%d.%d", e.Node, e.Service)
}

// MarshalCbor writes this IpnEndpoint's CBOR representation, a two-element
// array of the node and service numbers.
func (e *IpnEndpoint) MarshalCbor(w io.Writer) error {
	if err := cboring.WriteArrayLength(2, w); err != nil {
		return err
	}
	for _, n := range []uint64{e.Node, e.Service} {
		if err := cboring.WriteUInt(n, w); err != nil {
			return err
		}
	}
	return nil
}

// UnmarshalCbor reads a CBOR representation of an IpnEndpoint.
func (e *IpnEndpoint) UnmarshalCbor(r io.Reader) error {
	if n, err := cboring.ReadArrayLength(r); err != nil {
		return err
	} else if n != 2 {
		return fmt.Errorf("IpnEndpoint: expected array of length 2, got %d", n)
	}

	for _, target := range []*uint64{&e.Node, &e.Service} {
		v, err := cboring.ReadUInt(r)
		if err != nil {
			return err
		}
		*target = v
	}

	return nil
}
