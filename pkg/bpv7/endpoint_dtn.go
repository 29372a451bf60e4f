// SPDX-FileCopyrightText: 2020 Alvar Penning
//
// SPDX-License-Identifier: GPL-3.0-or-later

package bpv7

import (
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/dtn7/cboring"
)

const (
	dtnEndpointSchemeName string = "dtn"
	dtnEndpointSchemeNo   uint64 = 1
)

var dtnNodeNameRegexp = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)

// DtnEndpoint describes the "dtn" URI scheme for EndpointIDs, e.g.
// "dtn://node/demux" or the null endpoint "dtn:none".
type DtnEndpoint struct {
	NodeName  string
	Demux     string
	IsDtnNone bool
}

// NewDtnEndpoint parses a "dtn" scheme URI into a DtnEndpoint.
func NewDtnEndpoint(uri string) (EndpointType, error) {
	if uri == "dtn:none" {
		return &DtnEndpoint{IsDtnNone: true}, nil
	}

	re := regexp.MustCompile(`^dtn://([^/]+)/(.*)$`)
	matches := re.FindStringSubmatch(uri)
	if matches == nil {
		return nil, fmt.Errorf("DtnEndpoint: %q does not match the dtn URI scheme", uri)
	}

	nodeName := matches[1]
	if !dtnNodeNameRegexp.MatchString(nodeName) {
		return nil, fmt.Errorf("DtnEndpoint: node name %q contains invalid characters", nodeName)
	}

	return &DtnEndpoint{NodeName: nodeName, Demux: matches[2]}, nil
}

// SchemeName is "dtn" for DtnEndpoints.
func (_ *DtnEndpoint) SchemeName() string {
	return dtnEndpointSchemeName
}

// SchemeNo is 1 for DtnEndpoints.
func (_ *DtnEndpoint) SchemeNo() uint64 {
	return dtnEndpointSchemeNo
}

// Authority is the authority part of the Endpoint URI, e.g., "foo" for "dtn://foo/bar".
func (e *DtnEndpoint) Authority() string {
	if e.IsDtnNone {
		return "none"
	}
	return e.NodeName
}

// Path is the path part of the Endpoint URI, e.g., "/bar" for "dtn://foo/bar".
func (e *DtnEndpoint) Path() string {
	if e.IsDtnNone {
		return "/"
	}
	return "/" + e.Demux
}

// IsSingleton checks if this Endpoint represents a singleton.
//
// The null endpoint and demultiplexing tokens starting with "~" (the
// "non-singleton" marker) are not singletons.
func (e *DtnEndpoint) IsSingleton() bool {
	if e.IsDtnNone {
		return false
	}
	return !strings.HasPrefix(e.Demux, "~")
}

// CheckValid returns an error for structurally invalid data.
func (e *DtnEndpoint) CheckValid() error {
	if e.IsDtnNone {
		return nil
	}
	if e.NodeName == "" {
		return fmt.Errorf("DtnEndpoint: empty node name")
	}
	if !dtnNodeNameRegexp.MatchString(e.NodeName) {
		return fmt.Errorf("DtnEndpoint: node name %q contains invalid characters", e.NodeName)
	}
	return nil
}

func (e *DtnEndpoint) String() string {
	if e.IsDtnNone {
		return "dtn:none"
	}
	return fmt.Sprintf("dtn://%s/%s", e.NodeName, e.Demux)
}

// MarshalCbor writes this DtnEndpoint's CBOR representation, either the
// unsigned integer 0 for "dtn:none" or the "//node/demux" text string.
func (e *DtnEndpoint) MarshalCbor(w io.Writer) error {
	if e.IsDtnNone {
		return cboring.WriteUInt(0, w)
	}
	return cboring.WriteTextString(fmt.Sprintf("//%s/%s", e.NodeName, e.Demux), w)
}

// UnmarshalCbor reads a CBOR representation of a DtnEndpoint.
func (e *DtnEndpoint) UnmarshalCbor(r io.Reader) error {
	m, n, err := cboring.ReadMajors(r)
	if err != nil {
		return err
	}

	switch m {
	case cboring.UInt:
		if n != 0 {
			return fmt.Errorf("DtnEndpoint: unsigned integer SSP must be zero, got %d", n)
		}
		*e = DtnEndpoint{IsDtnNone: true}

	case cboring.TextString:
		data, err := cboring.ReadRawBytes(n, r)
		if err != nil {
			return err
		}

		ssp := string(data)
		ssp = strings.TrimPrefix(ssp, "//")
		parts := strings.SplitN(ssp, "/", 2)

		*e = DtnEndpoint{NodeName: parts[0]}
		if len(parts) == 2 {
			e.Demux = parts[1]
		}

	default:
		return fmt.Errorf("DtnEndpoint: unexpected major type 0x%X", m)
	}

	return nil
}

// DtnNone returns the null endpoint "dtn:none".
func DtnNone() EndpointID {
	return EndpointID{&DtnEndpoint{IsDtnNone: true}}
}
