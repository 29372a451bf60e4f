// SPDX-License-Identifier: GPL-3.0-or-later

// Package udp implements the datagram convergence layer named in §4.6 of
// the core specification. A bundle whose CBOR encoding fits a single UDP
// datagram is sent with a leading 0xBB marker byte. Larger bundles are
// split across multiple datagrams, each carrying an 8-byte header
// [0x1B, bundle-id(4), fragment-index(2), fragment-count(1)]. The bundle-id
// here is a locally assigned 32-bit counter scoped to this link, not the
// Bundle Protocol's Bundle ID, and must never leak into routing.
package udp

import (
	"bytes"
	"fmt"
	"net"
	"sync/atomic"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

const (
	// maxDatagramSize is the largest UDP payload this layer will produce,
	// per §4.6's 65507-byte single-datagram ceiling.
	maxDatagramSize = 65507

	singleMarker = 0xBB
	fragMarker   = 0x1B
	fragHeader   = 8
)

// Client is a ConvergenceSender speaking the fragmented UDP framing.
type Client struct {
	address   string
	peer      bpv7.EndpointID
	permanent bool

	conn *net.UDPConn

	bundleCounter uint32

	reportChan chan cla.ConvergenceStatus
	stopSyn    chan struct{}
	stopAck    chan struct{}
}

// NewClient creates a Client sending datagrams to address for the given peer.
func NewClient(address string, peer bpv7.EndpointID, permanent bool) *Client {
	return &Client{
		address:   address,
		peer:      peer,
		permanent: permanent,
	}
}

// NewAnonymousClient creates a Client without a known peer EndpointID.
func NewAnonymousClient(address string, permanent bool) *Client {
	return NewClient(address, bpv7.DtnNone(), permanent)
}

func (c *Client) Start() (err error, retry bool) {
	retry = true

	raddr, rErr := net.ResolveUDPAddr("udp", c.address)
	if rErr != nil {
		return rErr, false
	}

	conn, dErr := net.DialUDP("udp", nil, raddr)
	if dErr != nil {
		return dErr, true
	}

	c.conn = conn
	c.reportChan = make(chan cla.ConvergenceStatus)
	c.stopSyn = make(chan struct{})
	c.stopAck = make(chan struct{})

	go c.handler()
	return nil, true
}

func (c *Client) handler() {
	c.reportChan <- cla.NewConvergencePeerAppeared(c, c.GetPeerEndpointID())

	<-c.stopSyn

	_ = c.conn.Close()
	close(c.reportChan)
	close(c.stopAck)
}

// Send encodes bndl and writes it as one or more UDP datagrams.
func (c *Client) Send(bndl bpv7.Bundle) (err error) {
	defer func() {
		if err != nil {
			select {
			case c.reportChan <- cla.NewConvergencePeerDisappeared(c, c.GetPeerEndpointID()):
			default:
			}
		}
	}()

	buf := new(bytes.Buffer)
	if cborErr := cboring.Marshal(&bndl, buf); cborErr != nil {
		return fmt.Errorf("udp client failed to encode bundle: %w", cborErr)
	}
	payload := buf.Bytes()

	if len(payload)+1 <= maxDatagramSize {
		datagram := make([]byte, 1+len(payload))
		datagram[0] = singleMarker
		copy(datagram[1:], payload)

		_, err = c.conn.Write(datagram)
		return err
	}

	return c.sendFragmented(payload)
}

func (c *Client) sendFragmented(payload []byte) error {
	budget := maxDatagramSize - fragHeader
	count := (len(payload) + budget - 1) / budget
	if count > 255 {
		return fmt.Errorf("udp client: bundle too large to fragment into %d datagrams", count)
	}

	bundleID := atomic.AddUint32(&c.bundleCounter, 1)

	for i := 0; i < count; i++ {
		start := i * budget
		end := start + budget
		if end > len(payload) {
			end = len(payload)
		}

		header := make([]byte, fragHeader)
		header[0] = fragMarker
		header[1] = byte(bundleID >> 24)
		header[2] = byte(bundleID >> 16)
		header[3] = byte(bundleID >> 8)
		header[4] = byte(bundleID)
		header[5] = byte(i >> 8)
		header[6] = byte(i)
		header[7] = byte(count)

		datagram := append(header, payload[start:end]...)
		if _, err := c.conn.Write(datagram); err != nil {
			return err
		}
	}

	return nil
}

func (c *Client) Channel() chan cla.ConvergenceStatus {
	return c.reportChan
}

func (c *Client) Close() error {
	close(c.stopSyn)
	<-c.stopAck
	return nil
}

func (c *Client) GetPeerEndpointID() bpv7.EndpointID {
	return c.peer
}

func (c *Client) Address() string {
	return fmt.Sprintf("udp://%s", c.address)
}

func (c *Client) IsPermanent() bool {
	return c.permanent
}

func (c *Client) String() string {
	return c.Address()
}

var _ cla.ConvergenceSender = (*Client)(nil)
