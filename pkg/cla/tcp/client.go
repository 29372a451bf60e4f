// SPDX-License-Identifier: GPL-3.0-or-later

// Package tcp implements the stream convergence layer named in §4.6 of the
// core specification: each transmission is a 4-byte big-endian length
// prefix followed by the CBOR-encoded bundle. Connections are either
// ephemeral (closed after each Send) or permanent (kept open and reused),
// selected by configuration.
package tcp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/dtn7/cboring"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

// Client is a ConvergenceSender speaking the length-prefixed TCP framing.
type Client struct {
	mutex sync.Mutex

	address   string
	peer      bpv7.EndpointID
	permanent bool

	conn net.Conn

	reportChan chan cla.ConvergenceStatus
	stopSyn    chan struct{}
	stopAck    chan struct{}
}

// NewClient creates a Client dialing address for the given peer. When
// permanent is false, the underlying connection is closed after each Send
// and redialed on the next one.
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

	c.reportChan = make(chan cla.ConvergenceStatus)
	c.stopSyn = make(chan struct{})
	c.stopAck = make(chan struct{})

	if c.permanent {
		conn, dialErr := net.DialTimeout("tcp", c.address, 5*time.Second)
		if dialErr != nil {
			err = dialErr
			return
		}
		c.conn = conn
	}

	go c.handler()
	return
}

func (c *Client) handler() {
	c.reportChan <- cla.NewConvergencePeerAppeared(c, c.GetPeerEndpointID())

	<-c.stopSyn

	c.mutex.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mutex.Unlock()

	close(c.reportChan)
	close(c.stopAck)
}

// Send writes the 4-byte big-endian length prefix followed by the
// CBOR-encoded bundle to the underlying connection.
func (c *Client) Send(bndl bpv7.Bundle) (err error) {
	c.mutex.Lock()
	defer c.mutex.Unlock()

	defer func() {
		if err != nil {
			select {
			case c.reportChan <- cla.NewConvergencePeerDisappeared(c, c.GetPeerEndpointID()):
			default:
			}
		}
	}()

	conn := c.conn
	if conn == nil {
		conn, err = net.DialTimeout("tcp", c.address, 5*time.Second)
		if err != nil {
			return err
		}
		if c.permanent {
			c.conn = conn
		}
	}

	buf := new(bytes.Buffer)
	if cborErr := cboring.Marshal(&bndl, buf); cborErr != nil {
		_ = conn.Close()
		if c.permanent {
			c.conn = nil
		}
		return fmt.Errorf("tcp client failed to encode bundle: %w", cborErr)
	}

	header := make([]byte, 4)
	binary.BigEndian.PutUint32(header, uint32(buf.Len()))

	w := bufio.NewWriter(conn)
	if _, werr := w.Write(header); werr != nil {
		_ = conn.Close()
		if c.permanent {
			c.conn = nil
		}
		return werr
	}
	if _, werr := buf.WriteTo(w); werr != nil {
		_ = conn.Close()
		if c.permanent {
			c.conn = nil
		}
		return werr
	}
	if ferr := w.Flush(); ferr != nil {
		_ = conn.Close()
		if c.permanent {
			c.conn = nil
		}
		return ferr
	}

	if !c.permanent {
		_ = conn.Close()
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
	return fmt.Sprintf("tcp://%s", c.address)
}

func (c *Client) IsPermanent() bool {
	return c.permanent
}

func (c *Client) String() string {
	return c.Address()
}

var _ cla.ConvergenceSender = (*Client)(nil)
