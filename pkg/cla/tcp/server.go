// SPDX-License-Identifier: GPL-3.0-or-later

package tcp

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"net"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

// Server is a ConvergenceReceiver accepting length-prefixed TCP connections
// and decoding one bundle per frame.
type Server struct {
	listenAddress string
	endpointID    bpv7.EndpointID
	permanent     bool

	reportChan chan cla.ConvergenceStatus
	stopSyn    chan struct{}
	stopAck    chan struct{}
}

// NewServer creates a Server listening on listenAddress for the local
// endpointID.
func NewServer(listenAddress string, endpointID bpv7.EndpointID, permanent bool) *Server {
	return &Server{
		listenAddress: listenAddress,
		endpointID:    endpointID,
		permanent:     permanent,
	}
}

func (s *Server) Start() (err error, retry bool) {
	ln, lErr := net.Listen("tcp", s.listenAddress)
	if lErr != nil {
		return lErr, true
	}

	s.reportChan = make(chan cla.ConvergenceStatus)
	s.stopSyn = make(chan struct{})
	s.stopAck = make(chan struct{})

	go s.serve(ln)

	return nil, true
}

func (s *Server) serve(ln net.Listener) {
	go func() {
		<-s.stopSyn
		_ = ln.Close()
	}()

	for {
		conn, aErr := ln.Accept()
		if aErr != nil {
			select {
			case <-s.stopSyn:
				close(s.reportChan)
				close(s.stopAck)
				return
			default:
				log.WithError(aErr).WithField("cla", s).Warn("TCP server stopped accepting")
				close(s.reportChan)
				close(s.stopAck)
				return
			}
		}

		go s.handleConn(conn)
	}
}

func (s *Server) handleConn(conn net.Conn) {
	defer func() {
		_ = conn.Close()
		if r := recover(); r != nil {
			log.WithFields(log.Fields{"cla": s, "error": r}).Warn("TCP server connection handler panicked")
		}
	}()

	r := bufio.NewReader(conn)
	header := make([]byte, 4)

	for {
		if _, err := io.ReadFull(r, header); err != nil {
			return
		}

		length := binary.BigEndian.Uint32(header)
		payload := make([]byte, length)
		if _, err := io.ReadFull(r, payload); err != nil {
			log.WithFields(log.Fields{"cla": s, "error": err}).Warn("TCP server failed to read full frame")
			return
		}

		bndl, decErr := bpv7.ParseBundle(bytes.NewReader(payload))
		if decErr != nil {
			log.WithFields(log.Fields{"cla": s, "error": decErr}).Debug("TCP server dropped malformed bundle")
			continue
		}

		s.reportChan <- cla.NewConvergenceReceivedBundle(s, s.endpointID, &bndl)
	}
}

func (s *Server) Channel() chan cla.ConvergenceStatus {
	return s.reportChan
}

func (s *Server) Close() error {
	close(s.stopSyn)
	select {
	case <-s.stopAck:
	case <-time.After(time.Second):
	}
	return nil
}

func (s *Server) GetEndpointID() bpv7.EndpointID {
	return s.endpointID
}

func (s *Server) Address() string {
	return fmt.Sprintf("tcp://%s", s.listenAddress)
}

func (s *Server) IsPermanent() bool {
	return s.permanent
}

func (s *Server) String() string {
	return s.Address()
}

var _ cla.ConvergenceReceiver = (*Server)(nil)
