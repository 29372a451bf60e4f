// SPDX-License-Identifier: GPL-3.0-or-later

package udp

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"

	"github.com/dtn7/dtn7-go/pkg/bpv7"
	"github.com/dtn7/dtn7-go/pkg/cla"
)

// pendingKey identifies an in-progress fragment reassembly: one per source
// address and locally-assigned bundle-id pair.
type pendingKey struct {
	addr     string
	bundleID uint32
}

// pendingBundle accumulates the fragments of one reassembly in progress.
type pendingBundle struct {
	fragments map[uint16][]byte
	count     uint8
	deadline  time.Time
}

// Server is a ConvergenceReceiver accepting single- and multi-datagram UDP
// frames and decoding one bundle per completed frame or fragment set.
type Server struct {
	listenAddress string
	endpointID    bpv7.EndpointID
	permanent     bool

	cleanupInterval time.Duration

	conn *net.UDPConn

	pendingMutex sync.Mutex
	pending      map[pendingKey]*pendingBundle

	reportChan chan cla.ConvergenceStatus
	stopSyn    chan struct{}
	stopAck    chan struct{}
}

// NewServer creates a Server listening on listenAddress for the local
// endpointID. Incomplete fragment reassemblies expire after 60 seconds.
func NewServer(listenAddress string, endpointID bpv7.EndpointID, permanent bool) *Server {
	return &Server{
		listenAddress:   listenAddress,
		endpointID:      endpointID,
		permanent:       permanent,
		cleanupInterval: 60 * time.Second,
		pending:         make(map[pendingKey]*pendingBundle),
	}
}

func (s *Server) Start() (err error, retry bool) {
	laddr, rErr := net.ResolveUDPAddr("udp", s.listenAddress)
	if rErr != nil {
		return rErr, false
	}

	conn, lErr := net.ListenUDP("udp", laddr)
	if lErr != nil {
		return lErr, true
	}

	s.conn = conn
	s.reportChan = make(chan cla.ConvergenceStatus)
	s.stopSyn = make(chan struct{})
	s.stopAck = make(chan struct{})

	go s.serve()
	go s.cleanupLoop()

	return nil, true
}

func (s *Server) serve() {
	buf := make([]byte, 65535)

	for {
		n, addr, rErr := s.conn.ReadFromUDP(buf)
		if rErr != nil {
			select {
			case <-s.stopSyn:
			default:
				log.WithFields(log.Fields{"cla": s, "error": rErr}).Warn("UDP server read failed")
			}
			close(s.reportChan)
			close(s.stopAck)
			return
		}

		datagram := make([]byte, n)
		copy(datagram, buf[:n])
		s.handleDatagram(datagram, addr)
	}
}

func (s *Server) handleDatagram(datagram []byte, addr *net.UDPAddr) {
	if len(datagram) == 0 {
		return
	}

	switch datagram[0] {
	case singleMarker:
		s.decodeAndReport(datagram[1:])

	case fragMarker:
		if len(datagram) < fragHeader {
			log.WithField("cla", s).Debug("UDP server dropped short fragment datagram")
			return
		}
		s.handleFragment(datagram, addr)

	default:
		log.WithField("cla", s).Debug("UDP server dropped datagram with unknown marker")
	}
}

func (s *Server) handleFragment(datagram []byte, addr *net.UDPAddr) {
	bundleID := uint32(datagram[1])<<24 | uint32(datagram[2])<<16 | uint32(datagram[3])<<8 | uint32(datagram[4])
	index := uint16(datagram[5])<<8 | uint16(datagram[6])
	count := datagram[7]
	slice := datagram[fragHeader:]

	key := pendingKey{addr: addr.String(), bundleID: bundleID}

	s.pendingMutex.Lock()
	pb, ok := s.pending[key]
	if !ok {
		pb = &pendingBundle{
			fragments: make(map[uint16][]byte),
			count:     count,
			deadline:  time.Now().Add(s.cleanupInterval),
		}
		s.pending[key] = pb
	}

	if _, dup := pb.fragments[index]; dup {
		s.pendingMutex.Unlock()
		log.WithField("cla", s).Debug("UDP server dropped duplicate fragment index")
		return
	}

	pb.fragments[index] = slice

	complete := len(pb.fragments) == int(pb.count)
	var assembled []byte
	if complete {
		assembled = s.assemble(pb)
		delete(s.pending, key)
	}
	s.pendingMutex.Unlock()

	if complete {
		s.decodeAndReport(assembled)
	}
}

func (s *Server) assemble(pb *pendingBundle) []byte {
	buf := new(bytes.Buffer)
	for i := uint16(0); i < uint16(pb.count); i++ {
		buf.Write(pb.fragments[i])
	}
	return buf.Bytes()
}

func (s *Server) decodeAndReport(payload []byte) {
	bndl, decErr := bpv7.ParseBundle(bytes.NewReader(payload))
	if decErr != nil {
		log.WithFields(log.Fields{"cla": s, "error": decErr}).Debug("UDP server dropped malformed bundle")
		return
	}

	s.reportChan <- cla.NewConvergenceReceivedBundle(s, s.endpointID, &bndl)
}

func (s *Server) cleanupLoop() {
	ticker := time.NewTicker(s.cleanupInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.stopSyn:
			return
		case <-ticker.C:
			now := time.Now()
			s.pendingMutex.Lock()
			for key, pb := range s.pending {
				if now.After(pb.deadline) {
					delete(s.pending, key)
				}
			}
			s.pendingMutex.Unlock()
		}
	}
}

func (s *Server) Channel() chan cla.ConvergenceStatus {
	return s.reportChan
}

func (s *Server) Close() error {
	close(s.stopSyn)
	_ = s.conn.Close()
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
	return fmt.Sprintf("udp://%s", s.listenAddress)
}

func (s *Server) IsPermanent() bool {
	return s.permanent
}

func (s *Server) String() string {
	return s.Address()
}

var _ cla.ConvergenceReceiver = (*Server)(nil)
