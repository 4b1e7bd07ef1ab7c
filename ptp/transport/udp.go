/*
Copyright (c) Facebook, Inc. and its affiliates.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

/*
Package transport carries PTP messages for the ptpd port.

UDP is the real thing: IPv4 multicast on the event and general ports of a
network interface with kernel timestamps. Bus connects ports of one process
in memory and is used for simulation and tests.
*/
package transport

import (
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	log "github.com/sirupsen/logrus"
	"golang.org/x/net/ipv4"

	"github.com/ordinaryclock/ptpd/dscp"
	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
	"github.com/ordinaryclock/ptpd/ptp/ptpd"
	"github.com/ordinaryclock/ptpd/timestamp"
)

// ErrClosed is returned by transports that were closed
var ErrClosed = errors.New("transport is closed")

// defaultQueueSize is how many received packets wait for the port
const defaultQueueSize = 64

// readRetryDelay is the pause after a failed socket read
const readRetryDelay = 10 * time.Millisecond

// UDPConfig is what UDP transport needs to know
type UDPConfig struct {
	Iface        string
	Timestamping timestamp.Timestamp
	DSCP         int
	// TTL of multicast packets, PTP messages should not leave the segment
	TTL int
	// Loopback delivers our own multicast back to us
	Loopback bool
	// P2P joins the peer delay multicast group as well
	P2P bool
	// EventPort and GeneralPort override standard 319 and 320
	EventPort   int
	GeneralPort int
}

type udpSocket struct {
	channel ptpd.Channel
	conn    *net.UDPConn
	pc      *ipv4.PacketConn
	fd      int
	port    int
}

// UDP is IPv4 multicast transport
type UDP struct {
	cfg     UDPConfig
	iface   *net.Interface
	event   *udpSocket
	general *udpSocket

	// serializes sends on event socket, so TX timestamp belongs to the packet we sent
	sendMu sync.Mutex

	packets chan *ptpd.Packet
	errs    chan error
	done    chan struct{}
	once    sync.Once
	wg      sync.WaitGroup
}

// NewUDP opens event and general sockets on the interface and starts reading them
func NewUDP(cfg UDPConfig) (*UDP, error) {
	iface, err := net.InterfaceByName(cfg.Iface)
	if err != nil {
		return nil, fmt.Errorf("looking up %s: %w", cfg.Iface, err)
	}
	if cfg.EventPort == 0 {
		cfg.EventPort = ptp.PortEvent
	}
	if cfg.GeneralPort == 0 {
		cfg.GeneralPort = ptp.PortGeneral
	}
	if cfg.TTL == 0 {
		cfg.TTL = 1
	}
	t := &UDP{
		cfg:     cfg,
		iface:   iface,
		packets: make(chan *ptpd.Packet, defaultQueueSize),
		errs:    make(chan error, 1),
		done:    make(chan struct{}),
	}
	if t.event, err = t.listen(ptpd.ChannelEvent, cfg.EventPort); err != nil {
		return nil, err
	}
	if t.general, err = t.listen(ptpd.ChannelGeneral, cfg.GeneralPort); err != nil {
		t.event.conn.Close()
		return nil, err
	}
	if err := timestamp.Enable(t.event.fd, cfg.Timestamping, iface.Name); err != nil {
		t.event.conn.Close()
		t.general.conn.Close()
		return nil, fmt.Errorf("enabling %s timestamps on %s: %w", cfg.Timestamping, iface.Name, err)
	}
	for _, s := range []*udpSocket{t.event, t.general} {
		t.wg.Add(1)
		go t.read(s)
	}
	log.Infof("listening on %s ports %d/%d with %s timestamps", iface.Name, cfg.EventPort, cfg.GeneralPort, cfg.Timestamping)
	return t, nil
}

// listen binds the port and joins multicast groups on the interface
func (t *UDP) listen(ch ptpd.Channel, port int) (*udpSocket, error) {
	conn, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.IPv4zero, Port: port})
	if err != nil {
		return nil, fmt.Errorf("listening on %s port %d: %w", ch, port, err)
	}
	s := &udpSocket{channel: ch, conn: conn, pc: ipv4.NewPacketConn(conn), port: port}
	if err := t.setup(s); err != nil {
		conn.Close()
		return nil, fmt.Errorf("setting up %s socket: %w", ch, err)
	}
	return s, nil
}

func (t *UDP) setup(s *udpSocket) error {
	groups := []net.IP{ptp.DefaultMulticastIP}
	if t.cfg.P2P {
		groups = append(groups, ptp.PeerMulticastIP)
	}
	for _, g := range groups {
		if err := s.pc.JoinGroup(t.iface, &net.UDPAddr{IP: g}); err != nil {
			return fmt.Errorf("joining %s: %w", g, err)
		}
	}
	if err := s.pc.SetMulticastInterface(t.iface); err != nil {
		return err
	}
	if err := s.pc.SetMulticastTTL(t.cfg.TTL); err != nil {
		return err
	}
	if err := s.pc.SetMulticastLoopback(t.cfg.Loopback); err != nil {
		return err
	}
	fd, err := timestamp.ConnFd(s.conn)
	if err != nil {
		return err
	}
	s.fd = fd
	if t.cfg.DSCP > 0 {
		if err := dscp.Enable(fd, net.IPv4zero, t.cfg.DSCP); err != nil {
			return err
		}
	}
	return nil
}

// read pushes everything received on the socket to the packets queue until closed
func (t *UDP) read(s *udpSocket) {
	defer t.wg.Done()
	buf := make([]byte, timestamp.PayloadSizeBytes)
	oob := make([]byte, timestamp.ControlSizeBytes)
	for {
		n, oobn, _, addr, err := s.conn.ReadMsgUDP(buf, oob)
		if err != nil {
			select {
			case <-t.done:
				return
			default:
			}
			t.fail(fmt.Errorf("reading %s socket: %w", s.channel, err))
			select {
			case <-t.done:
				return
			case <-time.After(readRetryDelay):
			}
			continue
		}
		pkt := &ptpd.Packet{
			Channel: s.channel,
			Data:    append([]byte(nil), buf[:n]...),
		}
		if s.channel == ptpd.ChannelEvent {
			rx, err := timestamp.ParseTimestamp(oob[:oobn])
			if err != nil {
				log.Debugf("no RX timestamp for packet from %s: %v", addr, err)
			} else {
				pkt.RXTimestamp = ptp.TimeInternalFromTime(rx)
			}
		}
		select {
		case t.packets <- pkt:
		case <-t.done:
			return
		}
	}
}

// fail reports an error to the next Poll, dropping it if one is already waiting
func (t *UDP) fail(err error) {
	select {
	case t.errs <- err:
	default:
		log.Debugf("dropping transport error: %v", err)
	}
}

func destination(b []byte, port int) (*net.UDPAddr, error) {
	msgType, err := ptp.ProbeMsgType(b)
	if err != nil {
		return nil, err
	}
	switch msgType {
	case ptp.MessagePDelayReq, ptp.MessagePDelayResp, ptp.MessagePDelayRespFollowUp:
		return &net.UDPAddr{IP: ptp.PeerMulticastIP, Port: port}, nil
	}
	return &net.UDPAddr{IP: ptp.DefaultMulticastIP, Port: port}, nil
}

// Send multicasts b and returns TX timestamp for event messages
func (t *UDP) Send(ch ptpd.Channel, b []byte) (ptp.TimeInternal, error) {
	s := t.general
	if ch == ptpd.ChannelEvent {
		s = t.event
	}
	addr, err := destination(b, s.port)
	if err != nil {
		return ptp.TimeInternal{}, err
	}
	if ch != ptpd.ChannelEvent {
		_, err = s.conn.WriteToUDP(b, addr)
		return ptp.TimeInternal{}, err
	}

	t.sendMu.Lock()
	defer t.sendMu.Unlock()
	if _, err := s.conn.WriteToUDP(b, addr); err != nil {
		return ptp.TimeInternal{}, err
	}
	tx, err := timestamp.ReadTX(s.fd, timestamp.DefaultTXTimeout)
	if err != nil {
		return ptp.TimeInternal{}, fmt.Errorf("reading TX timestamp: %w", err)
	}
	return ptp.TimeInternalFromTime(tx), nil
}

// Poll waits up to timeout for a packet
func (t *UDP) Poll(timeout time.Duration) (*ptpd.Packet, error) {
	select {
	case pkt := <-t.packets:
		return pkt, nil
	case err := <-t.errs:
		return nil, err
	case <-t.done:
		return nil, ErrClosed
	default:
	}
	if timeout <= 0 {
		return nil, nil
	}
	timer := time.NewTimer(timeout)
	defer timer.Stop()
	select {
	case pkt := <-t.packets:
		return pkt, nil
	case err := <-t.errs:
		return nil, err
	case <-t.done:
		return nil, ErrClosed
	case <-timer.C:
		return nil, nil
	}
}

// Close closes both sockets and waits for the readers
func (t *UDP) Close() error {
	var err error
	t.once.Do(func() {
		close(t.done)
		err = errors.Join(t.event.conn.Close(), t.general.conn.Close())
		t.wg.Wait()
	})
	return err
}
