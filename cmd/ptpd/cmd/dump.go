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

package cmd

import (
	"fmt"
	"io"
	"net"
	"os"
	"strconv"
	"strings"

	"github.com/davecgh/go-spew/spew"
	"github.com/google/gopacket"
	"github.com/google/gopacket/layers"
	"github.com/google/gopacket/pcapgo"
	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	ptp "github.com/ordinaryclock/ptpd/ptp/protocol"
)

// flags
var dumpMsgTypesFlag []string

func init() {
	RootCmd.AddCommand(dumpCmd)
	dumpCmd.Flags().StringSliceVarP(&dumpMsgTypesFlag, "msgtype", "m", nil, "only print these message types, like SYNC,ANNOUNCE. Empty means all")
}

// LayerPTP wraps around ptp packet
type LayerPTP struct {
	layers.BaseLayer

	Packet ptp.Packet
}

// LayerTypePTP is registered as a layer with gopacket
var LayerTypePTP = gopacket.RegisterLayerType(
	1588,
	gopacket.LayerTypeMetadata{
		Name:    "PTPv2",
		Decoder: gopacket.DecodeFunc(decodePTP),
	},
)

func init() {
	layers.RegisterUDPPortLayerType(ptp.PortEvent, LayerTypePTP)
	layers.RegisterUDPPortLayerType(ptp.PortGeneral, LayerTypePTP)
}

// LayerType returns type this layer implements
func (l *LayerPTP) LayerType() gopacket.LayerType {
	return LayerTypePTP
}

// Payload is empty as it's the final layer
func (l *LayerPTP) Payload() []byte {
	return nil
}

func decodePTP(data []byte, p gopacket.PacketBuilder) error {
	pkt, err := ptp.DecodePacket(data)
	if err != nil {
		return fmt.Errorf("decoding PTPv2 packet: %w", err)
	}
	d := &LayerPTP{BaseLayer: layers.BaseLayer{Contents: data}, Packet: pkt}
	p.AddLayer(d)
	p.SetApplicationLayer(d)
	return nil
}

// parseMsgTypes turns message type names into a filter, nil means everything passes
func parseMsgTypes(names []string) (map[ptp.MessageType]bool, error) {
	if len(names) == 0 {
		return nil, nil
	}
	res := map[ptp.MessageType]bool{}
	for _, name := range names {
		found := false
		for v, s := range ptp.MessageTypeToString {
			if s == strings.ToUpper(name) {
				res[v] = true
				found = true
			}
		}
		if !found {
			return nil, fmt.Errorf("unsupported msg type %q", name)
		}
	}
	return res, nil
}

// packetHandle abstracts packet handles provided by pcapgo.Reader and pcapgo.NgReader
type packetHandle interface {
	gopacket.PacketDataSource
	LinkType() layers.LinkType
}

func openCapture(r io.ReadSeeker) (packetHandle, error) {
	ng, err := pcapgo.NewNgReader(r, pcapgo.DefaultNgReaderOptions)
	if err == nil {
		return ng, nil
	}
	if _, err := r.Seek(0, io.SeekStart); err != nil {
		return nil, err
	}
	return pcapgo.NewReader(r)
}

func endpoints(packet gopacket.Packet) (string, string) {
	var srcIP, dstIP net.IP
	if ip6, ok := packet.Layer(layers.LayerTypeIPv6).(*layers.IPv6); ok {
		srcIP, dstIP = ip6.SrcIP, ip6.DstIP
	} else if ip4, ok := packet.Layer(layers.LayerTypeIPv4).(*layers.IPv4); ok {
		srcIP, dstIP = ip4.SrcIP, ip4.DstIP
	}
	var srcPort, dstPort layers.UDPPort
	if udp, ok := packet.Layer(layers.LayerTypeUDP).(*layers.UDP); ok {
		srcPort, dstPort = udp.SrcPort, udp.DstPort
	}
	return net.JoinHostPort(srcIP.String(), strconv.Itoa(int(srcPort))),
		net.JoinHostPort(dstIP.String(), strconv.Itoa(int(dstPort)))
}

// dumpCapture prints every PTP packet in the capture which passes the filter, returns how many were printed
func dumpCapture(w io.Writer, r io.ReadSeeker, filter map[ptp.MessageType]bool) (int, error) {
	handle, err := openCapture(r)
	if err != nil {
		return 0, fmt.Errorf("decoding capture: %w", err)
	}
	printed := 0
	source := gopacket.NewPacketSource(handle, handle.LinkType())
	for packet := range source.Packets() {
		if errLayer := packet.ErrorLayer(); errLayer != nil {
			log.Warningf("skipping packet: %v", errLayer.Error())
			continue
		}
		l, ok := packet.Layer(LayerTypePTP).(*LayerPTP)
		if !ok {
			continue
		}
		if filter != nil && !filter[l.Packet.MessageType()] {
			continue
		}
		src, dst := endpoints(packet)
		fmt.Fprintf(w, "%s %s -> %s %s\n", packet.Metadata().Timestamp.Format("15:04:05.000000000"), src, dst, l.Packet.MessageType())
		spew.Fdump(w, l.Packet)
		printed++
	}
	return printed, nil
}

var dumpCmd = &cobra.Command{
	Use:   "dump [file]",
	Short: "Print PTPv2 packets from .pcap or .pcapng capture",
	Args:  cobra.ExactArgs(1),
	Run: func(_ *cobra.Command, args []string) {
		ConfigureVerbosity()

		filter, err := parseMsgTypes(dumpMsgTypesFlag)
		if err != nil {
			log.Fatal(err)
		}
		f, err := os.Open(args[0])
		if err != nil {
			log.Fatal(err)
		}
		defer f.Close()
		n, err := dumpCapture(os.Stdout, f, filter)
		if err != nil {
			log.Fatal(err)
		}
		log.Infof("printed %d packets", n)
	},
}
