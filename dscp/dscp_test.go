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

package dscp

import (
	"net"
	"testing"

	"github.com/stretchr/testify/require"
	"golang.org/x/sys/unix"

	"github.com/ordinaryclock/ptpd/timestamp"
)

func TestEnableDSCP(t *testing.T) {
	conn4, err := net.ListenUDP("udp4", &net.UDPAddr{IP: net.ParseIP("127.0.0.1"), Port: 0})
	require.NoError(t, err)
	defer conn4.Close()
	fd4, err := timestamp.ConnFd(conn4)
	require.NoError(t, err)
	require.NoError(t, Enable(fd4, net.ParseIP("127.0.0.1"), 46))
	tos, err := unix.GetsockoptInt(fd4, unix.IPPROTO_IP, unix.IP_TOS)
	require.NoError(t, err)
	require.Equal(t, 46<<2, tos)

	conn6, err := net.ListenUDP("udp6", &net.UDPAddr{IP: net.ParseIP("::1"), Port: 0})
	if err != nil {
		t.Skipf("no IPv6: %v", err)
	}
	defer conn6.Close()
	fd6, err := timestamp.ConnFd(conn6)
	require.NoError(t, err)
	require.NoError(t, Enable(fd6, net.ParseIP("::1"), 46))
}

func TestEnableDSCPOutOfRange(t *testing.T) {
	require.Error(t, Enable(0, net.ParseIP("127.0.0.1"), 64))
	require.Error(t, Enable(0, net.ParseIP("127.0.0.1"), -1))
}
