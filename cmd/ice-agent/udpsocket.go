package main

import (
	"net"

	"github.com/mediaflow/ice"
)

// udpSocket adapts a *net.UDPConn to ice.Socket, grounded on
// internal/cli/run.go's ListenUDPAndServe (plain net.ListenUDP, no
// reuseport: a debug agent binds one socket per component, not a shared
// listening port across workers).
type udpSocket struct {
	conn  *net.UDPConn
	local ice.TransportAddress
}

func listenUDP(ip string, port int) (*udpSocket, error) {
	conn, err := net.ListenUDP("udp", &net.UDPAddr{IP: net.ParseIP(ip), Port: port})
	if err != nil {
		return nil, err
	}
	laddr := conn.LocalAddr().(*net.UDPAddr)
	return &udpSocket{
		conn:  conn,
		local: ice.TransportAddress{IP: laddr.IP.String(), Port: laddr.Port},
	}, nil
}

func (s *udpSocket) Send(b []byte, addr ice.TransportAddress) error {
	_, err := s.conn.WriteToUDP(b, &net.UDPAddr{IP: net.ParseIP(addr.IP), Port: addr.Port})
	return err
}

// readLoop blocks reading datagrams off the socket, handing each to
// deliver (normally Session.HandleMessage) until the socket is closed.
func (s *udpSocket) readLoop(deliver func(peer ice.TransportAddress, data []byte)) {
	buf := make([]byte, 1500)
	for {
		n, addr, err := s.conn.ReadFromUDP(buf)
		if err != nil {
			return
		}
		cp := make([]byte, n)
		copy(cp, buf[:n])
		deliver(ice.TransportAddress{IP: addr.IP.String(), Port: addr.Port}, cp)
	}
}
