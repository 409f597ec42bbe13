// Package netinfo discovers the addresses a host advertises to a joining
// peer: the LAN address, the public address seen by a STUN server and the
// reverse tunnel command for hosts behind NAT.
package netinfo

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"time"

	"github.com/pion/stun"
)

// DefaultStunServers is the STUN list used when none are configured.
var DefaultStunServers = []string{
	"stun.l.google.com:19302",
	"stun.cloudflare.com:3478",
}

const (
	routeTarget   = "8.8.8.8:80"
	fallbackIP    = "127.0.0.1"
	stunTimeout   = 2 * time.Second
	stunReadBytes = 1500
)

// ErrNoPublicIP is returned when no STUN server produced a mapped address.
var ErrNoPublicIP = errors.New("public address unavailable")

// LocalIP returns the address of the interface that routes to the internet.
// A UDP "connect" sends no packets; it only selects the source address. When
// that fails the first non-loopback IPv4 interface address is used, and as a
// last resort 127.0.0.1.
func LocalIP() string {
	if conn, err := net.Dial("udp4", routeTarget); err == nil {
		defer conn.Close()
		if addr, ok := conn.LocalAddr().(*net.UDPAddr); ok && addr.IP != nil && !addr.IP.IsUnspecified() {
			return addr.IP.String()
		}
	}
	if ips := InterfaceIPs(); len(ips) > 0 {
		return ips[0]
	}
	return fallbackIP
}

// InterfaceIPs lists the non-loopback IPv4 addresses of local interfaces.
func InterfaceIPs() []string {
	var out []string
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return nil
	}
	for _, addr := range addrs {
		ipnet, ok := addr.(*net.IPNet)
		if !ok || ipnet.IP == nil || ipnet.IP.IsLoopback() {
			continue
		}
		if ip4 := ipnet.IP.To4(); ip4 != nil {
			out = append(out, ip4.String())
		}
	}
	return out
}

// PublicIP asks each STUN server in turn for this host's server-reflexive
// address and returns the first IP obtained.
func PublicIP(ctx context.Context, servers []string) (string, error) {
	if len(servers) == 0 {
		servers = DefaultStunServers
	}
	var errs []error
	for _, server := range servers {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		addr, err := stunBinding(ctx, strings.TrimPrefix(server, "stun:"))
		if err != nil {
			errs = append(errs, fmt.Errorf("%s: %w", server, err))
			continue
		}
		return addr.IP.String(), nil
	}
	return "", fmt.Errorf("%w: %w", ErrNoPublicIP, errors.Join(errs...))
}

func stunBinding(ctx context.Context, server string) (*net.UDPAddr, error) {
	raddr, err := net.ResolveUDPAddr("udp4", server)
	if err != nil {
		return nil, fmt.Errorf("resolve: %w", err)
	}
	conn, err := net.ListenUDP("udp4", nil)
	if err != nil {
		return nil, fmt.Errorf("listen: %w", err)
	}
	defer conn.Close()

	deadline := time.Now().Add(stunTimeout)
	if d, ok := ctx.Deadline(); ok && d.Before(deadline) {
		deadline = d
	}
	_ = conn.SetDeadline(deadline)
	stop := context.AfterFunc(ctx, func() { _ = conn.Close() })
	defer stop()

	req := stun.MustBuild(stun.TransactionID, stun.BindingRequest)
	if _, err := conn.WriteToUDP(req.Raw, raddr); err != nil {
		return nil, fmt.Errorf("send binding request: %w", err)
	}

	buf := make([]byte, stunReadBytes)
	for {
		n, from, err := conn.ReadFromUDP(buf)
		if err != nil {
			if ctx.Err() != nil {
				return nil, ctx.Err()
			}
			return nil, fmt.Errorf("read binding response: %w", err)
		}
		if !from.IP.Equal(raddr.IP) {
			continue
		}
		res := &stun.Message{Raw: buf[:n]}
		if err := res.Decode(); err != nil {
			continue
		}
		if res.TransactionID != req.TransactionID {
			continue
		}
		return mappedAddr(res)
	}
}

func mappedAddr(res *stun.Message) (*net.UDPAddr, error) {
	var xorAddr stun.XORMappedAddress
	if err := xorAddr.GetFrom(res); err == nil {
		return &net.UDPAddr{IP: xorAddr.IP, Port: xorAddr.Port}, nil
	}
	var mapped stun.MappedAddress
	if err := mapped.GetFrom(res); err != nil {
		return nil, fmt.Errorf("no mapped address in response: %w", err)
	}
	return &net.UDPAddr{IP: mapped.IP, Port: mapped.Port}, nil
}

// TunnelCommand is the serveo reverse tunnel invocation that exposes both
// ports of a host behind NAT.
func TunnelCommand(chatPort, filePort int) string {
	return fmt.Sprintf("ssh -R %d:localhost:%d -R %d:localhost:%d serveo.net", chatPort, chatPort, filePort, filePort)
}
