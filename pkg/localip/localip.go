// Package localip is the private-IPv4 discovery collaborator used by
// PeerClient.SeekLocal: "return this host's private IPv4."
package localip

import (
	"errors"
	"net"
	"net/netip"
	"regexp"

	"github.com/glycerine/ipaddr"
)

var privateIPv4 = regexp.MustCompile(`(^127\.)|(^10\.)|(^172\.1[6-9]\.)|(^172\.2[0-9]\.)|(^172\.3[0-1]\.)|(^192\.168\.)`)

// ErrNoPrivateIPv4 is returned when no private IPv4 address could be
// found on any local interface; callers should fail soft (log and
// return) rather than treat this as fatal, per the design notes.
var ErrNoPrivateIPv4 = errors.New("localip: no private ipv4 address found")

// PrivateIPv4 returns this host's private IPv4 address. It first
// tries the external-IP collaborator, in case it already returned a
// private address (common on a LAN with no NAT), then falls back to
// walking the local interfaces directly.
func PrivateIPv4() (netip.Addr, error) {
	if ip := ipaddr.GetExternalIP(); privateIPv4.MatchString(ip) {
		if addr, err := netip.ParseAddr(ip); err == nil {
			return addr, nil
		}
	}
	return fromInterfaces()
}

func fromInterfaces() (netip.Addr, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return netip.Addr{}, err
	}
	for _, a := range addrs {
		ipnet, ok := a.(*net.IPNet)
		if !ok || ipnet.IP.IsLoopback() {
			continue
		}
		v4 := ipnet.IP.To4()
		if v4 == nil {
			continue
		}
		s := v4.String()
		if !privateIPv4.MatchString(s) {
			continue
		}
		addr, err := netip.ParseAddr(s)
		if err == nil {
			return addr, nil
		}
	}
	return netip.Addr{}, ErrNoPrivateIPv4
}
