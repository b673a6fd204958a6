// Package hostid computes the 32-bit host identifier the sync engine
// stamps into a device's user info at end-of-sync, so a later sync can
// tell which desktop last touched it.
package hostid

import (
	"encoding/binary"
	"net"

	"github.com/coldpalm/palmsync/palmerr"
)

// FromPrimaryIPv4 packs the host's primary non-loopback IPv4 address
// big-endian into a uint32, the same identity scheme the original
// desktop tool used in place of a dedicated machine id.
func FromPrimaryIPv4() (uint32, error) {
	addrs, err := net.InterfaceAddrs()
	if err != nil {
		return 0, palmerr.New(palmerr.System, "hostid: enumerate interface addresses", err)
	}
	for _, a := range addrs {
		ipNet, ok := a.(*net.IPNet)
		if !ok {
			continue
		}
		ip4 := ipNet.IP.To4()
		if ip4 == nil || ip4.IsLoopback() {
			continue
		}
		return binary.BigEndian.Uint32(ip4), nil
	}
	return 0, palmerr.New(palmerr.System, "hostid: no non-loopback IPv4 address found", nil)
}
