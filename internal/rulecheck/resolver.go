package rulecheck

import "net/netip"

// PartitionByFamily splits resolved addresses into IPv4 and IPv6 lists,
// keeping each string as returned. Anything that is not a plain address is
// dropped.
func PartitionByFamily(addrs []string) (v4, v6 []string) {
	for _, s := range addrs {
		addr, err := netip.ParseAddr(s)
		if err != nil || addr.Zone() != "" {
			continue
		}
		if addr.Is4() {
			v4 = append(v4, s)
		} else {
			v6 = append(v6, s)
		}
	}
	return v4, v6
}
