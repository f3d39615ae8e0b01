package firewall

import (
	"context"
	"fmt"
	"net/netip"

	"github.com/vishvananda/netlink"
)

// IPSetConn abstracts the ipset netlink calls for testing.
type IPSetConn interface {
	IpsetList(name string) (*netlink.IPSetResult, error)
}

type netlinkIPSetConn struct{}

func (netlinkIPSetConn) IpsetList(name string) (*netlink.IPSetResult, error) {
	return netlink.IpsetList(name)
}

// NativeIPSetLister reads ipset members over netlink. When the netlink query
// fails and a fallback is set, the set is listed through the fallback.
type NativeIPSetLister struct {
	conn     IPSetConn
	fallback SetLister
}

// NewNativeIPSetLister creates an ipset lister. fallback may be nil.
func NewNativeIPSetLister(conn IPSetConn, fallback SetLister) *NativeIPSetLister {
	return &NativeIPSetLister{conn: conn, fallback: fallback}
}

func newNativeIPSetLister(fallback SetLister) SetLister {
	return NewNativeIPSetLister(netlinkIPSetConn{}, fallback)
}

// ListSetMembers returns the entries of an ipset. Entries are formatted the
// way `ipset list` prints them: a bare address for host entries, a prefix
// otherwise.
func (l *NativeIPSetLister) ListSetMembers(ctx context.Context, name string) ([]string, error) {
	if !isValidSetName(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSetName, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	res, err := l.conn.IpsetList(name)
	if err != nil {
		if l.fallback != nil {
			return l.fallback.ListSetMembers(ctx, name)
		}
		return nil, fmt.Errorf("failed to list ipset %s: %w", name, err)
	}

	members := make([]string, 0, len(res.Entries))
	for _, entry := range res.Entries {
		addr, ok := netip.AddrFromSlice(entry.IP)
		if !ok {
			continue
		}
		addr = addr.Unmap()
		bits := int(entry.CIDR)
		if bits == 0 || bits >= addr.BitLen() {
			members = append(members, addr.String())
			continue
		}
		members = append(members, netip.PrefixFrom(addr, bits).Masked().String())
	}
	return members, nil
}
