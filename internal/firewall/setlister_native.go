//go:build linux
// +build linux

package firewall

import (
	"bytes"
	"context"
	"fmt"
	"net/netip"
	"sort"

	"github.com/google/nftables"
)

// NativeSetLister reads nftables sets over netlink.
type NativeSetLister struct {
	conn      NFTablesConn
	tableName string
}

// NewNativeSetLister creates a lister for sets in the inet table tableName.
func NewNativeSetLister(conn NFTablesConn, tableName string) *NativeSetLister {
	return &NativeSetLister{conn: conn, tableName: tableName}
}

func newNativeSetLister(tableName string) (SetLister, error) {
	conn, err := nftables.New()
	if err != nil {
		return nil, fmt.Errorf("failed to open nftables connection: %w", err)
	}
	return NewNativeSetLister(NewRealNFTablesConn(conn), tableName), nil
}

// Table and set handles are looked up on every call; the enforcement layer
// may recreate sets between passes.
func (l *NativeSetLister) findSet(name string) (*nftables.Set, error) {
	tables, err := l.conn.ListTables()
	if err != nil {
		return nil, fmt.Errorf("failed to list tables: %w", err)
	}

	var table *nftables.Table
	for _, t := range tables {
		if t.Name == l.tableName && t.Family == nftables.TableFamilyINet {
			table = t
			break
		}
	}
	if table == nil {
		return nil, fmt.Errorf("table %s not found", l.tableName)
	}

	sets, err := l.conn.GetSets(table)
	if err != nil {
		return nil, fmt.Errorf("failed to get sets: %w", err)
	}
	for _, s := range sets {
		if s.Name == name {
			return s, nil
		}
	}
	return nil, fmt.Errorf("set %s not found", name)
}

// ListSetMembers returns all elements in a set, formatted the way nft
// prints them: addresses, or prefixes for interval sets.
func (l *NativeSetLister) ListSetMembers(ctx context.Context, name string) ([]string, error) {
	if !isValidSetName(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSetName, name)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	set, err := l.findSet(name)
	if err != nil {
		return nil, err
	}

	elements, err := l.conn.GetSetElements(set)
	if err != nil {
		return nil, fmt.Errorf("failed to get elements: %w", err)
	}

	if set.Interval {
		return formatIntervals(elements), nil
	}

	result := make([]string, 0, len(elements))
	for _, elem := range elements {
		if elem.IntervalEnd {
			continue
		}
		if addr, ok := netip.AddrFromSlice(elem.Key); ok {
			result = append(result, addr.Unmap().String())
		}
	}
	return result, nil
}

// formatIntervals folds interval set elements back into members. The kernel
// stores [start, end) pairs with the end flagged; the order it returns them
// in is not defined, so elements are sorted by key first.
func formatIntervals(elements []nftables.SetElement) []string {
	sorted := make([]nftables.SetElement, len(elements))
	copy(sorted, elements)
	sort.SliceStable(sorted, func(i, j int) bool {
		if c := bytes.Compare(sorted[i].Key, sorted[j].Key); c != 0 {
			return c < 0
		}
		// A range ending where the next starts sorts its end first.
		return sorted[i].IntervalEnd && !sorted[j].IntervalEnd
	})

	result := []string{}
	for i := 0; i < len(sorted); i++ {
		if sorted[i].IntervalEnd {
			continue
		}
		start, ok := netip.AddrFromSlice(sorted[i].Key)
		if !ok {
			continue
		}
		start = start.Unmap()

		var end netip.Addr
		if i+1 < len(sorted) && sorted[i+1].IntervalEnd {
			if e, ok := netip.AddrFromSlice(sorted[i+1].Key); ok {
				end = e.Unmap()
			}
			i++
		}
		result = append(result, formatRange(start, end))
	}
	return result
}

// formatRange renders [start, end) as an address, a prefix, or an
// inclusive "first-last" range. An invalid end means the range runs to the
// top of the address space.
func formatRange(start, end netip.Addr) string {
	if end.IsValid() && start.Next() == end {
		return start.String()
	}
	for bits := 0; bits <= start.BitLen(); bits++ {
		p := netip.PrefixFrom(start, bits)
		if p.Masked().Addr() != start {
			continue
		}
		if lastAddr(p).Next() == end {
			if p.IsSingleIP() {
				return start.String()
			}
			return p.String()
		}
	}
	if !end.IsValid() {
		return start.String()
	}
	return start.String() + "-" + end.Prev().String()
}

// lastAddr returns the highest address inside p.
func lastAddr(p netip.Prefix) netip.Addr {
	b := p.Addr().AsSlice()
	for i := p.Bits(); i < len(b)*8; i++ {
		b[i/8] |= 0x80 >> (i % 8)
	}
	addr, _ := netip.AddrFromSlice(b)
	return addr
}
