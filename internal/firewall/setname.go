package firewall

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"grimm.is/rulecheck/internal/policy"
)

// ErrInvalidTarget is returned when a policy target is neither an IPv4 nor
// an IPv6 address or prefix.
var ErrInvalidTarget = errors.New("target is not an IP address or prefix")

// SetAction selects the allow or block namespace of a membership set.
type SetAction uint8

const (
	SetBlock SetAction = iota
	SetAllow
)

// SetDirection selects the directional infix of a membership set.
type SetDirection uint8

const (
	DirAny SetDirection = iota
	DirInbound
	DirOutbound
)

// Kind is the resource kind stored in a membership set.
// The zero Kind marks an empty SetID.
type Kind uint8

const (
	KindIP Kind = iota + 1
	KindNet
	KindDomain
)

// Family is the address family of a membership set.
type Family uint8

const (
	FamilyV4 Family = iota
	FamilyV6
)

func (f Family) String() string {
	if f == FamilyV6 {
		return "ipv6"
	}
	return "ipv4"
}

// SetID identifies one kernel membership set. Every valid combination maps
// to exactly one name via String.
type SetID struct {
	Security  bool
	Action    SetAction
	Direction SetDirection
	Kind      Kind
	Family    Family
}

// IsZero reports whether the id names no set at all.
func (id SetID) IsZero() bool {
	return id.Kind == 0
}

// Valid reports whether every field holds a declared value.
func (id SetID) Valid() bool {
	return id.Action <= SetAllow &&
		id.Direction <= DirOutbound &&
		id.Kind >= KindIP && id.Kind <= KindDomain &&
		id.Family <= FamilyV6
}

// Known reports whether the set is provisioned by the enforcement layer.
// The security tier only exists for directionless block sets.
func (id SetID) Known() bool {
	if !id.Valid() {
		return false
	}
	if id.Security && (id.Action != SetBlock || id.Direction != DirAny) {
		return false
	}
	return true
}

// String returns the kernel set name, e.g. "sec_block_ip_set6".
// Invalid ids render as the empty string.
func (id SetID) String() string {
	if !id.Valid() {
		return ""
	}

	var b strings.Builder
	if id.Security {
		b.WriteString("sec_")
	}
	if id.Action == SetAllow {
		b.WriteString("allow_")
	} else {
		b.WriteString("block_")
	}
	switch id.Direction {
	case DirInbound:
		b.WriteString("ib_")
	case DirOutbound:
		b.WriteString("ob_")
	}
	switch id.Kind {
	case KindIP:
		b.WriteString("ip")
	case KindNet:
		b.WriteString("net")
	case KindDomain:
		b.WriteString("domain")
	}
	b.WriteString("_set")
	if id.Family == FamilyV6 {
		b.WriteByte('6')
	}
	return b.String()
}

// MarshalText encodes the id as its set name.
func (id SetID) MarshalText() ([]byte, error) {
	return []byte(id.String()), nil
}

// UnmarshalText parses a catalogue set name.
func (id *SetID) UnmarshalText(text []byte) error {
	parsed, err := ParseSetID(string(text))
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}

// Catalogue returns every set the enforcement layer provisions.
func Catalogue() []SetID {
	var ids []SetID
	for _, sec := range []bool{false, true} {
		for _, act := range []SetAction{SetBlock, SetAllow} {
			for _, dir := range []SetDirection{DirAny, DirInbound, DirOutbound} {
				for _, kind := range []Kind{KindIP, KindNet, KindDomain} {
					for _, fam := range []Family{FamilyV4, FamilyV6} {
						id := SetID{Security: sec, Action: act, Direction: dir, Kind: kind, Family: fam}
						if id.Known() {
							ids = append(ids, id)
						}
					}
				}
			}
		}
	}
	return ids
}

var catalogueByName = func() map[string]SetID {
	m := make(map[string]SetID)
	for _, id := range Catalogue() {
		m[id.String()] = id
	}
	return m
}()

// ParseSetID maps a kernel set name back to its id. Only catalogue names
// are accepted.
func ParseSetID(name string) (SetID, error) {
	id, ok := catalogueByName[name]
	if !ok {
		return SetID{}, fmt.Errorf("%w: %q", ErrUnsupportedSet, name)
	}
	return id, nil
}

// KindForType maps a policy type to the set kind it is enforced through.
// Domain and dns policies share the domain sets.
func KindForType(t policy.Type) (Kind, bool) {
	switch t {
	case policy.TypeIP:
		return KindIP, true
	case policy.TypeNet:
		return KindNet, true
	case policy.TypeDomain, policy.TypeDNS:
		return KindDomain, true
	}
	return 0, false
}

// DeriveSetID builds the set id for the given attributes. Any action other
// than allow lands in the block namespace.
func DeriveSetID(kind Kind, action policy.Action, direction policy.Direction, family Family, security bool) SetID {
	id := SetID{Security: security, Kind: kind, Family: family}
	if action == policy.ActionAllow {
		id.Action = SetAllow
	}
	switch direction {
	case policy.DirectionInbound:
		id.Direction = DirInbound
	case policy.DirectionOutbound:
		id.Direction = DirOutbound
	}
	return id
}

// DomainSetIDs returns the IPv4 and IPv6 domain sets for the attributes.
func DomainSetIDs(action policy.Action, direction policy.Direction, security bool) (v4, v6 SetID) {
	v4 = DeriveSetID(KindDomain, action, direction, FamilyV4, security)
	v6 = DeriveSetID(KindDomain, action, direction, FamilyV6, security)
	return v4, v6
}

// TargetFamily classifies a literal address or prefix.
func TargetFamily(target string) (Family, error) {
	if strings.Contains(target, "/") {
		p, err := netip.ParsePrefix(target)
		if err != nil {
			return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return familyOf(p.Addr()), nil
	}
	addr, err := netip.ParseAddr(target)
	if err != nil || addr.Zone() != "" {
		return 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	return familyOf(addr), nil
}

// NormalizeNetTarget rewrites a prefix to its network base address. The
// prefix length is kept unless it covers a single address.
//
//	10.0.0.5/32 -> 10.0.0.5
//	10.0.0.5/24 -> 10.0.0.0/24
func NormalizeNetTarget(target string) (string, Family, error) {
	if !strings.Contains(target, "/") {
		addr, err := netip.ParseAddr(target)
		if err != nil || addr.Zone() != "" {
			return "", 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
		}
		return addr.String(), familyOf(addr), nil
	}

	p, err := netip.ParsePrefix(target)
	if err != nil {
		return "", 0, fmt.Errorf("%w: %q", ErrInvalidTarget, target)
	}
	p = p.Masked()
	if p.IsSingleIP() {
		return p.Addr().String(), familyOf(p.Addr()), nil
	}
	return p.String(), familyOf(p.Addr()), nil
}

func familyOf(addr netip.Addr) Family {
	if addr.Is4() {
		return FamilyV4
	}
	return FamilyV6
}
