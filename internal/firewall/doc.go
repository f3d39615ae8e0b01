// Package firewall reads the kernel membership sets that the enforcement
// layer populates.
//
// # Set naming
//
// Every set is identified by a [SetID] whose name follows
//
//	[sec_](allow_|block_)[ib_|ob_](ip|net|domain)_set[6]
//
// [DeriveSetID] maps policy attributes to an id. [Catalogue] lists the sets
// that are actually provisioned; ids outside it are rejected by [SetCache]
// with [ErrUnsupportedSet].
//
// # Reading sets
//
// A [SetLister] returns the members of one set by name. Three backends exist:
//
//   - [NativeSetLister]: netlink via google/nftables (linux only)
//   - [NftSetLister]: parses `nft list set`
//   - [IPSetLister]: parses `ipset list`
//
// [SetCache] sits in front of a lister for the duration of a reconciliation
// pass so that each set is listed at most once.
package firewall
