package firewall

import (
	"bufio"
	"bytes"
	"context"
	"errors"
	"fmt"
	"regexp"
	"slices"
	"strings"
)

// ErrInvalidSetName is returned for names that could smuggle extra
// arguments into nft or ipset.
var ErrInvalidSetName = errors.New("invalid set name")

var validSetNameRegex = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

func isValidSetName(name string) bool {
	return validSetNameRegex.MatchString(name)
}

// Backend names accepted by NewSetLister.
const (
	BackendNFTables = "nftables" // netlink
	BackendNft      = "nft"      // nft CLI
	BackendIPSet    = "ipset"    // ipset CLI
)

// NewSetLister returns the lister for the configured backend. The ipset
// backend reads over netlink where available and falls back to the CLI.
func NewSetLister(backend, tableName string) (SetLister, error) {
	switch backend {
	case BackendNFTables, "":
		return newNativeSetLister(tableName)
	case BackendNft:
		return NewNftSetLister(tableName, DefaultCommandRunner), nil
	case BackendIPSet:
		return newNativeIPSetLister(NewIPSetLister(DefaultCommandRunner)), nil
	}
	return nil, fmt.Errorf("unknown set backend %q", backend)
}

// NftSetLister reads set members with `nft list set`.
type NftSetLister struct {
	tableName string
	runner    CommandRunner
}

// NewNftSetLister creates a lister for sets in the inet table tableName.
func NewNftSetLister(tableName string, runner CommandRunner) *NftSetLister {
	return &NftSetLister{tableName: tableName, runner: runner}
}

// ListSetMembers returns all elements in a set.
func (l *NftSetLister) ListSetMembers(ctx context.Context, name string) ([]string, error) {
	if !isValidSetName(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSetName, name)
	}
	out, err := l.runner.Output(ctx, "nft", "list", "set", "inet", l.tableName, name)
	if err != nil {
		return nil, err
	}
	return parseNftElements(string(out)), nil
}

// parseNftElements extracts the elements block of `nft list set` output:
//
//	elements = { 1.2.3.4, 10.0.0.0/24 timeout 1h expires 59m,
//	             5.6.7.8 }
//
// Per-element annotations are dropped.
func parseNftElements(output string) []string {
	elements := []string{}

	start := strings.Index(output, "elements = {")
	if start == -1 {
		return elements
	}
	start += len("elements = {")

	end := strings.Index(output[start:], "}")
	if end == -1 {
		return elements
	}

	for _, elem := range strings.Split(output[start:start+end], ",") {
		fields := strings.Fields(elem)
		if len(fields) > 0 {
			elements = append(elements, fields[0])
		}
	}
	return elements
}

// IPSetLister reads set members with `ipset list`.
type IPSetLister struct {
	runner CommandRunner
}

// NewIPSetLister creates an ipset CLI lister.
func NewIPSetLister(runner CommandRunner) *IPSetLister {
	return &IPSetLister{runner: runner}
}

// ListSetMembers returns all entries of an ipset.
func (l *IPSetLister) ListSetMembers(ctx context.Context, name string) ([]string, error) {
	if !isValidSetName(name) {
		return nil, fmt.Errorf("%w: %s", ErrInvalidSetName, name)
	}
	out, err := l.runner.Output(ctx, "ipset", "list", name)
	if err != nil {
		return nil, err
	}
	return parseIPSetMembers(out), nil
}

// parseIPSetMembers returns the lines after the "Members:" header, keeping
// only the entry itself (options such as "timeout 300" are dropped). Entries
// flagged nomatch are exceptions carved out of the set and are skipped.
// Output without a header is taken line by line.
func parseIPSetMembers(out []byte) []string {
	var lines []string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	for scanner.Scan() {
		lines = append(lines, scanner.Text())
	}

	body := lines
	for i, line := range lines {
		if strings.TrimSpace(line) == "Members:" {
			body = lines[i+1:]
			break
		}
	}

	members := []string{}
	for _, line := range body {
		fields := strings.Fields(line)
		if len(fields) == 0 || slices.Contains(fields[1:], "nomatch") {
			continue
		}
		members = append(members, fields[0])
	}
	return members
}
