// Package exclusion loads the list of addresses that never receive rewards.
package exclusion

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	"reward-distributor/internal/events"
)

// ErrInvalidAddress is returned for a line that is not a hex address.
var ErrInvalidAddress = errors.New("invalid address in exclusion list")

// List is a set of lower-cased excluded addresses.
type List struct {
	addrs map[string]struct{}
}

var _ events.Exclusion = (*List)(nil)

// New builds a list from addresses.
func New(addresses ...string) (*List, error) {
	l := &List{addrs: make(map[string]struct{}, len(addresses))}
	for _, a := range addresses {
		if err := l.add(a); err != nil {
			return nil, err
		}
	}
	return l, nil
}

func (l *List) add(address string) error {
	a := strings.TrimSpace(address)
	if a == "" {
		return nil
	}
	if !common.IsHexAddress(a) {
		return fmt.Errorf("%w: %q", ErrInvalidAddress, a)
	}
	l.addrs[strings.ToLower(a)] = struct{}{}
	return nil
}

// Contains reports whether address is excluded. Matching is case-insensitive.
func (l *List) Contains(address string) bool {
	if l == nil {
		return false
	}
	_, ok := l.addrs[strings.ToLower(address)]
	return ok
}

// Len returns the number of excluded addresses.
func (l *List) Len() int {
	if l == nil {
		return 0
	}
	return len(l.addrs)
}

// Parse reads one address per line. Lines are trimmed and blank lines skipped.
func Parse(r io.Reader) (*List, error) {
	l := &List{addrs: make(map[string]struct{})}
	scanner := bufio.NewScanner(r)
	line := 0
	for scanner.Scan() {
		line++
		if err := l.add(scanner.Text()); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("read exclusion list: %w", err)
	}
	return l, nil
}

// LoadFile reads the list at path. An empty path yields an empty list.
func LoadFile(path string) (*List, error) {
	if path == "" {
		return &List{addrs: map[string]struct{}{}}, nil
	}
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("open exclusion list: %w", err)
	}
	defer f.Close()
	return Parse(f)
}
