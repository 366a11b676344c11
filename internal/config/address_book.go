package config

import (
	"fmt"
	"os"
	"sort"
	"strings"
	"sync"

	"github.com/NovaDovaDao/doviumV2/internal/domain/model"
	"gopkg.in/yaml.v3"
)

type addressBookFile struct {
	Addresses []model.WatchedAddress `yaml:"addresses"`
}

// LoadAddressBookFile reads a YAML document of the form
//
//	addresses:
//	  - address: <base58>
//	    label: treasury
func LoadAddressBookFile(path string) ([]model.WatchedAddress, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read address book %s: %w", path, err)
	}

	var doc addressBookFile
	if err := yaml.Unmarshal(data, &doc); err != nil {
		return nil, fmt.Errorf("parse address book %s: %w", path, err)
	}

	out := make([]model.WatchedAddress, 0, len(doc.Addresses))
	for i, entry := range doc.Addresses {
		entry.Address = strings.TrimSpace(entry.Address)
		entry.Label = strings.TrimSpace(entry.Label)
		if entry.Address == "" {
			return nil, fmt.Errorf("address book %s: entry %d has no address", path, i)
		}
		entry.Source = model.AddressSourceFile
		out = append(out, entry)
	}
	return out, nil
}

// AddressBook is the set of watched addresses with their display labels.
type AddressBook struct {
	mu      sync.RWMutex
	entries map[string]model.WatchedAddress
}

func NewAddressBook(entries ...model.WatchedAddress) *AddressBook {
	b := &AddressBook{}
	b.Replace(entries)
	return b
}

// Replace swaps the whole entry set. Later entries win on duplicate
// addresses.
func (b *AddressBook) Replace(entries []model.WatchedAddress) {
	m := make(map[string]model.WatchedAddress, len(entries))
	for _, e := range entries {
		m[e.Address] = e
	}
	b.mu.Lock()
	b.entries = m
	b.mu.Unlock()
}

// Addresses returns every address in lexical order.
func (b *AddressBook) Addresses() []string {
	b.mu.RLock()
	defer b.mu.RUnlock()
	out := make([]string, 0, len(b.entries))
	for addr := range b.entries {
		out = append(out, addr)
	}
	sort.Strings(out)
	return out
}

func (b *AddressBook) Entry(address string) (model.WatchedAddress, bool) {
	b.mu.RLock()
	defer b.mu.RUnlock()
	e, ok := b.entries[address]
	return e, ok
}

// FormatLabel renders address for humans: "label (abcd...wxyz)" when a
// label is known, otherwise the shortened address.
func (b *AddressBook) FormatLabel(address string) string {
	short := shorten(address)
	if e, ok := b.Entry(address); ok && e.Label != "" {
		return fmt.Sprintf("%s (%s)", e.Label, short)
	}
	return short
}

func shorten(address string) string {
	if len(address) <= 12 {
		return address
	}
	return address[:4] + "..." + address[len(address)-4:]
}

// LoadWatchlist merges WATCHED_ADDRESSES with the address book file, if
// any. File entries override env entries for the same address.
func (c *Config) LoadWatchlist() ([]model.WatchedAddress, error) {
	entries := append([]model.WatchedAddress(nil), c.Watchlist.Addresses...)
	if c.Watchlist.File == "" {
		return entries, nil
	}
	fromFile, err := LoadAddressBookFile(c.Watchlist.File)
	if err != nil {
		return nil, err
	}
	return append(entries, fromFile...), nil
}
