package model

// WatchedAddress is one address the tracker should follow, with an
// optional human-readable label used only in logs and messages.
type WatchedAddress struct {
	Address string        `yaml:"address" json:"address"`
	Label   string        `yaml:"label,omitempty" json:"label,omitempty"`
	Source  AddressSource `yaml:"-" json:"source"`
}
