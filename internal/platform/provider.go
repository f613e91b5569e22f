package platform

import (
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"
)

// Provider bundles the collaborators an execution needs.
type Provider struct {
	Device        DeviceChannel
	Matcher       ElementMatcher
	Recognizer    PageRecognizer
	Screenshotter Screenshotter // optional
}

// Validate reports which required collaborators are missing.
func (p *Provider) Validate() error {
	if p == nil {
		return fmt.Errorf("provider is nil")
	}
	var missing []string
	if p.Device == nil {
		missing = append(missing, "device")
	}
	if p.Matcher == nil {
		missing = append(missing, "matcher")
	}
	if p.Recognizer == nil {
		missing = append(missing, "recognizer")
	}
	if len(missing) > 0 {
		return fmt.Errorf("provider is missing: %s", strings.Join(missing, ", "))
	}
	return nil
}

// DeviceConfig selects and configures a device channel.
type DeviceConfig struct {
	Transport      string        `yaml:"transport"`
	Serial         string        `yaml:"serial"`
	ADBPath        string        `yaml:"adb_path"`
	Host           string        `yaml:"host"`
	Port           int           `yaml:"port"`
	User           string        `yaml:"user"`
	KeyFile        string        `yaml:"key_file"`
	Password       string        `yaml:"password"`
	KnownHosts     string        `yaml:"known_hosts"`
	CommandPrefix  string        `yaml:"command_prefix"`
	CommandTimeout time.Duration `yaml:"command_timeout"`
	CacheTTL       time.Duration `yaml:"cache_ttl"`
}

// ChannelFactory builds a device channel from configuration.
type ChannelFactory func(cfg DeviceConfig) (DeviceChannel, error)

var (
	factoriesMu sync.RWMutex
	factories   = map[string]ChannelFactory{}
)

// RegisterChannel makes a transport available to NewChannel. It is called
// from the init function of each transport package.
func RegisterChannel(transport string, f ChannelFactory) {
	factoriesMu.Lock()
	defer factoriesMu.Unlock()
	factories[transport] = f
}

// Transports returns the registered transport names in sorted order.
func Transports() []string {
	factoriesMu.RLock()
	defer factoriesMu.RUnlock()
	names := make([]string, 0, len(factories))
	for name := range factories {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// NewChannel builds the channel for cfg.Transport, wrapped in a snapshot
// cache when cfg.CacheTTL is positive.
func NewChannel(cfg DeviceConfig) (DeviceChannel, error) {
	transport := cfg.Transport
	if transport == "" {
		transport = "adb"
	}
	factoriesMu.RLock()
	f, ok := factories[transport]
	factoriesMu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("unsupported transport %q (available: %s)", transport, strings.Join(Transports(), ", "))
	}
	ch, err := f(cfg)
	if err != nil {
		return nil, err
	}
	if cfg.CacheTTL > 0 {
		return NewCachingChannel(ch, cfg.CacheTTL), nil
	}
	return ch, nil
}
