package config

import (
	"bytes"
	"encoding/json"
	"errors"
	"time"

	"github.com/rkanadev/raiblocks/src/types"
)

// Default filenames.
const (
	// DefaultKeyfile is the default name of the file containing the node's
	// private key seed.
	DefaultKeyfile = "priv_key"

	// DefaultConfigFile is the default name of the persisted JSON config.
	DefaultConfigFile = "config.json"

	// DefaultBadgerFile is the default name of the folder containing the
	// Badger database.
	DefaultBadgerFile = "badger_db"
)

// Default configuration values.
const (
	DefaultLogLevel                   = "debug"
	DefaultIOThreads                  = 4
	DefaultWorkThreads                = 1
	DefaultBootstrapFractionNumerator = 16
	DefaultCreationRebroadcast        = 2
	DefaultRebroadcastDelay           = 15 * time.Millisecond
	DefaultPacketDelayMicroseconds    = 0
	DefaultPasswordFanout             = 1024

	// KeepalivePeriod is the cadence of the ongoing keepalive sweep;
	// announcement sweeps run 16x faster.
	KeepalivePeriod = 60 * time.Second

	// KeepaliveCutoff is the age past which an uncontacted peer is purged.
	KeepaliveCutoff = KeepalivePeriod * 5

	// WalletBackupInterval is the cadence of wallet backups.
	WalletBackupInterval = 5 * time.Minute
)

// configVersion is written into the persisted JSON; UpgradeJSON migrates
// older documents up to it.
const configVersion = 2

var ErrConfigVersion = errors.New("unsupported config version")

// NodeConfig holds all the configuration properties of a node. It persists
// as a versioned JSON document in the data directory.
type NodeConfig struct {
	// Profile selects the network the node participates in. It is fixed at
	// build time, never persisted.
	Profile *Profile `json:"-"`

	// PeeringPort is the UDP port the node gossips on.
	PeeringPort uint16

	// IOThreads is the number of workers servicing posted background
	// actions and I/O completions.
	IOThreads int

	// WorkThreads is the number of local work-generation workers.
	WorkThreads int

	// BootstrapFractionNumerator divides online supply to produce the
	// gap-cache bootstrap threshold.
	BootstrapFractionNumerator uint

	// CreationRebroadcast is the hop-limited counter attached to newly
	// published blocks.
	CreationRebroadcast uint

	// RebroadcastDelay separates successive republish waves.
	RebroadcastDelay time.Duration

	// PacketDelayMicroseconds throttles the outbound send pump.
	PacketDelayMicroseconds uint

	// ReceiveMinimum is the smallest send the wallet will auto-receive.
	ReceiveMinimum *types.Amount

	// InactiveSupply stands in for online supply when no representative
	// has been observed voting.
	InactiveSupply *types.Amount

	// PasswordFanout is the wallet key-derivation fanout.
	PasswordFanout uint

	// PreconfiguredPeers are hostnames to resolve and keepalive at startup.
	PreconfiguredPeers []string

	// PreconfiguredRepresentatives count toward online supply even when
	// quiet.
	PreconfiguredRepresentatives []types.Account

	// WorkPeers are remote work-generation providers, host:port.
	WorkPeers []string

	// Logging configures the log sinks and per-subsystem taps.
	Logging Logging
}

// NewDefaultConfig returns a config with all defaults for the build-selected
// network profile.
func NewDefaultConfig() *NodeConfig {
	profile := ActiveProfile()
	return &NodeConfig{
		Profile:                      profile,
		PeeringPort:                  profile.DefaultPeeringPort,
		IOThreads:                    DefaultIOThreads,
		WorkThreads:                  DefaultWorkThreads,
		BootstrapFractionNumerator:   DefaultBootstrapFractionNumerator,
		CreationRebroadcast:          DefaultCreationRebroadcast,
		RebroadcastDelay:             DefaultRebroadcastDelay,
		PacketDelayMicroseconds:      DefaultPacketDelayMicroseconds,
		ReceiveMinimum:               types.NewAmount(0),
		InactiveSupply:               types.NewAmount(0),
		PasswordFanout:               DefaultPasswordFanout,
		PreconfiguredPeers:           []string{},
		PreconfiguredRepresentatives: []types.Account{},
		WorkPeers:                    []string{},
		Logging:                      NewDefaultLogging(),
	}
}

// configJSON is the persisted shape. Amounts travel as decimal strings and
// accounts as hex.
type configJSON struct {
	Version                      int         `json:"version"`
	PeeringPort                  uint16      `json:"peering_port"`
	IOThreads                    int         `json:"io_threads"`
	WorkThreads                  int         `json:"work_threads"`
	BootstrapFractionNumerator   uint        `json:"bootstrap_fraction_numerator"`
	CreationRebroadcast          uint        `json:"creation_rebroadcast"`
	RebroadcastDelayMS           int64       `json:"rebroadcast_delay"`
	PacketDelayMicroseconds      uint        `json:"packet_delay_microseconds"`
	ReceiveMinimum               string      `json:"receive_minimum"`
	InactiveSupply               string      `json:"inactive_supply"`
	PasswordFanout               uint        `json:"password_fanout"`
	PreconfiguredPeers           []string    `json:"preconfigured_peers"`
	PreconfiguredRepresentatives []string    `json:"preconfigured_representatives"`
	WorkPeers                    []string    `json:"work_peers"`
	Logging                      loggingJSON `json:"logging"`
}

// SerializeJSON renders the config as its persisted JSON document.
func (c *NodeConfig) SerializeJSON() ([]byte, error) {
	doc := configJSON{
		Version:                    configVersion,
		PeeringPort:                c.PeeringPort,
		IOThreads:                  c.IOThreads,
		WorkThreads:                c.WorkThreads,
		BootstrapFractionNumerator: c.BootstrapFractionNumerator,
		CreationRebroadcast:        c.CreationRebroadcast,
		RebroadcastDelayMS:         c.RebroadcastDelay.Milliseconds(),
		PacketDelayMicroseconds:    c.PacketDelayMicroseconds,
		ReceiveMinimum:             c.ReceiveMinimum.Dec(),
		InactiveSupply:             c.InactiveSupply.Dec(),
		PasswordFanout:             c.PasswordFanout,
		PreconfiguredPeers:         c.PreconfiguredPeers,
		WorkPeers:                  c.WorkPeers,
		Logging:                    c.Logging.toJSON(),
	}
	doc.PreconfiguredRepresentatives = make([]string, 0, len(c.PreconfiguredRepresentatives))
	for _, rep := range c.PreconfiguredRepresentatives {
		doc.PreconfiguredRepresentatives = append(doc.PreconfiguredRepresentatives, rep.String())
	}

	buf := new(bytes.Buffer)
	enc := json.NewEncoder(buf)
	enc.SetIndent("", "    ")
	if err := enc.Encode(doc); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// DeserializeJSON loads the config from a persisted document, upgrading
// older versions in place. It returns true when the document was upgraded
// and should be rewritten.
func (c *NodeConfig) DeserializeJSON(data []byte) (bool, error) {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(data, &raw); err != nil {
		return false, err
	}

	upgraded, err := UpgradeJSON(raw)
	if err != nil {
		return false, err
	}

	merged, err := json.Marshal(raw)
	if err != nil {
		return false, err
	}

	var doc configJSON
	if err := json.Unmarshal(merged, &doc); err != nil {
		return false, err
	}

	receiveMinimum, err := types.ParseAmount(doc.ReceiveMinimum)
	if err != nil {
		return false, err
	}
	inactiveSupply, err := types.ParseAmount(doc.InactiveSupply)
	if err != nil {
		return false, err
	}

	reps := make([]types.Account, 0, len(doc.PreconfiguredRepresentatives))
	for _, s := range doc.PreconfiguredRepresentatives {
		rep, err := types.ParseAccount(s)
		if err != nil {
			return false, err
		}
		reps = append(reps, rep)
	}

	c.PeeringPort = doc.PeeringPort
	c.IOThreads = doc.IOThreads
	c.WorkThreads = doc.WorkThreads
	c.BootstrapFractionNumerator = doc.BootstrapFractionNumerator
	c.CreationRebroadcast = doc.CreationRebroadcast
	c.RebroadcastDelay = time.Duration(doc.RebroadcastDelayMS) * time.Millisecond
	c.PacketDelayMicroseconds = doc.PacketDelayMicroseconds
	c.ReceiveMinimum = receiveMinimum
	c.InactiveSupply = inactiveSupply
	c.PasswordFanout = doc.PasswordFanout
	c.PreconfiguredPeers = doc.PreconfiguredPeers
	c.PreconfiguredRepresentatives = reps
	c.WorkPeers = doc.WorkPeers
	c.Logging.fromJSON(doc.Logging)

	return upgraded, nil
}

// UpgradeJSON migrates a raw config document to the current version. It is
// a fixed point: running it on a current document changes nothing.
func UpgradeJSON(raw map[string]json.RawMessage) (bool, error) {
	version := 1
	if v, ok := raw["version"]; ok {
		if err := json.Unmarshal(v, &version); err != nil {
			return false, err
		}
	}
	if version > configVersion {
		return false, ErrConfigVersion
	}

	upgraded := false
	for version < configVersion {
		switch version {
		case 1:
			// Version 2 introduced inactive_supply and work_peers.
			if _, ok := raw["inactive_supply"]; !ok {
				raw["inactive_supply"] = json.RawMessage(`"0"`)
			}
			if _, ok := raw["work_peers"]; !ok {
				raw["work_peers"] = json.RawMessage(`[]`)
			}
		}
		version++
		upgraded = true
	}

	v, err := json.Marshal(version)
	if err != nil {
		return false, err
	}
	raw["version"] = v

	return upgraded, nil
}

// AnnouncementInterval is the cadence of the active-transactions sweep.
func (c *NodeConfig) AnnouncementInterval() time.Duration {
	return KeepalivePeriod / 16
}
