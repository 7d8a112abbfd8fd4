package bundle

import (
	"fmt"

	"gopkg.in/yaml.v3"
)

// ClientConfig is the nebula configuration rendered into a client package.
// Field layout mirrors nebula's own config file.
type ClientConfig struct {
	PKI           PKIConfig           `yaml:"pki"`
	StaticHostMap map[string][]string `yaml:"static_host_map"`
	Lighthouse    LighthouseConfig    `yaml:"lighthouse"`
	Listen        ListenConfig        `yaml:"listen"`
	Punchy        PunchyConfig        `yaml:"punchy"`
	Tun           TunConfig           `yaml:"tun"`
	Logging       LoggingConfig       `yaml:"logging"`
	Firewall      FirewallConfig      `yaml:"firewall"`
}

type PKIConfig struct {
	CA   string `yaml:"ca"`
	Cert string `yaml:"cert"`
	Key  string `yaml:"key"`
}

type LighthouseConfig struct {
	AmLighthouse bool     `yaml:"am_lighthouse"`
	Interval     int      `yaml:"interval"`
	Hosts        []string `yaml:"hosts"`
}

type ListenConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

type PunchyConfig struct {
	Punch   bool `yaml:"punch"`
	Respond bool `yaml:"respond"`
}

type TunConfig struct {
	Dev                string        `yaml:"dev"`
	DropLocalBroadcast bool          `yaml:"drop_local_broadcast"`
	DropMulticast      bool          `yaml:"drop_multicast"`
	TxQueue            int           `yaml:"tx_queue"`
	MTU                int           `yaml:"mtu"`
	UnsafeRoutes       []UnsafeRoute `yaml:"unsafe_routes,omitempty"`
}

type UnsafeRoute struct {
	Route string `yaml:"route"`
	Via   string `yaml:"via"`
}

type LoggingConfig struct {
	Level  string `yaml:"level"`
	Format string `yaml:"format"`
}

type FirewallConfig struct {
	Conntrack ConntrackConfig `yaml:"conntrack"`
	Outbound  []FirewallRule  `yaml:"outbound"`
	Inbound   []FirewallRule  `yaml:"inbound"`
}

type ConntrackConfig struct {
	TCPTimeout     string `yaml:"tcp_timeout"`
	UDPTimeout     string `yaml:"udp_timeout"`
	DefaultTimeout string `yaml:"default_timeout"`
}

type FirewallRule struct {
	Port  string `yaml:"port"`
	Proto string `yaml:"proto"`
	Host  string `yaml:"host"`
}

// ClientOptions are the per-device knobs for config rendering; everything
// else carries sane client defaults.
type ClientOptions struct {
	LighthouseHosts []string
	StaticHostMap   map[string][]string
}

// NewClientConfig builds the default client-side configuration. Certificate
// paths are relative to the package root, next to the config file.
func NewClientConfig(opts ClientOptions) ClientConfig {
	hosts := opts.LighthouseHosts
	if len(hosts) == 0 {
		hosts = []string{"192.168.100.1"}
	}
	hostMap := opts.StaticHostMap
	if hostMap == nil {
		hostMap = map[string][]string{}
	}

	return ClientConfig{
		PKI: PKIConfig{
			CA:   "ca.crt",
			Cert: "host.crt",
			Key:  "host.key",
		},
		StaticHostMap: hostMap,
		Lighthouse: LighthouseConfig{
			AmLighthouse: false,
			Interval:     60,
			Hosts:        hosts,
		},
		Listen: ListenConfig{Host: "0.0.0.0", Port: 0},
		Punchy: PunchyConfig{Punch: true, Respond: true},
		Tun: TunConfig{
			Dev:     "nebula1",
			TxQueue: 500,
			MTU:     1300,
		},
		Logging: LoggingConfig{Level: "info", Format: "text"},
		Firewall: FirewallConfig{
			Conntrack: ConntrackConfig{
				TCPTimeout:     "12m",
				UDPTimeout:     "3m",
				DefaultTimeout: "10m",
			},
			Outbound: []FirewallRule{{Port: "any", Proto: "any", Host: "any"}},
			Inbound: []FirewallRule{
				{Port: "any", Proto: "icmp", Host: "any"},
				{Port: "any", Proto: "tcp", Host: "any"},
				{Port: "any", Proto: "udp", Host: "any"},
			},
		},
	}
}

// Render serializes the config to YAML.
func (c ClientConfig) Render() ([]byte, error) {
	out, err := yaml.Marshal(c)
	if err != nil {
		return nil, fmt.Errorf("failed to render client config: %w", err)
	}
	return out, nil
}
