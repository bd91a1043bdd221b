package config

import (
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"time"

	"github.com/adrg/xdg"
	"gopkg.in/yaml.v3"
)

// Trigger phases, relative to Paths.TriggerDir
const (
	TriggerSyncPre  = "sync/pre"
	TriggerSyncPost = "sync/post"
	TriggerChange   = "change"
)

// Template files inside Paths.TemplateDir
const (
	RsyncTemplateName     = "rsync.template"
	PXESystemTemplateName = "pxesystem.template"
	PXELocalTemplateName  = "pxelocal.template"
	PXEMenuTemplateName   = "pxemenu.template"
)

// SystemConfigPath is used when no config file is found in the XDG config dirs
const SystemConfigPath = "/etc/bootsyncd/config.yaml"

// Config represents the complete bootsyncd configuration
type Config struct {
	Paths       PathsConfig    `yaml:"paths"`
	Bootloaders []string       `yaml:"bootloaders"`
	DHCP        DHCPConfig     `yaml:"dhcp"`
	DNS         DNSConfig      `yaml:"dns"`
	Triggers    TriggersConfig `yaml:"triggers"`
	Serve       ServeConfig    `yaml:"serve"`
}

// PathsConfig configures local filesystem paths
type PathsConfig struct {
	StoreDir    string `yaml:"store_dir"`
	TriggerDir  string `yaml:"trigger_dir"`
	TemplateDir string `yaml:"template_dir"`
	RsyncConfig string `yaml:"rsync_config"`
}

// DHCPConfig configures DHCP file generation (used when settings.manage_dhcp is set)
type DHCPConfig struct {
	Template string `yaml:"template"`
	Config   string `yaml:"config"`
	Ethers   string `yaml:"ethers"`
}

// DNSConfig configures DNS file generation (used when settings.manage_dns is set)
type DNSConfig struct {
	Template string `yaml:"template"`
	Config   string `yaml:"config"`
	Hosts    string `yaml:"hosts"`
}

// TriggersConfig configures trigger script execution
type TriggersConfig struct {
	// Timeout bounds each script; zero means no timeout.
	Timeout time.Duration `yaml:"timeout"`
}

// ServeConfig configures the long-running trigger server
type ServeConfig struct {
	ListenAddr string        `yaml:"listen_addr"`
	SecretFile string        `yaml:"secret_file"`
	Watch      bool          `yaml:"watch"`
	Debounce   time.Duration `yaml:"debounce"`
}

// DefaultPath returns the config file location used when --config is not given
func DefaultPath() string {
	if p, err := xdg.SearchConfigFile(filepath.Join("bootsyncd", "config.yaml")); err == nil {
		return p
	}
	return SystemConfigPath
}

// Load reads and parses the configuration file
func Load(path string) (*Config, error) {
	// Expand environment variables in path
	path = os.ExpandEnv(path)

	// Read file
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}

	// Parse YAML
	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config file: %w", err)
	}

	cfg.expandEnv()
	cfg.applyDefaults()

	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}

	return &cfg, nil
}

// expandEnv expands environment variables in all path fields
func (c *Config) expandEnv() {
	c.Paths.StoreDir = os.ExpandEnv(c.Paths.StoreDir)
	c.Paths.TriggerDir = os.ExpandEnv(c.Paths.TriggerDir)
	c.Paths.TemplateDir = os.ExpandEnv(c.Paths.TemplateDir)
	c.Paths.RsyncConfig = os.ExpandEnv(c.Paths.RsyncConfig)
	for i, b := range c.Bootloaders {
		c.Bootloaders[i] = os.ExpandEnv(b)
	}
	c.DHCP.Template = os.ExpandEnv(c.DHCP.Template)
	c.DHCP.Config = os.ExpandEnv(c.DHCP.Config)
	c.DHCP.Ethers = os.ExpandEnv(c.DHCP.Ethers)
	c.DNS.Template = os.ExpandEnv(c.DNS.Template)
	c.DNS.Config = os.ExpandEnv(c.DNS.Config)
	c.DNS.Hosts = os.ExpandEnv(c.DNS.Hosts)
	c.Serve.ListenAddr = os.ExpandEnv(c.Serve.ListenAddr)
	c.Serve.SecretFile = os.ExpandEnv(c.Serve.SecretFile)
}

// applyDefaults fills in zero-value fields with sensible defaults.
func (c *Config) applyDefaults() {
	if c.Paths.TriggerDir == "" {
		c.Paths.TriggerDir = "/var/lib/bootsyncd/triggers"
	}
	if c.Paths.TemplateDir == "" {
		c.Paths.TemplateDir = "/etc/bootsyncd"
	}
	if c.Paths.RsyncConfig == "" {
		c.Paths.RsyncConfig = "/etc/rsyncd.conf"
	}
	if c.DHCP.Template == "" {
		c.DHCP.Template = "dhcp.template"
	}
	if c.DHCP.Config == "" {
		c.DHCP.Config = "/etc/dhcpd.conf"
	}
	if c.DHCP.Ethers == "" {
		c.DHCP.Ethers = "/etc/ethers"
	}
	if c.DNS.Template == "" {
		c.DNS.Template = "dns.template"
	}
	if c.DNS.Config == "" {
		c.DNS.Config = "/etc/dnsmasq.d/bootsyncd.conf"
	}
	if c.DNS.Hosts == "" {
		c.DNS.Hosts = "/var/lib/bootsyncd/hosts"
	}
	if c.Serve.ListenAddr == "" {
		c.Serve.ListenAddr = "127.0.0.1:25152"
	}
	if c.Serve.Debounce == 0 {
		c.Serve.Debounce = 2 * time.Second
	}
}

// Validate checks the configuration for errors
func (c *Config) Validate() error {
	if c.Paths.StoreDir == "" {
		return fmt.Errorf("paths.store_dir is required")
	}

	// Ensure paths are absolute
	absPaths := map[string]string{
		"paths.store_dir":    c.Paths.StoreDir,
		"paths.trigger_dir":  c.Paths.TriggerDir,
		"paths.template_dir": c.Paths.TemplateDir,
		"paths.rsync_config": c.Paths.RsyncConfig,
		"dhcp.config":        c.DHCP.Config,
		"dhcp.ethers":        c.DHCP.Ethers,
		"dns.config":         c.DNS.Config,
		"dns.hosts":          c.DNS.Hosts,
	}
	for _, key := range slices.Sorted(maps.Keys(absPaths)) {
		if !filepath.IsAbs(absPaths[key]) {
			return fmt.Errorf("%s must be an absolute path: %s", key, absPaths[key])
		}
	}

	for _, b := range c.Bootloaders {
		if !filepath.IsAbs(b) {
			return fmt.Errorf("bootloaders entries must be absolute paths: %s", b)
		}
	}

	if c.Triggers.Timeout < 0 {
		return fmt.Errorf("triggers.timeout must not be negative: %s", c.Triggers.Timeout)
	}
	if c.Serve.Debounce < 0 {
		return fmt.Errorf("serve.debounce must not be negative: %s", c.Serve.Debounce)
	}

	return nil
}

// TriggerPath returns the script directory for a trigger phase
func (c *Config) TriggerPath(phase string) string {
	return filepath.Join(c.Paths.TriggerDir, filepath.FromSlash(phase))
}

// TemplatePath resolves a template name against Paths.TemplateDir.
// Absolute names are returned unchanged.
func (c *Config) TemplatePath(name string) string {
	if filepath.IsAbs(name) {
		return name
	}
	return filepath.Join(c.Paths.TemplateDir, name)
}

// RsyncTemplatePath returns the path of the mirror-service template
func (c *Config) RsyncTemplatePath() string {
	return c.TemplatePath(RsyncTemplateName)
}
