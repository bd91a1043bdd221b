package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/bootsyncd/internal/testutil"
)

func TestLoad(t *testing.T) {
	tmpDir := t.TempDir()
	path := filepath.Join(tmpDir, "config.yaml")

	content := `
paths:
  store_dir: "/var/lib/bootsyncd/config"
  trigger_dir: "/var/lib/bootsyncd/triggers"
  template_dir: "/etc/bootsyncd"
  rsync_config: "/etc/rsyncd.conf"

bootloaders:
  - /usr/share/syslinux/pxelinux.0

triggers:
  timeout: 30s

serve:
  watch: true
  debounce: 500ms
`
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatal(err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if cfg.Paths.StoreDir != "/var/lib/bootsyncd/config" {
		t.Errorf("expected store dir /var/lib/bootsyncd/config, got %s", cfg.Paths.StoreDir)
	}
	if len(cfg.Bootloaders) != 1 || cfg.Bootloaders[0] != "/usr/share/syslinux/pxelinux.0" {
		t.Errorf("unexpected bootloaders: %v", cfg.Bootloaders)
	}
	if cfg.Triggers.Timeout != 30*time.Second {
		t.Errorf("expected trigger timeout 30s, got %s", cfg.Triggers.Timeout)
	}
	if cfg.Serve.Debounce != 500*time.Millisecond {
		t.Errorf("expected debounce 500ms, got %s", cfg.Serve.Debounce)
	}
	if !cfg.Serve.Watch {
		t.Error("expected serve.watch to be true")
	}
	// defaults
	if cfg.DHCP.Config != "/etc/dhcpd.conf" {
		t.Errorf("expected default dhcp config, got %s", cfg.DHCP.Config)
	}
}

func TestLoadErrors(t *testing.T) {
	tmpDir := t.TempDir()

	if _, err := Load(filepath.Join(tmpDir, "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}

	badYAML := filepath.Join(tmpDir, "bad.yaml")
	if err := os.WriteFile(badYAML, []byte("paths: [unclosed"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(badYAML); err == nil {
		t.Error("expected error for malformed YAML")
	}

	invalid := filepath.Join(tmpDir, "invalid.yaml")
	if err := os.WriteFile(invalid, []byte("paths:\n  store_dir: relative\n"), 0644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(invalid); err == nil {
		t.Error("expected validation error for relative store_dir")
	}
}

func TestLoadContribExample(t *testing.T) {
	cfg, err := Load(testutil.ProjectPath(t, "contrib", "config.yaml"))
	if err != nil {
		t.Fatalf("contrib/config.yaml should load: %v", err)
	}
	if cfg.RsyncTemplatePath() != "/etc/bootsyncd/rsync.template" {
		t.Errorf("unexpected rsync template path: %s", cfg.RsyncTemplatePath())
	}
}

func validConfig() Config {
	cfg := Config{Paths: PathsConfig{StoreDir: "/var/lib/bootsyncd/config"}}
	cfg.applyDefaults()
	return cfg
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{
			name:    "valid config",
			mutate:  func(*Config) {},
			wantErr: false,
		},
		{
			name:    "missing store dir",
			mutate:  func(c *Config) { c.Paths.StoreDir = "" },
			wantErr: true,
		},
		{
			name:    "relative store dir",
			mutate:  func(c *Config) { c.Paths.StoreDir = "config" },
			wantErr: true,
		},
		{
			name:    "relative rsync config",
			mutate:  func(c *Config) { c.Paths.RsyncConfig = "rsyncd.conf" },
			wantErr: true,
		},
		{
			name:    "relative dhcp ethers",
			mutate:  func(c *Config) { c.DHCP.Ethers = "ethers" },
			wantErr: true,
		},
		{
			name:    "relative bootloader",
			mutate:  func(c *Config) { c.Bootloaders = []string{"pxelinux.0"} },
			wantErr: true,
		},
		{
			name:    "relative template names are allowed",
			mutate:  func(c *Config) { c.DHCP.Template = "custom-dhcp.template" },
			wantErr: false,
		},
		{
			name:    "negative trigger timeout",
			mutate:  func(c *Config) { c.Triggers.Timeout = -time.Second },
			wantErr: true,
		},
		{
			name:    "negative debounce",
			mutate:  func(c *Config) { c.Serve.Debounce = -time.Second },
			wantErr: true,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.Validate()
			if (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}

func TestApplyDefaults(t *testing.T) {
	cfg := &Config{}
	cfg.applyDefaults()

	if cfg.Paths.TriggerDir != "/var/lib/bootsyncd/triggers" {
		t.Errorf("unexpected default trigger dir: %s", cfg.Paths.TriggerDir)
	}
	if cfg.Paths.RsyncConfig != "/etc/rsyncd.conf" {
		t.Errorf("unexpected default rsync config: %s", cfg.Paths.RsyncConfig)
	}
	if cfg.Serve.Debounce != 2*time.Second {
		t.Errorf("unexpected default debounce: %s", cfg.Serve.Debounce)
	}

	// explicit values are kept
	cfg = &Config{Paths: PathsConfig{TemplateDir: "/srv/templates"}}
	cfg.applyDefaults()
	if cfg.Paths.TemplateDir != "/srv/templates" {
		t.Errorf("applyDefaults overwrote template dir: %s", cfg.Paths.TemplateDir)
	}
}

func TestConfigHelpers(t *testing.T) {
	cfg := validConfig()

	tests := []struct {
		name string
		got  string
		want string
	}{
		{"pre-sync triggers", cfg.TriggerPath(TriggerSyncPre), "/var/lib/bootsyncd/triggers/sync/pre"},
		{"post-sync triggers", cfg.TriggerPath(TriggerSyncPost), "/var/lib/bootsyncd/triggers/sync/post"},
		{"change triggers", cfg.TriggerPath(TriggerChange), "/var/lib/bootsyncd/triggers/change"},
		{"relative template", cfg.TemplatePath("pxemenu.template"), "/etc/bootsyncd/pxemenu.template"},
		{"absolute template", cfg.TemplatePath("/srv/dhcp.template"), "/srv/dhcp.template"},
		{"rsync template", cfg.RsyncTemplatePath(), "/etc/bootsyncd/rsync.template"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if tt.got != tt.want {
				t.Errorf("got %s, want %s", tt.got, tt.want)
			}
		})
	}
}

func TestExpandEnv(t *testing.T) {
	t.Setenv("BOOTSYNCD_TEST_ROOT", "/srv/boot")

	cfg := &Config{
		Paths: PathsConfig{
			StoreDir:   "$BOOTSYNCD_TEST_ROOT/config",
			TriggerDir: "${BOOTSYNCD_TEST_ROOT}/triggers",
		},
		Bootloaders: []string{"$BOOTSYNCD_TEST_ROOT/pxelinux.0"},
		DNS:         DNSConfig{Hosts: "$BOOTSYNCD_TEST_ROOT/hosts"},
	}
	cfg.expandEnv()

	if cfg.Paths.StoreDir != "/srv/boot/config" {
		t.Errorf("store dir not expanded: %s", cfg.Paths.StoreDir)
	}
	if cfg.Paths.TriggerDir != "/srv/boot/triggers" {
		t.Errorf("trigger dir not expanded: %s", cfg.Paths.TriggerDir)
	}
	if cfg.Bootloaders[0] != "/srv/boot/pxelinux.0" {
		t.Errorf("bootloader not expanded: %s", cfg.Bootloaders[0])
	}
	if cfg.DNS.Hosts != "/srv/boot/hosts" {
		t.Errorf("dns hosts not expanded: %s", cfg.DNS.Hosts)
	}
}

func TestDefaultPath(t *testing.T) {
	// DefaultPath never returns an empty string
	if DefaultPath() == "" {
		t.Error("DefaultPath returned empty string")
	}
}
