package netsvc

import (
	"fmt"
	"log/slog"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
)

const hostsTemplate = `{{ range .hosts }}{{ .IPAddress }}	{{ .DNSName }}
{{ end }}`

// DNSFiles locates the files handled by DNS
type DNSFiles struct {
	Template string
	Config   string
	Hosts    string
}

// DNS implements DNSWriter
type DNS struct {
	fileWriter
	files DNSFiles
}

// NewDNS creates a DNS writer
func NewDNS(fs afero.Fs, renderer templar.Renderer, files DNSFiles, logger *slog.Logger) *DNS {
	return &DNS{
		fileWriter: fileWriter{fs: fs, renderer: renderer, logger: logger},
		files:      files,
	}
}

// RegenHosts writes "<ip>\t<dns name>" for every interface with both
func (d *DNS) RegenHosts(snap *model.Snapshot) error {
	vars := map[string]any{"hosts": resolvable(snap)}
	if err := d.render(hostsTemplate, vars, d.files.Hosts); err != nil {
		return fmt.Errorf("failed to write hosts file: %w", err)
	}
	return nil
}

// WriteConfig renders the DNS template. Template variables: server,
// settings, hosts (interfaces with IP address and DNS name), hosts_file.
func (d *DNS) WriteConfig(snap *model.Snapshot) error {
	vars := map[string]any{
		"server":     snap.Settings.Server,
		"settings":   snap.Settings,
		"hosts":      resolvable(snap),
		"hosts_file": d.files.Hosts,
	}
	if err := d.renderTemplate(d.files.Template, vars, d.files.Config); err != nil {
		return fmt.Errorf("failed to write DNS config: %w", err)
	}
	return nil
}

func resolvable(snap *model.Snapshot) []Host {
	return filterHosts(Hosts(snap), func(h Host) bool {
		return h.IPAddress != "" && h.DNSName != ""
	})
}
