package netsvc

import (
	"fmt"
	"log/slog"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
)

// ethers(5): "<mac> <ip>" per line
const ethersTemplate = `{{ range .hosts }}{{ .MACAddress }} {{ .IPAddress }}
{{ end }}`

// DHCPFiles locates the files handled by DHCP
type DHCPFiles struct {
	Template string
	Config   string
	Ethers   string
}

// DHCP implements DHCPWriter
type DHCP struct {
	fileWriter
	files DHCPFiles
}

// NewDHCP creates a DHCP writer
func NewDHCP(fs afero.Fs, renderer templar.Renderer, files DHCPFiles, logger *slog.Logger) *DHCP {
	return &DHCP{
		fileWriter: fileWriter{fs: fs, renderer: renderer, logger: logger},
		files:      files,
	}
}

// WriteConfig renders the DHCP template with every interface that has a MAC
// address. Template variables: server, next_server, settings, hosts.
func (d *DHCP) WriteConfig(snap *model.Snapshot) error {
	vars := map[string]any{
		"server":      snap.Settings.Server,
		"next_server": snap.Settings.EffectiveNextServer(),
		"settings":    snap.Settings,
		"hosts":       filterHosts(Hosts(snap), func(h Host) bool { return h.MACAddress != "" }),
	}
	if err := d.renderTemplate(d.files.Template, vars, d.files.Config); err != nil {
		return fmt.Errorf("failed to write DHCP config: %w", err)
	}
	return nil
}

// RegenEthers writes one line per interface with both MAC and IP address
func (d *DHCP) RegenEthers(snap *model.Snapshot) error {
	vars := map[string]any{
		"hosts": filterHosts(Hosts(snap), func(h Host) bool {
			return h.MACAddress != "" && h.IPAddress != ""
		}),
	}
	if err := d.render(ethersTemplate, vars, d.files.Ethers); err != nil {
		return fmt.Errorf("failed to write ethers file: %w", err)
	}
	return nil
}
