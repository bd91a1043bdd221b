// Package netsvc writes the inputs of the DHCP and DNS services: the
// daemon configurations rendered from operator templates, the ethers file
// and the hosts file. It never starts, stops or reloads the daemons.
package netsvc

import (
	"fmt"
	"log/slog"

	"github.com/schaermu/bootsyncd/internal/model"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/spf13/afero"
)

// DHCPWriter regenerates DHCP service files
type DHCPWriter interface {
	WriteConfig(snap *model.Snapshot) error
	RegenEthers(snap *model.Snapshot) error
}

// DNSWriter regenerates DNS service files
type DNSWriter interface {
	RegenHosts(snap *model.Snapshot) error
	WriteConfig(snap *model.Snapshot) error
}

// Host is one interface of a system, flattened for templates
type Host struct {
	System         string
	Hostname       string
	Profile        string
	Interface      string
	MACAddress     string
	IPAddress      string
	DNSName        string
	NetbootEnabled bool
}

// Hosts flattens the interfaces of all systems in snapshot order
func Hosts(snap *model.Snapshot) []Host {
	var hosts []Host
	for _, sys := range snap.Systems {
		for _, iface := range sys.Interfaces {
			hosts = append(hosts, Host{
				System:         sys.Name,
				Hostname:       sys.Hostname,
				Profile:        sys.Profile,
				Interface:      iface.Name,
				MACAddress:     iface.MACAddress,
				IPAddress:      iface.IPAddress,
				DNSName:        iface.DNSName,
				NetbootEnabled: sys.NetbootEnabled,
			})
		}
	}
	return hosts
}

func filterHosts(hosts []Host, keep func(Host) bool) []Host {
	out := make([]Host, 0, len(hosts))
	for _, h := range hosts {
		if keep(h) {
			out = append(out, h)
		}
	}
	return out
}

// fileWriter renders operator templates and the built-in line formats
type fileWriter struct {
	fs       afero.Fs
	renderer templar.Renderer
	logger   *slog.Logger
}

func (w *fileWriter) renderTemplate(templatePath string, vars map[string]any, dest string) error {
	text, err := afero.ReadFile(w.fs, templatePath)
	if err != nil {
		return fmt.Errorf("failed to read template %s: %w", templatePath, err)
	}
	return w.render(string(text), vars, dest)
}

func (w *fileWriter) render(text string, vars map[string]any, dest string) error {
	w.logger.Debug("rendering service file", "dest", dest)
	return w.renderer.Render(text, vars, dest)
}
