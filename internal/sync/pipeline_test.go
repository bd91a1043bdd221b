package sync

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/schaermu/bootsyncd/internal/config"
	"github.com/schaermu/bootsyncd/internal/netsvc"
	"github.com/schaermu/bootsyncd/internal/pxegen"
	"github.com/schaermu/bootsyncd/internal/reconcile"
	"github.com/schaermu/bootsyncd/internal/rsyncgen"
	"github.com/schaermu/bootsyncd/internal/store"
	"github.com/schaermu/bootsyncd/internal/templar"
	"github.com/schaermu/bootsyncd/internal/testutil"
	"github.com/schaermu/bootsyncd/internal/trigger"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var fixedClock = time.Date(2026, 10, 17, 9, 30, 0, 0, time.UTC)

// pipeline wires the real components against a temporary root
type pipeline struct {
	root string
	cfg  *config.Config
	web  string
	tftp string
}

func newPipeline(t *testing.T) *pipeline {
	t.Helper()
	root := t.TempDir()
	p := &pipeline{
		root: root,
		web:  filepath.Join(root, "www"),
		tftp: filepath.Join(root, "tftpboot"),
		cfg: &config.Config{
			Paths: config.PathsConfig{
				StoreDir:    filepath.Join(root, "config"),
				TriggerDir:  filepath.Join(root, "triggers"),
				TemplateDir: filepath.Join(root, "etc"),
				RsyncConfig: filepath.Join(root, "rsyncd.conf"),
			},
			Bootloaders: []string{filepath.Join(root, "syslinux", "pxelinux.0")},
		},
	}

	src := filepath.Join(root, "src")
	testutil.WriteTree(t, root, map[string]string{
		"config/settings.yaml":         "webdir: " + p.web + "\ntftpboot: " + p.tftp + "\nserver: boot.lab\nmanage_dhcp: false\nmanage_dns: false\n",
		"config/distros.d/d1.yaml": "kernel: " + src + "/vmlinuz\ninitrd: " + src + "/initrd.img\n" +
			"ks_meta:\n  tree: http://boot.lab/cblr/links/d1\n",
		"config/distros.d/d2.yaml": "kernel: " + src + "/vmlinuz\ninitrd: " + src + "/initrd.img\n" +
			"ks_meta:\n  tree: http://boot.lab/cblr/links/d2\n",
		"config/distros.d/d3.yaml":     "kernel: " + src + "/vmlinuz\ninitrd: " + src + "/initrd.img\n",
		"config/profiles.d/p1.yaml":    "distro: d1\n",
		"config/systems.d/h1.yaml":     "profile: p1\nnetboot_enabled: true\ninterfaces:\n  - name: eth0\n    mac_address: AA:BB:CC:DD:EE:01\n",
		"config/repos.d/r1.yaml":       "mirror: http://mirror/r1\n",
		"config/repos.d/r2.yaml":       "mirror: http://mirror/r2\n",
		"src/vmlinuz":                  "kernel",
		"src/initrd.img":               "initrd",
		"syslinux/pxelinux.0":          "pxe",
		"etc/rsync.template":           "date={{ .date }}\nserver={{ .server }}\ndistros={{ join \",\" .distros }}\nrepos={{ join \",\" .repos }}\n",
		"etc/pxesystem.template":       "kernel {{ .profile.KernelPath }}\nappend initrd={{ .profile.InitrdPath }}\n",
		"etc/pxelocal.template":        "localboot 0\n",
		"etc/pxemenu.template":         "{{ range .profiles }}label {{ .Name }}\n{{ end }}",
		"tftpboot/pxelinux.cfg/01-old": "stale host entry",
		"www/ks_mirror/d1/":            "",
		"www/ks_mirror/d3/":            "",
		"www/repo_mirror/r1/":          "",
		"www/junk/old.txt":             "junk",
		"www/kickstarts/default.ks":    "ks",
		"www/stale.txt":                "stale",
		"www/setup.py":                 "admin script",
	})
	return p
}

func (p *pipeline) engine(opts Options) *Engine {
	fs := afero.NewOsFs()
	logger := testLogger()
	renderer := templar.New(fs)
	return NewEngine(p.cfg, Deps{
		FS:         fs,
		Store:      store.NewDirStore(fs, p.cfg.Paths.StoreDir),
		Triggers:   trigger.NewExecRunner(logger, 10*time.Second),
		Reconciler: reconcile.New(fs, reconcile.DefaultPolicy(), logger),
		Boot: pxegen.NewTemplateGenerator(fs, renderer, p.cfg.Bootloaders, pxegen.Templates{
			System: p.cfg.TemplatePath(config.PXESystemTemplateName),
			Local:  p.cfg.TemplatePath(config.PXELocalTemplateName),
			Menu:   p.cfg.TemplatePath(config.PXEMenuTemplateName),
		}, logger),
		DHCP: netsvc.NewDHCP(fs, renderer, netsvc.DHCPFiles{}, logger),
		DNS:  netsvc.NewDNS(fs, renderer, netsvc.DNSFiles{}, logger),
		Mirror: rsyncgen.NewGenerator(fs, renderer, p.cfg.RsyncTemplatePath(), p.cfg.Paths.RsyncConfig, logger).
			WithClock(func() time.Time { return fixedClock }),
	}, logger, opts)
}

func (p *pipeline) read(t *testing.T, rel string) string {
	t.Helper()
	data, err := os.ReadFile(filepath.Join(p.root, filepath.FromSlash(rel)))
	require.NoError(t, err)
	return string(data)
}

func TestPipelineEndToEnd(t *testing.T) {
	p := newPipeline(t)

	report, err := p.engine(Options{}).Run(context.Background())
	require.NoError(t, err)

	assert.Equal(t, "date="+rsyncgen.Asctime(fixedClock)+"\nserver=boot.lab\ndistros=d1\nrepos=r1\n",
		p.read(t, "rsyncd.conf"))

	for _, name := range []string{PhaseDHCP, PhaseDNS} {
		phase, ok := report.Phase(name)
		require.True(t, ok)
		assert.True(t, phase.Skipped, name)
	}

	assert.Equal(t, []string{
		"images", "ks_mirror", "rendered", "repo_mirror", "repo_profile", "repo_system", "setup.py",
	}, testutil.ListNames(t, p.web))
	assert.Empty(t, testutil.ListNames(t, filepath.Join(p.web, "rendered")))
	assert.Equal(t, []string{"d1", "d2", "d3"}, testutil.ListNames(t, filepath.Join(p.web, "images")))

	assert.Equal(t, []string{"etc", "images", "ppc", "pxelinux.0", "pxelinux.cfg", "s390x"},
		testutil.ListNames(t, p.tftp))
	assert.Equal(t, []string{"01-aa-bb-cc-dd-ee-01", "default"},
		testutil.ListNames(t, filepath.Join(p.tftp, "pxelinux.cfg")))
	assert.Equal(t, "kernel /images/d1/vmlinuz\nappend initrd=/images/d1/initrd.img\n",
		p.read(t, "tftpboot/pxelinux.cfg/01-aa-bb-cc-dd-ee-01"))
	assert.Equal(t, "label p1\n", p.read(t, "tftpboot/pxelinux.cfg/default"))
	assert.Equal(t, "kernel", p.read(t, "tftpboot/images/d1/vmlinuz"))
	assert.Empty(t, testutil.ListNames(t, filepath.Join(p.tftp, "ppc")))
}

func TestPipelineIdempotent(t *testing.T) {
	p := newPipeline(t)

	_, err := p.engine(Options{}).Run(context.Background())
	require.NoError(t, err)
	first := testutil.SnapshotTree(t, p.root)

	_, err = p.engine(Options{}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, first, testutil.SnapshotTree(t, p.root))
}

func TestPipelinePreTriggerAbortsBeforeCleaning(t *testing.T) {
	p := newPipeline(t)
	script := filepath.Join(p.cfg.Paths.TriggerDir, "sync", "pre", "10-fail")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\necho refusing >&2\nexit 3\n"), 0755))

	_, err := p.engine(Options{}).Run(context.Background())
	require.Error(t, err)
	assert.ErrorIs(t, err, trigger.ErrTriggerFailed)
	assert.Contains(t, err.Error(), "10-fail")

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhasePreTriggers, phaseErr.Phase)

	assert.DirExists(t, filepath.Join(p.web, "junk"))
	assert.FileExists(t, filepath.Join(p.web, "stale.txt"))
	assert.NoFileExists(t, p.cfg.Paths.RsyncConfig)
}

func TestPipelineBootRootMissing(t *testing.T) {
	p := newPipeline(t)
	require.NoError(t, os.RemoveAll(p.tftp))

	_, err := p.engine(Options{}).Run(context.Background())
	require.ErrorIs(t, err, ErrBootRootMissing)

	assert.DirExists(t, filepath.Join(p.web, "junk"))
	assert.NoDirExists(t, p.tftp, "the boot-service root is never created")
}

func TestPipelineBootRootRemovedByPreTrigger(t *testing.T) {
	p := newPipeline(t)
	script := filepath.Join(p.cfg.Paths.TriggerDir, "sync", "pre", "10-rm")
	require.NoError(t, os.MkdirAll(filepath.Dir(script), 0755))
	require.NoError(t, os.WriteFile(script, []byte("#!/bin/sh\nrm -rf '"+p.tftp+"'\n"), 0755))

	_, err := p.engine(Options{}).Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), p.tftp)

	var phaseErr *PhaseError
	require.True(t, errors.As(err, &phaseErr))
	assert.Equal(t, PhaseCleanTrees, phaseErr.Phase)

	assert.NoDirExists(t, p.tftp, "the boot-service root is never created")
	assert.NoFileExists(t, p.cfg.Paths.RsyncConfig)
}

func TestPipelineDryRunChangesNothing(t *testing.T) {
	p := newPipeline(t)
	before := testutil.SnapshotTree(t, p.root)

	report, err := p.engine(Options{DryRun: true}).Run(context.Background())
	require.NoError(t, err)
	assert.Equal(t, before, testutil.SnapshotTree(t, p.root))

	require.NotNil(t, report.Plan)
	assert.Equal(t, 2, report.Plan.Count(reconcile.ActionDeleteTree))
	assert.Equal(t, 1, report.Plan.Count(reconcile.ActionDeleteFile))
}
