package cli

import (
	"fmt"
	"io"

	"github.com/sirupsen/logrus"

	"github.com/calvinalkan/banktransfer/internal/config"
	"github.com/calvinalkan/banktransfer/internal/dispatch"
	"github.com/calvinalkan/banktransfer/pkg/bank"
	"github.com/calvinalkan/banktransfer/pkg/fs"
	"github.com/calvinalkan/banktransfer/pkg/hostmem"
	"github.com/calvinalkan/banktransfer/pkg/storage"
)

// app carries what every command needs once configuration is resolved.
type app struct {
	cfg  config.Config
	fsys fs.FS
	log  *logrus.Logger
	in   io.Reader
	env  map[string]string
}

func newApp(cfg config.Config, in io.Reader, errOut io.Writer, env map[string]string, chaosSeed int64) *app {
	var fsys fs.FS = fs.NewReal()

	if chaosSeed != 0 {
		chaos := fs.NewChaos(fsys, chaosSeed, fs.DefaultChaosConfig())
		chaos.SetMode(fs.ChaosModeInject)
		fsys = chaos
	}

	return &app{
		cfg:  cfg,
		fsys: fsys,
		log:  newLogger(cfg, errOut),
		in:   in,
		env:  env,
	}
}

// newLogger returns a logger writing to w at the configured level and format.
func newLogger(cfg config.Config, w io.Writer) *logrus.Logger {
	log := logrus.New()
	log.SetOutput(w)
	log.SetLevel(cfg.Level)

	if cfg.LogFormat == config.LogFormatJSON {
		log.SetFormatter(&logrus.JSONFormatter{})
	} else {
		log.SetFormatter(&logrus.TextFormatter{DisableTimestamp: true})
	}

	return log
}

func (a *app) commands() map[string]*Command {
	list := a.commandList()

	m := make(map[string]*Command, len(list))
	for _, cmd := range list {
		m[cmd.Name()] = cmd
	}

	return m
}

func (a *app) commandList() []*Command {
	return []*Command{
		InitCmd(a),
		ValidateCmd(a),
		InspectCmd(a),
		VerifyCmd(a),
		TransferCmd(a),
		MkImageCmd(a),
		ShellCmd(a),
		PrintConfigCmd(a),
	}
}

func (a *app) storage() *storage.Dir {
	return storage.NewDir(a.fsys, map[storage.Namespace]string{
		storage.NamespaceExtData: a.cfg.ExtDataRootAbs,
		storage.NamespaceSDMC:    a.cfg.SDMCRootAbs,
	})
}

func (a *app) bankOptions() bank.Options {
	return bank.Options{WritePolicy: a.cfg.Policy}
}

func (a *app) dispatcher() *dispatch.Dispatcher {
	return dispatch.New(a.storage(), dispatch.Config{Bank: a.bankOptions(), Log: a.log})
}

// candidateFor returns the fixed bank location in namespace name.
func candidateFor(name string) (storage.Location, error) {
	ns, err := storage.ParseNamespace(name)
	if err != nil {
		return storage.Location{}, err
	}

	for _, loc := range dispatch.Candidates() {
		if loc.Namespace == ns {
			return loc, nil
		}
	}

	return storage.Location{}, fmt.Errorf("%w: no bank path in %s", storage.ErrUnknownNamespace, ns)
}

// openBank opens the bank in namespace, or the first usable candidate when
// namespace is empty.
func (a *app) openBank(namespace string) (*bank.Bank, error) {
	if namespace == "" {
		b, err := dispatch.Lookup(a.storage(), dispatch.Candidates(), a.bankOptions(), a.log)
		if err != nil {
			return nil, err
		}

		return b, nil
	}

	loc, err := candidateFor(namespace)
	if err != nil {
		return nil, err
	}

	b := bank.Open(a.storage(), loc, a.bankOptions())
	if !b.IsOpen() {
		err := b.Err()
		_ = b.Close()

		return nil, err
	}

	return b, nil
}

// source loads the configured memory image.
func (a *app) source(path string) (*hostmem.Image, error) {
	if path == "" {
		path = a.cfg.MemoryImageAbs
	}

	if path == "" {
		return nil, errNoMemoryImage
	}

	return hostmem.OpenImageFile(a.fsys, path, a.cfg.MemoryBaseAddr, hostmem.DefaultLayout())
}
