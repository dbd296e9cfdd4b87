// Package config — watch.go
//
// Hot reload of the priors and policy documents via filesystem
// notification. On every write the document is re-read and
// re-validated; an invalid document keeps the previous one active and
// logs the failure. The engine never crashes on a bad reload.

package config

import (
	"context"
	"path/filepath"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// ReloadFunc receives a freshly validated document set.
type ReloadFunc func(priors *PriorsDoc, policy *PolicyDoc)

// Watcher hot-reloads the priors and policy files.
type Watcher struct {
	priorsPath string
	policyPath string
	onReload   ReloadFunc
	log        *zap.Logger

	priors *PriorsDoc
	policy *PolicyDoc
}

// NewWatcher loads both documents once (fatal on failure) and prepares
// the watcher.
func NewWatcher(priorsPath, policyPath string, onReload ReloadFunc, log *zap.Logger) (*Watcher, error) {
	priors, err := LoadPriors(priorsPath)
	if err != nil {
		return nil, err
	}
	policy, err := LoadPolicy(policyPath)
	if err != nil {
		return nil, err
	}
	return &Watcher{
		priorsPath: priorsPath,
		policyPath: policyPath,
		onReload:   onReload,
		log:        log,
		priors:     priors,
		policy:     policy,
	}, nil
}

// Current returns the active document pair.
func (w *Watcher) Current() (*PriorsDoc, *PolicyDoc) {
	return w.priors, w.policy
}

// Run blocks until ctx is cancelled, reloading on file writes. Editors
// and the atomic temp+rename save path both surface as Create/Write
// events on the parent directory.
func (w *Watcher) Run(ctx context.Context) error {
	fw, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer fw.Close()

	dirs := map[string]bool{}
	for _, p := range []string{w.priorsPath, w.policyPath} {
		dir := filepath.Dir(p)
		if !dirs[dir] {
			if err := fw.Add(dir); err != nil {
				return err
			}
			dirs[dir] = true
		}
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev, ok := <-fw.Events:
			if !ok {
				return nil
			}
			if !ev.Has(fsnotify.Write) && !ev.Has(fsnotify.Create) {
				continue
			}
			switch ev.Name {
			case w.priorsPath:
				w.reloadPriors()
			case w.policyPath:
				w.reloadPolicy()
			}
		case err, ok := <-fw.Errors:
			if !ok {
				return nil
			}
			w.log.Warn("config watcher error", zap.Error(err))
		}
	}
}

func (w *Watcher) reloadPriors() {
	doc, err := LoadPriors(w.priorsPath)
	if err != nil {
		w.log.Error("priors hot-reload failed — retaining old document", zap.Error(err))
		return
	}
	w.priors = doc
	w.log.Info("priors reloaded", zap.String("path", w.priorsPath))
	w.onReload(w.priors, w.policy)
}

func (w *Watcher) reloadPolicy() {
	doc, err := LoadPolicy(w.policyPath)
	if err != nil {
		w.log.Error("policy hot-reload failed — retaining old document", zap.Error(err))
		return
	}
	w.policy = doc
	w.log.Info("policy reloaded", zap.String("path", w.policyPath))
	w.onReload(w.priors, w.policy)
}
