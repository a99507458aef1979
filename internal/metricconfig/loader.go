// Copyright Antimetal, Inc. All rights reserved.
//
// Use of this source code is governed by a source available license that can be found in the
// LICENSE file or at:
// https://polyformproject.org/wp-content/uploads/2020/06/PolyForm-Shield-1.0.0.txt

package metricconfig

import (
	"context"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"
	"github.com/go-logr/logr"
	"github.com/nodestat/telemetry-core/internal/anomaly"
	"github.com/nodestat/telemetry-core/internal/gauge"
)

// Applier is the subset of engine.Engine a Loader drives.
type Applier interface {
	Apply(metricID int64, atomIDs []int32, p *gauge.Producer)
	Unregister(metricID int64)
}

// Option configures optional Loader collaborators every produced Producer
// shares, mirroring internal/config/ams.go's AMSLoaderOpts functional-option
// shape (WithAMSLogger, WithAMSAPIKey, ...).
type Option func(*Loader)

// WithPuller supplies the gauge.Puller every pull-mode producer built by
// this Loader uses.
func WithPuller(p gauge.Puller) Option {
	return func(l *Loader) { l.puller = p }
}

// WithNotifier supplies the gauge.Notifier every producer built by this
// Loader reports pull-latency statistics to.
func WithNotifier(n gauge.Notifier) Option {
	return func(l *Loader) { l.notifier = n }
}

// WithAnomalyHook supplies the anomaly.Hook every producer built by this
// Loader invokes with each appended atom whose gauge fields reduce to a
// single numeric value.
func WithAnomalyHook(h anomaly.Hook) Option {
	return func(l *Loader) { l.hook = h }
}

// Loader watches a directory of YAML metric-config files, applying every
// valid MetricDef it finds to an Applier and removing any producer whose
// defining file was deleted or renamed, or whose definition was dropped from
// its file or rejected as invalid; a file that can't be read or parsed
// leaves the producers it last applied in place. Grounded on
// internal/config/fs.go's FSLoader: same fsnotify.NewWatcher +
// filepath.WalkDir initial scan + processEvents loop shape, generalized
// from "one proto Instance per file" to "build N gauge.Producers per file".
type Loader struct {
	mu sync.Mutex

	basePath string
	watcher  *fsnotify.Watcher
	applier  Applier
	log      logr.Logger
	done     chan struct{}
	wg       sync.WaitGroup

	// fileMetrics tracks which metric ids came from which file, so a
	// deleted or re-edited-to-drop-a-metric file can Unregister the ones
	// it no longer defines.
	fileMetrics map[string]map[int64]bool

	startTimeNs int64

	puller   gauge.Puller
	notifier gauge.Notifier
	hook     anomaly.Hook
}

// New builds a Loader watching basePath, performing an initial scan before
// returning. It does not start the event-processing goroutine; call Start.
func New(basePath string, applier Applier, startTimeNs int64, log logr.Logger, opts ...Option) (*Loader, error) {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("metricconfig: create watcher: %w", err)
	}
	l := &Loader{
		basePath:    basePath,
		watcher:     watcher,
		applier:     applier,
		log:         log.WithName("metricconfig"),
		done:        make(chan struct{}),
		fileMetrics: make(map[string]map[int64]bool),
		startTimeNs: startTimeNs,
	}
	for _, opt := range opts {
		opt(l)
	}
	if err := addWatches(watcher, basePath, l.log); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("metricconfig: add watches: %w", err)
	}
	if err := l.initLoadFiles(); err != nil {
		watcher.Close()
		return nil, fmt.Errorf("metricconfig: initial scan: %w", err)
	}
	return l, nil
}

// Start implements manager.Runnable: it processes fsnotify events until ctx
// is cancelled.
func (l *Loader) Start(ctx context.Context) error {
	l.wg.Add(1)
	go l.processEvents()

	<-ctx.Done()
	close(l.done)
	l.wg.Wait()
	return l.watcher.Close()
}

func (l *Loader) initLoadFiles() error {
	return filepath.WalkDir(l.basePath, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			l.log.V(1).Info("skipping path with error", "path", path, "error", err)
			return nil
		}
		if d.IsDir() || !isConfigFile(path) {
			return nil
		}
		l.loadFile(path)
		return nil
	})
}

func (l *Loader) processEvents() {
	defer l.wg.Done()
	for {
		select {
		case <-l.done:
			return
		case event, ok := <-l.watcher.Events:
			if !ok {
				return
			}
			l.handleEvent(event)
		case err, ok := <-l.watcher.Errors:
			if !ok {
				return
			}
			l.log.Error(err, "filesystem watcher error")
		}
	}
}

func (l *Loader) handleEvent(event fsnotify.Event) {
	if !isConfigFile(event.Name) {
		return
	}
	switch {
	case event.Has(fsnotify.Create), event.Has(fsnotify.Write):
		l.loadFile(event.Name)
	case event.Has(fsnotify.Remove), event.Has(fsnotify.Rename):
		l.dropFile(event.Name)
	}
}

func (l *Loader) loadFile(path string) {
	data, err := os.ReadFile(path)
	if err != nil {
		l.log.Error(err, "failed to read metric config file", "path", path)
		return
	}
	doc, err := ParseDocument(data)
	if err != nil {
		l.log.Error(err, "failed to parse metric config file", "path", path)
		return
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	prev := l.fileMetrics[path]
	current := make(map[int64]bool, len(doc.Metrics))
	for _, m := range doc.Metrics {
		cfg, err := BuildConfig(m, l.startTimeNs)
		if err != nil {
			l.log.Error(err, "rejecting invalid metric config", "metricID", m.ID, "path", path)
			continue
		}
		p := gauge.New(cfg, nil, nil, l.puller, l.notifier, l.hook, l.log)
		l.applier.Apply(cfg.MetricID, AtomIDs(cfg), p)
		current[m.ID] = true
	}
	for id := range prev {
		if !current[id] {
			l.applier.Unregister(id)
		}
	}
	l.fileMetrics[path] = current
}

func (l *Loader) dropFile(path string) {
	l.mu.Lock()
	defer l.mu.Unlock()
	for id := range l.fileMetrics[path] {
		l.applier.Unregister(id)
	}
	delete(l.fileMetrics, path)
}

func isConfigFile(filename string) bool {
	ext := strings.ToLower(filepath.Ext(filename))
	return ext == ".yaml" || ext == ".yml"
}

func addWatches(watcher *fsnotify.Watcher, path string, log logr.Logger) error {
	return filepath.WalkDir(path, func(walkPath string, d fs.DirEntry, err error) error {
		if err != nil {
			log.V(1).Info("skipping path with error", "path", walkPath, "error", err)
			return nil
		}
		if d.IsDir() {
			return watcher.Add(walkPath)
		}
		return nil
	})
}
