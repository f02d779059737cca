// Package watcher turns dropped manuscript files into projects. It watches
// inbox directories with fsnotify, debounces write bursts, and imports each
// settled file once, keyed by content hash.
package watcher

import (
	"context"
	"errors"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"

	"github.com/proofloop/galley/internal/fileid"
	"github.com/proofloop/galley/internal/importer"
	"github.com/proofloop/galley/internal/storage"
)

const defaultDebounce = 400 * time.Millisecond

// Inbox watches manuscript directories and imports dropped files as projects.
// A file is imported when its content hash differs from what was last
// imported from its path: rewriting the same bytes is a no-op, replacing the
// content creates a new project. Projects outlive their delivery files, so
// deleting a file from the inbox removes nothing.
type Inbox struct {
	store      storage.Storage
	importer   *importer.Importer
	roots      []string
	extensions []string
	recursive  bool
	debounce   time.Duration
	onImported func(projectID int64, path string)
	logger     *zap.Logger

	watcher     *fsnotify.Watcher
	mu          sync.Mutex
	debounceMap map[string]*time.Timer
	rootPaths   map[string][]string // root -> list of watched paths (dirs we added)
	runCtx      context.Context
	done        chan struct{}
	started     bool
	stopOnce    sync.Once
}

// InboxOption configures an Inbox.
type InboxOption func(*Inbox)

// WithLogger sets a logger for import and debug output.
func WithLogger(l *zap.Logger) InboxOption {
	return func(i *Inbox) { i.logger = l }
}

// WithDebounce overrides how long a file must stay quiet before it is
// imported.
func WithDebounce(d time.Duration) InboxOption {
	return func(i *Inbox) { i.debounce = d }
}

// WithOnImported sets a hook called after each successful import, with the
// new project's ID and the source path.
func WithOnImported(fn func(projectID int64, path string)) InboxOption {
	return func(i *Inbox) { i.onImported = fn }
}

// NewInbox creates an inbox over the given root directories. extensions
// filter which files are considered manuscripts (empty = all).
func NewInbox(store storage.Storage, imp *importer.Importer, roots, extensions []string, recursive bool, opts ...InboxOption) *Inbox {
	i := &Inbox{
		store:       store,
		importer:    imp,
		roots:       roots,
		extensions:  extensions,
		recursive:   recursive,
		debounce:    defaultDebounce,
		logger:      zap.NewNop(),
		debounceMap: make(map[string]*time.Timer),
		rootPaths:   make(map[string][]string),
		done:        make(chan struct{}),
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Start begins watching. Missing roots are created. It runs until ctx is
// cancelled or Stop is called.
func (i *Inbox) Start(ctx context.Context) error {
	i.mu.Lock()
	if i.started {
		i.mu.Unlock()
		return nil
	}
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		i.mu.Unlock()
		return err
	}
	i.watcher = watcher
	i.runCtx = ctx
	i.started = true
	i.logger.Debug("inbox starting",
		zap.Strings("roots", i.roots),
		zap.Strings("extensions", i.extensions),
		zap.Bool("recursive", i.recursive))
	for _, root := range i.roots {
		if err := i.addRootLocked(root); err != nil {
			_ = i.watcher.Close()
			i.watcher = nil
			i.started = false
			i.mu.Unlock()
			return err
		}
	}
	i.mu.Unlock()
	go i.run(ctx)
	return nil
}

func (i *Inbox) run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			i.Stop()
			return
		case <-i.done:
			return
		case ev, ok := <-i.watcher.Events:
			if !ok {
				return
			}
			i.handleEvent(ev)
		case err, ok := <-i.watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				i.logger.Debug("inbox watch error", zap.Error(err))
			}
		}
	}
}

func (i *Inbox) handleEvent(ev fsnotify.Event) {
	path := ev.Name
	if !i.underRoot(path) {
		return
	}
	i.logger.Debug("inbox event", zap.String("op", ev.Op.String()), zap.String("path", path))
	switch ev.Op {
	case fsnotify.Create, fsnotify.Write:
		// Check if it's a directory (newly created or moved in)
		info, err := os.Stat(path)
		if err == nil && info.IsDir() {
			i.handleNewDirectory(path)
			return
		}
		if i.matchExtension(path) {
			i.debounceImport(path)
		}
	case fsnotify.Remove:
		// A file deleted before its debounce fired was never settled; a file
		// deleted after import changes nothing, the project stays.
		i.cancelDebounce(path)
	}
}

// handleNewDirectory adds a newly created directory to the watch list and
// imports any manuscripts already inside it.
func (i *Inbox) handleNewDirectory(dirPath string) {
	i.logger.Debug("inbox handling new directory", zap.String("path", dirPath))

	i.mu.Lock()
	recursive := i.recursive
	watcher := i.watcher
	i.mu.Unlock()

	if watcher == nil {
		return
	}

	if recursive {
		filepath.WalkDir(dirPath, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if d.IsDir() {
				if err := watcher.Add(path); err != nil {
					i.logger.Debug("inbox failed to watch directory", zap.String("path", path), zap.Error(err))
				} else {
					i.logger.Debug("inbox watching new directory", zap.String("path", path))
				}
			}
			return nil
		})
	} else {
		if err := watcher.Add(dirPath); err != nil {
			i.logger.Debug("inbox failed to watch directory", zap.String("path", dirPath), zap.Error(err))
		}
	}

	i.syncDirectory(dirPath)
}

func (i *Inbox) underRoot(path string) bool {
	i.mu.Lock()
	roots := append([]string(nil), i.roots...)
	i.mu.Unlock()
	clean := filepath.Clean(path)
	for _, root := range roots {
		rootClean := filepath.Clean(root)
		if rootClean == clean || inDir(rootClean, clean) {
			return true
		}
	}
	return false
}

func inDir(dir, path string) bool {
	rel, err := filepath.Rel(dir, path)
	if err != nil {
		return false
	}
	return rel != ".." && !strings.HasPrefix(rel, ".."+string(filepath.Separator))
}

func (i *Inbox) matchExtension(path string) bool {
	return matchExtension(path, i.extensions)
}

func matchExtension(path string, extensions []string) bool {
	ext := filepath.Ext(path)
	if len(extensions) == 0 {
		return true
	}
	for _, e := range extensions {
		eNorm := strings.TrimPrefix(strings.ToLower(e), ".")
		extNorm := strings.TrimPrefix(strings.ToLower(ext), ".")
		if eNorm == extNorm {
			return true
		}
	}
	return false
}

func (i *Inbox) debounceImport(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.debounceMap[path]; ok {
		t.Stop()
	}
	t := time.AfterFunc(i.debounce, func() {
		i.mu.Lock()
		delete(i.debounceMap, path)
		i.mu.Unlock()
		i.logger.Debug("inbox file settled", zap.String("path", path))
		i.importFile(path)
	})
	i.debounceMap[path] = t
}

func (i *Inbox) cancelDebounce(path string) {
	i.mu.Lock()
	defer i.mu.Unlock()
	if t, ok := i.debounceMap[path]; ok {
		t.Stop()
		delete(i.debounceMap, path)
	}
}

// importFile reads a settled file and imports it unless its content was
// already imported from the same path.
func (i *Inbox) importFile(path string) {
	i.mu.Lock()
	ctx := i.runCtx
	i.mu.Unlock()
	if ctx == nil {
		ctx = context.Background()
	}

	data, err := os.ReadFile(path)
	if err != nil {
		i.logger.Warn("inbox read failed", zap.String("path", path), zap.Error(err))
		return
	}
	hash := fileid.ContentHash(data)

	prevHash, projectID, err := i.store.GetImport(ctx, path)
	if err == nil && prevHash == hash {
		i.logger.Debug("inbox file already imported",
			zap.String("path", path),
			zap.Int64("project_id", projectID))
		return
	}
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		i.logger.Warn("inbox import lookup failed", zap.String("path", path), zap.Error(err))
		return
	}

	name := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
	input, err := i.importer.Parse(data, strings.ToLower(filepath.Ext(path)), name)
	if err != nil {
		i.logger.Warn("inbox import failed", zap.String("path", path), zap.Error(err))
		return
	}
	project := input.Project()
	if err := i.store.CreateProject(ctx, project); err != nil {
		i.logger.Warn("inbox project create failed", zap.String("path", path), zap.Error(err))
		return
	}
	if err := i.store.RecordImport(ctx, path, hash, project.ID); err != nil {
		i.logger.Warn("inbox import record failed", zap.String("path", path), zap.Error(err))
	}
	i.logger.Info("manuscript imported from inbox",
		zap.String("path", path),
		zap.Int64("project_id", project.ID),
		zap.String("name", project.Name))

	i.mu.Lock()
	onImported := i.onImported
	i.mu.Unlock()
	if onImported != nil {
		onImported(project.ID, path)
	}
}

func (i *Inbox) addRootLocked(root string) error {
	root = filepath.Clean(root)
	if _, err := os.Stat(root); err != nil {
		if os.IsNotExist(err) {
			if err := os.MkdirAll(root, 0755); err != nil {
				return err
			}
		} else {
			return err
		}
	}
	var paths []string
	add := func(path string, d fs.DirEntry) error {
		if !d.IsDir() {
			return nil
		}
		if err := i.watcher.Add(path); err != nil {
			return err
		}
		paths = append(paths, path)
		return nil
	}
	if i.recursive {
		err := filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil {
				return err
			}
			return add(path, d)
		})
		if err != nil {
			return err
		}
	} else {
		if err := i.watcher.Add(root); err != nil {
			return err
		}
		paths = append(paths, root)
	}
	i.rootPaths[root] = paths
	return nil
}

func (i *Inbox) syncDirectory(root string) {
	i.mu.Lock()
	exts := append([]string(nil), i.extensions...)
	i.mu.Unlock()
	i.logger.Debug("inbox syncing directory", zap.String("root", root))
	filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
		if err != nil || d.IsDir() {
			return err
		}
		if matchExtension(path, exts) {
			i.importFile(path)
		}
		return nil
	})
}

// SyncExistingFiles imports manuscripts that were already sitting in the
// inbox when watching started. Call it after Start; files imported in an
// earlier run are skipped by the content-hash check.
func (i *Inbox) SyncExistingFiles() {
	i.mu.Lock()
	roots := append([]string(nil), i.roots...)
	i.mu.Unlock()
	i.logger.Debug("inbox syncing existing files", zap.Strings("roots", roots))
	for _, root := range roots {
		i.syncDirectory(root)
	}
}

// Directories returns a copy of the watched root directories.
func (i *Inbox) Directories() []string {
	i.mu.Lock()
	defer i.mu.Unlock()
	return append([]string(nil), i.roots...)
}

// Stop stops watching and releases resources.
func (i *Inbox) Stop() {
	i.mu.Lock()
	if !i.started || i.watcher == nil {
		i.mu.Unlock()
		return
	}
	for path, t := range i.debounceMap {
		t.Stop()
		delete(i.debounceMap, path)
	}
	_ = i.watcher.Close()
	i.watcher = nil
	i.started = false
	i.mu.Unlock()
	i.stopOnce.Do(func() { close(i.done) })
}
