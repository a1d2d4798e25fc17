// Package preview coordinates document loading, change watching, and
// change notification for the live preview. It owns the debounce between
// filesystem events and re-renders; the classifier and fixer themselves
// are pure and never rate-limit.
package preview

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/euforicio/mdpreview/internal/renderer"
)

const (
	// EventDocumentUpdated signals that one document changed and should
	// be re-fetched.
	EventDocumentUpdated = "documentUpdated"
	// EventListUpdated signals that the set of previewable documents
	// changed.
	EventListUpdated = "listUpdated"
	// EventDeleted signals that a document was removed.
	EventDeleted = "deleted"
)

const defaultDebounce = 150 * time.Millisecond

// Event describes change notifications emitted to subscribers.
type Event struct {
	Timestamp time.Time `json:"timestamp"`
	Type      string    `json:"type"`
	Path      string    `json:"path,omitempty"`
}

// DocumentInfo is one entry in the previewable document listing.
type DocumentInfo struct {
	Path     string    `json:"path"`
	Name     string    `json:"name"`
	Modified time.Time `json:"modified"`
}

type subscriber struct {
	ctx context.Context
	ch  chan Event
}

// Options configures the preview service.
type Options struct {
	// Debounce is how long bursts of filesystem events are coalesced
	// before subscribers are notified. Zero means the default.
	Debounce      time.Duration
	IncludeHidden bool
}

// Service watches a directory of documents and notifies subscribers when
// they change. Rendering is delegated to the renderer service.
type Service struct {
	ctx           context.Context
	cancel        context.CancelFunc
	logger        *slog.Logger
	watcher       *fsnotify.Watcher
	renderer      *renderer.Service
	root          string
	debounce      time.Duration
	includeHidden bool

	docs atomic.Pointer[[]DocumentInfo]

	subscribers map[uint64]*subscriber
	subCounter  atomic.Uint64
	subsMu      sync.RWMutex

	pendingMu    sync.Mutex
	pending      map[string]fsnotify.Op
	pendingTimer *time.Timer

	writeMu sync.Mutex
}

// NewService initializes document watching rooted at path.
func NewService(parentCtx context.Context, root string, rendererSvc *renderer.Service, logger *slog.Logger, opts Options) (*Service, error) {
	if root == "" {
		return nil, errors.New("root directory must be provided")
	}
	if rendererSvc == nil {
		return nil, errors.New("renderer service must be provided")
	}
	if logger == nil {
		logger = slog.Default()
	}

	absRoot, err := filepath.Abs(root)
	if err != nil {
		return nil, fmt.Errorf("resolve root: %w", err)
	}

	debounce := opts.Debounce
	if debounce <= 0 {
		debounce = defaultDebounce
	}

	ctx, cancel := context.WithCancel(parentCtx)
	svc := &Service{
		ctx:           ctx,
		cancel:        cancel,
		root:          absRoot,
		renderer:      rendererSvc,
		debounce:      debounce,
		includeHidden: opts.IncludeHidden,
		logger:        logger.With("component", "preview"),
		subscribers:   make(map[uint64]*subscriber),
		pending:       make(map[string]fsnotify.Op),
	}

	if err := svc.rebuildListing(); err != nil {
		cancel()
		return nil, err
	}
	if err := svc.startWatcher(); err != nil {
		cancel()
		return nil, err
	}
	return svc, nil
}

// Close releases resources associated with the service.
func (s *Service) Close() error {
	s.cancel()
	s.pendingMu.Lock()
	if s.pendingTimer != nil {
		s.pendingTimer.Stop()
	}
	s.pendingMu.Unlock()
	if s.watcher != nil {
		return s.watcher.Close()
	}
	return nil
}

// Documents returns the current previewable document listing.
func (s *Service) Documents(ctx context.Context) ([]DocumentInfo, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	docs := s.docs.Load()
	if docs == nil {
		return nil, nil
	}
	return *docs, nil
}

// Document loads and renders a document by relative path.
func (s *Service) Document(ctx context.Context, relPath string) (renderer.Document, error) {
	if err := ctx.Err(); err != nil {
		return renderer.Document{}, err
	}

	rel, abs, err := s.resolvePath(relPath)
	if err != nil {
		return renderer.Document{}, err
	}

	info, err := os.Stat(abs)
	if err != nil {
		return renderer.Document{}, fmt.Errorf("stat document: %w", err)
	}
	if info.IsDir() {
		return renderer.Document{}, fmt.Errorf("path %s is a directory", rel)
	}

	content, err := os.ReadFile(abs) //nolint:gosec // abs is validated against root directory
	if err != nil {
		return renderer.Document{}, fmt.Errorf("read document: %w", err)
	}

	return s.renderer.Render(ctx, rel, info.ModTime(), content)
}

// SaveDocument writes updated contents to an existing document.
func (s *Service) SaveDocument(ctx context.Context, relPath string, data []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	rel, abs, err := s.resolvePath(relPath)
	if err != nil {
		return err
	}

	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	if _, err := os.Stat(abs); err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return fmt.Errorf("document not found: %s: %w", rel, os.ErrNotExist)
		}
		return fmt.Errorf("stat document: %w", err)
	}
	if err := os.WriteFile(abs, data, 0o644); err != nil { //nolint:gosec // standard file permissions
		return fmt.Errorf("write document: %w", err)
	}
	s.renderer.Invalidate(rel)
	return nil
}

// Subscribe registers for change events. The returned channel closes when
// ctx or the service shuts down.
func (s *Service) Subscribe(ctx context.Context) <-chan Event {
	ch := make(chan Event, 8)
	id := s.subCounter.Add(1)

	s.subsMu.Lock()
	s.subscribers[id] = &subscriber{ctx: ctx, ch: ch}
	s.subsMu.Unlock()

	go func() {
		select {
		case <-ctx.Done():
		case <-s.ctx.Done():
		}
		s.removeSubscriber(id)
	}()

	return ch
}

// Root returns the absolute root directory being previewed.
func (s *Service) Root() string {
	return s.root
}

func (s *Service) resolvePath(relPath string) (string, string, error) {
	trimmed := strings.TrimSpace(relPath)
	if trimmed == "" {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}
	clean := filepath.Clean(trimmed)
	if clean == "." || clean == "" || filepath.IsAbs(clean) || filepath.VolumeName(clean) != "" {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}

	clean = filepath.ToSlash(clean)
	if strings.HasPrefix(clean, "../") || strings.Contains(clean, "/../") {
		return "", "", fmt.Errorf("invalid path: %s", relPath)
	}
	if !isPreviewablePath(clean) {
		return "", "", fmt.Errorf("unsupported document type: %s", relPath)
	}

	abs := filepath.Join(s.root, filepath.FromSlash(clean))
	relToRoot, err := filepath.Rel(s.root, abs)
	if err != nil {
		return "", "", fmt.Errorf("resolve document path: %w", err)
	}
	if relToRoot == ".." || strings.HasPrefix(relToRoot, ".."+string(os.PathSeparator)) {
		return "", "", fmt.Errorf("resolved path escapes root: %s", relPath)
	}
	return clean, abs, nil
}

// isPreviewablePath reports whether the file is one the preview handles:
// markdown prose or standalone Mermaid diagram source.
func isPreviewablePath(p string) bool {
	switch strings.ToLower(filepath.Ext(p)) {
	case ".md", ".markdown", ".mmd", ".mermaid":
		return true
	default:
		return false
	}
}

func (s *Service) rebuildListing() error {
	var docs []DocumentInfo
	err := filepath.WalkDir(s.root, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		name := d.Name()
		if d.IsDir() {
			if !s.includeHidden && strings.HasPrefix(name, ".") && path != s.root {
				return filepath.SkipDir
			}
			return nil
		}
		if !s.includeHidden && strings.HasPrefix(name, ".") {
			return nil
		}
		if !isPreviewablePath(path) {
			return nil
		}
		rel, err := filepath.Rel(s.root, path)
		if err != nil {
			return err
		}
		info, err := d.Info()
		if err != nil {
			return err
		}
		docs = append(docs, DocumentInfo{
			Path:     filepath.ToSlash(rel),
			Name:     name,
			Modified: info.ModTime(),
		})
		return nil
	})
	if err != nil {
		return fmt.Errorf("scan root: %w", err)
	}

	sort.Slice(docs, func(i, j int) bool { return docs[i].Path < docs[j].Path })
	s.docs.Store(&docs)
	return nil
}

func (s *Service) startWatcher() error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return fmt.Errorf("create watcher: %w", err)
	}
	s.watcher = watcher

	if err := s.watchRecursive(s.root); err != nil {
		return err
	}

	go s.runWatcher()
	return nil
}

func (s *Service) runWatcher() {
	for {
		select {
		case event, ok := <-s.watcher.Events:
			if !ok {
				return
			}
			s.queueEvent(event)
		case err, ok := <-s.watcher.Errors:
			if !ok {
				return
			}
			s.logger.Error("watcher error", slog.Any("err", err))
		case <-s.ctx.Done():
			return
		}
	}
}

// queueEvent buffers filesystem events and schedules a flush. Editors fire
// several events per save; one flush per debounce window keeps subscribers
// from re-rendering on every intermediate write.
func (s *Service) queueEvent(event fsnotify.Event) {
	if event.Name == "" {
		return
	}

	if event.Op&fsnotify.Create != 0 {
		if info, err := os.Stat(event.Name); err == nil && info.IsDir() {
			_ = s.watchRecursive(event.Name)
		}
	}

	s.pendingMu.Lock()
	defer s.pendingMu.Unlock()
	s.pending[event.Name] |= event.Op
	if s.pendingTimer == nil {
		s.pendingTimer = time.AfterFunc(s.debounce, s.flushPending)
	} else {
		s.pendingTimer.Reset(s.debounce)
	}
}

func (s *Service) flushPending() {
	s.pendingMu.Lock()
	pending := s.pending
	s.pending = make(map[string]fsnotify.Op)
	s.pendingTimer = nil
	s.pendingMu.Unlock()

	if len(pending) == 0 || s.ctx.Err() != nil {
		return
	}

	listChanged := false
	for name, op := range pending {
		rel := s.relativePath(name)
		if isPreviewablePath(name) {
			s.renderer.Invalidate(rel)
		}

		switch {
		case op&(fsnotify.Remove|fsnotify.Rename) != 0:
			listChanged = true
			if isPreviewablePath(name) {
				s.broadcast(Event{Type: EventDeleted, Path: rel, Timestamp: time.Now()})
			}
		case op&fsnotify.Create != 0:
			listChanged = true
			if isPreviewablePath(name) {
				s.broadcast(Event{Type: EventDocumentUpdated, Path: rel, Timestamp: time.Now()})
			}
		case op&fsnotify.Write != 0 && isPreviewablePath(name):
			s.broadcast(Event{Type: EventDocumentUpdated, Path: rel, Timestamp: time.Now()})
		}
	}

	if listChanged {
		if err := s.rebuildListing(); err != nil {
			s.logger.Error("rebuild listing failed", slog.Any("err", err))
			return
		}
		s.broadcast(Event{Type: EventListUpdated, Timestamp: time.Now()})
	}
}

func (s *Service) broadcast(evt Event) {
	s.subsMu.RLock()
	var stale []uint64
	for id, sub := range s.subscribers {
		select {
		case <-sub.ctx.Done():
			stale = append(stale, id)
		case <-s.ctx.Done():
			stale = append(stale, id)
		case sub.ch <- evt:
		default:
			// drop event when subscriber lags
		}
	}
	s.subsMu.RUnlock()

	for _, id := range stale {
		s.removeSubscriber(id)
	}
}

func (s *Service) removeSubscriber(id uint64) {
	s.subsMu.Lock()
	if sub, ok := s.subscribers[id]; ok {
		close(sub.ch)
		delete(s.subscribers, id)
	}
	s.subsMu.Unlock()
}

func (s *Service) watchRecursive(dir string) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			if !s.includeHidden && strings.HasPrefix(d.Name(), ".") && path != s.root {
				return filepath.SkipDir
			}
			if err := s.watcher.Add(path); err != nil {
				s.logger.Warn("failed to watch directory", slog.String("path", path), slog.Any("err", err))
			}
		}
		return nil
	})
}

func (s *Service) relativePath(abs string) string {
	rel, err := filepath.Rel(s.root, abs)
	if err != nil {
		return abs
	}
	return filepath.ToSlash(rel)
}
