package tail

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"log"
	"os"
	"path/filepath"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"
)

const (
	defaultPollInterval = 5 * time.Second
	defaultMaxReadBytes = 4 * 1024 * 1024
	defaultPattern      = "*.jsonl"
)

// RawLine is one newline-terminated line with its byte offset in the file.
type RawLine struct {
	Data   []byte
	Offset int64
}

// Handler receives the complete lines appended to a file since its cursor.
type Handler func(path string, lines []RawLine)

// ErrorHook is invoked for transient per-file read failures. They are
// retried on the next tick and never stop other files.
type ErrorHook func(path string, err error)

type Option func(*Tailer)

func WithPollInterval(d time.Duration) Option {
	return func(t *Tailer) {
		if d > 0 {
			t.pollInterval = d
		}
	}
}

func WithMaxReadBytes(n int64) Option {
	return func(t *Tailer) {
		if n > 0 {
			t.maxReadBytes = n
		}
	}
}

func WithPattern(glob string) Option {
	return func(t *Tailer) {
		if glob != "" {
			t.pattern = glob
		}
	}
}

func WithErrorHook(hook ErrorHook) Option {
	return func(t *Tailer) { t.onError = hook }
}

// Tailer discovers log files under the watched roots and incrementally reads
// their appended bytes. All cursor mutation happens on the goroutine running
// Run (or explicit Scan calls before Run starts); change notifications only
// mark files dirty.
type Tailer struct {
	roots        []string
	pattern      string
	pollInterval time.Duration
	maxReadBytes int64
	handler      Handler
	onError      ErrorHook

	cursors map[string]*Cursor
	tracked atomic.Int64
}

// New validates the watch roots. At least one root must exist; anything else
// about the tree being absent or unreadable is a steady-state condition.
func New(roots []string, handler Handler, opts ...Option) (*Tailer, error) {
	if handler == nil {
		return nil, errors.New("tail: handler is required")
	}
	existing := make([]string, 0, len(roots))
	for _, root := range roots {
		info, err := os.Stat(root)
		if err == nil && info.IsDir() {
			existing = append(existing, root)
		}
	}
	if len(existing) == 0 {
		return nil, fmt.Errorf("tail: no watch root exists among %v", roots)
	}

	t := &Tailer{
		roots:        existing,
		pattern:      defaultPattern,
		pollInterval: defaultPollInterval,
		maxReadBytes: defaultMaxReadBytes,
		handler:      handler,
		cursors:      make(map[string]*Cursor),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

// Tracked reports how many files currently have a cursor.
func (t *Tailer) Tracked() int64 { return t.tracked.Load() }

// Run watches until the context is cancelled. Change notifications come from
// fsnotify when available; a fixed-interval rescan always runs underneath it
// as the fallback, so missing or unreliable notifications degrade to polling.
func (t *Tailer) Run(ctx context.Context) error {
	var events chan string
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		log.Printf("tail: fsnotify unavailable, polling only: %v", err)
	} else {
		defer watcher.Close()
		t.watchDirs(watcher)
		events = make(chan string, 64)
		go forwardEvents(ctx, watcher, events)
	}

	t.Scan()

	ticker := time.NewTicker(t.pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-ticker.C:
			t.Scan()
			if watcher != nil {
				t.watchDirs(watcher)
			}
		case path := <-events:
			if t.matches(path) {
				t.scanFile(path)
			}
		}
	}
}

// Scan performs one full rescan: discover files, read growth, drop cursors
// for deleted files. Safe to call directly in tests and for an initial
// synchronous pass.
func (t *Tailer) Scan() {
	present := make(map[string]struct{})
	for _, root := range t.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err != nil || d.IsDir() || !t.matches(path) {
				return nil
			}
			present[path] = struct{}{}
			t.scanFile(path)
			return nil
		})
	}

	// Deleted files lose their cursor; their records stay counted.
	for path := range t.cursors {
		if _, ok := present[path]; !ok {
			delete(t.cursors, path)
		}
	}
	t.tracked.Store(int64(len(t.cursors)))
}

func (t *Tailer) matches(path string) bool {
	ok, err := filepath.Match(t.pattern, filepath.Base(path))
	return err == nil && ok
}

func (t *Tailer) scanFile(path string) {
	info, err := os.Stat(path)
	if err != nil {
		if !os.IsNotExist(err) {
			t.readError(path, err)
		}
		return
	}

	cur, ok := t.cursors[path]
	if !ok {
		cur = &Cursor{Path: path, Identity: fileIdentity(info)}
		t.cursors[path] = cur
		t.tracked.Store(int64(len(t.cursors)))
	}

	id := fileIdentity(info)
	if (id != 0 && cur.Identity != 0 && id != cur.Identity) || info.Size() < cur.Offset {
		// Rotation or truncation; re-read from the start. The dedup stage
		// keeps already-counted records from counting twice.
		log.Printf("tail: rotation detected for %s, rescanning", path)
		cur.reset()
		cur.Identity = id
	}
	cur.Size = info.Size()

	if cur.Size == cur.Offset {
		return
	}
	if err := t.readGrowth(cur); err != nil {
		t.readError(path, err)
	}
}

// readGrowth reads from the cursor to end-of-file in bounded chunks, emits
// complete lines and holds back any unterminated tail.
func (t *Tailer) readGrowth(cur *Cursor) error {
	f, err := os.Open(cur.Path)
	if err != nil {
		return err
	}
	defer f.Close()

	toRead := cur.Size - cur.Offset
	if toRead > t.maxReadBytes {
		toRead = t.maxReadBytes
	}

	if _, err := f.Seek(cur.Offset, io.SeekStart); err != nil {
		return err
	}
	data := make([]byte, toRead)
	n, err := io.ReadFull(f, data)
	if err != nil && !errors.Is(err, io.ErrUnexpectedEOF) && !errors.Is(err, io.EOF) {
		return err
	}
	data = data[:n]

	buf := append(cur.partial, data...)
	bufStart := cur.Offset - int64(len(cur.partial))
	cur.Offset += int64(n)

	var lines []RawLine
	begin := 0
	for {
		idx := bytes.IndexByte(buf[begin:], '\n')
		if idx < 0 {
			break
		}
		end := begin + idx
		line := buf[begin:end]
		if len(line) > 0 && line[len(line)-1] == '\r' {
			line = line[:len(line)-1]
		}
		if len(line) > 0 {
			lines = append(lines, RawLine{
				Data:   append([]byte(nil), line...),
				Offset: bufStart + int64(begin),
			})
		}
		begin = end + 1
	}
	cur.partial = append([]byte(nil), buf[begin:]...)

	if len(lines) > 0 {
		t.handler(cur.Path, lines)
	}
	return nil
}

func (t *Tailer) readError(path string, err error) {
	log.Printf("tail: read %s: %v", path, err)
	if t.onError != nil {
		t.onError(path, err)
	}
}

func (t *Tailer) watchDirs(watcher *fsnotify.Watcher) {
	for _, root := range t.roots {
		_ = filepath.WalkDir(root, func(path string, d fs.DirEntry, err error) error {
			if err == nil && d.IsDir() {
				_ = watcher.Add(path)
			}
			return nil
		})
	}
}

func forwardEvents(ctx context.Context, watcher *fsnotify.Watcher, out chan<- string) {
	for {
		select {
		case <-ctx.Done():
			return
		case event, ok := <-watcher.Events:
			if !ok {
				return
			}
			if event.Op&(fsnotify.Write|fsnotify.Create) == 0 {
				continue
			}
			select {
			case out <- event.Name:
			default:
				// Queue full; the polling rescan will pick it up.
			}
		case _, ok := <-watcher.Errors:
			if !ok {
				return
			}
		}
	}
}
