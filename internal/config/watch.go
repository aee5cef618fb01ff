package config

import (
	"context"
	"os"
	"time"
)

// Watch loads path, hands the result to onUpdate and keeps polling the file
// every interval until ctx is done. A changed size or modification time
// triggers a reload; a file that fails to parse is skipped until fixed.
func Watch(ctx context.Context, path string, interval time.Duration, onUpdate func(*Config)) error {
	if path == "" {
		path = defaultPath
	}
	if interval <= 0 {
		interval = 30 * time.Second
	}

	w := &watcher{path: path, onUpdate: onUpdate}
	if err := w.reload(); err != nil {
		return err
	}
	go w.run(ctx, interval)
	return nil
}

// fileStamp is what the watcher compares between polls.
type fileStamp struct {
	modTime time.Time
	size    int64
}

func statFile(path string) (fileStamp, error) {
	info, err := os.Stat(path)
	if err != nil {
		return fileStamp{}, err
	}
	return fileStamp{modTime: info.ModTime(), size: info.Size()}, nil
}

type watcher struct {
	path     string
	onUpdate func(*Config)
	stamp    fileStamp
}

func (w *watcher) run(ctx context.Context, interval time.Duration) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if w.changed() {
				_ = w.reload()
			}
		}
	}
}

func (w *watcher) changed() bool {
	stamp, err := statFile(w.path)
	if err != nil {
		return false
	}
	return !stamp.modTime.Equal(w.stamp.modTime) || stamp.size != w.stamp.size
}

// reload records the stamp only after a successful parse, so a broken file
// is retried on the next tick.
func (w *watcher) reload() error {
	stamp, err := statFile(w.path)
	if err != nil {
		return err
	}
	cfg, err := Load(w.path)
	if err != nil {
		return err
	}
	w.stamp = stamp
	if w.onUpdate != nil {
		w.onUpdate(cfg)
	}
	return nil
}
