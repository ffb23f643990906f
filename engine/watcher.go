package engine

import (
	"path/filepath"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/spaghettifunk/anima-gpu/engine/core"
)

// ConfigWatcher reloads the application config whenever its file is
// written. The parent directory is watched so editors that replace the file
// on save are picked up too.
type ConfigWatcher struct {
	path     string
	apply    func(ApplicationConfig)
	fsnotify *fsnotify.Watcher

	done      chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func WatchConfig(path string, apply func(ApplicationConfig)) (*ConfigWatcher, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, err
	}
	fsWatch, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := fsWatch.Add(filepath.Dir(abs)); err != nil {
		fsWatch.Close()
		return nil, err
	}
	cw := &ConfigWatcher{
		path:     abs,
		apply:    apply,
		fsnotify: fsWatch,
		done:     make(chan struct{}),
	}
	cw.wg.Add(1)
	go cw.start()
	return cw, nil
}

func (cw *ConfigWatcher) start() {
	defer cw.wg.Done()
	for {
		select {
		case e, ok := <-cw.fsnotify.Events:
			if !ok {
				return
			}
			if filepath.Clean(e.Name) != cw.path || e.Op&(fsnotify.Create|fsnotify.Write) == 0 {
				continue
			}
			cw.reload()

		case err, ok := <-cw.fsnotify.Errors:
			if !ok {
				return
			}
			core.LogError("config watcher: %v", err)

		case <-cw.done:
			return
		}
	}
}

func (cw *ConfigWatcher) reload() {
	cfg, err := LoadApplicationConfig(cw.path)
	if err != nil {
		// Editors write in several steps, the next event carries the full file.
		core.LogWarn("ignoring config change: %v", err)
		return
	}
	cw.apply(cfg)
}

func (cw *ConfigWatcher) Close() error {
	var err error
	cw.closeOnce.Do(func() {
		close(cw.done)
		err = cw.fsnotify.Close()
		cw.wg.Wait()
	})
	return err
}
