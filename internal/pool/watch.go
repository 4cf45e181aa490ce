package pool

import (
	"context"

	"github.com/fsnotify/fsnotify"
	"go.uber.org/zap"
)

// WatchPersonas watches a directory for persona files being created or
// rewritten and invokes fn for each parsed persona. It blocks until
// the context is cancelled. Malformed files are logged and skipped so
// a half-written file never stops the watcher.
func WatchPersonas(ctx context.Context, dir string, log *zap.SugaredLogger, fn func(Persona)) error {
	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		return err
	}
	defer watcher.Close()

	if err := watcher.Add(dir); err != nil {
		return err
	}
	log.Debugf("[pool] watching persona dir %s", dir)

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case event, ok := <-watcher.Events:
			if !ok {
				return nil
			}
			if !event.Has(fsnotify.Create) && !event.Has(fsnotify.Write) {
				continue
			}
			if !isPersonaFile(event.Name) {
				continue
			}
			p, err := LoadPersona(event.Name)
			if err != nil {
				log.Warnf("[pool] skipping persona %s: %v", event.Name, err)
				continue
			}
			fn(p)
		case err, ok := <-watcher.Errors:
			if !ok {
				return nil
			}
			log.Warnf("[pool] persona watcher error: %v", err)
		}
	}
}
