package storage

import (
	"path/filepath"
	"strings"
	"sync"

	"github.com/fsnotify/fsnotify"

	"github.com/chatpanel-ai/chatpanel/internal/event"
	"github.com/chatpanel-ai/chatpanel/internal/logging"
)

// Watcher monitors the conversation directory for external changes and
// republishes the list when files appear, change or disappear. Only works on
// the OS filesystem; stores backed by an in-memory fs skip it.
type Watcher struct {
	watcher *fsnotify.Watcher
	store   *Conversations
	bus     *event.Bus
	stopCh  chan struct{}
	doneCh  chan struct{}
	started bool
	mu      sync.Mutex
}

// NewWatcher creates a watcher for the store's directory.
func NewWatcher(store *Conversations, bus *event.Bus) (*Watcher, error) {
	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(store.Dir()); err != nil {
		w.Close()
		return nil, err
	}
	return &Watcher{
		watcher: w,
		store:   store,
		bus:     bus,
		stopCh:  make(chan struct{}),
		doneCh:  make(chan struct{}),
	}, nil
}

// Start begins watching in a background goroutine.
func (w *Watcher) Start() {
	w.mu.Lock()
	if w.started {
		w.mu.Unlock()
		return
	}
	w.started = true
	w.mu.Unlock()

	go w.loop()
}

// Stop stops watching and waits for the loop to exit.
func (w *Watcher) Stop() {
	w.mu.Lock()
	if !w.started {
		w.mu.Unlock()
		w.watcher.Close()
		return
	}
	w.mu.Unlock()

	close(w.stopCh)
	<-w.doneCh
	w.watcher.Close()
}

func (w *Watcher) loop() {
	defer close(w.doneCh)
	log := logging.For("storage")

	for {
		select {
		case <-w.stopCh:
			return
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return
			}
			if !strings.HasSuffix(ev.Name, ".json") {
				continue
			}
			if ev.Op.Has(fsnotify.Remove) || ev.Op.Has(fsnotify.Rename) {
				w.bus.Publish(event.Event{
					Type: event.ConversationDeleted,
					Data: event.ConversationDeletedData{Filename: filepath.Base(ev.Name)},
				})
			}
			metas, err := w.store.List()
			if err != nil {
				log.Warn().Err(err).Msg("failed to list conversations")
				continue
			}
			w.bus.Publish(event.Event{
				Type: event.ConversationsListed,
				Data: event.ConversationsListedData{Conversations: metas},
			})
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return
			}
			log.Warn().Err(err).Msg("watch error")
		}
	}
}
