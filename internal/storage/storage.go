// Package storage persists conversation snapshots as JSON files.
package storage

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"path/filepath"
	"sort"
	"strings"
	"sync"

	"github.com/spf13/afero"

	"github.com/chatpanel-ai/chatpanel/pkg/types"
)

var ErrNotFound = errors.New("not found")

// Conversations stores conversation snapshots under a single directory,
// one JSON file per conversation. Writes are atomic (temp file + rename).
type Conversations struct {
	fs  afero.Fs
	dir string
	mu  sync.Mutex
}

// New creates a store rooted at dir on the OS filesystem.
func New(dir string) *Conversations {
	return NewWithFs(afero.NewOsFs(), dir)
}

// NewWithFs creates a store on the given filesystem; tests pass a MemMapFs.
func NewWithFs(fs afero.Fs, dir string) *Conversations {
	return &Conversations{fs: fs, dir: dir}
}

// Dir returns the storage directory.
func (c *Conversations) Dir() string { return c.dir }

// path maps a conversation name to its file, rejecting traversal.
func (c *Conversations) path(name string) (string, error) {
	name = strings.TrimSuffix(name, ".json")
	if name == "" || strings.ContainsAny(name, `/\`) || name == "." || name == ".." {
		return "", fmt.Errorf("invalid conversation name: %q", name)
	}
	return filepath.Join(c.dir, name+".json"), nil
}

// Save writes a snapshot atomically.
func (c *Conversations) Save(name string, snap types.Snapshot) error {
	path, err := c.path(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.MkdirAll(c.dir, 0o755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	data, err := json.MarshalIndent(snap, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal: %w", err)
	}

	tmp := path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write temp file: %w", err)
	}
	if err := c.fs.Rename(tmp, path); err != nil {
		_ = c.fs.Remove(tmp)
		return fmt.Errorf("failed to rename file: %w", err)
	}
	return nil
}

// Load reads a snapshot.
func (c *Conversations) Load(name string) (types.Snapshot, error) {
	var snap types.Snapshot

	path, err := c.path(name)
	if err != nil {
		return snap, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) || errors.Is(err, afero.ErrFileNotFound) {
			return snap, ErrNotFound
		}
		return snap, fmt.Errorf("failed to read file: %w", err)
	}
	if err := json.Unmarshal(data, &snap); err != nil {
		return snap, fmt.Errorf("failed to unmarshal: %w", err)
	}
	return snap, nil
}

// Delete removes a conversation. Deleting an absent file is not an error.
func (c *Conversations) Delete(name string) error {
	path, err := c.path(name)
	if err != nil {
		return err
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if err := c.fs.Remove(path); err != nil {
		if exists, _ := afero.Exists(c.fs, path); !exists {
			return nil
		}
		return fmt.Errorf("failed to delete file: %w", err)
	}
	return nil
}

// List returns the stored conversations, most recently modified first.
func (c *Conversations) List() ([]types.ConversationMeta, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	infos, err := afero.ReadDir(c.fs, c.dir)
	if err != nil {
		if exists, _ := afero.DirExists(c.fs, c.dir); !exists {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to read directory: %w", err)
	}

	var metas []types.ConversationMeta
	for _, info := range infos {
		if info.IsDir() || !strings.HasSuffix(info.Name(), ".json") {
			continue
		}
		metas = append(metas, types.ConversationMeta{
			Filename:  info.Name(),
			Title:     c.title(filepath.Join(c.dir, info.Name())),
			UpdatedAt: info.ModTime().UnixMilli(),
		})
	}
	sort.Slice(metas, func(i, j int) bool {
		return metas[i].UpdatedAt > metas[j].UpdatedAt
	})
	return metas, nil
}

// title derives a list title from the first user message of a snapshot.
func (c *Conversations) title(path string) string {
	data, err := afero.ReadFile(c.fs, path)
	if err != nil {
		return ""
	}
	var snap types.Snapshot
	if err := json.Unmarshal(data, &snap); err != nil {
		return ""
	}
	for _, m := range snap.Messages {
		if m != nil && m.Kind == types.KindUserInput && m.Text != "" {
			const max = 64
			if len(m.Text) > max {
				return m.Text[:max]
			}
			return m.Text
		}
	}
	return ""
}
