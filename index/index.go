// Package index persists the session resume index. The index maps a
// (work item, persona) pair to the most recent session, so reopening a
// conversation after a restart can pick up where it left off.
package index

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"
)

// DefaultRetention is how long entries survive without activity before
// Cleanup removes them.
const DefaultRetention = 30 * 24 * time.Hour

// untrackedKey groups sessions without a work item.
const untrackedKey = "untracked"

// Entry is the resume metadata for one (work item, persona) pair.
type Entry struct {
	// SessionID is this system's session UUID.
	SessionID string `json:"sessionId"`
	// VendorToken is the CLI-provided session identifier used for native
	// resume, when the backend reported one.
	VendorToken string `json:"cliSessionId,omitempty"`
	// LastActive is seconds since the Unix epoch.
	LastActive int64 `json:"lastActive"`
	// BackendID names the backend the session ran on.
	BackendID string `json:"backendId"`
	// WorkItemID and Persona repeat the key components so lookups by
	// session id can recover them without parsing the key, which is
	// ambiguous for dashed work-item ids.
	WorkItemID string `json:"beadId,omitempty"`
	Persona    string `json:"persona"`
}

type indexFile struct {
	Sessions map[string]Entry `json:"sessions"`
}

// Index is the on-disk resume index. Every mutation re-reads the file,
// applies the change, and writes it back under a lock, so concurrent
// mutations from one process serialize cleanly and external edits between
// calls are picked up.
type Index struct {
	mu   sync.Mutex
	path string
}

// New creates an index backed by the given file path.
func New(path string) *Index {
	return &Index{path: path}
}

// Key builds the lookup key for a work item and persona.
func Key(workItemID, persona string) string {
	if workItemID == "" {
		workItemID = untrackedKey
	}
	return workItemID + "-" + persona
}

// FindRecent returns the most recent session for a work item and persona.
// The second return is false when no entry exists.
func (ix *Index) FindRecent(workItemID, persona string) (Entry, bool, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	file, err := ix.load()
	if err != nil {
		return Entry{}, false, err
	}
	entry, ok := file.Sessions[Key(workItemID, persona)]
	return entry, ok, nil
}

// RecordForResume upserts the entry for a work item and persona, stamping
// it with the current time. The newest record for a key always wins.
func (ix *Index) RecordForResume(workItemID, persona, sessionID, vendorToken, backendID string) error {
	return ix.mutate(func(file *indexFile) {
		file.Sessions[Key(workItemID, persona)] = Entry{
			SessionID:   sessionID,
			VendorToken: vendorToken,
			LastActive:  time.Now().Unix(),
			BackendID:   backendID,
			WorkItemID:  workItemID,
			Persona:     persona,
		}
	})
}

// Touch refreshes the last-active time for a work item and persona. A
// missing entry is a no-op.
func (ix *Index) Touch(workItemID, persona string) error {
	return ix.mutate(func(file *indexFile) {
		key := Key(workItemID, persona)
		if entry, ok := file.Sessions[key]; ok {
			entry.LastActive = time.Now().Unix()
			file.Sessions[key] = entry
		}
	})
}

// Remove deletes the entry for a work item and persona.
func (ix *Index) Remove(workItemID, persona string) error {
	return ix.mutate(func(file *indexFile) {
		delete(file.Sessions, Key(workItemID, persona))
	})
}

// Cleanup removes entries that have been inactive longer than retention
// and returns how many were removed.
func (ix *Index) Cleanup(retention time.Duration) (int, error) {
	cutoff := time.Now().Add(-retention).Unix()
	removed := 0
	err := ix.mutate(func(file *indexFile) {
		for key, entry := range file.Sessions {
			if entry.LastActive < cutoff {
				delete(file.Sessions, key)
				removed++
			}
		}
	})
	if err != nil {
		return 0, err
	}
	return removed, nil
}

// All returns every entry keyed by "{workItem}-{persona}".
func (ix *Index) All() (map[string]Entry, error) {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	file, err := ix.load()
	if err != nil {
		return nil, err
	}
	return file.Sessions, nil
}

func (ix *Index) mutate(apply func(*indexFile)) error {
	ix.mu.Lock()
	defer ix.mu.Unlock()

	file, err := ix.load()
	if err != nil {
		return err
	}
	apply(file)
	return ix.save(file)
}

func (ix *Index) load() (*indexFile, error) {
	file := &indexFile{Sessions: make(map[string]Entry)}

	data, err := os.ReadFile(ix.path)
	if err != nil {
		if os.IsNotExist(err) {
			return file, nil
		}
		return nil, fmt.Errorf("read session index: %w", err)
	}

	if err := json.Unmarshal(data, file); err != nil {
		return nil, fmt.Errorf("parse session index %s: %w", ix.path, err)
	}
	if file.Sessions == nil {
		file.Sessions = make(map[string]Entry)
	}
	return file, nil
}

func (ix *Index) save(file *indexFile) error {
	if err := os.MkdirAll(filepath.Dir(ix.path), 0755); err != nil {
		return fmt.Errorf("create index directory: %w", err)
	}

	data, err := json.MarshalIndent(file, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal session index: %w", err)
	}
	if err := os.WriteFile(ix.path, data, 0644); err != nil {
		return fmt.Errorf("write session index: %w", err)
	}
	return nil
}
