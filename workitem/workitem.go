// Package workitem provides a client for the external `bd` work-item CLI.
// Sessions attach to work items ("beads") by id; the client fetches item
// details for persona prompt construction and lists the ready queue for
// autonomous processing.
package workitem

import (
	"context"
	"encoding/json"
	"fmt"
	"sort"
	"strings"

	"github.com/beadflow/agent-core/exec"
)

// Issue types that are decomposed rather than executed directly.
const (
	TypeEpic    = "epic"
	TypeFeature = "feature"
	TypeTask    = "task"
	TypeBug     = "bug"
)

// StatusClosed is the terminal work-item status.
const StatusClosed = "closed"

// Item represents one work item as reported by the bd CLI.
type Item struct {
	ID            string                     `json:"id"`
	Title         string                     `json:"title"`
	Description   string                     `json:"description,omitempty"`
	IssueType     string                     `json:"issue_type"`
	Status        string                     `json:"status"`
	Priority      int                        `json:"priority"`
	Labels        []string                   `json:"labels,omitempty"`
	ExtraMetadata map[string]json.RawMessage `json:"extra_metadata,omitempty"`
}

// Role returns the specialist role for the item, if any.
// A `specialist:<role>` label wins; otherwise the `role` key in
// extra_metadata is used. Returns empty when neither is present.
func (it Item) Role() string {
	for _, label := range it.Labels {
		if role, ok := strings.CutPrefix(label, "specialist:"); ok {
			return role
		}
	}
	if raw, ok := it.ExtraMetadata["role"]; ok {
		var role string
		if err := json.Unmarshal(raw, &role); err == nil {
			return role
		}
	}
	return ""
}

// NeedsDecomposition reports whether the item should be broken down into
// child tasks instead of executed directly.
func (it Item) NeedsDecomposition() bool {
	return it.IssueType == TypeEpic || it.IssueType == TypeFeature
}

// Client fetches work items by shelling out to the bd CLI in the work-tree
// root. The executor is injectable so tests never spawn processes.
type Client struct {
	executor exec.CommandExecutor
	rootDir  string
}

// NewClient creates a work-item client that runs bd in rootDir.
func NewClient(executor exec.CommandExecutor, rootDir string) *Client {
	return &Client{executor: executor, rootDir: rootDir}
}

// Show fetches full details for a single work item.
func (c *Client) Show(ctx context.Context, id string) (Item, error) {
	out, err := c.executor.Output(ctx, c.rootDir, "bd", "show", id, "--json")
	if err != nil {
		return Item{}, fmt.Errorf("bd show %s: %w", id, err)
	}

	// bd show returns a single-element array
	var items []Item
	if err := json.Unmarshal(out, &items); err != nil {
		return Item{}, fmt.Errorf("bd show %s: parse output: %w", id, err)
	}
	if len(items) == 0 {
		return Item{}, fmt.Errorf("bd show %s: no item returned", id)
	}
	return items[0], nil
}

// ShowJSON fetches a work item and returns its pretty-printed JSON for
// embedding in persona prompts.
func (c *Client) ShowJSON(ctx context.Context, id string) (Item, string, error) {
	item, err := c.Show(ctx, id)
	if err != nil {
		return Item{}, "", err
	}
	pretty, err := json.MarshalIndent(item, "", "  ")
	if err != nil {
		return Item{}, "", fmt.Errorf("marshal work item %s: %w", id, err)
	}
	return item, string(pretty), nil
}

// Ready lists work items in the ready state, sorted by ascending priority.
func (c *Client) Ready(ctx context.Context) ([]Item, error) {
	out, err := c.executor.Output(ctx, c.rootDir, "bd", "ready", "--json")
	if err != nil {
		return nil, fmt.Errorf("bd ready: %w", err)
	}

	var items []Item
	if err := json.Unmarshal(out, &items); err != nil {
		return nil, fmt.Errorf("bd ready: parse output: %w", err)
	}

	sort.SliceStable(items, func(i, j int) bool {
		return items[i].Priority < items[j].Priority
	})
	return items, nil
}

// ReadyHighPriority lists ready items with priority at or below maxPriority
// (lower number means more urgent), sorted by ascending priority.
func (c *Client) ReadyHighPriority(ctx context.Context, maxPriority int) ([]Item, error) {
	items, err := c.Ready(ctx)
	if err != nil {
		return nil, err
	}

	var filtered []Item
	for _, it := range items {
		if it.Priority <= maxPriority {
			filtered = append(filtered, it)
		}
	}
	return filtered, nil
}
