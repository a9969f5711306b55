package topology

import (
	"context"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
)

// ApplyCookies writes cookies into every partition that has an open window
// of toolType. It returns the combined summary and the number of partitions
// written; zero partitions means nothing of the tool is open.
func (c *Controller) ApplyCookies(ctx context.Context, toolType string, cookies []partition.Cookie) (partition.Summary, int) {
	var total partition.Summary
	seen := make(map[string]bool)
	for _, name := range c.toolPartitions(toolType) {
		if seen[name] {
			continue
		}
		seen[name] = true
		h := c.handle(name)
		if h == nil {
			continue
		}
		sum := c.parts.ApplyCookies(ctx, h.Context, cookies)
		total.Applied += sum.Applied
		total.Failed += sum.Failed
	}
	c.logger.Info("tool cookies applied", "tool", toolType, "partitions", len(seen),
		"applied", total.Applied, "failed", total.Failed)
	return total, len(seen)
}

// ApplyStorage writes items into the localStorage of every open window of
// toolType and records them for later reloads. It returns how many windows
// took the write.
func (c *Controller) ApplyStorage(ctx context.Context, toolType string, items map[string]any) int {
	if len(items) == 0 {
		return 0
	}
	script := injection.LocalStorageScript(items)
	n := 0
	for _, s := range c.ToolWindows(toolType) {
		if w := c.window(s.ID()); w != nil {
			c.mu.Lock()
			merged := make(map[string]any, len(w.meta.LocalStorage)+len(items))
			for k, v := range w.meta.LocalStorage {
				merged[k] = v
			}
			for k, v := range items {
				merged[k] = v
			}
			w.meta.LocalStorage = merged
			c.mu.Unlock()
		}
		if _, err := s.Eval(ctx, script); err != nil {
			c.logger.Warn("storage write failed", "tool", toolType, "window", s.ID(), "error", err)
			continue
		}
		n++
	}
	return n
}

func (c *Controller) toolPartitions(toolType string) []string {
	var names []string
	for _, s := range c.ToolWindows(toolType) {
		if m, ok := c.Meta(s.ID()); ok && m.Partition != "" {
			names = append(names, m.Partition)
		}
	}
	return names
}

// CloseToken closes, without an alert, every window opened with token.
func (c *Controller) CloseToken(token string) int {
	if token == "" {
		return 0
	}
	wins := c.detach(func(_ Key, root *Meta) bool {
		return root != nil && root.Token == token
	})
	for _, s := range wins {
		_ = s.Close()
	}
	return len(wins)
}
