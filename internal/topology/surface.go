package topology

import (
	"context"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
)

// Surface is one visible browsing window.
type Surface interface {
	injection.Target
	ID() string
	Navigate(ctx context.Context, url string) error
	SetTitle(title string) error
	Focus() error
	Show() error
	Close() error
}

// Hooks are the window events the controller reacts to. Backends call them
// off their event loop, so a hook may block.
type Hooks struct {
	// AllowPopup is asked before a popup of parent becomes a window. A
	// denied popup is never created.
	AllowPopup func(parent Surface) bool
	// OnPopup receives a created popup. The child gets the same hooks.
	OnPopup func(parent, child Surface)
	// OnLoad fires each time a page finishes loading.
	OnLoad func(s Surface)
	// OnClose fires once when the window is gone.
	OnClose func(s Surface)
}

// SurfaceOptions describes a root window.
type SurfaceOptions struct {
	Title  string
	Width  int
	Height int
	// SingleTabMessage, when set, is shown instead of opening new tabs.
	SingleTabMessage string
	Hooks            Hooks
}

// Factory creates root windows inside a partition.
type Factory interface {
	NewSurface(ctx context.Context, pctx partition.Context, opts SurfaceOptions) (Surface, error)
}

// Partitions is the slice of the partition manager the controller drives.
type Partitions interface {
	Provision(ctx context.Context, req partition.Request) (*partition.Handle, partition.Summary, error)
	ApplyCookies(ctx context.Context, jar partition.Jar, cookies []partition.Cookie) partition.Summary
	Close(name string) error
}

// Emitter sends fire-and-forget events to the authority.
type Emitter interface {
	Emit(event string, payload any) error
}

// Notifier shows a message to the user outside any page.
type Notifier interface {
	Notify(title, body string)
}
