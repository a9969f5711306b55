// Package browser drives Chromium through Playwright. Each partition is one
// persistent browser context with its own user-data directory; its pages are
// the tool windows.
package browser

import "time"

const (
	// DefaultWidth and DefaultHeight size tool windows.
	DefaultWidth  = 1980
	DefaultHeight = 800

	// NavigationTimeout bounds the initial page load of a window.
	NavigationTimeout = 60 * time.Second

	// clearedStorage is what Storage.clearDataForOrigin wipes per origin.
	clearedStorage = "local_storage,indexeddb,websql,cache_storage,service_workers"
)

// chromeArgs are passed to every partition browser.
var chromeArgs = []string{
	"--no-first-run",
	"--no-default-browser-check",
	"--disable-sync",
	"--disable-background-networking",
	"--disable-component-update",
	"--disable-features=Translate,MediaRouter",
	"--disable-session-crashed-bubble",
	"--hide-crash-restore-bubble",
	"--password-store=basic",
}
