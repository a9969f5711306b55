package browser

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
)

// BrowserKind identifies the type of Chromium-based browser.
type BrowserKind string

const (
	BrowserChrome   BrowserKind = "chrome"
	BrowserEdge     BrowserKind = "edge"
	BrowserChromium BrowserKind = "chromium"
	BrowserCustom   BrowserKind = "custom"
)

// BrowserExecutable represents a found browser binary.
type BrowserExecutable struct {
	Kind BrowserKind
	Path string
}

type candidate struct {
	kind BrowserKind
	path string
}

// FindChromeExecutable finds a system Chrome. A nil result with no error
// means none is installed and the bundled Chromium should be used.
func FindChromeExecutable(customPath string) (*BrowserExecutable, error) {
	if customPath != "" {
		if !fileExists(customPath) {
			return nil, fmt.Errorf("browser executable not found: %s", customPath)
		}
		return &BrowserExecutable{Kind: BrowserCustom, Path: customPath}, nil
	}
	if runtime.GOOS == "linux" {
		if exe := detectDefaultChromiumLinux(); exe != nil {
			return exe, nil
		}
	}
	return firstExisting(chromeCandidates(runtime.GOOS, os.Getenv)), nil
}

// chromeCandidates lists known install locations, Chrome first.
func chromeCandidates(goos string, getenv func(string) string) []candidate {
	switch goos {
	case "darwin":
		home := getenv("HOME")
		return []candidate{
			{BrowserChrome, "/Applications/Google Chrome.app/Contents/MacOS/Google Chrome"},
			{BrowserChrome, filepath.Join(home, "Applications/Google Chrome.app/Contents/MacOS/Google Chrome")},
			{BrowserEdge, "/Applications/Microsoft Edge.app/Contents/MacOS/Microsoft Edge"},
			{BrowserChromium, "/Applications/Chromium.app/Contents/MacOS/Chromium"},
		}
	case "windows":
		var out []candidate
		if local := getenv("LOCALAPPDATA"); local != "" {
			out = append(out, candidate{BrowserChrome, filepath.Join(local, "Google", "Chrome", "Application", "chrome.exe")})
		}
		programFiles := getenv("ProgramFiles")
		if programFiles == "" {
			programFiles = `C:\Program Files`
		}
		programFilesX86 := getenv("ProgramFiles(x86)")
		if programFilesX86 == "" {
			programFilesX86 = `C:\Program Files (x86)`
		}
		return append(out,
			candidate{BrowserChrome, filepath.Join(programFiles, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserChrome, filepath.Join(programFilesX86, "Google", "Chrome", "Application", "chrome.exe")},
			candidate{BrowserEdge, filepath.Join(programFilesX86, "Microsoft", "Edge", "Application", "msedge.exe")},
		)
	case "linux":
		return []candidate{
			{BrowserChrome, "/usr/bin/google-chrome"},
			{BrowserChrome, "/usr/bin/google-chrome-stable"},
			{BrowserChrome, "/usr/bin/chrome"},
			{BrowserEdge, "/usr/bin/microsoft-edge"},
			{BrowserChromium, "/usr/bin/chromium"},
			{BrowserChromium, "/usr/bin/chromium-browser"},
			{BrowserChromium, "/snap/bin/chromium"},
		}
	}
	return nil
}

func firstExisting(cands []candidate) *BrowserExecutable {
	for _, c := range cands {
		if fileExists(c.path) {
			return &BrowserExecutable{Kind: c.kind, Path: c.path}
		}
	}
	return nil
}

func detectDefaultChromiumLinux() *BrowserExecutable {
	out, err := exec.Command("xdg-settings", "get", "default-web-browser").Output()
	if err != nil {
		return nil
	}
	kinds := map[string]BrowserKind{
		"google-chrome.desktop":        BrowserChrome,
		"google-chrome-stable.desktop": BrowserChrome,
		"microsoft-edge.desktop":       BrowserEdge,
		"chromium.desktop":             BrowserChromium,
		"chromium-browser.desktop":     BrowserChromium,
	}
	kind, ok := kinds[strings.TrimSpace(string(out))]
	if !ok {
		return nil
	}
	for _, c := range chromeCandidates("linux", os.Getenv) {
		if c.kind == kind && fileExists(c.path) {
			return &BrowserExecutable{Kind: kind, Path: c.path}
		}
	}
	return nil
}

func fileExists(path string) bool {
	_, err := os.Stat(path)
	return err == nil
}
