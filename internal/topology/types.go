package topology

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/muatool/dashboard/internal/injection"
	"github.com/muatool/dashboard/internal/partition"
)

// Key identifies the window set of one (tool, account) pair.
type Key struct {
	ToolType  string
	AccountID string
}

func (k Key) String() string { return k.ToolType + "_" + k.AccountID }

// State is the lifecycle of a key.
type State int

const (
	Closed State = iota
	Opening
	Open
)

func (s State) String() string {
	switch s {
	case Opening:
		return "opening"
	case Open:
		return "open"
	default:
		return "closed"
	}
}

// ToolData is what tool pages read for credit display and export limits.
type ToolData struct {
	Credit           float64 `json:"credit"`
	AccountID        string  `json:"accountId"`
	CanPerformAction bool    `json:"canPerformAction"`
	MaxRowsPerExport int     `json:"maxRowsPerExport"`
	ExportCount      int     `json:"exportCount"`
	MaxExports       int     `json:"maxExports"`
	MaxRowsPerMonth  int     `json:"max_rows_per_month"`
}

// FlexString decodes a JSON string or number into a string.
type FlexString string

func (f *FlexString) UnmarshalJSON(b []byte) error {
	b = bytes.TrimSpace(b)
	if len(b) == 0 || string(b) == "null" {
		*f = ""
		return nil
	}
	if b[0] == '"' {
		var s string
		if err := json.Unmarshal(b, &s); err != nil {
			return err
		}
		*f = FlexString(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(b, &n); err != nil {
		return fmt.Errorf("id: %w", err)
	}
	*f = FlexString(n.String())
	return nil
}

// OpenTabEvent is the open-tool-tab push.
type OpenTabEvent struct {
	ToolType         string          `json:"tool_type"`
	ID               FlexString      `json:"id"`
	URL              string          `json:"url"`
	LoginURL         string          `json:"login_url"`
	Cookies          json.RawMessage `json:"cookies"`
	LocalStorage     json.RawMessage `json:"localstorage"`
	ProxyCookie      string          `json:"proxy_cookie"`
	UserAgent        string          `json:"user_agent"`
	Token            string          `json:"token"`
	Credit           float64         `json:"credit"`
	MaxRowsPerExport int             `json:"maxRowsPerExport"`
	ExportCount      int             `json:"exportCount"`
	MaxExports       int             `json:"maxExports"`
	MaxRowsPerMonth  int             `json:"max_rows_per_month"`
}

// Key returns the event's window key.
func (e OpenTabEvent) Key() Key {
	return Key{ToolType: e.ToolType, AccountID: string(e.ID)}
}

// ToolData fills limits the event omits with their defaults.
func (e OpenTabEvent) ToolData() ToolData {
	td := ToolData{
		Credit:           e.Credit,
		AccountID:        string(e.ID),
		CanPerformAction: true,
		MaxRowsPerExport: e.MaxRowsPerExport,
		ExportCount:      e.ExportCount,
		MaxExports:       e.MaxExports,
		MaxRowsPerMonth:  e.MaxRowsPerMonth,
	}
	if td.MaxRowsPerExport == 0 {
		td.MaxRowsPerExport = 1000
	}
	if td.MaxExports == 0 {
		td.MaxExports = 100
	}
	if td.MaxRowsPerMonth == 0 {
		td.MaxRowsPerMonth = 150000
	}
	return td
}

// NormalizeStorage decodes a storage snapshot given as a JSON object or as a
// JSON string holding one.
func NormalizeStorage(raw json.RawMessage) (map[string]any, error) {
	trimmed := strings.TrimSpace(string(raw))
	if trimmed == "" || trimmed == "null" {
		return nil, nil
	}
	if strings.HasPrefix(trimmed, `"`) {
		var inner string
		if err := json.Unmarshal(raw, &inner); err != nil {
			return nil, fmt.Errorf("decode storage string: %w", err)
		}
		inner = strings.TrimSpace(inner)
		if inner == "" || inner == "{}" {
			return nil, nil
		}
		raw = json.RawMessage(inner)
	}
	var m map[string]any
	if err := json.Unmarshal(raw, &m); err != nil {
		return nil, fmt.Errorf("decode storage: %w", err)
	}
	return m, nil
}

// Meta is the side-table record of one window.
type Meta struct {
	Token        string
	ToolType     string
	AccountID    string
	Partition    string
	UserAgent    string
	ParentID     string
	ToolData     ToolData
	Cookies      []partition.Cookie
	LocalStorage map[string]any
	Injections   *injection.Bundle
}

// inherit returns the record a child spawned from m starts with.
func (m *Meta) inherit(parentID string) *Meta {
	c := *m
	c.ParentID = parentID
	c.ToolData.AccountID = m.AccountID
	c.ToolData.CanPerformAction = true
	c.Cookies = append([]partition.Cookie(nil), m.Cookies...)
	c.Injections = m.Injections.Clone()
	return &c
}

// OpenResult describes what Open did.
type OpenResult struct {
	Key         Key               `json:"-"`
	Partition   string            `json:"partition"`
	WindowID    string            `json:"windowId"`
	AlreadyOpen bool              `json:"alreadyOpen"`
	Cookies     partition.Summary `json:"cookies"`
}

// ToolInfo is the query view of an open tool.
type ToolInfo struct {
	ToolType  string   `json:"toolType"`
	AccountID string   `json:"accountId"`
	Partition string   `json:"partition"`
	Windows   int      `json:"windows"`
	State     string   `json:"state"`
	ToolData  ToolData `json:"toolData"`
	URL       string   `json:"url"`
}
