package types

import (
	"encoding/json"

	"github.com/muatool/dashboard/internal/channel"
	"github.com/muatool/dashboard/internal/device"
	"github.com/muatool/dashboard/internal/topology"
)

type HealthResponse struct {
	Status    string `json:"status"`
	Version   string `json:"version"`
	Timestamp string `json:"timestamp"`
}

type MessageResponse struct {
	Success bool   `json:"success"`
	Message string `json:"message,omitempty"`
}

// Device

type DeviceInfoResponse struct {
	Success    bool                 `json:"success"`
	DeviceID   string               `json:"deviceId"`
	DeviceInfo device.ServerPayload `json:"deviceInfo"`
}

// Token

type TokenRequest struct {
	Token string `json:"token" form:"token"`
}

type ValidateTokenResponse struct {
	Success bool           `json:"success"`
	Result  map[string]any `json:"result,omitempty"`
}

// Tools

type OpenToolRequest struct {
	Tool  string `json:"tool"`
	Token string `json:"token"`
}

type ApplyCookiesRequest struct {
	Tool    string          `path:"tool"`
	Cookies json.RawMessage `json:"cookies"`
}

type ApplyCookiesResponse struct {
	Success       bool   `json:"success"`
	AppliedCount  int    `json:"appliedCount"`
	FailedCount   int    `json:"failedCount"`
	SessionsCount int    `json:"sessionsCount"`
	Cached        bool   `json:"cached"`
	Storage       string `json:"storage"`
}

type ApplyStorageRequest struct {
	Tool    string          `path:"tool"`
	Storage json.RawMessage `json:"storage"`
}

type ApplyStorageResponse struct {
	Success bool `json:"success"`
	Windows int  `json:"windows"`
}

type SetProxyRequest struct {
	Tool  string `path:"tool"`
	Proxy string `json:"proxy"`
}

type SetProxyResponse struct {
	Success    bool     `json:"success"`
	Partitions []string `json:"partitions"`
}

type ToolPathRequest struct {
	Tool string `path:"tool"`
}

type ClearToolResponse struct {
	Success           bool `json:"success"`
	ClearedPartitions int  `json:"clearedPartitions"`
}

type CleanupResponse struct {
	Success         bool `json:"success"`
	ClearedSessions int  `json:"clearedSessions"`
}

type ToolInfoResponse struct {
	Success bool `json:"success"`
	topology.ToolInfo
}

type ToolCookiesRequest struct {
	Tool      string `path:"tool"`
	Token     string `form:"token"`
	AccountID string `form:"accountId"`
}

type ToolActionRequest struct {
	Tool   string         `path:"tool"`
	Token  string         `json:"token"`
	Action string         `json:"action"`
	Params map[string]any `json:"params"`
}

type ToolStateRequest struct {
	Tool    string         `path:"tool"`
	Token   string         `json:"token" form:"token"`
	Updates map[string]any `json:"updates"`
}

type InitSessionRequest struct {
	Tool     string `path:"tool"`
	Token    string `json:"token"`
	ToolID   string `json:"toolId"`
	ClientID string `json:"clientId"`
}

type CloseSessionRequest struct {
	Tool      string `path:"tool"`
	SessionID string `path:"sessionId"`
	Token     string `form:"token"`
}

type LatestPartitionRequest struct {
	Tool      string `path:"tool"`
	AccountID string `form:"accountId"`
}

// Credit

type CheckCreditRequest struct {
	Token  string `json:"token"`
	Tool   string `json:"tool"`
	Action string `json:"action"`
}

// Connection

type ConnectionResponse struct {
	Success bool          `json:"success"`
	Stats   channel.Stats `json:"stats"`
}

// Accounts

type AccountPathRequest struct {
	ID string `path:"id"`
}
