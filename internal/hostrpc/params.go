package hostrpc

import (
	"encoding/json"

	"routekit/internal/wire"
)

type openParams struct {
	RootPath    string          `json:"rootPath"`
	ProjectPath string          `json:"projectPath"`
	Watch       bool            `json:"watch"`
	NextConfig  json.RawMessage `json:"nextConfig,omitempty"`
	MemoryLimit *int64          `json:"memoryLimit,omitempty"`
}

type openResult struct {
	Project string `json:"project"`
}

type projectParams struct {
	Project string `json:"project"`
}

type subscribeResult struct {
	Subscription string `json:"subscription"`
}

type subscriptionParams struct {
	Subscription string `json:"subscription"`
}

type resolveParams struct {
	Project  string `json:"project"`
	Endpoint uint64 `json:"endpoint"`
}

// UpdateParams are the params of an entrypoints/update notification.
type UpdateParams struct {
	Subscription string `json:"subscription"`
	wire.Update
}

// initializationData is attached to CodeInitialization errors.
type initializationData struct {
	Field  string `json:"field"`
	Reason string `json:"reason"`
}

// nextConfigBlob accepts either a JSON object or a JSON string holding one.
func nextConfigBlob(raw json.RawMessage) (string, error) {
	if len(raw) == 0 || string(raw) == "null" {
		return "", nil
	}
	if raw[0] == '"' {
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	}
	return string(raw), nil
}
