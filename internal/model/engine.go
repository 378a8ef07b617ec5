package model

import (
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"sort"
	"strings"
	"time"
)

// Engine is an immutable answer-engine configuration. Engines are looked up
// by (project, name, region, device, config hash); a changed configuration
// for the same logical engine creates a new row so historical runs stay
// reproducible.
type Engine struct {
	ID         string         `json:"id"`
	ProjectID  string         `json:"project_id"`
	Name       string         `json:"name"`
	Region     string         `json:"region,omitempty"`
	Device     string         `json:"device,omitempty"`
	Config     map[string]any `json:"config,omitempty"`
	ConfigHash string         `json:"config_hash"`
	CreatedAt  time.Time      `json:"created_at"`
}

// EngineSpec describes an engine as requested by a caller or configured on a
// monitor, before it is resolved to a stored Engine row.
type EngineSpec struct {
	Name   string         `json:"name"`
	Region string         `json:"region,omitempty"`
	Device string         `json:"device,omitempty"`
	Config map[string]any `json:"config,omitempty"`
}

// HashConfig returns a stable hex digest of an engine configuration. Keys are
// sorted so logically equal configs always hash the same.
func HashConfig(config map[string]any) string {
	if len(config) == 0 {
		return ""
	}
	keys := make([]string, 0, len(config))
	for k := range config {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	var b strings.Builder
	for _, k := range keys {
		v, err := json.Marshal(config[k])
		if err != nil {
			continue
		}
		b.WriteString(k)
		b.WriteByte('=')
		b.Write(v)
		b.WriteByte(';')
	}
	sum := sha256.Sum256([]byte(b.String()))
	return hex.EncodeToString(sum[:8])
}
