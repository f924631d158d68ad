package config

import (
	"crypto/sha256"
	"encoding/json"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/aegisflow/aegis/pkg/logger"
)

// topologyMu guards concurrent reads/writes of the replica topology file.
var topologyMu sync.Mutex

// ReplicaPoolConfig declares the static baseline for one agent-type/
// region replica pool — the autoscaler adjusts DesiredReplicas at
// runtime but always within [MinReplicas, MaxReplicas].
type ReplicaPoolConfig struct {
	AgentType       string `json:"agent_type"`
	Region          string `json:"region"`
	MinReplicas     int    `json:"min_replicas"`
	MaxReplicas     int    `json:"max_replicas"`
	DesiredReplicas int    `json:"desired_replicas"`
}

// TopologyRaw is the top-level shape of the replica topology file.
type TopologyRaw struct {
	Pools []ReplicaPoolConfig `json:"pools"`
}

// TopologySnapshot wraps a TopologyRaw with a content hash and
// timestamp, so a change to the on-disk topology can be detected
// without a full diff.
type TopologySnapshot struct {
	Raw       *TopologyRaw `json:"raw"`
	Hash      string       `json:"hash"`
	CreatedAt string       `json:"created_at"`
}

// LoadTopologyRaw loads the replica topology file, returning an empty
// topology if the file doesn't exist yet.
func LoadTopologyRaw(path string) (*TopologyRaw, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return &TopologyRaw{}, nil
		}
		return nil, err
	}

	var raw TopologyRaw
	if err := json.Unmarshal(data, &raw); err != nil {
		logger.Warn("topology file parse failed", logger.FieldError, err)
		return &TopologyRaw{}, nil
	}
	return &raw, nil
}

// SaveTopology atomically writes the replica topology file: write to a
// temp file, then rename over the target, so a crash mid-write never
// leaves a half-written config behind.
func SaveTopology(path string, data *TopologyRaw) error {
	topologyMu.Lock()
	defer topologyMu.Unlock()

	encoded, err := json.MarshalIndent(data, "", "  ")
	if err != nil {
		return err
	}

	tmpPath := path + ".tmp"
	if err := os.WriteFile(tmpPath, encoded, 0o644); err != nil {
		return err
	}
	return os.Rename(tmpPath, path)
}

// LoadTopologySnapshot loads the topology file and wraps it with a
// content hash and a load timestamp.
func LoadTopologySnapshot(path string) (*TopologySnapshot, error) {
	raw, err := LoadTopologyRaw(path)
	if err != nil {
		return nil, err
	}

	normalized, _ := json.Marshal(raw)
	hash := fmt.Sprintf("sha256:%x", sha256.Sum256(normalized))

	return &TopologySnapshot{
		Raw:       raw,
		Hash:      hash,
		CreatedAt: time.Now().UTC().Format(time.RFC3339),
	}, nil
}
