package main

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// FileConfig is the optional YAML config file. Flags override it;
// every field has a flag and an HIVE_* environment fallback, so the
// file is a convenience, never a requirement.
type FileConfig struct {
	Coordinator struct {
		ID                string  `yaml:"id"`
		ListenAddr        string  `yaml:"listen_addr"`
		HeartbeatInterval int     `yaml:"heartbeat_interval"`
		WorkerTTL         int     `yaml:"worker_ttl"`
		EdgeRouterURL     string  `yaml:"edge_router_url"`
		TunnelURL         string  `yaml:"tunnel_url"`
		Location          string  `yaml:"location"`
		DHTPort           int     `yaml:"dht_port"`
		RateLimit         float64 `yaml:"rate_limit"`
	} `yaml:"coordinator"`

	Agent struct {
		CoordinatorURL      string `yaml:"coordinator_url"`
		WorkerID            string `yaml:"worker_id"`
		WorkerType          string `yaml:"worker_type"`
		ListenAddr          string `yaml:"listen_addr"`
		MeshIP              string `yaml:"mesh_ip"`
		TunnelMode          string `yaml:"tunnel_mode"`
		TunnelBinary        string `yaml:"tunnel_binary"`
		TunnelName          string `yaml:"tunnel_name"`
		TunnelURL           string `yaml:"tunnel_url"`
		ServiceReadyTimeout int    `yaml:"service_ready_timeout"`
		ContainerdSocket    string `yaml:"containerd_socket"`
	} `yaml:"agent"`

	Edge struct {
		ListenAddr     string `yaml:"listen_addr"`
		CoordinatorTTL int    `yaml:"coordinator_ttl"`
		DataDir        string `yaml:"data_dir"`
	} `yaml:"edge"`
}

// loadFileConfig reads the YAML file at path. An empty path returns an
// empty config.
func loadFileConfig(path string) (*FileConfig, error) {
	cfg := &FileConfig{}
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}
	return cfg, nil
}

// pick returns the first non-zero string.
func pick(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

// pickInt returns the first non-zero int.
func pickInt(values ...int) int {
	for _, v := range values {
		if v != 0 {
			return v
		}
	}
	return 0
}
