package cmd

import (
	_ "embed"
	"fmt"

	sim "github.com/carenet-sim/carenet/sim"
)

//go:embed default_network.yaml
var defaultNetworkYAML []byte

// loadNetwork reads the network file at path, or the embedded default
// network when path is empty.
func loadNetwork(path string) (*sim.NetworkConfig, error) {
	if path == "" {
		cfg, err := sim.ParseNetworkConfig(defaultNetworkYAML)
		if err != nil {
			return nil, fmt.Errorf("embedded default network: %w", err)
		}
		return cfg, nil
	}
	return sim.LoadNetworkConfig(path)
}
