package main

import (
	"errors"
	"fmt"
	"math/big"
	"os"
	"time"

	btbclient "github.com/btb-finance/btb-chain-client"
	"github.com/btb-finance/btb-chain-client/connection"
	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"
)

// FileConfig is the YAML layout of a btbctl configuration file.
type FileConfig struct {
	Network   NetworkConfig   `yaml:"network"`
	Contracts ContractsConfig `yaml:"contracts"`

	CacheWindow          time.Duration `yaml:"cacheWindow"`
	ProgressiveBatchSize int           `yaml:"progressiveBatchSize"`

	Multicall MulticallConfig `yaml:"multicall"`
	Batch     BatchConfig     `yaml:"batch"`
}

type NetworkConfig struct {
	ChainID      int64  `yaml:"chainID"`
	Name         string `yaml:"name"`
	RpcURL       string `yaml:"rpcURL"`
	Explorer     string `yaml:"explorer"`
	NativeSymbol string `yaml:"nativeSymbol"`
}

type ContractsConfig struct {
	Game    string `yaml:"game"`
	Bear    string `yaml:"bear"`
	BTB     string `yaml:"btb"`
	MiMo    string `yaml:"mimo"`
	LP      string `yaml:"lp"`
	Staking string `yaml:"staking"`
	Swap    string `yaml:"swap"`
}

type MulticallConfig struct {
	ChunkSize         int           `yaml:"chunkSize"`
	ChunkDelay        time.Duration `yaml:"chunkDelay"`
	MaxAttempts       int           `yaml:"maxAttempts"`
	RetryBaseDelay    time.Duration `yaml:"retryBaseDelay"`
	RequestsPerSecond float64       `yaml:"requestsPerSecond"`
}

type BatchConfig struct {
	Interval         time.Duration `yaml:"interval"`
	EstimateTimeout  time.Duration `yaml:"estimateTimeout"`
	FallbackGasLimit uint64        `yaml:"fallbackGasLimit"`
}

// LoadConfig reads and validates a configuration file. An RPC URL given in
// the environment overrides the file.
func LoadConfig(path string) (*FileConfig, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read config file: %w", err)
	}
	return parseConfig(data)
}

func parseConfig(data []byte) (*FileConfig, error) {
	var cfg FileConfig
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	if url := os.Getenv("BTB_RPC_URL"); url != "" {
		cfg.Network.RpcURL = url
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func (c *FileConfig) validate() error {
	if c.Network.ChainID <= 0 {
		return errors.New("network.chainID must be positive")
	}
	if c.Network.RpcURL == "" {
		return errors.New("network.rpcURL is required (or set BTB_RPC_URL)")
	}
	required := map[string]string{
		"contracts.game": c.Contracts.Game,
		"contracts.bear": c.Contracts.Bear,
		"contracts.btb":  c.Contracts.BTB,
		"contracts.mimo": c.Contracts.MiMo,
	}
	for field, v := range required {
		if v == "" {
			return fmt.Errorf("%s is required", field)
		}
	}
	optional := map[string]string{
		"contracts.lp":      c.Contracts.LP,
		"contracts.staking": c.Contracts.Staking,
		"contracts.swap":    c.Contracts.Swap,
	}
	for field, v := range required {
		optional[field] = v
	}
	for field, v := range optional {
		if v != "" && !common.IsHexAddress(v) {
			return fmt.Errorf("%s: %q is not an address", field, v)
		}
	}
	if c.Multicall.RequestsPerSecond < 0 {
		return errors.New("multicall.requestsPerSecond cannot be negative")
	}
	return nil
}

func (c *FileConfig) network() connection.Network {
	return connection.Network{
		ChainID:      big.NewInt(c.Network.ChainID),
		Name:         c.Network.Name,
		RPCURL:       c.Network.RpcURL,
		Explorer:     c.Network.Explorer,
		NativeSymbol: c.Network.NativeSymbol,
	}
}

func (c *FileConfig) contracts() btbclient.Contracts {
	addr := func(s string) common.Address {
		if s == "" {
			return common.Address{}
		}
		return common.HexToAddress(s)
	}
	return btbclient.Contracts{
		Game:    addr(c.Contracts.Game),
		Bear:    addr(c.Contracts.Bear),
		BTB:     addr(c.Contracts.BTB),
		MiMo:    addr(c.Contracts.MiMo),
		LP:      addr(c.Contracts.LP),
		Staking: addr(c.Contracts.Staking),
		Swap:    addr(c.Contracts.Swap),
	}
}
