// Package config provides a reusable loader for orbitchain configuration
// files and environment variables.
package config

import (
	"fmt"

	"github.com/spf13/viper"

	"orbitchain/pkg/utils"
)

// Config is the unified configuration for an orbitchaind node: the on-chain
// ChainConfig fields plus node-local runtime settings that are never part of
// consensus.
type Config struct {
	Chain struct {
		ChainID           uint64   `mapstructure:"chain_id" json:"chain_id"`
		Name              string   `mapstructure:"name" json:"name"`
		Symbol            string   `mapstructure:"symbol" json:"symbol"`
		Decimals          uint8    `mapstructure:"decimals" json:"decimals"`
		BlockTimeMS       uint64   `mapstructure:"block_time_ms" json:"block_time_ms"`
		MaxBlockSize      uint64   `mapstructure:"max_block_size" json:"max_block_size"`
		MaxTxPerBlock     int      `mapstructure:"max_tx_per_block" json:"max_tx_per_block"`
		GenesisValidators []string `mapstructure:"genesis_validators" json:"genesis_validators"`
	} `mapstructure:"chain" json:"chain"`

	Node struct {
		DataDir           string `mapstructure:"data_dir" json:"data_dir"`
		RPCListenAddr     string `mapstructure:"rpc_listen_addr" json:"rpc_listen_addr"`
		ValidatorKeyEnv   string `mapstructure:"validator_key_env" json:"validator_key_env"`
		InMemory          bool   `mapstructure:"in_memory" json:"in_memory"`
	} `mapstructure:"node" json:"node"`

	Logging struct {
		Level string `mapstructure:"level" json:"level"`
	} `mapstructure:"logging" json:"logging"`
}

// AppConfig holds the configuration loaded via Load or LoadFromEnv.
var AppConfig Config

func setDefaults() {
	viper.SetDefault("chain.chain_id", 1337)
	viper.SetDefault("chain.name", "Orbit Chain")
	viper.SetDefault("chain.symbol", "ORB")
	viper.SetDefault("chain.decimals", 18)
	viper.SetDefault("chain.block_time_ms", 400)
	viper.SetDefault("chain.max_block_size", 1_000_000)
	viper.SetDefault("chain.max_tx_per_block", 10_000)
	viper.SetDefault("node.data_dir", "./data")
	viper.SetDefault("node.rpc_listen_addr", ":8080")
	viper.SetDefault("node.validator_key_env", "ORBIT_VALIDATOR_KEY")
	viper.SetDefault("node.in_memory", false)
	viper.SetDefault("logging.level", "info")
}

// Load reads configuration files and merges any environment-specific
// overrides. The resulting configuration is stored in AppConfig and
// returned. If env is empty, only the default configuration plus built-in
// defaults are used.
func Load(env string) (*Config, error) {
	setDefaults()

	viper.SetConfigName("default")
	viper.AddConfigPath("config")
	viper.SetConfigType("yaml")
	if err := viper.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			return nil, utils.Wrap(err, "load config")
		}
	}

	if env != "" {
		viper.SetConfigName(env)
		if err := viper.MergeInConfig(); err != nil {
			return nil, utils.Wrap(err, fmt.Sprintf("merge %s config", env))
		}
	}

	viper.SetEnvPrefix("ORBIT")
	viper.AutomaticEnv()

	if err := viper.Unmarshal(&AppConfig); err != nil {
		return nil, utils.Wrap(err, "unmarshal config")
	}
	return &AppConfig, nil
}

// LoadFromEnv loads configuration using the ORBIT_ENV environment variable.
func LoadFromEnv() (*Config, error) {
	return Load(utils.EnvOrDefault("ORBIT_ENV", ""))
}
