package main

import (
	"fmt"
	"os"

	"github.com/spf13/viper"

	"github.com/TEENet-io/watchwallet/cmd"
	"github.com/TEENet-io/watchwallet/logconfig"
)

const (
	ENV_CONFIG_FILE_PATH = "WATCHWALLET_CONFIG"
)

func main() {
	// Tool to read environment variables
	viper.AutomaticEnv()

	// The config file is optional, env vars alone are enough.
	_config_file := viper.GetString(ENV_CONFIG_FILE_PATH)
	if _config_file != "" {
		fmt.Printf("Wallet server configuration file = %s\n", _config_file)
		if !cmd.FileExists(_config_file) {
			fmt.Printf("Wallet server configuration file not found: %s\n", _config_file)
			os.Exit(1)
		}
		if !initializeViper(_config_file) {
			os.Exit(1)
		}
	}

	wsc := PrepareWalletServerConfig()
	logconfig.ConfigLoggerByName(wsc.LogLevel)

	fmt.Println("Starting wallet server... press Ctrl+C to kill the server")
	// Start server and block.
	if err := cmd.StartWalletServerAndWait(wsc); err != nil {
		fmt.Printf("Wallet server stopped with error: %v\n", err)
		os.Exit(1)
	}
}

func initializeViper(filePath string) bool {
	viper.SetConfigFile(filePath)
	if err := viper.ReadInConfig(); err != nil {
		fmt.Printf("Error reading configuration file, %s\n", err)
		return false
	}
	return true
}

// PrepareWalletServerConfig reads configuration variables and returns a WalletServerConfig.
func PrepareWalletServerConfig() *cmd.WalletServerConfig {
	return &cmd.WalletServerConfig{
		// storage side
		DbFilePath: viper.GetString("DB_FILE_PATH"),
		// chain side
		BlockSource:    viper.GetString("BLOCK_SOURCE"),
		BlockSourceUrl: viper.GetString("BLOCK_SOURCE_URL"),
		SimGatewayPort: viper.GetString("SIM_GATEWAY_PORT"),
		Network:        viper.GetString("NETWORK"),
		// scan side
		ScanMode:           viper.GetString("SCAN_MODE"),
		ScanBatchSize:      viper.GetString("SCAN_BATCH_SIZE"),
		ScanMaxBlocks:      viper.GetString("SCAN_MAX_BLOCKS"),
		ScanPollInterval:   viper.GetString("SCAN_POLL_INTERVAL"),
		ReorgCheckInterval: viper.GetString("REORG_CHECK_INTERVAL"),
		ReorgCheckDepth:    viper.GetString("REORG_CHECK_DEPTH"),
		ConfirmationDepth:  viper.GetString("CONFIRMATION_DEPTH"),
		// lock side
		LockTtl:          viper.GetString("LOCK_TTL"),
		UnlockerInterval: viper.GetString("UNLOCKER_INTERVAL"),
		// Http side
		HttpIp:   viper.GetString("HTTP_IP"),
		HttpPort: viper.GetString("HTTP_PORT"),

		LogLevel: viper.GetString("LOG_LEVEL"),
	}
}
