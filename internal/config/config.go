package config

import (
	"fmt"
	"os"
	"os/user"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"
	"time"
	"unicode"

	"github.com/spf13/viper"
)

// ChainConfig describes one chain to watch, parsed from
// "chainID|rpcURL|escrowContract|confirmations|batchSize" entries.
type ChainConfig struct {
	ChainID       string
	RPCURL        string
	Contract      string
	Confirmations uint64
	BatchSize     uint64
}

type Config struct {
	Datadir  string
	HTTPPort uint32
	LogLevel uint32

	DbType      string
	PostgresURL string

	WebhookURL string

	PollInterval   time.Duration
	ExpiryInterval time.Duration
	QueueSize      int

	Chains []ChainConfig
}

var (
	Datadir        = "DATADIR"
	HTTPPort       = "HTTP_PORT"
	LogLevel       = "LOG_LEVEL"
	DbType         = "DB_TYPE"
	PostgresURL    = "PG_URL"
	WebhookURL     = "WEBHOOK_URL"
	PollInterval   = "POLL_INTERVAL"
	ExpiryInterval = "EXPIRY_INTERVAL"
	QueueSize      = "QUEUE_SIZE"
	Chains         = "CHAINS"

	defaultDatadir        = appDatadir("swapd", false)
	defaultHTTPPort       = 7100
	defaultLogLevel       = 4
	defaultDbType         = "badger"
	defaultPollInterval   = 5 * time.Second
	defaultExpiryInterval = 30 * time.Second
	defaultQueueSize      = 256
)

func LoadConfig() (*Config, error) {
	viper.SetEnvPrefix("SWAPD")
	viper.AutomaticEnv()

	viper.SetDefault(Datadir, defaultDatadir)
	viper.SetDefault(HTTPPort, defaultHTTPPort)
	viper.SetDefault(LogLevel, defaultLogLevel)
	viper.SetDefault(DbType, defaultDbType)
	viper.SetDefault(PollInterval, defaultPollInterval)
	viper.SetDefault(ExpiryInterval, defaultExpiryInterval)
	viper.SetDefault(QueueSize, defaultQueueSize)

	if err := initDatadir(); err != nil {
		return nil, fmt.Errorf("error while creating datadir: %s", err)
	}

	chains, err := parseChains(viper.GetStringSlice(Chains))
	if err != nil {
		return nil, err
	}

	config := &Config{
		Datadir:        viper.GetString(Datadir),
		HTTPPort:       viper.GetUint32(HTTPPort),
		LogLevel:       viper.GetUint32(LogLevel),
		DbType:         viper.GetString(DbType),
		PostgresURL:    viper.GetString(PostgresURL),
		WebhookURL:     viper.GetString(WebhookURL),
		PollInterval:   viper.GetDuration(PollInterval),
		ExpiryInterval: viper.GetDuration(ExpiryInterval),
		QueueSize:      viper.GetInt(QueueSize),
		Chains:         chains,
	}

	if config.DbType == "postgres" && config.PostgresURL == "" {
		return nil, fmt.Errorf("db type postgres requires %s_%s", "SWAPD", PostgresURL)
	}

	return config, nil
}

func parseChains(entries []string) ([]ChainConfig, error) {
	chains := make([]ChainConfig, 0, len(entries))
	for _, entry := range entries {
		parts := strings.Split(entry, "|")
		if len(parts) < 3 {
			return nil, fmt.Errorf(
				"invalid chain entry %q, expected chainID|rpcURL|contract[|confirmations[|batchSize]]", entry,
			)
		}
		chain := ChainConfig{
			ChainID:       strings.TrimSpace(parts[0]),
			RPCURL:        strings.TrimSpace(parts[1]),
			Contract:      strings.TrimSpace(parts[2]),
			Confirmations: 12,
			BatchSize:     500,
		}
		if chain.ChainID == "" || chain.RPCURL == "" {
			return nil, fmt.Errorf("invalid chain entry %q, missing chain id or rpc url", entry)
		}
		if len(parts) > 3 {
			confirmations, err := strconv.ParseUint(strings.TrimSpace(parts[3]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid confirmations in chain entry %q: %s", entry, err)
			}
			chain.Confirmations = confirmations
		}
		if len(parts) > 4 {
			batchSize, err := strconv.ParseUint(strings.TrimSpace(parts[4]), 10, 64)
			if err != nil {
				return nil, fmt.Errorf("invalid batch size in chain entry %q: %s", entry, err)
			}
			chain.BatchSize = batchSize
		}
		chains = append(chains, chain)
	}
	return chains, nil
}

func initDatadir() error {
	datadir := viper.GetString(Datadir)
	return makeDirectoryIfNotExists(datadir)
}

func makeDirectoryIfNotExists(path string) error {
	if _, err := os.Stat(path); os.IsNotExist(err) {
		return os.MkdirAll(path, os.ModeDir|0755)
	}
	return nil
}

// appDatadir returns an operating system specific directory to be used for
// storing application data for an application.
func appDatadir(appName string, roaming bool) string {
	if appName == "" || appName == "." {
		return "."
	}

	appName = strings.TrimPrefix(appName, ".")
	appNameUpper := string(unicode.ToUpper(rune(appName[0]))) + appName[1:]
	appNameLower := string(unicode.ToLower(rune(appName[0]))) + appName[1:]

	var homeDir string
	usr, err := user.Current()
	if err == nil {
		homeDir = usr.HomeDir
	}
	if err != nil || homeDir == "" {
		homeDir = os.Getenv("HOME")
	}

	goos := runtime.GOOS
	switch goos {
	case "windows":
		appData := os.Getenv("LOCALAPPDATA")
		if roaming || appData == "" {
			appData = os.Getenv("APPDATA")
		}
		if appData != "" {
			return filepath.Join(appData, appNameUpper)
		}

	case "darwin":
		if homeDir != "" {
			return filepath.Join(homeDir, "Library",
				"Application Support", appNameUpper)
		}

	case "plan9":
		if homeDir != "" {
			return filepath.Join(homeDir, appNameLower)
		}

	default:
		if homeDir != "" {
			return filepath.Join(homeDir, "."+appNameLower)
		}
	}

	return "."
}
