package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

// Settings holds configuration values loaded from flags, env, or config file.
type Settings struct {
	RPCProvider  string
	RPCWsURL     string
	RPCHTTPURL   string
	WatchAddress common.Address

	BinanceAPIKey     string
	BinanceAPISecret  string
	BinanceTestnet    bool
	BinanceRecvWindow int

	TriggerValueUSDT        float64
	ShortNotionalUSDT       float64
	Leverage                int
	MarginType              string
	TradeWhenTokenNotInList bool
	TakeProfitPct           float64
	StopLossPct             float64

	TokenListURL      string
	TokenListMaxRPM   int
	TokenListCacheTTL time.Duration

	ControlListen    string
	ControlWorkerCmd []string
	ControlPidFile   string

	LogLevel string
}

// Load merges config file, environment variables, and flags into Settings.
func Load(cfgFile string, flags *pflag.FlagSet) (Settings, error) {
	v := viper.New()
	v.SetEnvPrefix("SHORTBOT")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("binance.recv_window", 5000)
	v.SetDefault("risk.trade_when_token_not_in_list", false)
	v.SetDefault("risk.take_profit_pct", 0.0)
	v.SetDefault("risk.stop_loss_pct", 0.0)
	v.SetDefault("binance_token_list.max_requests_per_minute", 2)
	v.SetDefault("binance_token_list.cache_ttl_seconds", 45)
	v.SetDefault("control.listen", "127.0.0.1:8787")
	v.SetDefault("control.pid_file", "./bot_worker.pid")
	v.SetDefault("runtime.log_level", "info")

	if flags != nil {
		if err := v.BindPFlags(flags); err != nil {
			return Settings{}, fmt.Errorf("bind flags: %w", err)
		}
	}

	if cfgFile != "" {
		v.SetConfigFile(cfgFile)
		if err := v.ReadInConfig(); err != nil {
			return Settings{}, fmt.Errorf("read config: %w", err)
		}
	} else {
		v.SetConfigName("config")
		v.AddConfigPath(".")
		if err := v.ReadInConfig(); err != nil {
			if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
				return Settings{}, fmt.Errorf("read config: %w", err)
			}
		}
	}

	rpc, err := resolveRPC(v)
	if err != nil {
		return Settings{}, err
	}

	workerCmd := v.GetStringSlice("control.worker_cmd")
	if len(workerCmd) == 0 {
		workerCmd = []string{"shortbot", "run"}
	}

	cfg := Settings{
		RPCProvider:  rpc.provider,
		RPCWsURL:     rpc.wsURL,
		RPCHTTPURL:   rpc.httpURL,
		WatchAddress: rpc.watchAddress,

		BinanceAPIKey:     v.GetString("binance.api_key"),
		BinanceAPISecret:  v.GetString("binance.api_secret"),
		BinanceTestnet:    v.GetBool("binance.testnet"),
		BinanceRecvWindow: v.GetInt("binance.recv_window"),

		TriggerValueUSDT:        v.GetFloat64("risk.trigger_value_usdt"),
		ShortNotionalUSDT:       v.GetFloat64("risk.short_notional_usdt"),
		Leverage:                v.GetInt("risk.leverage"),
		MarginType:              strings.ToUpper(v.GetString("risk.margin_type")),
		TradeWhenTokenNotInList: v.GetBool("risk.trade_when_token_not_in_list"),
		TakeProfitPct:           v.GetFloat64("risk.take_profit_pct"),
		StopLossPct:             v.GetFloat64("risk.stop_loss_pct"),

		TokenListURL:      v.GetString("binance_token_list.url"),
		TokenListMaxRPM:   v.GetInt("binance_token_list.max_requests_per_minute"),
		TokenListCacheTTL: time.Duration(v.GetInt("binance_token_list.cache_ttl_seconds")) * time.Second,

		ControlListen:    v.GetString("control.listen"),
		ControlWorkerCmd: workerCmd,
		ControlPidFile:   v.GetString("control.pid_file"),

		LogLevel: v.GetString("runtime.log_level"),
	}

	return cfg, nil
}

type rpcSettings struct {
	provider     string
	wsURL        string
	httpURL      string
	watchAddress common.Address
}

// resolveRPC derives the endpoint pair from the `rpc` section, accepting the
// legacy `alchemy` section for older config files. Exactly one of the two
// sections may be present.
func resolveRPC(v *viper.Viper) (rpcSettings, error) {
	hasRPC := v.IsSet("rpc")
	hasLegacy := v.IsSet("alchemy")
	if hasRPC && hasLegacy {
		return rpcSettings{}, fmt.Errorf("config error: keep only one of `rpc` (new) or `alchemy` (legacy) section")
	}

	provider := "alchemy"
	if hasRPC {
		provider = strings.ToLower(strings.TrimSpace(v.GetString("rpc.provider")))
		if provider == "" {
			provider = "alchemy"
		}
	}

	var wsURL, httpURL string
	switch provider {
	case "alchemy":
		apiKey := strings.TrimSpace(v.GetString("rpc.api_key"))
		wsURL = strings.TrimSpace(v.GetString("rpc.ws_url"))
		if wsURL == "" {
			wsURL = strings.TrimSpace(v.GetString("alchemy.ws_url"))
		}
		httpURL = strings.TrimSpace(v.GetString("rpc.http_url"))

		if wsURL == "" && apiKey == "" {
			return rpcSettings{}, fmt.Errorf("alchemy config missing: set rpc.api_key or alchemy.ws_url")
		}
		if httpURL != "" {
			return rpcSettings{}, fmt.Errorf("provider=alchemy does not allow rpc.http_url override; remove it or use provider=custom")
		}
		if wsURL == "" {
			wsURL = "wss://bnb-mainnet.g.alchemy.com/v2/" + apiKey
		}
		if strings.Contains(wsURL, "infura.io") {
			return rpcSettings{}, fmt.Errorf("provider=alchemy but ws_url looks like infura; fix config")
		}
		// Alchemy ws/http endpoints share the trailing key.
		key := wsURL[strings.LastIndex(wsURL, "/")+1:]
		httpURL = "https://bnb-mainnet.g.alchemy.com/v2/" + key

	case "infura":
		apiKey := strings.TrimSpace(v.GetString("rpc.api_key"))
		if v.GetString("rpc.ws_url") != "" || v.GetString("rpc.http_url") != "" {
			return rpcSettings{}, fmt.Errorf("provider=infura does not allow rpc.ws_url/http_url override; remove them or use provider=custom")
		}
		if apiKey == "" {
			return rpcSettings{}, fmt.Errorf("infura config missing: set rpc.api_key")
		}
		wsURL = "wss://bsc-mainnet.infura.io/ws/v3/" + apiKey
		httpURL = "https://bsc-mainnet.infura.io/v3/" + apiKey

	case "custom":
		wsURL = strings.TrimSpace(v.GetString("rpc.ws_url"))
		httpURL = strings.TrimSpace(v.GetString("rpc.http_url"))
		if wsURL == "" || httpURL == "" {
			return rpcSettings{}, fmt.Errorf("provider=custom requires both rpc.ws_url and rpc.http_url")
		}

	default:
		return rpcSettings{}, fmt.Errorf("rpc.provider must be one of: alchemy / infura / custom")
	}

	watch := strings.TrimSpace(v.GetString("rpc.watch_address"))
	if watch == "" {
		watch = strings.TrimSpace(v.GetString("alchemy.watch_address"))
	}
	if watch == "" {
		return rpcSettings{}, fmt.Errorf("watch_address is required")
	}
	if !common.IsHexAddress(watch) {
		return rpcSettings{}, fmt.Errorf("invalid watch_address: %s", watch)
	}

	return rpcSettings{
		provider:     provider,
		wsURL:        wsURL,
		httpURL:      httpURL,
		watchAddress: common.HexToAddress(watch),
	}, nil
}
