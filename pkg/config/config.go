package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"gopkg.in/yaml.v3"

	"github.com/betbot/sealedsale/internal/domain"
)

const envPrefix = "SEALEDSALE_"

// ServerConfig HTTP 服务配置
type ServerConfig struct {
	Listen        string
	MetricsListen string // 为空则不启动指标服务

	// RateLimitRPS 每个调用方每秒允许的写请求数；0 表示不限制
	RateLimitRPS   float64
	RateLimitBurst int
}

// LogConfig 日志配置
type LogConfig struct {
	Level      string
	Format     string
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
}

// AuctionConfig 新拍卖的默认规则
type AuctionConfig struct {
	Admin            string // 注册表管理员地址；为空时取第一个开发账户
	Policy           domain.DepositCreditPolicy
	MinSellerDeposit string // 以太小数字符串，例如 "0.5"；空表示只要求 > 0
}

// StorageConfig 存储配置
type StorageConfig struct {
	EventLogPath  string // badger 目录；为空则不持久化事件
	EventLogKey   string // badger 加密密钥（32 字节 hex/base64，可选）
	IndexerDriver string // sqlite | postgres | none
	IndexerDSN    string
}

// ChainConfig 外部链只读配置
type ChainConfig struct {
	RPCURL   string
	CacheTTL time.Duration
}

// DevConfig 开发网络账户
type DevConfig struct {
	Mnemonic     string
	Accounts     int
	FundEther    string
	EnableFaucet bool
}

// Config 应用配置
type Config struct {
	Server  ServerConfig
	Log     LogConfig
	Auction AuctionConfig
	Storage StorageConfig
	Chain   ChainConfig
	Dev     DevConfig
}

// ConfigFile 配置文件结构（用于 YAML/JSON 解析）
type ConfigFile struct {
	Server struct {
		Listen         string  `yaml:"listen" json:"listen"`
		MetricsListen  string  `yaml:"metrics_listen" json:"metrics_listen"`
		RateLimitRPS   float64 `yaml:"rate_limit_rps" json:"rate_limit_rps"`
		RateLimitBurst int     `yaml:"rate_limit_burst" json:"rate_limit_burst"`
	} `yaml:"server" json:"server"`
	Log struct {
		Level      string `yaml:"level" json:"level"`
		Format     string `yaml:"format" json:"format"`
		File       string `yaml:"file" json:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb" json:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups" json:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days" json:"max_age_days"`
	} `yaml:"log" json:"log"`
	Auction struct {
		Admin            string `yaml:"admin" json:"admin"`
		Policy           string `yaml:"deposit_policy" json:"deposit_policy"`
		MinSellerDeposit string `yaml:"min_seller_deposit" json:"min_seller_deposit"`
	} `yaml:"auction" json:"auction"`
	Storage struct {
		EventLogPath  string `yaml:"eventlog_path" json:"eventlog_path"`
		EventLogKey   string `yaml:"eventlog_key" json:"eventlog_key"`
		IndexerDriver string `yaml:"indexer_driver" json:"indexer_driver"`
		IndexerDSN    string `yaml:"indexer_dsn" json:"indexer_dsn"`
	} `yaml:"storage" json:"storage"`
	Chain struct {
		RPCURL   string `yaml:"rpc_url" json:"rpc_url"`
		CacheTTL string `yaml:"cache_ttl" json:"cache_ttl"`
	} `yaml:"chain" json:"chain"`
	Dev struct {
		Mnemonic     string `yaml:"mnemonic" json:"mnemonic"`
		Accounts     int    `yaml:"accounts" json:"accounts"`
		FundEther    string `yaml:"fund_ether" json:"fund_ether"`
		EnableFaucet *bool  `yaml:"enable_faucet" json:"enable_faucet"`
	} `yaml:"dev" json:"dev"`
}

// Default 默认配置
func Default() *Config {
	return &Config{
		Server: ServerConfig{Listen: ":8080", RateLimitBurst: 20},
		Log: LogConfig{
			Level:      "info",
			Format:     "text",
			MaxSizeMB:  100,
			MaxBackups: 3,
			MaxAgeDays: 7,
		},
		Auction: AuctionConfig{Policy: domain.PolicyRefunded},
		Storage: StorageConfig{IndexerDriver: "sqlite", IndexerDSN: "file:sealedsale.db?_pragma=busy_timeout(5000)"},
		Chain:   ChainConfig{CacheTTL: 15 * time.Second},
		Dev:     DevConfig{Accounts: 5, FundEther: "100", EnableFaucet: true},
	}
}

// LoadFromFile 加载配置（优先级：环境变量 > 配置文件 > 默认值）
// filePath 为空时只使用默认值与环境变量
func LoadFromFile(filePath string) (*Config, error) {
	cfg := Default()
	if filePath != "" {
		cf, err := loadConfigFile(filePath)
		if err != nil {
			return nil, fmt.Errorf("加载配置文件失败 %s: %w", filePath, err)
		}
		if err := cfg.apply(cf); err != nil {
			return nil, err
		}
	}
	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// loadConfigFile 加载配置文件（支持 YAML 和 JSON）
func loadConfigFile(filePath string) (*ConfigFile, error) {
	data, err := os.ReadFile(filePath)
	if err != nil {
		return nil, fmt.Errorf("读取配置文件失败: %w", err)
	}

	var configFile ConfigFile
	switch ext := strings.ToLower(filepath.Ext(filePath)); ext {
	case ".yaml", ".yml":
		if err := yaml.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 YAML 配置文件失败: %w", err)
		}
	case ".json":
		if err := json.Unmarshal(data, &configFile); err != nil {
			return nil, fmt.Errorf("解析 JSON 配置文件失败: %w", err)
		}
	default:
		return nil, fmt.Errorf("不支持的配置文件格式: %s (支持 .yaml, .yml, .json)", ext)
	}
	return &configFile, nil
}

func (c *Config) apply(cf *ConfigFile) error {
	c.Server.Listen = firstNonEmpty(cf.Server.Listen, c.Server.Listen)
	c.Server.MetricsListen = firstNonEmpty(cf.Server.MetricsListen, c.Server.MetricsListen)
	if cf.Server.RateLimitRPS > 0 {
		c.Server.RateLimitRPS = cf.Server.RateLimitRPS
	}
	c.Server.RateLimitBurst = firstPositive(cf.Server.RateLimitBurst, c.Server.RateLimitBurst)

	c.Log.Level = firstNonEmpty(cf.Log.Level, c.Log.Level)
	c.Log.Format = firstNonEmpty(cf.Log.Format, c.Log.Format)
	c.Log.File = firstNonEmpty(cf.Log.File, c.Log.File)
	c.Log.MaxSizeMB = firstPositive(cf.Log.MaxSizeMB, c.Log.MaxSizeMB)
	c.Log.MaxBackups = firstPositive(cf.Log.MaxBackups, c.Log.MaxBackups)
	c.Log.MaxAgeDays = firstPositive(cf.Log.MaxAgeDays, c.Log.MaxAgeDays)

	if cf.Auction.Policy != "" {
		p, err := domain.ParseDepositCreditPolicy(cf.Auction.Policy)
		if err != nil {
			return err
		}
		c.Auction.Policy = p
	}
	c.Auction.MinSellerDeposit = firstNonEmpty(cf.Auction.MinSellerDeposit, c.Auction.MinSellerDeposit)
	c.Auction.Admin = firstNonEmpty(cf.Auction.Admin, c.Auction.Admin)

	c.Storage.EventLogPath = firstNonEmpty(cf.Storage.EventLogPath, c.Storage.EventLogPath)
	c.Storage.EventLogKey = firstNonEmpty(cf.Storage.EventLogKey, c.Storage.EventLogKey)
	c.Storage.IndexerDriver = firstNonEmpty(cf.Storage.IndexerDriver, c.Storage.IndexerDriver)
	c.Storage.IndexerDSN = firstNonEmpty(cf.Storage.IndexerDSN, c.Storage.IndexerDSN)

	c.Chain.RPCURL = firstNonEmpty(cf.Chain.RPCURL, c.Chain.RPCURL)
	if cf.Chain.CacheTTL != "" {
		d, err := time.ParseDuration(cf.Chain.CacheTTL)
		if err != nil {
			return fmt.Errorf("chain.cache_ttl 格式错误: %w", err)
		}
		c.Chain.CacheTTL = d
	}

	c.Dev.Mnemonic = firstNonEmpty(cf.Dev.Mnemonic, c.Dev.Mnemonic)
	c.Dev.Accounts = firstPositive(cf.Dev.Accounts, c.Dev.Accounts)
	c.Dev.FundEther = firstNonEmpty(cf.Dev.FundEther, c.Dev.FundEther)
	if cf.Dev.EnableFaucet != nil {
		c.Dev.EnableFaucet = *cf.Dev.EnableFaucet
	}
	return nil
}

func (c *Config) applyEnv() error {
	c.Server.Listen = getEnv("LISTEN", c.Server.Listen)
	c.Server.MetricsListen = getEnv("METRICS_LISTEN", c.Server.MetricsListen)
	if v := getEnv("RATE_LIMIT_RPS", ""); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil {
			return fmt.Errorf("%sRATE_LIMIT_RPS 格式错误: %w", envPrefix, err)
		}
		c.Server.RateLimitRPS = rps
	}
	c.Log.Level = getEnv("LOG_LEVEL", c.Log.Level)
	c.Log.Format = getEnv("LOG_FORMAT", c.Log.Format)
	c.Log.File = getEnv("LOG_FILE", c.Log.File)

	if v := getEnv("DEPOSIT_POLICY", ""); v != "" {
		p, err := domain.ParseDepositCreditPolicy(v)
		if err != nil {
			return err
		}
		c.Auction.Policy = p
	}
	c.Auction.MinSellerDeposit = getEnv("MIN_SELLER_DEPOSIT", c.Auction.MinSellerDeposit)
	c.Auction.Admin = getEnv("ADMIN", c.Auction.Admin)

	c.Storage.EventLogPath = getEnv("EVENTLOG_PATH", c.Storage.EventLogPath)
	c.Storage.EventLogKey = getEnv("EVENTLOG_KEY", c.Storage.EventLogKey)
	c.Storage.IndexerDriver = getEnv("INDEXER_DRIVER", c.Storage.IndexerDriver)
	c.Storage.IndexerDSN = getEnv("INDEXER_DSN", c.Storage.IndexerDSN)

	c.Chain.RPCURL = getEnv("RPC_URL", c.Chain.RPCURL)
	if v := getEnv("RPC_CACHE_TTL", ""); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil {
			return fmt.Errorf("%sRPC_CACHE_TTL 格式错误: %w", envPrefix, err)
		}
		c.Chain.CacheTTL = d
	}

	c.Dev.Mnemonic = getEnv("DEV_MNEMONIC", c.Dev.Mnemonic)
	c.Dev.Accounts = parseIntEnv("DEV_ACCOUNTS", c.Dev.Accounts)
	c.Dev.FundEther = getEnv("DEV_FUND_ETHER", c.Dev.FundEther)
	c.Dev.EnableFaucet = parseBoolEnv("DEV_FAUCET", c.Dev.EnableFaucet)
	return nil
}

// Validate 验证配置
func (c *Config) Validate() error {
	if c.Server.Listen == "" {
		return fmt.Errorf("server.listen 未配置")
	}
	if c.Server.MetricsListen != "" && c.Server.MetricsListen == c.Server.Listen {
		return fmt.Errorf("server.metrics_listen 不能与 server.listen 相同")
	}
	if c.Server.RateLimitRPS < 0 {
		return fmt.Errorf("server.rate_limit_rps 不能为负数")
	}
	if _, err := domain.ParseDepositCreditPolicy(string(c.Auction.Policy)); err != nil {
		return err
	}
	if c.Auction.Admin != "" && !common.IsHexAddress(c.Auction.Admin) {
		return fmt.Errorf("auction.admin 不是合法地址: %s", c.Auction.Admin)
	}
	if c.Auction.Admin == "" && c.Dev.Accounts == 0 {
		return fmt.Errorf("auction.admin 未配置且没有开发账户")
	}
	if c.Auction.MinSellerDeposit != "" {
		if _, err := strconv.ParseFloat(c.Auction.MinSellerDeposit, 64); err != nil {
			return fmt.Errorf("auction.min_seller_deposit 不是合法数字: %s", c.Auction.MinSellerDeposit)
		}
	}
	switch c.Storage.IndexerDriver {
	case "sqlite", "postgres":
		if c.Storage.IndexerDSN == "" {
			return fmt.Errorf("storage.indexer_dsn 未配置 (driver=%s)", c.Storage.IndexerDriver)
		}
	case "", "none":
	default:
		return fmt.Errorf("未知的 indexer driver: %s", c.Storage.IndexerDriver)
	}
	if c.Chain.CacheTTL < 0 {
		return fmt.Errorf("chain.cache_ttl 不能为负数")
	}
	if c.Dev.Accounts < 0 {
		return fmt.Errorf("dev.accounts 不能为负数")
	}
	if c.Dev.Accounts > 0 && c.Dev.Mnemonic == "" {
		return fmt.Errorf("dev.accounts=%d 但 dev.mnemonic 未配置", c.Dev.Accounts)
	}
	return nil
}

func firstNonEmpty(values ...string) string {
	for _, v := range values {
		if v != "" {
			return v
		}
	}
	return ""
}

func firstPositive(values ...int) int {
	for _, v := range values {
		if v > 0 {
			return v
		}
	}
	return 0
}

// getEnv 获取 SEALEDSALE_ 前缀的环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(envPrefix + key); value != "" {
		return value
	}
	return defaultValue
}

// parseIntEnv 解析整数环境变量
func parseIntEnv(key string, defaultValue int) int {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// parseBoolEnv 解析布尔环境变量
func parseBoolEnv(key string, defaultValue bool) bool {
	value := os.Getenv(envPrefix + key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.ParseBool(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}
