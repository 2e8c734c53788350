// Package config loads the distribution campaign configuration: reward tables
// from a YAML file and endpoints from the environment.
package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"sort"
	"strconv"
	"strings"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"reward-distributor/internal/domain"
	"reward-distributor/internal/fixed"
)

// ErrInvalidConfig is returned when the configuration fails validation.
var ErrInvalidConfig = errors.New("invalid config")

// Config is the full campaign configuration.
type Config struct {
	StartBlock uint64       `yaml:"start_block"`
	EndBlock   uint64       `yaml:"end_block"`
	LP         LPConfig     `yaml:"lp"`
	Minter     MinterConfig `yaml:"minter"`

	// CheckpointEvery records an accrual checkpoint every N events.
	CheckpointEvery int `yaml:"checkpoint_every"`

	Sources SourcesConfig `yaml:"-"`
	Storage StorageConfig `yaml:"-"`
	Output  OutputConfig  `yaml:"output"`
}

// LPConfig configures the liquidity provider program. Zero blocks inherit the
// campaign window.
type LPConfig struct {
	StartBlock uint64 `yaml:"start_block"`
	EndBlock   uint64 `yaml:"end_block"`

	// CollateralTypes whose accumulated rates the LP weights depend on.
	CollateralTypes []string `yaml:"collateral_types"`

	// Rewards maps a reward token to the amount distributed over the window.
	Rewards map[string]string `yaml:"rewards"`
}

// MinterConfig configures the borrow program. Zero blocks inherit the
// campaign window.
type MinterConfig struct {
	StartBlock uint64 `yaml:"start_block"`
	EndBlock   uint64 `yaml:"end_block"`
	WithBridge bool   `yaml:"with_bridge"`

	// Rewards maps a reward token to per collateral type amounts.
	Rewards map[string]map[string]string `yaml:"rewards"`
}

// SourcesConfig holds data source endpoints read from the environment.
type SourcesConfig struct {
	GEBSubgraphURL       string
	LPGEBSubgraphURL     string
	MinterGEBSubgraphURL string
	UniswapSubgraphURL   string
	UniswapPoolAddress   string
	SubgraphRPS          float64

	RPCURL       string
	LPRPCURL     string
	MinterRPCURL string

	ExclusionListFile   string
	BridgeTransfersFile string
	BridgeAddress       string
	BridgeTokens        map[string]string // L2 token address -> collateral type
	BridgeETHCType      string

	RedisAddr     string
	RedisPassword string
	RedisDB       int
}

// StorageConfig holds database connection strings.
type StorageConfig struct {
	PostgresDSN   string
	ClickhouseDSN string
}

// OutputConfig configures where payout tables are written.
type OutputConfig struct {
	Dir      string `yaml:"dir"`
	Format   string `yaml:"format"`
	S3Bucket string `yaml:"s3_bucket"`
	S3Prefix string `yaml:"s3_prefix"`
	S3Region string `yaml:"s3_region"`
}

// Load reads a .env file when present, parses the YAML file at path and
// applies environment overrides.
func Load(path string) (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	cfg, err := Parse(data)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// LoadEnv reads a .env file when present and returns a configuration holding
// only what the environment sets. Commands that need no reward tables use it.
func LoadEnv() (*Config, error) {
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}
	cfg, err := Parse(nil)
	if err != nil {
		return nil, err
	}
	if err := cfg.ApplyEnv(os.Getenv); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Parse decodes YAML configuration and fills defaults. It does not validate.
func Parse(data []byte) (*Config, error) {
	cfg := &Config{}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidConfig, err)
	}
	if cfg.Output.Format == "" {
		cfg.Output.Format = "json"
	}
	if cfg.Output.Dir == "" {
		cfg.Output.Dir = "output"
	}
	return cfg, nil
}

// ApplyEnv overrides blocks and fills endpoints from getenv.
func (c *Config) ApplyEnv(getenv func(string) string) error {
	blocks := []struct {
		key string
		dst *uint64
	}{
		{"START_BLOCK", &c.StartBlock},
		{"END_BLOCK", &c.EndBlock},
		{"LP_START_BLOCK", &c.LP.StartBlock},
		{"LP_END_BLOCK", &c.LP.EndBlock},
		{"MINTER_START_BLOCK", &c.Minter.StartBlock},
		{"MINTER_END_BLOCK", &c.Minter.EndBlock},
	}
	for _, b := range blocks {
		v := getenv(b.key)
		if v == "" {
			continue
		}
		n, err := strconv.ParseUint(v, 10, 64)
		if err != nil {
			return fmt.Errorf("%w: %s=%q", ErrInvalidConfig, b.key, v)
		}
		*b.dst = n
	}

	s := &c.Sources
	s.GEBSubgraphURL = getenv("GEB_SUBGRAPH_URL")
	s.LPGEBSubgraphURL = orDefault(getenv("LP_GEB_SUBGRAPH_URL"), s.GEBSubgraphURL)
	s.MinterGEBSubgraphURL = orDefault(getenv("MINTER_GEB_SUBGRAPH_URL"), s.GEBSubgraphURL)
	s.UniswapSubgraphURL = getenv("UNISWAP_SUBGRAPH_URL")
	s.UniswapPoolAddress = strings.ToLower(getenv("UNISWAP_POOL_ADDRESS"))
	s.RPCURL = getenv("RPC_URL")
	s.LPRPCURL = orDefault(getenv("LP_RPC_URL"), s.RPCURL)
	s.MinterRPCURL = orDefault(getenv("MINTER_RPC_URL"), s.RPCURL)
	s.ExclusionListFile = getenv("EXCLUSION_LIST_FILE")
	s.BridgeTransfersFile = getenv("BRIDGE_TRANSFERS_FILE")
	s.BridgeAddress = getenv("BRIDGE_ADDRESS")
	s.BridgeETHCType = getenv("BRIDGE_ETH_COLLATERAL_TYPE")
	s.RedisAddr = getenv("REDIS_ADDR")
	s.RedisPassword = getenv("REDIS_PASSWORD")

	tokens, err := parseTokenMap(getenv("BRIDGE_TOKENS"))
	if err != nil {
		return err
	}
	s.BridgeTokens = tokens

	if v := getenv("SUBGRAPH_RPS"); v != "" {
		rps, err := strconv.ParseFloat(v, 64)
		if err != nil || rps < 0 {
			return fmt.Errorf("%w: SUBGRAPH_RPS=%q", ErrInvalidConfig, v)
		}
		s.SubgraphRPS = rps
	}
	if v := getenv("REDIS_DB"); v != "" {
		db, err := strconv.Atoi(v)
		if err != nil {
			return fmt.Errorf("%w: REDIS_DB=%q", ErrInvalidConfig, v)
		}
		s.RedisDB = db
	}

	c.Storage.PostgresDSN = getenv("POSTGRES_DSN")
	c.Storage.ClickhouseDSN = getenv("CLICKHOUSE_DSN")

	if v := getenv("PAYOUT_S3_BUCKET"); v != "" {
		c.Output.S3Bucket = v
	}
	if v := getenv("PAYOUT_S3_PREFIX"); v != "" {
		c.Output.S3Prefix = v
	}
	if v := getenv("AWS_REGION"); v != "" && c.Output.S3Region == "" {
		c.Output.S3Region = v
	}
	return nil
}

// parseTokenMap parses "0xToken=CTYPE,0xOther=CTYPE".
func parseTokenMap(v string) (map[string]string, error) {
	out := make(map[string]string)
	if v == "" {
		return out, nil
	}
	for _, pair := range strings.Split(v, ",") {
		addr, cType, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if !ok || addr == "" || cType == "" {
			return nil, fmt.Errorf("%w: BRIDGE_TOKENS entry %q", ErrInvalidConfig, pair)
		}
		out[strings.ToLower(addr)] = cType
	}
	return out, nil
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}

// Validate checks block windows, reward amounts and required endpoints.
func (c *Config) Validate() error {
	if c.StartBlock == 0 || c.EndBlock == 0 {
		return fmt.Errorf("%w: start and end block are required", ErrInvalidConfig)
	}
	if len(c.LP.Rewards) == 0 && len(c.Minter.Rewards) == 0 {
		return fmt.Errorf("%w: no rewards configured", ErrInvalidConfig)
	}
	if c.CheckpointEvery < 0 {
		return fmt.Errorf("%w: negative checkpoint_every", ErrInvalidConfig)
	}
	if f := c.Output.Format; f != "json" && f != "csv" {
		return fmt.Errorf("%w: output format %q", ErrInvalidConfig, f)
	}

	if len(c.LP.Rewards) > 0 {
		start, end := c.LPWindow()
		if start >= end {
			return fmt.Errorf("%w: lp window [%d, %d] is empty", ErrInvalidConfig, start, end)
		}
		if c.Sources.LPGEBSubgraphURL == "" || c.Sources.UniswapSubgraphURL == "" {
			return fmt.Errorf("%w: lp program needs GEB and Uniswap subgraph URLs", ErrInvalidConfig)
		}
		if c.Sources.UniswapPoolAddress == "" {
			return fmt.Errorf("%w: lp program needs UNISWAP_POOL_ADDRESS", ErrInvalidConfig)
		}
		if c.Sources.LPRPCURL == "" {
			return fmt.Errorf("%w: lp program needs an RPC URL", ErrInvalidConfig)
		}
		for token, amount := range c.LP.Rewards {
			if err := checkAmount("lp", token, amount); err != nil {
				return err
			}
		}
	}

	if len(c.Minter.Rewards) > 0 {
		start, end := c.MinterWindow()
		if start >= end {
			return fmt.Errorf("%w: minter window [%d, %d] is empty", ErrInvalidConfig, start, end)
		}
		if c.Sources.MinterGEBSubgraphURL == "" {
			return fmt.Errorf("%w: minter program needs a GEB subgraph URL", ErrInvalidConfig)
		}
		if c.Sources.MinterRPCURL == "" {
			return fmt.Errorf("%w: minter program needs an RPC URL", ErrInvalidConfig)
		}
		for token, byCType := range c.Minter.Rewards {
			if len(byCType) == 0 {
				return fmt.Errorf("%w: minter token %s has no collateral types", ErrInvalidConfig, token)
			}
			for cType, amount := range byCType {
				if err := checkAmount("minter", token+"/"+cType, amount); err != nil {
					return err
				}
			}
		}
	}
	return nil
}

func checkAmount(program, label, amount string) error {
	d, err := fixed.Parse(amount)
	if err != nil {
		return fmt.Errorf("%w: %s reward %s: %v", ErrInvalidConfig, program, label, err)
	}
	if d.IsNegative() {
		return fmt.Errorf("%w: %s reward %s is negative", ErrInvalidConfig, program, label)
	}
	return nil
}

// LPWindow returns the LP block window, inheriting the campaign window.
func (c *Config) LPWindow() (uint64, uint64) {
	return window(c.LP.StartBlock, c.LP.EndBlock, c.StartBlock, c.EndBlock)
}

// MinterWindow returns the borrow block window, inheriting the campaign window.
func (c *Config) MinterWindow() (uint64, uint64) {
	return window(c.Minter.StartBlock, c.Minter.EndBlock, c.StartBlock, c.EndBlock)
}

func window(start, end, defStart, defEnd uint64) (uint64, uint64) {
	if start == 0 {
		start = defStart
	}
	if end == 0 {
		end = defEnd
	}
	return start, end
}

// Programs expands the reward tables into one program run per LP token and
// per borrow (token, collateral type), ordered by program then token then
// collateral type.
func (c *Config) Programs() ([]domain.ProgramConfig, error) {
	var out []domain.ProgramConfig

	lpStart, lpEnd := c.LPWindow()
	for _, token := range sortedKeys(c.LP.Rewards) {
		amount, err := fixed.Parse(c.LP.Rewards[token])
		if err != nil {
			return nil, fmt.Errorf("%w: lp reward %s: %v", ErrInvalidConfig, token, err)
		}
		out = append(out, domain.ProgramConfig{
			Program:      domain.ProgramLP,
			StartBlock:   lpStart,
			EndBlock:     lpEnd,
			RewardToken:  token,
			RewardAmount: amount,
			CTypes:       append([]string(nil), c.LP.CollateralTypes...),
		})
	}

	mStart, mEnd := c.MinterWindow()
	for _, token := range sortedKeys(c.Minter.Rewards) {
		byCType := c.Minter.Rewards[token]
		for _, cType := range sortedKeys(byCType) {
			amount, err := fixed.Parse(byCType[cType])
			if err != nil {
				return nil, fmt.Errorf("%w: minter reward %s/%s: %v", ErrInvalidConfig, token, cType, err)
			}
			out = append(out, domain.ProgramConfig{
				Program:      domain.ProgramMinter,
				StartBlock:   mStart,
				EndBlock:     mEnd,
				RewardToken:  token,
				RewardAmount: amount,
				CTypes:       []string{cType},
				WithBridge:   c.Minter.WithBridge,
			})
		}
	}
	return out, nil
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
