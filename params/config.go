package params

import (
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"github.com/joho/godotenv"
)

// DefaultProgram is the address every record is derived under unless
// PROGRAM_ID overrides it.
var DefaultProgram = common.HexToAddress("0x00000000000000000000000000000000005907a0")

type Market struct {
	Program common.Address
	// BookCapacity is the number of order slots each side's book is created with.
	// 1024 is the production layout; 10 keeps test records small.
	BookCapacity int
	// DrainLimit is used when a consume request does not name a drain count.
	DrainLimit int
}

type Storage struct {
	DBPath string
	// JournalPath is the request journal file; empty disables it.
	JournalPath string
}

type API struct {
	Addr        string
	CORSOrigins []string
	// ShutdownTimeout bounds graceful HTTP shutdown.
	ShutdownTimeout time.Duration
	// EnableFaucet exposes token account minting. Devnet only.
	EnableFaucet bool
	// RequireSignatures rejects create, cancel and settle requests without
	// an EIP-712 signature by the owner.
	RequireSignatures bool
	// SignatureWindow bounds how far in the future a signature deadline may be.
	SignatureWindow time.Duration
}

type Feed struct {
	KafkaBrokers []string
	KafkaTopic   string
}

type Config struct {
	Market  Market
	Storage Storage
	API     API
	Feed    Feed
	LogFile string
}

func Default() Config {
	return Config{
		Market: Market{
			Program:      DefaultProgram,
			BookCapacity: 1024,
			DrainLimit:   5,
		},
		Storage: Storage{
			DBPath: "data/records",
		},
		API: API{
			Addr:            ":8080",
			CORSOrigins:     []string{"http://localhost:3000"},
			ShutdownTimeout: 5 * time.Second,
			SignatureWindow: 5 * time.Minute,
		},
		Feed: Feed{
			KafkaTopic: "market-events",
		},
		LogFile: "data/node.log",
	}
}

// LoadFromEnv loads configuration from .env file (if exists) and environment variables
// Priority: ENV > .env file > defaults
func LoadFromEnv(envPath string) Config {
	cfg := Default()

	// Try to load .env file (optional - won't fail if not exists)
	if envPath != "" {
		_ = godotenv.Load(envPath)
	} else {
		_ = godotenv.Load()
	}

	if n, ok := getEnvInt("BOOK_CAPACITY"); ok && n > 0 {
		cfg.Market.BookCapacity = n
	}
	if n, ok := getEnvInt("DRAIN_LIMIT"); ok && n > 0 {
		cfg.Market.DrainLimit = n
	}

	if id := os.Getenv("PROGRAM_ID"); common.IsHexAddress(id) {
		cfg.Market.Program = common.HexToAddress(id)
	}

	cfg.Storage.DBPath = getEnv("DB_PATH", cfg.Storage.DBPath)
	cfg.Storage.JournalPath = getEnv("JOURNAL_PATH", cfg.Storage.JournalPath)
	cfg.API.Addr = getEnv("API_ADDR", cfg.API.Addr)
	cfg.LogFile = getEnv("LOG_FILE", cfg.LogFile)

	if origins := os.Getenv("CORS_ORIGINS"); origins != "" {
		cfg.API.CORSOrigins = splitList(origins)
	}
	if ms, ok := getEnvInt("API_SHUTDOWN_TIMEOUT_MS"); ok && ms > 0 {
		cfg.API.ShutdownTimeout = time.Duration(ms) * time.Millisecond
	}

	if v, err := strconv.ParseBool(os.Getenv("ENABLE_FAUCET")); err == nil {
		cfg.API.EnableFaucet = v
	}
	if v, err := strconv.ParseBool(os.Getenv("REQUIRE_SIGNATURES")); err == nil {
		cfg.API.RequireSignatures = v
	}
	if secs, ok := getEnvInt("SIGNATURE_WINDOW_SECONDS"); ok && secs > 0 {
		cfg.API.SignatureWindow = time.Duration(secs) * time.Second
	}

	if brokers := os.Getenv("KAFKA_BROKERS"); brokers != "" {
		cfg.Feed.KafkaBrokers = splitList(brokers)
	}
	cfg.Feed.KafkaTopic = getEnv("KAFKA_TOPIC", cfg.Feed.KafkaTopic)

	return cfg
}

// getEnv returns environment variable value or default
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string) (int, bool) {
	v := os.Getenv(key)
	if v == "" {
		return 0, false
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0, false
	}
	return n, true
}

func splitList(s string) []string {
	var out []string
	for _, part := range strings.Split(s, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}
