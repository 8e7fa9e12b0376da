package config

import (
	"crypto/tls"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/redis/go-redis/v9"

	"prism-board/storage"
)

// Config is everything a board process reads from its environment.
type Config struct {
	StoreKind        storage.Kind
	EndpointURL      string
	Credential       string
	CredentialHeader string
	PayloadField     string
	StreamURL        string

	ConnectionString string
	Table            string
	Namespace        string

	RedisConnection string
	Key             string
	Channel         string
	CacheTTL        time.Duration

	ConditionalWrites bool

	ReminderQueue      string
	ReminderWebhookURL string

	DisplayName      string
	ServerPort       string
	ServerCredential string
	Debug            bool
}

// Load reads the optional .env files (".env" when none are given) and then
// the process environment. Variables already set win over file values.
func Load(files ...string) (Config, error) {
	if err := godotenv.Load(files...); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load env file: %w", err)
	}
	return FromEnv(os.Getenv)
}

// FromEnv builds a Config from getenv.
func FromEnv(getenv func(string) string) (Config, error) {
	cfg := Config{
		StoreKind:          storage.Kind(strings.ToLower(strings.TrimSpace(getenv("STORE_KIND")))),
		EndpointURL:        getenv("STORE_ENDPOINT_URL"),
		Credential:         getenv("STORE_CREDENTIAL"),
		CredentialHeader:   getenv("STORE_CREDENTIAL_HEADER"),
		PayloadField:       getenv("STORE_PAYLOAD_FIELD"),
		StreamURL:          getenv("STORE_STREAM_URL"),
		ConnectionString:   getenv("STORAGE_CONNECTION_STRING"),
		Table:              getenv("BOARD_TABLE"),
		Namespace:          getenv("BOARD_NAMESPACE"),
		RedisConnection:    getenv("REDIS_CONNECTION_STRING"),
		Key:                getenv("BOARD_KEY"),
		Channel:            getenv("BOARD_CHANNEL"),
		ReminderQueue:      getenv("REMINDER_QUEUE"),
		ReminderWebhookURL: getenv("REMINDER_WEBHOOK_URL"),
		DisplayName:        getenv("DISPLAY_NAME"),
		ServerPort:         getenv("BOARD_SERVER_PORT"),
		ServerCredential:   getenv("BOARD_SERVER_CREDENTIAL"),
	}
	if cfg.StoreKind == "" {
		cfg.StoreKind = storage.KindMemory
	}
	switch cfg.StoreKind {
	case storage.KindMemory, storage.KindTable, storage.KindBucket, storage.KindRedis, storage.KindServer:
	default:
		return Config{}, fmt.Errorf("invalid STORE_KIND %q", cfg.StoreKind)
	}
	if cfg.ServerPort == "" {
		cfg.ServerPort = "8080"
	}
	if cfg.Table == "" {
		cfg.Table = "boards"
	}
	if v := getenv("CACHE_TTL"); v != "" {
		d, err := time.ParseDuration(v)
		if err != nil || d < 0 {
			return Config{}, fmt.Errorf("invalid CACHE_TTL %q", v)
		}
		cfg.CacheTTL = d
	}
	var err error
	if cfg.ConditionalWrites, err = parseBool(getenv, "STORE_CONDITIONAL_WRITES"); err != nil {
		return Config{}, err
	}
	if cfg.Debug, err = parseBool(getenv, "DEBUG"); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func parseBool(getenv func(string) string, name string) (bool, error) {
	v := getenv(name)
	if v == "" {
		return false, nil
	}
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, fmt.Errorf("invalid %s %q", name, v)
	}
	return b, nil
}

// ParseRedis accepts a redis:// URL or the "host:port,password=...,ssl=true"
// form Azure Cache for Redis hands out.
func ParseRedis(conn string) *redis.Options {
	if opts, err := redis.ParseURL(conn); err == nil {
		return opts
	}
	parts := strings.Split(conn, ",")
	opts := &redis.Options{Addr: strings.TrimSpace(parts[0])}
	for _, p := range parts[1:] {
		kv := strings.SplitN(p, "=", 2)
		if len(kv) != 2 {
			continue
		}
		switch strings.ToLower(strings.TrimSpace(kv[0])) {
		case "password":
			opts.Password = kv[1]
		case "ssl":
			if strings.EqualFold(strings.TrimSpace(kv[1]), "true") {
				opts.TLSConfig = &tls.Config{MinVersion: tls.VersionTLS12}
			}
		}
	}
	return opts
}

// RedisClient returns a client for RedisConnection, or nil when none is set.
func (c Config) RedisClient() *redis.Client {
	if c.RedisConnection == "" {
		return nil
	}
	return redis.NewClient(ParseRedis(c.RedisConnection))
}

// StoreOptions turns the configuration into storage options. rc is used by
// the redis backend and the read cache and may be nil otherwise.
func (c Config) StoreOptions(rc *redis.Client) (storage.Options, error) {
	if c.StoreKind == storage.KindRedis && rc == nil {
		return storage.Options{}, errors.New("STORE_KIND=redis needs REDIS_CONNECTION_STRING")
	}
	return storage.Options{
		Kind:             c.StoreKind,
		EndpointURL:      c.EndpointURL,
		Credential:       c.Credential,
		CredentialHeader: c.CredentialHeader,
		PayloadField:     c.PayloadField,
		StreamURL:        c.StreamURL,
		ConnectionString: c.ConnectionString,
		Table:            c.Table,
		Namespace:        c.Namespace,
		Redis:            rc,
		Key:              c.Key,
		Channel:          c.Channel,
		CacheTTL:         c.CacheTTL,
	}, nil
}
