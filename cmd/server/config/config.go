package config

import (
	"crypto/tls"
	"crypto/x509"
	"errors"
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"labcart/internal/auth"
)

// HTTPConfig holds the public API listen address.
type HTTPConfig struct {
	Addr string
}

// GatewayConfig holds payment processor settings.
type GatewayConfig struct {
	BaseURL          string
	APIKey           string
	WebhookSecret    string
	WebhookTolerance time.Duration
	HTTPTimeout      time.Duration
}

// RedisConfig holds Redis connection settings for the effect marker store.
// URL empty means markers stay in memory.
type RedisConfig struct {
	URL          string
	DialTimeout  *time.Duration
	ReadTimeout  *time.Duration
	WriteTimeout *time.Duration
	PoolSize     *int
	MinIdleConns *int
	MaxRetries   *int
	PingTimeout  time.Duration
	MarkerTTL    time.Duration
	EnableOTel   bool
	TLSConfig    *tls.Config
}

// KafkaConfig holds effect queue settings. Brokers empty means effects run
// in-process.
type KafkaConfig struct {
	Brokers []string
	Topic   string
	GroupID string
}

// ObservabilityConfig holds the HTTP address for the metrics endpoint.
type ObservabilityConfig struct {
	Addr string
}

// LoadHTTP reads the API listen address from env.
func LoadHTTP() (HTTPConfig, error) {
	addr, err := requiredString("HTTP_ADDR")
	if err != nil {
		return HTTPConfig{}, err
	}
	return HTTPConfig{Addr: addr}, nil
}

// LoadGateway reads payment processor settings from env.
func LoadGateway() (GatewayConfig, error) {
	cfg := GatewayConfig{}

	var err error
	if cfg.BaseURL, err = requiredString("GATEWAY_BASE_URL"); err != nil {
		return cfg, err
	}
	if cfg.APIKey, err = requiredString("GATEWAY_API_KEY"); err != nil {
		return cfg, err
	}
	if cfg.WebhookSecret, err = requiredString("GATEWAY_WEBHOOK_SECRET"); err != nil {
		return cfg, err
	}

	tolerance, err := optionalDuration("GATEWAY_WEBHOOK_TOLERANCE")
	if err != nil {
		return cfg, err
	}
	if tolerance != nil {
		cfg.WebhookTolerance = *tolerance
	}

	timeout, err := optionalDuration("GATEWAY_HTTP_TIMEOUT")
	if err != nil {
		return cfg, err
	}
	if timeout != nil {
		cfg.HTTPTimeout = *timeout
	}

	return cfg, nil
}

// LoadRedis reads Redis config from env.
func LoadRedis() (RedisConfig, error) {
	cfg := RedisConfig{
		URL: strings.TrimSpace(os.Getenv("REDIS_URL")),
	}
	if cfg.URL == "" {
		return cfg, nil
	}

	var err error
	if cfg.DialTimeout, err = optionalDuration("REDIS_DIAL_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.ReadTimeout, err = optionalDuration("REDIS_READ_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.WriteTimeout, err = optionalDuration("REDIS_WRITE_TIMEOUT"); err != nil {
		return cfg, err
	}
	if cfg.PoolSize, err = optionalInt("REDIS_POOL_SIZE"); err != nil {
		return cfg, err
	}
	if cfg.MinIdleConns, err = optionalInt("REDIS_MIN_IDLE_CONNS"); err != nil {
		return cfg, err
	}
	if cfg.MaxRetries, err = optionalInt("REDIS_MAX_RETRIES"); err != nil {
		return cfg, err
	}

	pingTimeout, err := optionalDuration("REDIS_PING_TIMEOUT")
	if err != nil {
		return cfg, err
	}
	if pingTimeout != nil {
		cfg.PingTimeout = *pingTimeout
	} else {
		cfg.PingTimeout = 5 * time.Second
	}

	markerTTL, err := optionalDuration("REDIS_EFFECT_MARKER_TTL")
	if err != nil {
		return cfg, err
	}
	if markerTTL != nil {
		cfg.MarkerTTL = *markerTTL
	} else {
		cfg.MarkerTTL = 24 * time.Hour
	}

	if cfg.EnableOTel, err = optionalBool("REDIS_OTEL"); err != nil {
		return cfg, err
	}

	if cfg.TLSConfig, err = loadRedisTLSFromEnv(); err != nil {
		return cfg, err
	}

	return cfg, nil
}

// LoadKafka reads effect queue settings from env.
func LoadKafka() (KafkaConfig, error) {
	raw := strings.TrimSpace(os.Getenv("KAFKA_BROKERS"))
	if raw == "" {
		return KafkaConfig{}, nil
	}

	cfg := KafkaConfig{}
	for _, broker := range strings.Split(raw, ",") {
		broker = strings.TrimSpace(broker)
		if broker != "" {
			cfg.Brokers = append(cfg.Brokers, broker)
		}
	}

	var err error
	if cfg.Topic, err = requiredString("KAFKA_TOPIC"); err != nil {
		return cfg, err
	}
	if cfg.GroupID, err = requiredString("KAFKA_GROUP_ID"); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// LoadObservability reads metrics HTTP server address from env.
func LoadObservability() (ObservabilityConfig, error) {
	addr, err := requiredString("OBS_ADDR")
	if err != nil {
		return ObservabilityConfig{}, err
	}
	return ObservabilityConfig{Addr: addr}, nil
}

// LoadAdminTokens parses the back-office token table from ADMIN_TOKENS.
// Format: "token=actorID:role" entries separated by commas. An empty table is
// allowed; every admin endpoint then answers 401.
func LoadAdminTokens() (map[string]auth.Actor, error) {
	raw := strings.TrimSpace(os.Getenv("ADMIN_TOKENS"))
	tokens := make(map[string]auth.Actor)
	if raw == "" {
		return tokens, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		token, actorSpec, found := strings.Cut(entry, "=")
		if !found {
			return nil, fmt.Errorf("ADMIN_TOKENS entry %q: want token=actorID:role", entry)
		}
		actorID, roleRaw, found := strings.Cut(actorSpec, ":")
		if !found || token == "" || actorID == "" {
			return nil, fmt.Errorf("ADMIN_TOKENS entry %q: want token=actorID:role", entry)
		}
		role := auth.Role(roleRaw)
		if role != auth.RoleAdmin && role != auth.RoleStaff {
			return nil, fmt.Errorf("ADMIN_TOKENS entry %q: unknown role %q", entry, roleRaw)
		}
		tokens[token] = auth.Actor{ID: actorID, Role: role}
	}
	return tokens, nil
}

// LoadCatalogPrices parses the static price table from CATALOG_PRICES.
// Format: "productID=cents" entries separated by commas.
func LoadCatalogPrices() (map[string]int64, error) {
	raw := strings.TrimSpace(os.Getenv("CATALOG_PRICES"))
	prices := make(map[string]int64)
	if raw == "" {
		return prices, nil
	}

	for _, entry := range strings.Split(raw, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		productID, centsRaw, found := strings.Cut(entry, "=")
		if !found || productID == "" {
			return nil, fmt.Errorf("CATALOG_PRICES entry %q: want productID=cents", entry)
		}
		cents, err := strconv.ParseInt(centsRaw, 10, 64)
		if err != nil || cents <= 0 {
			return nil, fmt.Errorf("CATALOG_PRICES entry %q: cents must be a positive integer", entry)
		}
		prices[productID] = cents
	}
	return prices, nil
}

func loadRedisTLSFromEnv() (*tls.Config, error) {
	caFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CA_FILE"))
	certFile := strings.TrimSpace(os.Getenv("REDIS_TLS_CERT_FILE"))
	keyFile := strings.TrimSpace(os.Getenv("REDIS_TLS_KEY_FILE"))
	serverName := strings.TrimSpace(os.Getenv("REDIS_TLS_SERVER_NAME"))
	insecureStr := strings.TrimSpace(os.Getenv("REDIS_TLS_INSECURE_SKIP_VERIFY"))

	if caFile == "" && certFile == "" && keyFile == "" && serverName == "" && insecureStr == "" {
		return nil, nil
	}
	if (certFile == "") != (keyFile == "") {
		return nil, errors.New("REDIS_TLS_CERT_FILE and REDIS_TLS_KEY_FILE must be set together")
	}

	tlsConfig := &tls.Config{
		MinVersion: tls.VersionTLS12,
		ServerName: serverName,
	}

	if insecureStr != "" {
		insecure, err := strconv.ParseBool(insecureStr)
		if err != nil {
			return nil, fmt.Errorf("REDIS_TLS_INSECURE_SKIP_VERIFY: %w", err)
		}
		tlsConfig.InsecureSkipVerify = insecure
	}

	if caFile != "" {
		pemData, err := os.ReadFile(caFile)
		if err != nil {
			return nil, fmt.Errorf("read REDIS_TLS_CA_FILE: %w", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(pemData) {
			return nil, errors.New("REDIS_TLS_CA_FILE contains no valid certificates")
		}
		tlsConfig.RootCAs = pool
	}

	if certFile != "" {
		cert, err := tls.LoadX509KeyPair(certFile, keyFile)
		if err != nil {
			return nil, fmt.Errorf("load redis TLS keypair: %w", err)
		}
		tlsConfig.Certificates = []tls.Certificate{cert}
	}

	return tlsConfig, nil
}

func optionalDuration(name string) (*time.Duration, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := time.ParseDuration(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalInt(name string) (*int, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return nil, nil
	}
	val, err := strconv.Atoi(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", name, err)
	}
	if val < 0 {
		return nil, fmt.Errorf("%s must be >= 0", name)
	}
	return &val, nil
}

func optionalBool(name string) (bool, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return false, nil
	}
	val, err := strconv.ParseBool(raw)
	if err != nil {
		return false, fmt.Errorf("%s: %w", name, err)
	}
	return val, nil
}

func requiredString(name string) (string, error) {
	raw := strings.TrimSpace(os.Getenv(name))
	if raw == "" {
		return "", fmt.Errorf("%s is required", name)
	}
	return raw, nil
}
