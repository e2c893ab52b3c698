// Package bootstrap builds the dependencies shared by the orderbox binaries from config.
package bootstrap

import (
	"context"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/BearBump/OrderBox/config"
	"github.com/BearBump/OrderBox/internal/broker/kafka"
	"github.com/BearBump/OrderBox/internal/cache/rediscache"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/falabella"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/mercadolibre"
	"github.com/BearBump/OrderBox/internal/integrations/marketplace/wix"
	"github.com/BearBump/OrderBox/internal/integrations/partner/halcon"
	"github.com/BearBump/OrderBox/internal/models"
	"github.com/BearBump/OrderBox/internal/normalize"
	"github.com/BearBump/OrderBox/internal/services/partner"
	"github.com/BearBump/OrderBox/internal/storage/pgorders"
	"github.com/pkg/errors"
	"github.com/redis/go-redis/v9"
)

// MustLoadConfig reads the file named by the configPath env var and the secrets.
func MustLoadConfig() *config.Config {
	cfgPath := os.Getenv("configPath")
	if cfgPath == "" {
		panic("configPath env var is required")
	}
	cfg, err := config.Load(cfgPath)
	if err != nil {
		panic(errors.Wrap(err, "load config"))
	}
	return cfg
}

// OpenStorage retries until postgres accepts connections or wait runs out.
func OpenStorage(ctx context.Context, dsn string, wait time.Duration) (*pgorders.Storage, error) {
	deadline := time.Now().Add(wait)
	var lastErr error
	for {
		st, err := pgorders.New(ctx, dsn)
		if err == nil {
			return st, nil
		}
		lastErr = err
		if time.Now().After(deadline) {
			return nil, errors.Wrapf(lastErr, "postgres is not ready after %s", wait)
		}
		slog.Warn("postgres not ready, retrying", "error", err.Error())
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}
}

// Redis returns nil when redis is not configured.
func Redis(cfg *config.Config) *redis.Client {
	addr := cfg.Redis.Addr()
	if addr == "" {
		return nil
	}
	return rediscache.NewClient(rediscache.Options{
		Addr:     addr,
		Password: cfg.Secrets.RedisPassword,
		DB:       cfg.Redis.DB,
	})
}

// Producer returns nil when kafka is not configured.
func Producer(cfg *config.Config) *kafka.Producer {
	brokers := cfg.Kafka.Brokers()
	if len(brokers) == 0 {
		return nil
	}
	return kafka.NewProducer(brokers).WithTopic(cfg.Kafka.OrderEventsTopicName)
}

type Clients struct {
	MercadoLibre *mercadolibre.Client
	Wix          *wix.Client
	Falabella    *falabella.Client
	Halcon       *halcon.Client
}

// NewClients builds the marketplace and partner clients. tokens may be nil;
// then the ML access token lives only in this process.
func NewClients(cfg *config.Config, tokens mercadolibre.TokenStore) Clients {
	sec := cfg.Secrets
	return Clients{
		MercadoLibre: mercadolibre.New(mercadolibre.Config{
			ClientID:     sec.MLClientID,
			ClientSecret: sec.MLClientSecret,
			RefreshToken: sec.MLRefreshToken,
			AccessToken:  sec.MLAccessToken,
			SellerID:     sec.MLSellerID,
		}, tokens),
		Wix: wix.New(wix.Config{
			APIKey: sec.WixAPIKey,
			SiteID: sec.WixSiteID,
		}),
		Falabella: falabella.New(falabella.Config{
			UserID: sec.FalabellaUserID,
			APIKey: sec.FalabellaAPIKey,
		}),
		Halcon: halcon.New(halcon.Config{
			PushURL:         sec.HalconURL,
			Secret:          sec.HalconSecret,
			FirebaseKey:     sec.FirebaseAPIKey,
			FirebaseProject: sec.FirebaseProjectID,
		}),
	}
}

func Normalizer(cfg *config.Config) *normalize.Normalizer {
	if len(cfg.OrderBox.StoreNames) == 0 {
		return normalize.New(nil)
	}
	return normalize.New(cfg.OrderBox.StoreNames)
}

// PartnerPolicy converts the configured rules. Empty config means the built-in policy.
func PartnerPolicy(cfg *config.Config) (partner.Policy, error) {
	if len(cfg.Partner.Policy) == 0 {
		return partner.DefaultPolicy(), nil
	}
	out := make(partner.Policy, 0, len(cfg.Partner.Policy))
	for _, r := range cfg.Partner.Policy {
		ch, err := models.ParseChannel(r.Channel)
		if err != nil {
			return nil, errors.Wrap(err, "partner policy")
		}
		types := make([]string, 0, len(r.LogisticTypes))
		for _, t := range r.LogisticTypes {
			if t = strings.TrimSpace(t); t != "" {
				types = append(types, t)
			}
		}
		out = append(out, partner.Rule{Channel: ch, LogisticTypes: types})
	}
	return out, nil
}
