package app

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	"github.com/prometheus/client_golang/prometheus"

	"github.com/jun/gophsync/internal/config"
	"github.com/jun/gophsync/internal/crypto"
	"github.com/jun/gophsync/internal/logutils"
	"github.com/jun/gophsync/internal/metrics"
	"github.com/jun/gophsync/internal/secret"
	"github.com/jun/gophsync/internal/store"
	"github.com/jun/gophsync/internal/store/dynamo"
	"github.com/jun/gophsync/internal/store/memory"
	"github.com/jun/gophsync/internal/store/postgres"
)

const (
	devJWTSecret    = "default-dev-secret"
	devInviteSecret = "default-dev-invite-secret"
)

// NewApp initializes the application from configuration, resolving secrets
// and constructing the configured store. It panics when a production
// dependency is unavailable.
func NewApp(ctx context.Context) *App {
	cfg := config.GetConfig()
	logutils.SetLevel(cfg.Log.Level)

	awsCfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		panic(fmt.Sprintf("unable to load SDK config, %v", err))
	}

	// ---------- Secret Resolver ----------
	var resolver secret.Resolver
	if cfg.DevMode {
		resolver = secret.NewEnvResolver()
		logutils.Log.Info("using EnvResolver (DEV_MODE=true)")
	} else {
		resolver = secret.NewSSMResolver(ssm.NewFromConfig(awsCfg))
		logutils.Log.Info("using SSMResolver (SSM Parameter Store)")
	}

	jwtSecret := mustSecret(ctx, cfg, resolver, cfg.Secrets.JWTParam, devJWTSecret)
	apiGatewaySecret := secret.ResolveOr(ctx, resolver, cfg.Secrets.APIGatewayParam, "")

	hasher, err := newHasher(ctx, cfg, awsCfg, resolver)
	if err != nil {
		panic(fmt.Sprintf("invite hasher: %v", err))
	}
	st, closer, err := newStore(cfg, awsCfg)
	if err != nil {
		panic(fmt.Sprintf("store: %v", err))
	}

	app := New(cfg, Deps{
		Store:            st,
		Hasher:           hasher,
		Metrics:          metrics.New(prometheus.DefaultRegisterer),
		JWTSecret:        jwtSecret,
		APIGatewaySecret: apiGatewaySecret,
	})
	if closer != nil {
		app.closers = append(app.closers, closer)
	}
	return app
}

// mustSecret resolves name. Only DEV_MODE may fall back to a built-in value.
func mustSecret(ctx context.Context, cfg *config.Config, r secret.Resolver, name, devFallback string) string {
	if cfg.DevMode {
		return secret.ResolveOr(ctx, r, name, devFallback)
	}
	v, err := r.GetSecret(ctx, name)
	if err != nil {
		panic(fmt.Sprintf("resolve %s: %v", name, err))
	}
	return v
}

// newHasher prefers a KMS HMAC key when one is configured.
func newHasher(ctx context.Context, cfg *config.Config, awsCfg aws.Config, r secret.Resolver) (crypto.Hasher, error) {
	if cfg.Invites.KMSMacKeyID != "" {
		logutils.Log.WithField("key_id", cfg.Invites.KMSMacKeyID).Info("hashing invite codes with KMS")
		return crypto.NewKMSHasher(kms.NewFromConfig(awsCfg), cfg.Invites.KMSMacKeyID), nil
	}
	return crypto.NewHMACHasher(mustSecret(ctx, cfg, r, cfg.Secrets.InviteParam, devInviteSecret))
}

func newStore(cfg *config.Config, awsCfg aws.Config) (store.Store, func() error, error) {
	switch cfg.Store.Backend {
	case config.BackendMemory:
		logutils.Log.Info("using in-memory store")
		return memory.New(), nil, nil
	case config.BackendDynamo:
		t := cfg.Store.Tables
		return dynamo.New(dynamodb.NewFromConfig(awsCfg), dynamo.Tables{
			Workspaces:  t.Workspaces,
			Collections: t.Collections,
			Members:     t.Members,
			Invites:     t.Invites,
			Slugs:       t.Slugs,
		}), nil, nil
	case config.BackendPostgres:
		s, err := postgres.Open(cfg.Store.PostgresDSN)
		if err != nil {
			return nil, nil, err
		}
		if cfg.DevMode {
			if err := postgres.Migrate(s.DB()); err != nil {
				_ = s.Close()
				return nil, nil, fmt.Errorf("migrate: %w", err)
			}
		}
		return s, s.Close, nil
	}
	return nil, nil, fmt.Errorf("unknown store backend %q", cfg.Store.Backend)
}
