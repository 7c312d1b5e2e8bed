// Package secret resolves server secrets (JWT signing key, invite hashing
// key, API gateway origin token) from SSM Parameter Store or, in DEV_MODE,
// from environment variables.
package secret

import (
	"context"
	"fmt"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"

	"github.com/jun/gophsync/internal/logutils"
)

// SSMClient is the subset of *ssm.Client methods used by SSMResolver.
type SSMClient interface {
	GetParameter(ctx context.Context, params *ssm.GetParameterInput, optFns ...func(*ssm.Options)) (*ssm.GetParameterOutput, error)
}

// Resolver retrieves secret values by name.
type Resolver interface {
	GetSecret(ctx context.Context, name string) (string, error)
}

// SSMResolver fetches SecureString parameters and caches them for the life
// of the process, which spans many invocations of a warm Lambda.
type SSMResolver struct {
	client SSMClient

	mu    sync.Mutex
	cache map[string]string
}

// NewSSMResolver returns a Resolver backed by SSM Parameter Store.
func NewSSMResolver(client SSMClient) *SSMResolver {
	return &SSMResolver{client: client, cache: make(map[string]string)}
}

func (r *SSMResolver) GetSecret(ctx context.Context, name string) (string, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if v, ok := r.cache[name]; ok {
		return v, nil
	}

	out, err := r.client.GetParameter(ctx, &ssm.GetParameterInput{
		Name:           aws.String(name),
		WithDecryption: aws.Bool(true),
	})
	if err != nil {
		return "", fmt.Errorf("ssm get parameter %q: %w", name, err)
	}
	if out.Parameter == nil || out.Parameter.Value == nil {
		return "", fmt.Errorf("ssm parameter %q has no value", name)
	}
	r.cache[name] = *out.Parameter.Value
	return *out.Parameter.Value, nil
}

// EnvResolver reads the environment variable named after the last path
// segment of the parameter: "/gophsync/invite-secret" -> INVITE_SECRET.
type EnvResolver struct{}

// NewEnvResolver returns a Resolver that reads from environment variables.
func NewEnvResolver() *EnvResolver {
	return &EnvResolver{}
}

func (r *EnvResolver) GetSecret(_ context.Context, name string) (string, error) {
	envName := paramNameToEnvVar(name)
	val := os.Getenv(envName)
	if val == "" {
		return "", fmt.Errorf("environment variable %q (from param %q) is not set", envName, name)
	}
	return val, nil
}

func paramNameToEnvVar(name string) string {
	parts := strings.Split(name, "/")
	last := parts[len(parts)-1]
	return strings.ToUpper(strings.ReplaceAll(last, "-", "_"))
}

// ResolveOr returns the secret, or fallback with a warning when it cannot be
// resolved.
func ResolveOr(ctx context.Context, r Resolver, name, fallback string) string {
	v, err := r.GetSecret(ctx, name)
	if err != nil {
		logutils.Log.WithField("param", name).Warnf("failed to resolve secret: %v", err)
		return fallback
	}
	return v
}
