package secret

import (
	"context"
	"fmt"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ssm"
	ssmtypes "github.com/aws/aws-sdk-go-v2/service/ssm/types"
)

type fakeSSMClient struct {
	params map[string]string
	calls  int
}

func (f *fakeSSMClient) GetParameter(_ context.Context, input *ssm.GetParameterInput, _ ...func(*ssm.Options)) (*ssm.GetParameterOutput, error) {
	f.calls++
	val, ok := f.params[*input.Name]
	if !ok {
		return nil, fmt.Errorf("parameter not found: %s", *input.Name)
	}
	return &ssm.GetParameterOutput{
		Parameter: &ssmtypes.Parameter{
			Name:  input.Name,
			Value: aws.String(val),
		},
	}, nil
}

func TestSSMResolver_GetSecret_Cached(t *testing.T) {
	client := &fakeSSMClient{
		params: map[string]string{
			"/gophsync/invite-secret": "super-secret-value",
		},
	}
	resolver := NewSSMResolver(client)

	for i := 0; i < 3; i++ {
		val, err := resolver.GetSecret(context.Background(), "/gophsync/invite-secret")
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if val != "super-secret-value" {
			t.Fatalf("expected %q, got %q", "super-secret-value", val)
		}
	}
	if client.calls != 1 {
		t.Fatalf("expected 1 SSM call, got %d", client.calls)
	}
}

func TestSSMResolver_GetSecret_NotFound(t *testing.T) {
	resolver := NewSSMResolver(&fakeSSMClient{params: map[string]string{}})

	_, err := resolver.GetSecret(context.Background(), "/gophsync/nonexistent")
	if err == nil {
		t.Fatal("expected error for missing parameter, got nil")
	}
}

func TestEnvResolver_GetSecret(t *testing.T) {
	t.Setenv("JWT_SECRET", "env-secret-value")

	val, err := NewEnvResolver().GetSecret(context.Background(), "/gophsync/jwt-secret")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if val != "env-secret-value" {
		t.Fatalf("expected %q, got %q", "env-secret-value", val)
	}
}

func TestResolveOr_Fallback(t *testing.T) {
	t.Setenv("NONEXISTENT_SECRET", "")

	got := ResolveOr(context.Background(), NewEnvResolver(), "/gophsync/nonexistent-secret", "dev")
	if got != "dev" {
		t.Fatalf("expected fallback, got %q", got)
	}
}

func TestParamNameToEnvVar(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"/gophsync/jwt-secret", "JWT_SECRET"},
		{"/gophsync/invite-secret", "INVITE_SECRET"},
		{"/gophsync/api-gateway-secret", "API_GATEWAY_SECRET"},
	}

	for _, tc := range tests {
		got := paramNameToEnvVar(tc.input)
		if got != tc.expected {
			t.Errorf("paramNameToEnvVar(%q) = %q, want %q", tc.input, got, tc.expected)
		}
	}
}
