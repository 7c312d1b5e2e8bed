package crypto

import (
	"context"
	"encoding/base64"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/kms"
	"github.com/aws/aws-sdk-go-v2/service/kms/types"
)

// KMSClient is the subset of *kms.Client used by KMSHasher.
type KMSClient interface {
	GenerateMac(ctx context.Context, params *kms.GenerateMacInput, optFns ...func(*kms.Options)) (*kms.GenerateMacOutput, error)
}

// KMSHasher computes HMAC-SHA256 inside AWS KMS so the key never leaves it.
// Hashes are compared for equality, so moving to another key invalidates
// every outstanding invite, as rotating the HMACHasher secret does.
type KMSHasher struct {
	client KMSClient
	keyID  string
}

// NewKMSHasher creates a KMSHasher.
// keyID can be a key ID, key ARN, or alias name (e.g., "alias/gophsync-invite-mac").
func NewKMSHasher(client KMSClient, keyID string) *KMSHasher {
	return &KMSHasher{
		client: client,
		keyID:  keyID,
	}
}

// Hash returns the base64 encoded MAC of code.
func (h *KMSHasher) Hash(ctx context.Context, code string) (string, error) {
	result, err := h.client.GenerateMac(ctx, &kms.GenerateMacInput{
		KeyId:        aws.String(h.keyID),
		MacAlgorithm: types.MacAlgorithmSpecHmacSha256,
		Message:      []byte(code),
	})
	if err != nil {
		return "", fmt.Errorf("failed to generate mac: %w", err)
	}
	return base64.StdEncoding.EncodeToString(result.Mac), nil
}
