package config

import (
	"github.com/AvaProtocol/userop-relay/core/chainio/signer"
)

func parseIdentities(keys []string) ([]*signer.LocalIdentity, error) {
	result := make([]*signer.LocalIdentity, 0, len(keys))
	for _, key := range keys {
		id, err := signer.LocalIdentityFromHex(key)
		if err != nil {
			return nil, err
		}
		result = append(result, id)
	}
	return result, nil
}

func valueOr(v, fallback string) string {
	if v == "" {
		return fallback
	}
	return v
}
