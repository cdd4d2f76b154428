package client

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"slices"

	"github.com/go-jose/go-jose/v4"

	"mensageria_assinada/internal/identity"
)

// Who fetches the server's lobby over HTTP without authenticating.
func Who(ctx context.Context, base string) ([]identity.PublicKey, error) {
	endpoint, err := url.JoinPath(base, "lobby")
	if err != nil {
		return nil, fmt.Errorf("build lobby url: %w", err)
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetch lobby: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetch lobby: unexpected status %s", resp.Status)
	}

	var set jose.JSONWebKeySet
	if err := json.NewDecoder(resp.Body).Decode(&set); err != nil {
		return nil, fmt.Errorf("decode lobby: %w", err)
	}

	keys := make([]identity.PublicKey, 0, len(set.Keys))
	for _, jwk := range set.Keys {
		pk, err := identity.PublicKeyFromJWK(jwk)
		if err != nil {
			return nil, fmt.Errorf("lobby key %q: %w", jwk.KeyID, err)
		}
		keys = append(keys, pk)
	}
	return sortKeys(keys), nil
}

func sortKeys(keys []identity.PublicKey) []identity.PublicKey {
	slices.SortFunc(keys, func(a, b identity.PublicKey) int {
		return bytes.Compare(a[:], b[:])
	})
	return keys
}
