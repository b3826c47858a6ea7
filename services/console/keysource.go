package console

import (
	"context"
	"errors"
	"fmt"

	"iplfleet/services/fleet"
	"iplfleet/services/sshchan"
)

// VaultKeySource adapts the fleet vault repository to the credential
// contract the SSH layer expects.
func VaultKeySource(repo *fleet.Repo) sshchan.KeySource {
	return vaultKeySource{repo: repo}
}

type vaultKeySource struct {
	repo *fleet.Repo
}

func (s vaultKeySource) PrivateKey(ctx context.Context, username string) (string, error) {
	key, err := s.repo.PrivateKey(ctx, username)
	if errors.Is(err, fleet.ErrKeyNotFound) {
		return "", fmt.Errorf("%w: %s", sshchan.ErrCredentialNotFound, username)
	}
	if err != nil {
		return "", err
	}
	return key, nil
}
