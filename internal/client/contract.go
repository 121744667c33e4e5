//go:generate go run go.uber.org/mock/mockgen -source=contract.go -destination=../mocks/mock_client.go -package=mocks

package client

import (
	"context"

	"github.com/danmuck/boltctl/internal/resolve"
)

// AddressResolver turns the configured host and optional port into a dial
// address. *resolve.Resolver satisfies it.
type AddressResolver interface {
	Resolve(ctx context.Context, host string, port *int) (resolve.Address, error)
}

// KeySource is the identity collaborator read before every connect.
// *identity.Keyring satisfies it.
type KeySource interface {
	ReadPrivateKey(ctx context.Context) error
	ReadPublicKey(ctx context.Context) (string, error)
}
