package cartsync

import (
	"context"

	"github.com/shopspring/decimal"
)

// RemoteCart is the cart backend the store mirrors.
type RemoteCart interface {
	FetchCart(ctx context.Context, userID string) ([]RemoteLine, error)
	AddItem(ctx context.Context, userID, productID string, quantity int, price decimal.Decimal) error
	UpdateItem(ctx context.Context, lineID string, quantity int, userID string) error
	RemoveItem(ctx context.Context, lineID, userID string) error
	ClearCart(ctx context.Context, userID string) error
}

// UserResolver maps a stored credential (the signed-in email) to a backend user id.
type UserResolver interface {
	ResolveUserID(ctx context.Context, credential string) (string, error)
}

// UserResolverFunc adapts a function to UserResolver.
type UserResolverFunc func(ctx context.Context, credential string) (string, error)

func (fn UserResolverFunc) ResolveUserID(ctx context.Context, credential string) (string, error) {
	return fn(ctx, credential)
}
