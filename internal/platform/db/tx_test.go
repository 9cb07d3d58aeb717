package db

import (
	"context"
	"testing"

	"github.com/jackc/pgx/v5"
)

type fakeTx struct{ pgx.Tx }

func TestConnFromContext_Empty(t *testing.T) {
	if tx := ConnFromContext(context.Background()); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestWithTx_NilStaysNil(t *testing.T) {
	ctx := WithTx(context.Background(), nil)
	if tx := ConnFromContext(ctx); tx != nil {
		t.Errorf("expected nil tx, got %v", tx)
	}
}

func TestInTx_JoinsOuterTransaction(t *testing.T) {
	// An outer tx in ctx means InTx never touches the (nil) pool.
	ctx := WithTx(context.Background(), fakeTx{})
	called := false
	err := InTx(ctx, nil, func(inner context.Context) error {
		called = true
		if ConnFromContext(inner) == nil {
			t.Error("expected inner ctx to carry the outer tx")
		}
		return nil
	})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !called {
		t.Error("expected fn to be called")
	}
}
