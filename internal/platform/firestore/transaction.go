package firestore

import (
	"context"
	"errors"
	"time"

	"cloud.google.com/go/firestore"
)

const (
	defaultTxAttempts = 5
	defaultTxTimeout  = 15 * time.Second
)

type txKey struct{}

// TxFunc is executed within a Firestore transaction. The context carries the transaction so
// repositories invoked with it join the same unit of work.
type TxFunc func(ctx context.Context, tx *firestore.Transaction) error

// TxOption customises transaction behaviour.
type TxOption func(*txConfig)

type txConfig struct {
	attempts int
	timeout  time.Duration
}

// WithTxAttempts overrides the retry attempts for a transaction.
func WithTxAttempts(attempts int) TxOption {
	return func(cfg *txConfig) {
		if attempts > 0 {
			cfg.attempts = attempts
		}
	}
}

// WithTxTimeout sets a timeout for the transaction context.
func WithTxTimeout(timeout time.Duration) TxOption {
	return func(cfg *txConfig) {
		if timeout > 0 {
			cfg.timeout = timeout
		}
	}
}

// WithTransaction stores tx on ctx.
func WithTransaction(ctx context.Context, tx *firestore.Transaction) context.Context {
	return context.WithValue(ctx, txKey{}, tx)
}

// TransactionFrom returns the transaction carried by ctx, if any.
func TransactionFrom(ctx context.Context) (*firestore.Transaction, bool) {
	if ctx == nil {
		return nil, false
	}
	tx, ok := ctx.Value(txKey{}).(*firestore.Transaction)
	return tx, ok && tx != nil
}

// RunTransaction executes fn within a transaction on the provided client. Errors returned by
// fn are handed back unchanged; only failures raised by Firestore itself are wrapped.
func RunTransaction(ctx context.Context, client *firestore.Client, fn TxFunc, opts ...TxOption) error {
	if client == nil {
		return WrapError("transaction", errors.New("firestore: client is nil"))
	}
	if fn == nil {
		return WrapError("transaction", errors.New("firestore: transaction function is nil"))
	}
	if _, nested := TransactionFrom(ctx); nested {
		return WrapError("transaction", errors.New("firestore: nested transactions are not supported"))
	}

	cfg := txConfig{attempts: defaultTxAttempts, timeout: defaultTxTimeout}
	for _, opt := range opts {
		if opt != nil {
			opt(&cfg)
		}
	}

	txnCtx := ctx
	if cfg.timeout > 0 {
		if deadline, ok := ctx.Deadline(); !ok || time.Until(deadline) > cfg.timeout {
			var cancel context.CancelFunc
			txnCtx, cancel = context.WithTimeout(ctx, cfg.timeout)
			defer cancel()
		}
	}

	var fnErr error
	err := client.RunTransaction(txnCtx, func(ctx context.Context, tx *firestore.Transaction) error {
		fnErr = fn(WithTransaction(ctx, tx), tx)
		return fnErr
	}, firestore.MaxAttempts(cfg.attempts))
	if err == nil {
		return nil
	}
	if fnErr != nil && errors.Is(err, fnErr) {
		return fnErr
	}
	return WrapError("transaction", err)
}
