package contract

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gateway-fm/accessledger/pkg/types"
)

var errNoCode = errors.New("no contract code at address")

// CheckDeployed reports whether code exists at the contract address.
func (c *AccessControl) CheckDeployed(ctx context.Context) (bool, error) {
	code, err := c.ledger.Code(ctx, c.address)
	if err != nil {
		return false, err
	}
	return len(code) > 0, nil
}

// WaitDeployed waits up to timeout for the contract code to appear, with exponential backoff.
// A zero timeout checks once. Failure is an *types.InitializationError.
func (c *AccessControl) WaitDeployed(ctx context.Context, timeout time.Duration, logger *slog.Logger) error {
	if logger == nil {
		logger = slog.Default()
	}

	backoff := 200 * time.Millisecond
	maxBackoff := 2 * time.Second
	deadline := time.Now().Add(timeout)

	var lastErr error
	for {
		exists, err := c.CheckDeployed(ctx)
		switch {
		case err != nil:
			lastErr = err
			logger.Warn("Failed to check contract code",
				slog.String("address", c.address.Hex()),
				slog.String("error", err.Error()),
			)
		case exists:
			logger.Info("AccessControl contract found", slog.String("address", c.address.Hex()))
			return nil
		default:
			lastErr = errNoCode
		}

		if !time.Now().Before(deadline) {
			break
		}
		select {
		case <-ctx.Done():
			return &types.InitializationError{Path: c.address.Hex(), Err: ctx.Err()}
		case <-time.After(backoff):
		}
		backoff = min(backoff*2, maxBackoff)
	}

	return &types.InitializationError{
		Path: c.address.Hex(),
		Err:  fmt.Errorf("contract not deployed after %s: %w", timeout, lastErr),
	}
}
