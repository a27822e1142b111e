// Copyright (C) 2025, Lux Industries, Inc.
// See the file LICENSE for licensing terms.

package utils

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/luxfi/log"
)

// WithRetriesTimeout uses an exponential backoff to run the operation until it
// succeeds, the timeout has elapsed or ctx is done. Errors wrapped with
// backoff.Permanent stop the retries immediately.
func WithRetriesTimeout(
	ctx context.Context,
	logger log.Logger,
	operation backoff.Operation,
	timeout time.Duration,
	name string,
) error {
	expBackOff := backoff.NewExponentialBackOff(
		backoff.WithMaxElapsedTime(timeout),
	)
	notify := func(err error, next time.Duration) {
		logger.Warn("operation failed, retrying",
			log.String("operation", name),
			log.Stringer("next", next),
			log.Err(err),
		)
	}
	return backoff.RetryNotify(operation, backoff.WithContext(expBackOff, ctx), notify)
}

// WithMaxRetries runs the operation with the default exponential backoff
// until it succeeds or maxElapsedTime has passed.
func WithMaxRetries(
	operation backoff.Operation,
	maxElapsedTime time.Duration,
	logger log.Logger,
) error {
	return WithRetriesTimeout(context.Background(), logger, operation, maxElapsedTime, "operation")
}
