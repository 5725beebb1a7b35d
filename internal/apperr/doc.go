/*
Package apperr provides the error taxonomy shared by every layer that talks
to the supervised server.

Failures are classified once, at the boundary where they first occur, into
an Error carrying a user-facing message, technical details for logs, and
retry guidance. Callers inspect the Kind, render UserMessage to people and
TechnicalDetails to logs, and consult IsRetryable/RetryDelay before trying
again.

# Classification

Constructors build errors for known situations (Network, Auth, Validation,
Session, Timeout, ...). FromHTTPStatus maps response codes: 429 is
retryable after 60 seconds, 5xx after 5 seconds, everything else is
terminal. FromTransport distinguishes timeouts from reachability failures,
and FromJSON and FromFS classify decode and filesystem errors, neither of
which is ever retryable.

# Retrying

Retry runs an operation under a RetryConfig, backing off exponentially
between attempts using cenkalti/backoff:

	result, err := apperr.Retry(ctx, apperr.DefaultRetry(),
		func(ctx context.Context) (T, error) {
			return callServer(ctx)
		})

Delays are deterministic (initial * multiplier^attempt, capped at the
configured max). Non-retryable errors abort immediately; context
cancellation stops the loop between attempts. DefaultRetry,
AggressiveRetry and ConservativeRetry cover the common profiles.
*/
package apperr
