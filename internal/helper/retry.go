package helper

import (
	"context"
	"errors"
	"net/http"
	"regexp"
	"strconv"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/rs/zerolog/log"

	"pdf-rag/internal/config"
)

// NewBackOff builds an exponential policy bounded by cfg.MaxRetries and ctx
func NewBackOff(ctx context.Context, cfg config.RetryConfig) backoff.BackOff {
	eb := backoff.NewExponentialBackOff(
		backoff.WithInitialInterval(cfg.InitialInterval),
		backoff.WithMaxInterval(cfg.MaxInterval),
		backoff.WithMaxElapsedTime(0),
	)
	return backoff.WithContext(backoff.WithMaxRetries(eb, cfg.MaxRetries), ctx)
}

// Retry runs op until it succeeds, fails with an error IsTransient rejects,
// or the policy gives up. Each attempt gets its own timeout when timeout > 0.
func Retry[T any](ctx context.Context, cfg config.RetryConfig, timeout time.Duration, name string, op func(ctx context.Context) (T, error)) (T, error) {
	attempt := 0
	return backoff.RetryNotifyWithData(func() (T, error) {
		attempt++
		callCtx, cancel := withOptionalTimeout(ctx, timeout)
		defer cancel()
		v, err := op(callCtx)
		var permanent *backoff.PermanentError
		if err != nil && !errors.As(err, &permanent) && !IsTransient(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}, NewBackOff(ctx, cfg), func(err error, next time.Duration) {
		log.Warn().Err(err).Str("op", name).Int("attempt", attempt).Dur("retry_in", next).Msg("Retrying")
	})
}

func withOptionalTimeout(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return context.WithCancel(ctx)
	}
	return context.WithTimeout(ctx, timeout)
}

// openai: "API returned unexpected status code: 401: ..."; ollama: "404 Not Found: ..."
var (
	statusCodeRe = regexp.MustCompile(`status code:? (\d{3})`)
	statusLineRe = regexp.MustCompile(`(?:^|: )(\d{3}) [A-Z][A-Za-z ]+`)
)

// IsTransient reports whether err is worth another attempt. Cancellation and
// client errors other than 408 and 429 are final.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) || errors.Is(err, context.Canceled) {
		return false
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	code, ok := statusCode(err.Error())
	if !ok || code < 400 || code >= 500 {
		return true
	}
	return code == http.StatusRequestTimeout || code == http.StatusTooManyRequests
}

func statusCode(msg string) (int, bool) {
	for _, re := range []*regexp.Regexp{statusCodeRe, statusLineRe} {
		if m := re.FindStringSubmatch(msg); m != nil {
			code, err := strconv.Atoi(m[1])
			return code, err == nil
		}
	}
	return 0, false
}
