package advisor

import (
	"context"
	"fmt"
	"time"

	"github.com/jpillora/backoff"
	"go.uber.org/zap"

	"github.com/skalibog/bfts/pkg/logger"
	"github.com/skalibog/bfts/pkg/models"
)

// RetryingAdvisor оборачивает советника ограниченным числом повторов с
// экспоненциальной задержкой и джиттером. Между попытками проверяется
// отмена контекста.
type RetryingAdvisor struct {
	inner       Advisor
	maxAttempts int
	minDelay    time.Duration
	maxDelay    time.Duration
}

// NewRetryingAdvisor создает советника с повторами
func NewRetryingAdvisor(inner Advisor, maxAttempts int) *RetryingAdvisor {
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	return &RetryingAdvisor{
		inner:       inner,
		maxAttempts: maxAttempts,
		minDelay:    200 * time.Millisecond,
		maxDelay:    5 * time.Second,
	}
}

// Advise вызывает внутреннего советника, повторяя при ошибках
func (r *RetryingAdvisor) Advise(ctx context.Context, symbol string, analysis *models.AnalysisResult, sentiment *Sentiment) (*Bias, error) {
	b := &backoff.Backoff{
		Min:    r.minDelay,
		Max:    r.maxDelay,
		Factor: 2,
		Jitter: true,
	}

	var lastErr error
	for attempt := 1; attempt <= r.maxAttempts; attempt++ {
		bias, err := r.inner.Advise(ctx, symbol, analysis, sentiment)
		if err == nil {
			return bias, nil
		}
		lastErr = err

		logger.Warn("Ошибка советника, повтор",
			zap.String("symbol", symbol),
			zap.Int("attempt", attempt),
			zap.Error(err))

		if attempt == r.maxAttempts {
			break
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(b.Duration()):
		}
	}

	return nil, fmt.Errorf("советник недоступен после %d попыток: %w", r.maxAttempts, lastErr)
}
