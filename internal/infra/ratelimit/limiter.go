// Package ratelimit — допуск исходящих вызовов по токен-бакетам,
// раздельным на класс веса эндпоинта.
package ratelimit

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/time/rate"

	"tradecore/internal/domain"
)

// Классы веса; бюджеты на них приходят из Params.RateBudgets.
const (
	ClassOrder    = "order"
	ClassCancel   = "cancel"
	ClassQuery    = "query"
	ClassSnapshot = "snapshot"
)

type Limiter struct {
	classes map[string]*rate.Limiter
	wait    time.Duration
}

// New строит лимитер: ёмкость бюджета — burst ведра, пополнение
// непрерывное с заданной скоростью. waitTimeout ограничивает ожидание
// в Acquire; 0 — ждать до отмены ctx.
func New(budgets map[string]domain.RateBudget, waitTimeout time.Duration) *Limiter {
	classes := make(map[string]*rate.Limiter, len(budgets))
	for class, b := range budgets {
		classes[class] = rate.NewLimiter(rate.Limit(b.RefillPerSec), b.Capacity)
	}
	return &Limiter{classes: classes, wait: waitTimeout}
}

// Acquire списывает weight токенов класса; при нехватке — ждёт
// пополнения, пока не истечёт таймаут ожидания или ctx.
// Никаких чужих локов на время ожидания не держится.
func (l *Limiter) Acquire(ctx context.Context, class string, weight int) error {
	rl, ok := l.classes[class]
	if !ok {
		return fmt.Errorf("unknown weight class %q", class)
	}
	// запрос тяжелее ведра не пройдёт никогда — ошибка конфигурации
	if weight > rl.Burst() {
		return fmt.Errorf("class %s: weight %d exceeds bucket capacity %d", class, weight, rl.Burst())
	}

	wctx := ctx
	if l.wait > 0 {
		var cancel context.CancelFunc
		wctx, cancel = context.WithTimeout(ctx, l.wait)
		defer cancel()
	}

	if err := rl.WaitN(wctx, weight); err != nil {
		// отмену вызывающего не маскируем под таймаут лимитера
		if ctx.Err() != nil {
			return ctx.Err()
		}
		// дедлайн ожидания истёк либо WaitN сразу понял, что токены
		// до него не накопятся
		return fmt.Errorf("class %s (weight %d): %w", class, weight, domain.ErrRateLimitTimeout)
	}
	return nil
}
