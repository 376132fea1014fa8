package ratelimit

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"tradecore/internal/domain"
)

func TestAcquireImmediate(t *testing.T) {
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 5, RefillPerSec: 1},
	}, time.Second)

	if err := l.Acquire(context.Background(), ClassOrder, 3); err != nil {
		t.Fatalf("acquire: %v", err)
	}
}

func TestAcquireBlocksUntilRefill(t *testing.T) {
	// ёмкость 5, пополнение 100/с; осушаем ведро и ждём накопления
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 5, RefillPerSec: 100},
	}, time.Second)

	if err := l.Acquire(context.Background(), ClassOrder, 5); err != nil {
		t.Fatalf("drain: %v", err)
	}

	start := time.Now()
	if err := l.Acquire(context.Background(), ClassOrder, 2); err != nil {
		t.Fatalf("acquire after drain: %v", err)
	}
	// 2 токена по 100/с — не раньше чем через ~20мс
	if elapsed := time.Since(start); elapsed < 15*time.Millisecond {
		t.Fatalf("вернулись слишком рано: %v", elapsed)
	}
}

func TestAcquireTimeout(t *testing.T) {
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 1, RefillPerSec: 0.001},
	}, 20*time.Millisecond)

	if err := l.Acquire(context.Background(), ClassOrder, 1); err != nil {
		t.Fatalf("drain: %v", err)
	}
	err := l.Acquire(context.Background(), ClassOrder, 1)
	if !errors.Is(err, domain.ErrRateLimitTimeout) {
		t.Fatalf("err=%v, ждали ErrRateLimitTimeout", err)
	}
}

func TestAcquireCallerCancel(t *testing.T) {
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 1, RefillPerSec: 0.001},
	}, time.Second)

	if err := l.Acquire(context.Background(), ClassOrder, 1); err != nil {
		t.Fatalf("drain: %v", err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	err := l.Acquire(ctx, ClassOrder, 1)
	if !errors.Is(err, context.Canceled) {
		t.Fatalf("err=%v, ждали context.Canceled", err)
	}
}

func TestAcquireUnknownClass(t *testing.T) {
	l := New(nil, time.Second)
	if err := l.Acquire(context.Background(), "nope", 1); err == nil {
		t.Fatal("неизвестный класс прошёл без ошибки")
	}
}

func TestAcquireWeightOverCapacity(t *testing.T) {
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 2, RefillPerSec: 100},
	}, time.Second)

	err := l.Acquire(context.Background(), ClassOrder, 3)
	if err == nil {
		t.Fatal("вес больше ёмкости прошёл без ошибки")
	}
	if errors.Is(err, domain.ErrRateLimitTimeout) {
		t.Fatalf("ошибка конфигурации замаскирована под таймаут: %v", err)
	}
}

func TestConcurrentAcquireNeverOverdraws(t *testing.T) {
	// ёмкость 10, пополнения практически нет: из 20 конкурентных
	// попыток пройти должны ровно 10
	l := New(map[string]domain.RateBudget{
		ClassOrder: {Capacity: 10, RefillPerSec: 0.001},
	}, 50*time.Millisecond)

	var ok, timeouts int64
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			err := l.Acquire(context.Background(), ClassOrder, 1)
			switch {
			case err == nil:
				atomic.AddInt64(&ok, 1)
			case errors.Is(err, domain.ErrRateLimitTimeout):
				atomic.AddInt64(&timeouts, 1)
			default:
				t.Errorf("неожиданная ошибка: %v", err)
			}
		}()
	}
	wg.Wait()

	if ok != 10 {
		t.Fatalf("прошло %d, ждали 10 (timeouts=%d)", ok, timeouts)
	}
}
