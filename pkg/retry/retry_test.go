package retry

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

var errConfig = errors.New("unknown data source")

func TestRetryer_SuccessAfterRetries(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(5, time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), "backup/7/20240101", func(ctx context.Context) error {
		attempts++
		if attempts < 3 {
			return errors.New("connection reset")
		}
		return nil
	})
	if err != nil {
		t.Errorf("Expected success, got error: %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}
}

func TestRetryer_Disabled(t *testing.T) {
	retryer, err := NewRetryer(DefaultConfig())
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.Do(context.Background(), "unit", func(ctx context.Context) error {
		attempts++
		return errors.New("boom")
	})
	if err == nil || attempts != 1 {
		t.Errorf("Disabled retryer runs once: attempts=%d err=%v", attempts, err)
	}

	var nilRetryer *Retryer
	if err := nilRetryer.Do(context.Background(), "unit", func(context.Context) error { return nil }); err != nil {
		t.Errorf("nil retryer must run the unit, got %v", err)
	}
}

func TestRetryer_ExhaustedGoesToDLQ(t *testing.T) {
	config := EnableRetryWithDLQ(3, time.Millisecond, filepath.Join(t.TempDir(), "dlq.json"))
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	err = retryer.DoWithData(context.Background(), "restore/7/20240102", func(ctx context.Context) error {
		attempts++
		return errors.New("deadlock detected")
	}, map[string]string{"day": "2024-01-02"})

	if !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}
	if !strings.Contains(err.Error(), "deadlock detected") {
		t.Errorf("Expected the last error in message, got %v", err)
	}
	if attempts != 3 {
		t.Errorf("Expected 3 attempts, got %d", attempts)
	}

	entries := retryer.GetDLQ().ByUnit("restore/7/20240102")
	if len(entries) != 1 {
		t.Fatalf("Expected 1 DLQ entry, got %d", len(entries))
	}
	if entries[0].FailureType != FailureExhausted || entries[0].Attempts != 3 {
		t.Errorf("Unexpected DLQ entry: %+v", entries[0])
	}
}

func TestRetryer_SuccessResolvesDLQ(t *testing.T) {
	config := EnableRetryWithDLQ(2, time.Millisecond, filepath.Join(t.TempDir(), "dlq.json"))
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}
	ctx := context.Background()
	unit := "backup/7/20240101"

	failing := func(context.Context) error { return errors.New("disk full") }
	if err := retryer.Do(ctx, unit, failing); !errors.Is(err, ErrExhausted) {
		t.Fatalf("Expected ErrExhausted, got %v", err)
	}
	retryer.Do(ctx, "backup/7/20240102", failing)
	if got := retryer.GetDLQ().Size(); got != 2 {
		t.Fatalf("Expected 2 DLQ entries, got %d", got)
	}

	if err := retryer.Do(ctx, unit, func(context.Context) error { return nil }); err != nil {
		t.Fatalf("Expected success, got %v", err)
	}
	if entries := retryer.GetDLQ().ByUnit(unit); len(entries) != 0 {
		t.Errorf("Succeeded unit must leave the DLQ, got %+v", entries)
	}
	if got := retryer.GetDLQ().Size(); got != 1 {
		t.Errorf("Other units stay in the DLQ, size %d", got)
	}
}

func TestRetryer_NonRetryable(t *testing.T) {
	tests := []struct {
		name string
		err  error
	}{
		{"permanent", Permanent(errors.New("corrupt backup file"))},
		{"classified", errConfig},
		{"cancelled", context.Canceled},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			config := EnableRetry(5, time.Millisecond)
			config.DLQ.Enabled = true
			config.DLQ.FilePath = ""
			retryer, err := NewRetryer(config, WithNonRetryable(func(err error) bool { return errors.Is(err, errConfig) }))
			if err != nil {
				t.Fatalf("Failed to create retryer: %v", err)
			}

			attempts := 0
			err = retryer.Do(context.Background(), "unit", func(ctx context.Context) error {
				attempts++
				return tt.err
			})
			if attempts != 1 {
				t.Errorf("Expected 1 attempt, got %d", attempts)
			}
			if !errors.Is(err, tt.err) {
				t.Errorf("Expected wrapped %v, got %v", tt.err, err)
			}
			if got := retryer.GetDLQ().Size(); got != 1 {
				t.Errorf("Expected non-retryable failure in DLQ, size %d", got)
			}
		})
	}
}

func TestRetryer_RetryableErrorsFilter(t *testing.T) {
	config := EnableRetry(5, time.Millisecond)
	config.RetryableErrors = []string{"timeout"}
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	attempts := 0
	retryer.Do(context.Background(), "unit", func(ctx context.Context) error {
		attempts++
		return errors.New("syntax error")
	})
	if attempts != 1 {
		t.Errorf("Unlisted errors are not retried, got %d attempts", attempts)
	}
}

func TestRetryer_ContextCancellation(t *testing.T) {
	retryer, err := NewRetryer(EnableRetry(10, 50*time.Millisecond))
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	attempts := 0
	err = retryer.Do(ctx, "unit", func(ctx context.Context) error {
		attempts++
		if attempts == 2 {
			cancel()
		}
		return errors.New("busy")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("Expected context.Canceled, got %v", err)
	}
	if attempts != 2 {
		t.Errorf("Expected 2 attempts, got %d", attempts)
	}
}

func TestRetryer_OnRetry(t *testing.T) {
	config := EnableRetry(3, time.Millisecond)
	var units []string
	config.OnRetry = func(unit string, attempt int, err error, delay time.Duration) {
		units = append(units, unit)
	}
	retryer, err := NewRetryer(config)
	if err != nil {
		t.Fatalf("Failed to create retryer: %v", err)
	}

	retryer.Do(context.Background(), "backup/1/20240101", func(context.Context) error { return errors.New("x") })
	if len(units) != 2 || units[0] != "backup/1/20240101" {
		t.Errorf("OnRetry called with %v", units)
	}
}

func TestCalculateDelay(t *testing.T) {
	tests := []struct {
		strategy BackoffStrategy
		want     []time.Duration
	}{
		{BackoffConstant, []time.Duration{100, 100, 100}},
		{BackoffLinear, []time.Duration{100, 200, 300}},
		{BackoffExponential, []time.Duration{100, 200, 400}},
	}

	for _, tt := range tests {
		t.Run(string(tt.strategy), func(t *testing.T) {
			config := EnableRetry(5, 100*time.Millisecond)
			config.BackoffStrategy = tt.strategy
			config.MaxDelay = 350 * time.Millisecond
			config.Jitter = 0
			retryer, err := NewRetryer(config)
			if err != nil {
				t.Fatalf("Failed to create retryer: %v", err)
			}
			for i, want := range tt.want {
				want = min(want*time.Millisecond, config.MaxDelay)
				if got := retryer.calculateDelay(i + 1); got != want {
					t.Errorf("attempt %d: delay %v, want %v", i+1, got, want)
				}
			}
		})
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr bool
	}{
		{"valid", func(*Config) {}, false},
		{"negative attempts", func(c *Config) { c.MaxAttempts = -1 }, true},
		{"max below initial", func(c *Config) { c.MaxDelay = time.Millisecond }, true},
		{"bad strategy", func(c *Config) { c.BackoffStrategy = "random" }, true},
		{"bad jitter", func(c *Config) { c.Jitter = 2 }, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := EnableRetry(3, time.Second)
			tt.mutate(&c)
			if err := c.Validate(); (err != nil) != tt.wantErr {
				t.Errorf("Validate() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
