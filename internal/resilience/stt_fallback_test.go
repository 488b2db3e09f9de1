package resilience

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/MrWong99/hearken/pkg/provider/stt"
	sttmock "github.com/MrWong99/hearken/pkg/provider/stt/mock"
)

func TestSTTFallback_Transcribe_PrimarySuccess(t *testing.T) {
	primary := &sttmock.Transcriber{Text: "primary"}
	secondary := &sttmock.Transcriber{Text: "secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "primary" {
		t.Fatalf("text = %q, want primary", text)
	}
	if secondary.CallCount() != 0 {
		t.Fatalf("secondary called %d times, want 0", secondary.CallCount())
	}
}

func TestSTTFallback_Transcribe_Failover(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Text: "secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	text, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if text != "secondary" {
		t.Fatalf("text = %q, want secondary", text)
	}
}

func TestSTTFallback_Transcribe_AllFail(t *testing.T) {
	primary := &sttmock.Transcriber{Err: errors.New("primary down")}
	secondary := &sttmock.Transcriber{Err: errors.New("secondary down")}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 3},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), make([]float32, 160), 16000)
	if !errors.Is(err, ErrAllFailed) {
		t.Fatalf("err = %v, want ErrAllFailed", err)
	}
}

func TestSTTFallback_UnsupportedFormatIsPermanent(t *testing.T) {
	primary := &sttmock.Transcriber{Text: "primary"}
	secondary := &sttmock.Transcriber{Text: "secondary"}

	fb := NewSTTFallback(primary, "primary", FallbackConfig{
		CircuitBreaker: CircuitBreakerConfig{MaxFailures: 1, ResetTimeout: time.Hour},
	})
	fb.AddFallback("secondary", secondary)

	_, err := fb.Transcribe(context.Background(), make([]float32, 80), 8000)
	var fe *stt.FormatError
	if !errors.As(err, &fe) {
		t.Fatalf("err = %v, want *stt.FormatError", err)
	}
	if errors.Is(err, ErrAllFailed) {
		t.Error("format error was wrapped in ErrAllFailed")
	}
	if secondary.CallCount() != 0 {
		t.Error("secondary was tried for a format error")
	}
	if !fb.Healthy() || fb.States()["primary"] != StateClosed {
		t.Error("format error tripped the breaker")
	}
}
