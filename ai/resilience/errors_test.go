package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorClass
	}{
		{"deadline", context.DeadlineExceeded, ErrorClassTransient},
		{"canceled", context.Canceled, ErrorClassPermanent},
		{"circuit open", fmt.Errorf("embed: %w", ErrCircuitOpen), ErrorClassPermanent},
		{"connection refused", errors.New("dial tcp 127.0.0.1:11434: connection refused"), ErrorClassTransient},
		{"rate limited", errors.New("error, status code: 429, message: too many requests"), ErrorClassTransient},
		{"bad gateway", errors.New("error, status code: 502"), ErrorClassTransient},
		{"unauthorized", errors.New("error, status code: 401, message: invalid api key"), ErrorClassPermanent},
		{"unknown", errors.New("something odd"), ErrorClassPermanent},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			classified := ClassifyError(tt.err)
			assert.Equal(t, tt.want, classified.Class)
			assert.ErrorIs(t, classified, tt.err)
		})
	}
}

func TestClassifyErrorNil(t *testing.T) {
	assert.Nil(t, ClassifyError(nil))
	assert.False(t, ShouldRetry(nil))
}

func TestErrorClassString(t *testing.T) {
	assert.Equal(t, "transient", ErrorClassTransient.String())
	assert.Equal(t, "permanent", ErrorClassPermanent.String())
	assert.Equal(t, "unknown", ErrorClass(9).String())
}
