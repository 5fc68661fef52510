package health

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func static(err error) CheckFunc {
	return func(context.Context) error { return err }
}

func TestCheckerRegistry(t *testing.T) {
	refused := errors.New("connection refused")

	type reg struct {
		name     string
		critical bool
		checkFn  CheckFunc
	}
	tests := []struct {
		name   string
		checks []reg
		want   Status
	}{
		{name: "no checks", want: StatusHealthy},
		{
			name:   "all healthy",
			checks: []reg{{"postgresql", true, static(nil)}, {"message_server", true, Bus(func() bool { return true })}},
			want:   StatusHealthy,
		},
		{
			name:   "bus stopped",
			checks: []reg{{"postgresql", true, static(nil)}, {"message_server", true, Bus(func() bool { return false })}},
			want:   StatusUnhealthy,
		},
		{
			name:   "optional dependency failing",
			checks: []reg{{"postgresql", true, static(nil)}, {"redis", false, static(refused)}},
			want:   StatusDegraded,
		},
		{
			name:   "critical beats optional",
			checks: []reg{{"redis", false, static(refused)}, {"mongodb", true, static(refused)}},
			want:   StatusUnhealthy,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			r := NewCheckerRegistry()
			for _, c := range tt.checks {
				r.Register(c.name, c.critical, c.checkFn)
			}

			h := r.Check(context.Background())
			assert.Equal(t, tt.want, h.Status)
			assert.Len(t, h.Checks, len(tt.checks))
		})
	}
}

func TestCheckResultCarriesError(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register("message_server", true, Bus(func() bool { return false }))

	result := r.Check(context.Background()).Checks["message_server"]
	assert.Equal(t, StatusUnhealthy, result.Status)
	assert.True(t, result.Critical)
	assert.Contains(t, result.Message, "not running")
}

func TestCheckTimeout(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register("slow", false, func(ctx context.Context) error {
		<-ctx.Done()
		return ctx.Err()
	})

	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	h := r.Check(ctx)
	require.Contains(t, h.Checks, "slow")
	assert.Equal(t, StatusDegraded, h.Status)
	assert.Contains(t, h.Checks["slow"].Message, "deadline exceeded")
}

func TestNamesAreSorted(t *testing.T) {
	r := NewCheckerRegistry()
	r.Register("redis", false, static(nil))
	r.Register("mongodb", true, static(nil))
	assert.Equal(t, []string{"mongodb", "redis"}, r.Names())
}
