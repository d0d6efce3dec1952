package limiter_test

import (
	"sync"
	"testing"

	"github.com/modelforge/scoregate/internal/limiter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTryAcquire_RejectsWhenFull(t *testing.T) {
	l := limiter.New(2)

	p1, err := l.TryAcquire()
	require.NoError(t, err)
	p2, err := l.TryAcquire()
	require.NoError(t, err)

	_, err = l.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrBusy)

	p1.Release()
	p3, err := l.TryAcquire()
	require.NoError(t, err)

	p2.Release()
	p3.Release()
	assert.Equal(t, 0, l.InUse())
}

func TestNew_ClampsToOne(t *testing.T) {
	l := limiter.New(0)

	p, err := l.TryAcquire()
	require.NoError(t, err)
	_, err = l.TryAcquire()
	assert.ErrorIs(t, err, limiter.ErrBusy)
	p.Release()
}

func TestRelease_TwicePanics(t *testing.T) {
	l := limiter.New(1)
	p, err := l.TryAcquire()
	require.NoError(t, err)

	p.Release()
	assert.Panics(t, func() { p.Release() })
}

func TestTryAcquire_UnderBurst(t *testing.T) {
	const max = 3
	l := limiter.New(max)

	var mu sync.Mutex
	admitted := 0

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			p, err := l.TryAcquire()
			if err != nil {
				return
			}
			mu.Lock()
			admitted++
			mu.Unlock()
			assert.LessOrEqual(t, l.InUse(), max)
			p.Release()
		}()
	}
	wg.Wait()

	assert.Equal(t, 0, l.InUse())
	assert.GreaterOrEqual(t, admitted, 1)
}
