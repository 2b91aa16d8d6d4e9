// Copyright (C) 2026 Ben Grimm. Licensed under AGPL-3.0 (https://www.gnu.org/licenses/agpl-3.0.txt)

package coreloop

import (
	"errors"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSubmitRunsOnLoopGoroutine(t *testing.T) {
	l := New()
	defer l.Stop()

	var n int64
	for i := 0; i < 50; i++ {
		err := l.Submit(func() error {
			atomic.AddInt64(&n, 1)
			return nil
		})
		require.NoError(t, err)
	}
	require.EqualValues(t, 50, n)
}

func TestSubmitPropagatesError(t *testing.T) {
	l := New()
	defer l.Stop()

	boom := errors.New("boom")
	err := l.Submit(func() error { return boom })
	require.ErrorIs(t, err, boom)
}

func TestSubmitAfterStopFails(t *testing.T) {
	l := New()
	l.Stop()

	err := l.Submit(func() error { return nil })
	require.ErrorIs(t, err, ErrStopped)
}
