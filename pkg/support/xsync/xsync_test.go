// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

package xsync

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestLatch(t *testing.T) {
	l := NewLatch()
	assert.False(t, l.Test())
	select {
	case <-l.WaitChan():
		t.Fatal("latch triggered before Trigger")
	default:
	}

	l.Trigger()
	assert.True(t, l.Test())
	l.Wait() // Does not block once triggered.

	// Triggering again is a no-op.
	l.Trigger()
	assert.True(t, l.Test())
}
