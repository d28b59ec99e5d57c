package agent

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestWatcherDetectsInterventionFile(t *testing.T) {
	dir := t.TempDir()
	w := NewWatcher(testLogger(), dir)

	ctx, cancel := context.WithTimeout(context.Background(), time.Second)
	defer cancel()

	received := make(chan SignalKind, 1)
	go w.Run(ctx, func(kind SignalKind, content string) {
		received <- kind
	})

	time.Sleep(50 * time.Millisecond)
	require.NoError(t, os.WriteFile(filepath.Join(dir, interventionFile), []byte("pause please"), 0644))

	select {
	case kind := <-received:
		require.Equal(t, SignalIntervention, kind)
	case <-time.After(800 * time.Millisecond):
		t.Fatal("timed out waiting for intervention signal")
	}
}

func TestWatcherReportsPreexistingSignalFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, timeoutFile), []byte("cut it short"), 0644))

	w := NewWatcher(testLogger(), dir)
	ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
	defer cancel()

	received := make(chan SignalKind, 1)
	go w.Run(ctx, func(kind SignalKind, content string) {
		received <- kind
	})

	select {
	case kind := <-received:
		require.Equal(t, SignalTimeout, kind)
	case <-time.After(500 * time.Millisecond):
		t.Fatal("timed out waiting for preexisting timeout signal")
	}
}
