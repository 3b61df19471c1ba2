package app

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"

	"tradeshell/internal/config"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m)
}

func testConfig() config.Config {
	return config.Config{
		Environment:        "development",
		Port:               "0",
		FrontendURL:        "http://localhost:3000",
		SessionSecret:      "test-secret",
		SessionCookieName:  "tradeshell_session",
		SessionTTL:         time.Hour,
		SessionIdleTimeout: time.Minute,
		SweepInterval:      10 * time.Millisecond,
		GateWaitTimeout:    time.Second,
	}
}

func TestApplication_ShutdownBeforeStart(t *testing.T) {
	a, err := NewApplication(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	done := make(chan error, 1)
	go func() { done <- a.Start() }()

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start kept running after Shutdown")
	}
}

func TestApplication_StartThenShutdown(t *testing.T) {
	a, err := NewApplication(context.Background(), testConfig(), nil)
	require.NoError(t, err)

	done := make(chan error, 1)
	go func() { done <- a.Start() }()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, a.Shutdown(ctx))

	select {
	case err := <-done:
		require.NoError(t, err)
	case <-time.After(2 * time.Second):
		t.Fatal("Start did not return after Shutdown")
	}
}
