package main

import (
	"testing"

	"wenmoon/internal/logger"
)

// The store logs through the shared logger as soon as a connection is
// established, so the logger must be live before database.Open runs.
func TestLoggerReadyBeforeStoreLogs(t *testing.T) {
	logger.InitLogger()
	if logger.Log == nil {
		t.Fatal("shared logger not initialized")
	}

	defer func() {
		if r := recover(); r != nil {
			t.Fatalf("logging after InitLogger panicked: %v", r)
		}
	}()
	logger.Log.Info("Database connection established")
}
