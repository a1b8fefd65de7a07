package service

import (
	"os"
	"testing"

	"e2ee-relay/internal/observability/metrics"
)

func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}
