package integration

import (
	"encoding/base64"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"habitat/internal/config"
	"habitat/internal/constants"
	"habitat/internal/logger"
	"habitat/pkg/models"
)

const (
	containerStartupTimeout = 60
	timestampDelay          = 10 * time.Millisecond

	testSentence = "$$habitat,1,00:00:00,0.0,0.0,0,0.0,hab\n"
)

func createTestLogger() logger.Logger {
	return logger.NopLogger()
}

func createTestIngestionConfig() config.IngestionConfig {
	return config.IngestionConfig{
		DedupTTLSeconds: 300,
		OnRedisError:    constants.FallbackAllow,
		HashAlgorithm:   "sha256",
	}
}

func createTestCircuitBreakerConfig() config.CircuitBreakerConfig {
	return config.CircuitBreakerConfig{
		Enabled:      true,
		MaxRequests:  1,
		Interval:     time.Minute,
		Timeout:      time.Minute,
		FailureRatio: 0.5,
		MinRequests:  3,
	}
}

func createRawTelemetry(t *testing.T, callsign, sentence string) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(models.MustListener(callsign, "192.0.2.1"), models.KindRawTelemetry, map[string]interface{}{
		"string":    base64.StdEncoding.EncodeToString([]byte(sentence)),
		"frequency": 434.075,
	})
	require.NoError(t, err)
	return msg
}

func createListenerMessage(t *testing.T, callsign string, kind models.Kind, data map[string]interface{}) *models.Message {
	t.Helper()
	msg, err := models.NewMessage(models.MustListener(callsign, "192.0.2.1"), kind, data)
	require.NoError(t, err)
	return msg
}
