package testlog

import (
	"testing"

	"github.com/openpva/pva/internal/logging"
)

func Start(t *testing.T) {
	t.Helper()
	logging.ConfigureTests()
	logger := logging.Named("test")
	logger.Debug().Str("test", t.Name()).Msg("start")
}
