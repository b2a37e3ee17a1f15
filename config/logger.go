package config

import (
	"fmt"
	"io"

	"github.com/ethereum/go-ethereum/log"
)

// SetupLogger installs a terminal logger at the given level as the process default.
func SetupLogger(w io.Writer, level string, color bool) error {
	lvl, err := log.LvlFromString(level)
	if err != nil {
		return fmt.Errorf("failed to parse log level %q: %w", level, err)
	}

	log.SetDefault(log.NewLogger(log.NewTerminalHandlerWithLevel(w, lvl, color)))
	return nil
}
