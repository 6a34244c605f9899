package config

import (
	"fmt"
	"os"
)

// WriteTemplate writes a starter connection config file to path, refusing
// to clobber an existing file unless overwrite is set.
func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(connectionTemplate), 0o600)
}

const connectionTemplate = `security_mode = "development"
connect_timeout = "5s"
handshake_timeout = "5s"
read_timeout = "15s"
write_timeout = "15s"
heartbeat_interval = "5s"
session_dead_after = "15s"

[tls]
enabled = false
mutual = false
insecure_skip_verify = false

[backoff]
initial_delay = "250ms"
multiplier = 2.0
max_delay = "5s"
jitter = true
`
