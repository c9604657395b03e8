package config

import (
	"fmt"
	"os"
)

const sampleConfig = `# pgbasebackup agent configuration file
logging:
  level: INFO
  format: text
  output: stdout

metrics:
  enabled: true
  port: 9090

http:
  enabled: true
  address: 127.0.0.1:8121

sites:
  example:
    pgdata: /var/lib/postgresql/16/main
    connection_string: "host=/var/run/postgresql dbname=postgres"
    basebackup_mode: local_tar
    active_backup_mode: archive_command
    basebackup_interval_hours: 24
    basebackup_hour: 3
    basebackup_minute: 0
    target_chunk_size: 1Gi
    compression:
      algorithm: gzip
    object_store:
      type: fs
      fs:
        root: /var/lib/pgbasebackup/example
`

// InitConfig writes a commented sample configuration to the default
// location (or overwrites it if force is true), returning the path
// written so the caller can print it.
func InitConfig(force bool) (string, error) {
	path := GetDefaultConfigPath()
	if !force {
		if _, err := os.Stat(path); err == nil {
			return "", fmt.Errorf("configuration file already exists at %s (use --force to overwrite)", path)
		}
	}
	if err := os.MkdirAll(GetConfigDir(), 0o755); err != nil {
		return "", fmt.Errorf("create config directory: %w", err)
	}
	if err := os.WriteFile(path, []byte(sampleConfig), 0o600); err != nil {
		return "", fmt.Errorf("write sample config: %w", err)
	}
	return path, nil
}
