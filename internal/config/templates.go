package config

import (
	"fmt"
	"os"
)

// Template returns a commented starter config.
func Template() string {
	return clientTemplate
}

func WriteTemplate(path string, overwrite bool) error {
	if !overwrite {
		if _, err := os.Stat(path); err == nil {
			return fmt.Errorf("config already exists: %s", path)
		}
	}
	return os.WriteFile(path, []byte(clientTemplate), 0o600)
}

const clientTemplate = `# Literal IP or a domain published with a _bolt._tcp SRV record.
host = "bolt.example.com"

# Used only for literal IP hosts; SRV discovery supplies its own port.
# port = 3300

service = "bolt"

# Query this nameserver for SRV discovery instead of the system resolver.
# nameserver = "1.1.1.1:53"

connect_timeout = "10s"

# 0 keeps frames unbounded.
max_frame_bytes = 0
events_buffer = 16

[identity]
username = "anonymous"
public_key_file = "keys/public.asc"
private_key_file = "keys/private.asc"
`
