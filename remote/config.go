package remote

import (
	"errors"
	"time"
)

// ErrInvalidSSHConfig is returned by SSHConfig.Validate when the config does
// not specify exactly one of Password or PrivateKeyPath.
var ErrInvalidSSHConfig = errors.New("remote: exactly one of password or private key must be configured")

// SSHConfig describes how to authenticate to a single remote host.
type SSHConfig struct {
	Host     string
	Port     int // default 22
	Username string

	// Exactly one of Password or PrivateKeyPath must be set.
	Password       string
	PrivateKeyPath string
	Passphrase     string

	// ReadyTimeout bounds the initial TCP dial and SSH handshake.
	ReadyTimeout time.Duration
}

// Validate checks the authentication invariant (exactly one of
// Password/PrivateKeyPath) and fills in defaults (Port, ReadyTimeout).
func (c *SSHConfig) Validate() error {
	if c.Port == 0 {
		c.Port = 22
	}
	if c.ReadyTimeout == 0 {
		c.ReadyTimeout = 10 * time.Second
	}
	hasPassword := c.Password != ""
	hasKey := c.PrivateKeyPath != ""
	if hasPassword == hasKey {
		return ErrInvalidSSHConfig
	}
	return nil
}

// RemoteConfig extends SSHConfig with job-execution defaults applied when a
// job does not specify its own working directory.
type RemoteConfig struct {
	SSHConfig

	// WorkingDir is the default remote directory for commands that don't
	// set job.WorkingDir. Falls back to "/tmp" when also empty.
	WorkingDir string

	// Environment is exported into every command's shell invocation.
	Environment map[string]string
}
