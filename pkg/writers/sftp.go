package writers

import (
	"context"
	"fmt"
	"net"
	"os"
	"path"
	"path/filepath"
	"sync"
	"time"

	"github.com/hashicorp/go-multierror"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// AuthMethod represents the type of SSH authentication.
type AuthMethod string

const (
	// AuthMethodPassword uses password authentication
	AuthMethodPassword AuthMethod = "password"

	// AuthMethodKey uses private key authentication
	AuthMethodKey AuthMethod = "key"
)

// SFTPConfig holds SFTP connection configuration.
type SFTPConfig struct {
	// Host is the remote hostname or IP address
	Host string `mapstructure:"host"`

	// Port is the SSH port (default: 22)
	Port int `mapstructure:"port"`

	// User is the SSH username
	User string `mapstructure:"user"`

	// AuthMethod specifies which authentication method to use
	AuthMethod AuthMethod `mapstructure:"auth_method"`

	// Password for password-based authentication
	Password string `mapstructure:"password"`

	// PrivateKeyPath is the path to the private key file
	PrivateKeyPath string `mapstructure:"private_key"`

	// PrivateKeyPassphrase is the passphrase for encrypted private keys
	PrivateKeyPassphrase string `mapstructure:"passphrase"`

	// KnownHostsPath is the path to the known_hosts file
	KnownHostsPath string `mapstructure:"known_hosts"`

	// StrictHostKeyChecking rejects hosts missing from KnownHostsPath
	StrictHostKeyChecking bool `mapstructure:"strict_host_key_checking"`

	// ConnectionTimeout is the timeout for establishing a connection
	ConnectionTimeout time.Duration `mapstructure:"timeout"`

	// Root is the remote output directory
	Root string `mapstructure:"-"`
}

// DefaultSFTPConfig returns an SFTPConfig with sensible defaults.
func DefaultSFTPConfig() SFTPConfig {
	return SFTPConfig{
		Port:                  22,
		AuthMethod:            AuthMethodKey,
		KnownHostsPath:        filepath.Join(os.Getenv("HOME"), ".ssh", "known_hosts"),
		StrictHostKeyChecking: true,
		ConnectionTimeout:     30 * time.Second,
	}
}

// Validate checks if the configuration is valid. Key authentication without a
// key path falls back to the default key locations.
func (c *SFTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("host is required")
	}
	if c.Port == 0 {
		c.Port = 22
	}
	if c.Port < 0 || c.Port > 65535 {
		return fmt.Errorf("invalid port: %d", c.Port)
	}
	if c.User == "" {
		return fmt.Errorf("user is required")
	}
	if c.AuthMethod == "" {
		c.AuthMethod = AuthMethodKey
	}

	switch c.AuthMethod {
	case AuthMethodPassword:
		if c.Password == "" {
			return fmt.Errorf("password is required for password authentication")
		}
	case AuthMethodKey:
		if c.PrivateKeyPath == "" {
			homeDir := os.Getenv("HOME")
			for _, keyPath := range []string{
				filepath.Join(homeDir, ".ssh", "id_ed25519"),
				filepath.Join(homeDir, ".ssh", "id_rsa"),
				filepath.Join(homeDir, ".ssh", "id_ecdsa"),
			} {
				if _, err := os.Stat(keyPath); err == nil {
					c.PrivateKeyPath = keyPath
					break
				}
			}
			if c.PrivateKeyPath == "" {
				return fmt.Errorf("private key path is required for key authentication and no default key found")
			}
		}
	default:
		return fmt.Errorf("unsupported auth method: %s", c.AuthMethod)
	}

	if c.ConnectionTimeout <= 0 {
		c.ConnectionTimeout = 30 * time.Second
	}
	if c.Root == "" {
		c.Root = "."
	}

	return nil
}

// BuildSSHClientConfig creates an ssh.ClientConfig from the config.
func (c *SFTPConfig) BuildSSHClientConfig() (*ssh.ClientConfig, error) {
	var authMethods []ssh.AuthMethod

	switch c.AuthMethod {
	case AuthMethodPassword:
		authMethods = append(authMethods, ssh.Password(c.Password))
		// many servers only offer keyboard-interactive for password prompts
		authMethods = append(authMethods, ssh.KeyboardInteractive(
			func(user, instruction string, questions []string, echos []bool) ([]string, error) {
				answers := make([]string, len(questions))
				for i := range answers {
					answers[i] = c.Password
				}
				return answers, nil
			},
		))

	case AuthMethodKey:
		keyBytes, err := os.ReadFile(c.PrivateKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key: %w", err)
		}

		var signer ssh.Signer
		if c.PrivateKeyPassphrase != "" {
			signer, err = ssh.ParsePrivateKeyWithPassphrase(keyBytes, []byte(c.PrivateKeyPassphrase))
		} else {
			signer, err = ssh.ParsePrivateKey(keyBytes)
		}
		if err != nil {
			return nil, fmt.Errorf("failed to parse private key: %w", err)
		}

		authMethods = append(authMethods, ssh.PublicKeys(signer))
	}

	var hostKeyCallback ssh.HostKeyCallback
	if c.KnownHostsPath != "" && c.StrictHostKeyChecking {
		var err error
		hostKeyCallback, err = knownhosts.New(c.KnownHostsPath)
		if err != nil {
			return nil, fmt.Errorf("failed to load known_hosts: %w", err)
		}
	} else {
		hostKeyCallback = ssh.InsecureIgnoreHostKey()
	}

	return &ssh.ClientConfig{
		User:            c.User,
		Auth:            authMethods,
		HostKeyCallback: hostKeyCallback,
		Timeout:         c.ConnectionTimeout,
	}, nil
}

// Address returns the formatted SSH address (host:port).
func (c *SFTPConfig) Address() string {
	return net.JoinHostPort(c.Host, fmt.Sprint(c.Port))
}

// SFTPWriter uploads documents over SFTP. The connection is opened by Prepare
// and shared by all workers.
type SFTPWriter struct {
	cfg    SFTPConfig
	logger zerolog.Logger

	mu     sync.Mutex
	conn   *ssh.Client
	client *sftp.Client
}

// NewSFTPWriter creates an SFTP writer. No connection is made until Prepare
// or the first Write.
func NewSFTPWriter(cfg SFTPConfig, logger zerolog.Logger) (*SFTPWriter, error) {
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid sftp config: %w", err)
	}
	return &SFTPWriter{
		cfg:    cfg,
		logger: logger.With().Str("component", "sftp-writer").Str("address", cfg.Address()).Logger(),
	}, nil
}

// newSFTPWriterWithClient wraps an established client.
func newSFTPWriterWithClient(client *sftp.Client, root string) *SFTPWriter {
	return &SFTPWriter{
		cfg:    SFTPConfig{Host: "local", Port: 22, Root: root},
		logger: zerolog.Nop(),
		client: client,
	}
}

// Prepare connects and creates the remote output directory.
func (w *SFTPWriter) Prepare(ctx context.Context) error {
	client, err := w.connect(ctx)
	if err != nil {
		return err
	}
	if err := client.MkdirAll(w.cfg.Root); err != nil {
		return &WriteError{Op: "prepare", Path: w.cfg.Root, Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}
	return nil
}

func (w *SFTPWriter) connect(ctx context.Context) (*sftp.Client, error) {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.client != nil {
		return w.client, nil
	}

	clientConfig, err := w.cfg.BuildSSHClientConfig()
	if err != nil {
		return nil, &WriteError{Op: "connect", Err: err}
	}

	address := w.cfg.Address()
	w.logger.Debug().Msg("establishing SSH connection")

	dialer := net.Dialer{Timeout: w.cfg.ConnectionTimeout}
	netConn, err := dialer.DialContext(ctx, "tcp", address)
	if err != nil {
		return nil, &WriteError{Op: "connect", Err: err, IsTemporary: true}
	}

	sshConn, chans, reqs, err := ssh.NewClientConn(netConn, address, clientConfig)
	if err != nil {
		_ = netConn.Close()
		return nil, &WriteError{Op: "connect", Err: err}
	}
	conn := ssh.NewClient(sshConn, chans, reqs)

	client, err := sftp.NewClient(conn)
	if err != nil {
		_ = conn.Close()
		return nil, &WriteError{Op: "sftp-init", Err: fmt.Errorf("failed to create SFTP client: %w", err), IsTemporary: true}
	}

	w.conn = conn
	w.client = client
	w.logger.Info().Msg("SFTP connection established")

	return client, nil
}

// Write uploads data below the remote output directory.
func (w *SFTPWriter) Write(ctx context.Context, data []byte, p string) (string, error) {
	clean, err := CleanPath(p)
	if err != nil {
		return "", &WriteError{Op: "write", Path: p, Err: err}
	}

	client, err := w.connect(ctx)
	if err != nil {
		return "", err
	}

	remotePath := path.Join(w.cfg.Root, clean)
	if err := client.MkdirAll(path.Dir(remotePath)); err != nil {
		return "", &WriteError{Op: "write", Path: remotePath, Err: fmt.Errorf("failed to create remote directory: %w", err)}
	}

	remoteFile, err := client.Create(remotePath)
	if err != nil {
		return "", &WriteError{Op: "write", Path: remotePath, Err: fmt.Errorf("failed to create remote file: %w", err), IsTemporary: true}
	}
	if _, err := remoteFile.Write(data); err != nil {
		_ = remoteFile.Close()
		return "", &WriteError{Op: "write", Path: remotePath, Err: err, IsTemporary: true}
	}
	if err := remoteFile.Close(); err != nil {
		return "", &WriteError{Op: "write", Path: remotePath, Err: err, IsTemporary: true}
	}

	w.logger.Debug().Str("remote", remotePath).Int("bytes", len(data)).Msg("file uploaded")

	return remotePath, nil
}

// Location returns the remote output directory as an sftp URL.
func (w *SFTPWriter) Location() string {
	return fmt.Sprintf("sftp://%s@%s%s", w.cfg.User, w.cfg.Address(), path.Clean("/"+w.cfg.Root))
}

// Close closes the SFTP session and the SSH connection.
func (w *SFTPWriter) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	var result *multierror.Error
	if w.client != nil {
		if err := w.client.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		w.client = nil
	}
	if w.conn != nil {
		if err := w.conn.Close(); err != nil {
			result = multierror.Append(result, err)
		}
		w.conn = nil
	}
	return result.ErrorOrNil()
}
