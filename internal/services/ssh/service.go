package ssh

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/safefs"
	"github.com/kballard/go-shellquote"
	"github.com/pkg/sftp"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/ssh"
	"golang.org/x/crypto/ssh/knownhosts"
)

// DialTimeout bounds the TCP and handshake phase of a connection.
const DialTimeout = 30 * time.Second

// Service defines the interface for SSH operations.
type Service interface {
	Run(ctx context.Context, target models.RemoteTarget, argv, env []string) (*models.ExecResult, error)
	Retrieve(ctx context.Context, target models.RemoteTarget, destDir string) ([]string, error)
	TestConnection(ctx context.Context, target models.RemoteTarget) error
}

// SSHClient wraps ssh.Client for mocking.
type SSHClient interface {
	NewSession() (SSHSession, error)
	NewSFTP() (SFTPClient, error)
	Close() error
}

// SSHSession wraps ssh.Session for mocking.
type SSHSession interface {
	Setenv(name, value string) error
	Run(cmd string, stdin io.Reader, stdout, stderr io.Writer) error
	Close() error
}

// SFTPClient wraps sftp.Client for mocking.
type SFTPClient interface {
	Open(path string) (io.ReadCloser, error)
	Close() error
}

// ClientFactory creates SSH clients.
type ClientFactory interface {
	NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error)
}

// DefaultClientFactory is the default SSH client factory.
type DefaultClientFactory struct{}

// NewClient creates a new SSH client.
func (f *DefaultClientFactory) NewClient(network, addr string, config *ssh.ClientConfig) (SSHClient, error) {
	client, err := ssh.Dial(network, addr, config)
	if err != nil {
		return nil, err
	}
	return &defaultSSHClient{client: client}, nil
}

type defaultSSHClient struct {
	client *ssh.Client
}

func (c *defaultSSHClient) NewSession() (SSHSession, error) {
	session, err := c.client.NewSession()
	if err != nil {
		return nil, err
	}
	return &defaultSSHSession{session: session}, nil
}

func (c *defaultSSHClient) NewSFTP() (SFTPClient, error) {
	client, err := sftp.NewClient(c.client)
	if err != nil {
		return nil, err
	}
	return &defaultSFTPClient{client: client}, nil
}

func (c *defaultSSHClient) Close() error {
	return c.client.Close()
}

type defaultSSHSession struct {
	session *ssh.Session
}

func (s *defaultSSHSession) Setenv(name, value string) error {
	return s.session.Setenv(name, value)
}

func (s *defaultSSHSession) Run(cmd string, stdin io.Reader, stdout, stderr io.Writer) error {
	s.session.Stdin = stdin
	s.session.Stdout = stdout
	s.session.Stderr = stderr
	return s.session.Run(cmd)
}

func (s *defaultSSHSession) Close() error {
	return s.session.Close()
}

type defaultSFTPClient struct {
	client *sftp.Client
}

func (c *defaultSFTPClient) Open(path string) (io.ReadCloser, error) {
	return c.client.Open(path)
}

func (c *defaultSFTPClient) Close() error {
	return c.client.Close()
}

// exitStatuser matches *ssh.ExitError without depending on its internals.
type exitStatuser interface {
	ExitStatus() int
}

// Impl implements the SSH Service interface.
type Impl struct {
	clientFactory  ClientFactory
	knownHostsPath string
	logger         zerolog.Logger
}

// New creates a new SSH service that checks host keys against
// ~/.ssh/known_hosts when that file exists.
func New(logger zerolog.Logger) *Impl {
	knownHosts := ""
	if home, err := os.UserHomeDir(); err == nil {
		knownHosts = filepath.Join(home, ".ssh", "known_hosts")
	}
	return &Impl{
		clientFactory:  &DefaultClientFactory{},
		knownHostsPath: knownHosts,
		logger:         logger,
	}
}

// NewWithClientFactory creates a new SSH service with a custom client factory (for testing).
func NewWithClientFactory(logger zerolog.Logger, factory ClientFactory) *Impl {
	return &Impl{
		clientFactory: factory,
		logger:        logger,
	}
}

func (s *Impl) buildConfig(target models.RemoteTarget) (*ssh.ClientConfig, error) {
	var key []byte
	var err error

	// Load private key from file or use provided key
	if len(target.PrivateKey) > 0 {
		key = target.PrivateKey
	} else if target.SSHKeyPath != "" {
		key, err = os.ReadFile(target.SSHKeyPath)
		if err != nil {
			return nil, fmt.Errorf("failed to read private key from %s: %w", target.SSHKeyPath, err)
		}
	} else {
		return nil, fmt.Errorf("no private key provided")
	}

	signer, err := ssh.ParsePrivateKey(key)
	if err != nil {
		return nil, fmt.Errorf("failed to parse private key: %w", err)
	}

	hostKeyCallback, err := s.hostKeyCallback()
	if err != nil {
		return nil, err
	}

	return &ssh.ClientConfig{
		User: target.User,
		Auth: []ssh.AuthMethod{
			ssh.PublicKeys(signer),
		},
		HostKeyCallback: hostKeyCallback,
		Timeout:         DialTimeout,
	}, nil
}

func (s *Impl) hostKeyCallback() (ssh.HostKeyCallback, error) {
	if s.knownHostsPath != "" {
		if _, err := os.Stat(s.knownHostsPath); err == nil {
			cb, err := knownhosts.New(s.knownHostsPath)
			if err != nil {
				return nil, fmt.Errorf("loading %s: %w", s.knownHostsPath, err)
			}
			return cb, nil
		}
	}
	s.logger.Warn().Msg("no known_hosts file, host keys are not verified")
	return ssh.InsecureIgnoreHostKey(), nil //nolint:gosec // trusted LAN fleet
}

// connect dials the target, giving up early when ctx is cancelled.
func (s *Impl) connect(ctx context.Context, target models.RemoteTarget) (SSHClient, error) {
	sshConfig, err := s.buildConfig(target)
	if err != nil {
		return nil, &models.ConnectionError{Host: target.Host, Err: err}
	}

	port := target.Port
	if port == 0 {
		port = 22
	}
	addr := net.JoinHostPort(target.Host, strconv.Itoa(port))

	clientChan := make(chan struct {
		client SSHClient
		err    error
	}, 1)

	go func() {
		client, err := s.clientFactory.NewClient("tcp", addr, sshConfig)
		clientChan <- struct {
			client SSHClient
			err    error
		}{client, err}
	}()

	select {
	case <-ctx.Done():
		// A dial that completes after cancellation still holds a connection.
		go func() {
			if res := <-clientChan; res.client != nil {
				_ = res.client.Close()
			}
		}()
		return nil, &models.ConnectionError{Host: target.Host, Err: ctx.Err()}
	case res := <-clientChan:
		if res.err != nil {
			return nil, &models.ConnectionError{Host: target.Host, Err: fmt.Errorf("failed to connect: %w", res.err)}
		}
		return res.client, nil
	}
}

// Run executes argv on the target. Secrets in env are passed with Setenv or,
// when the server refuses that, sourced from stdin; they never appear in the
// command line. A non-zero remote exit is reported through ExitCode, not err.
func (s *Impl) Run(ctx context.Context, target models.RemoteTarget, argv, env []string) (*models.ExecResult, error) {
	if len(argv) == 0 {
		return nil, errors.New("empty command")
	}

	start := time.Now()
	client, err := s.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	session, err := client.NewSession()
	if err != nil {
		return nil, &models.ConnectionError{Host: target.Host, Err: fmt.Errorf("failed to create session: %w", err)}
	}
	defer session.Close()

	cmd, stdin := remoteCommand(session, argv, env)

	s.logger.Debug().
		Str("host", target.Host).
		Strs("argv", argv).
		Bool("env_via_stdin", stdin != nil).
		Msg("executing remote command")

	var stdout, stderr bytes.Buffer
	if stdin == nil {
		stdin = strings.NewReader("")
	}

	done := make(chan error, 1)
	go func() {
		done <- session.Run(cmd, stdin, &stdout, &stderr)
	}()

	var runErr error
	select {
	case <-ctx.Done():
		_ = session.Close()
		return nil, &models.ConnectionError{Host: target.Host, Err: ctx.Err()}
	case runErr = <-done:
	}

	result := &models.ExecResult{
		Stdout:   stdout.String(),
		Stderr:   stderr.String(),
		Duration: time.Since(start),
	}

	if runErr != nil {
		var exitErr exitStatuser
		if errors.As(runErr, &exitErr) {
			result.ExitCode = exitErr.ExitStatus()
			return result, nil
		}
		return nil, &models.ConnectionError{Host: target.Host, Err: fmt.Errorf("remote command: %w", runErr)}
	}
	return result, nil
}

// remoteCommand returns the shell command line and, when Setenv was refused,
// a script that exports env before the tool starts.
func remoteCommand(session SSHSession, argv, env []string) (string, io.Reader) {
	quoted := shellquote.Join(argv...)

	setenvOK := true
	for _, kv := range env {
		name, value, _ := strings.Cut(kv, "=")
		if err := session.Setenv(name, value); err != nil {
			setenvOK = false
			break
		}
	}
	if setenvOK {
		return quoted, nil
	}

	var script strings.Builder
	for _, kv := range env {
		name, value, _ := strings.Cut(kv, "=")
		script.WriteString(name + "=" + shellquote.Join(value) + "\n")
	}
	return "set -a; . /dev/stdin; set +a; exec " + quoted, strings.NewReader(script.String())
}

// Retrieve copies the target's RemoteFilePaths into destDir as
// <host>_<basename>. Every file is attempted; failures are joined.
func (s *Impl) Retrieve(ctx context.Context, target models.RemoteTarget, destDir string) ([]string, error) {
	client, err := s.connect(ctx, target)
	if err != nil {
		return nil, err
	}
	defer client.Close()

	sftpClient, err := client.NewSFTP()
	if err != nil {
		return nil, &models.ConnectionError{Host: target.Host, Err: fmt.Errorf("failed to start sftp: %w", err)}
	}
	defer sftpClient.Close()

	var written []string
	var errs []error
	for _, remote := range target.RemoteFilePaths {
		if ctx.Err() != nil {
			errs = append(errs, ctx.Err())
			break
		}

		local := filepath.Join(destDir, target.Host+"_"+path.Base(remote))
		if err := s.copyFile(sftpClient, remote, local); err != nil {
			s.logger.Error().Err(err).Str("host", target.Host).Str("file", remote).Msg("retrieval failed")
			errs = append(errs, fmt.Errorf("%s: %w", remote, err))
			continue
		}

		s.logger.Info().Str("host", target.Host).Str("file", remote).Str("saved_as", local).Msg("file retrieved")
		written = append(written, local)
	}

	return written, errors.Join(errs...)
}

func (s *Impl) copyFile(client SFTPClient, remote, local string) error {
	f, err := client.Open(remote)
	if err != nil {
		return fmt.Errorf("opening remote file: %w", err)
	}
	defer f.Close()

	data, err := io.ReadAll(f)
	if err != nil {
		return fmt.Errorf("reading remote file: %w", err)
	}
	if err := safefs.WriteFileAtomic(local, data, 0o600); err != nil {
		return &models.IOError{Op: "write", Path: local, Err: err}
	}
	return nil
}

// TestConnection verifies SSH connectivity by running a no-op command.
func (s *Impl) TestConnection(ctx context.Context, target models.RemoteTarget) error {
	s.logger.Debug().
		Str("host", target.Host).
		Int("port", target.Port).
		Msg("testing SSH connection")

	result, err := s.Run(ctx, target, []string{"true"}, nil)
	if err != nil {
		return err
	}
	if result.ExitCode != 0 {
		return fmt.Errorf("test command exited with %d", result.ExitCode)
	}
	return nil
}
