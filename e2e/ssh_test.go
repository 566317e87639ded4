//go:build e2e

package e2e

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/fgeck/persephone/internal/services/ssh"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func getSSHTarget(t *testing.T) models.RemoteTarget {
	t.Helper()

	host := os.Getenv("TEST_SSH_HOST")
	if host == "" {
		t.Skip("TEST_SSH_HOST not set")
	}

	portStr := os.Getenv("TEST_SSH_PORT")
	if portStr == "" {
		portStr = "22"
	}
	port, err := strconv.Atoi(portStr)
	require.NoError(t, err)

	user := os.Getenv("TEST_SSH_USER")
	if user == "" {
		user = "root"
	}

	keyPath := os.Getenv("TEST_SSH_KEY_PATH")
	if keyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	return models.RemoteTarget{
		Name:       "e2e",
		Host:       host,
		Port:       port,
		User:       user,
		SSHKeyPath: keyPath,
	}
}

func TestSSHTestConnection_E2E(t *testing.T) {
	target := getSSHTarget(t)

	svc := ssh.New(testLogger())

	err := svc.TestConnection(context.Background(), target)

	require.NoError(t, err)
}

func TestSSHRunPassesEnv_E2E(t *testing.T) {
	target := getSSHTarget(t)

	svc := ssh.New(testLogger())

	result, err := svc.Run(context.Background(), target,
		[]string{"sh", "-c", `printf %s "$PERSEPHONE_E2E"`},
		[]string{"PERSEPHONE_E2E=it's a secret"})

	require.NoError(t, err)
	assert.Equal(t, 0, result.ExitCode)
	assert.Equal(t, "it's a secret", result.Stdout)
}

func TestSSHRunExitCode_E2E(t *testing.T) {
	target := getSSHTarget(t)

	svc := ssh.New(testLogger())

	result, err := svc.Run(context.Background(), target, []string{"sh", "-c", "exit 3"}, nil)

	require.NoError(t, err)
	assert.Equal(t, 3, result.ExitCode)
}

func TestSSHRetrieve_E2E(t *testing.T) {
	target := getSSHTarget(t)
	target.RemoteFilePaths = []string{"/etc/hostname"}
	dest := t.TempDir()

	svc := ssh.New(testLogger())

	files, err := svc.Retrieve(context.Background(), target, dest)

	require.NoError(t, err)
	require.Len(t, files, 1)
	assert.Equal(t, filepath.Join(dest, target.Host+"_hostname"), files[0])
	assert.FileExists(t, files[0])
}

func TestSSHConnectionFailed_E2E(t *testing.T) {
	target := models.RemoteTarget{
		Name:       "unreachable",
		Host:       "192.168.255.254", // Non-routable IP
		Port:       22,
		User:       "root",
		SSHKeyPath: os.Getenv("TEST_SSH_KEY_PATH"),
	}

	if target.SSHKeyPath == "" {
		t.Skip("TEST_SSH_KEY_PATH not set")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	svc := ssh.New(testLogger())

	err := svc.TestConnection(ctx, target)

	var connErr *models.ConnectionError
	require.True(t, errors.As(err, &connErr))
	assert.Equal(t, "192.168.255.254", connErr.Host)
}

func TestSSHInvalidKey_E2E(t *testing.T) {
	target := models.RemoteTarget{
		Name:       "local",
		Host:       "localhost",
		Port:       22,
		User:       "root",
		PrivateKey: []byte("invalid key"),
	}

	svc := ssh.New(testLogger())

	err := svc.TestConnection(context.Background(), target)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "parse private key")
}
