package dockervolumes

import (
	"context"
	"errors"
	"io"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockExecutor struct {
	outputFunc  func(ctx context.Context, name string, args ...string) ([]byte, error)
	executeFunc func(ctx context.Context, outputPath string, name string, args ...string) error
	executed    [][]string
}

func (m *mockExecutor) Output(ctx context.Context, name string, args ...string) ([]byte, error) {
	if m.outputFunc != nil {
		return m.outputFunc(ctx, name, args...)
	}
	return nil, nil
}

func (m *mockExecutor) ExecuteToFile(ctx context.Context, outputPath string, name string, args ...string) error {
	m.executed = append(m.executed, append([]string{name}, args...))
	if m.executeFunc != nil {
		return m.executeFunc(ctx, outputPath, name, args...)
	}
	return os.WriteFile(outputPath, []byte("tar content"), 0o600)
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

// dockerOutput answers docker ps and docker volume ls.
func dockerOutput(running, volumes string) func(ctx context.Context, name string, args ...string) ([]byte, error) {
	return func(ctx context.Context, name string, args ...string) ([]byte, error) {
		switch strings.Join(args, " ") {
		case "ps -q":
			return []byte(running), nil
		case "volume ls --format {{.Name}}":
			return []byte(volumes), nil
		}
		return nil, errors.New("unexpected command")
	}
}

func TestExport_Success(t *testing.T) {
	mock := &mockExecutor{outputFunc: dockerOutput("", "gitea_data\npostgres_data\n")}
	svc := NewWithExecutor(testLogger(), mock)
	dir := filepath.Join(t.TempDir(), "volumes")

	result, err := svc.Export(context.Background(), dir)

	require.NoError(t, err)
	require.NoError(t, result.Error)
	require.Len(t, result.Archives, 2)
	assert.Equal(t, "gitea_data", result.Archives[0].Volume)
	assert.Equal(t, filepath.Join(dir, "gitea_data.tar"), result.Archives[0].Path)
	assert.Equal(t, int64(len("tar content")), result.Archives[0].SizeBytes)
	assert.FileExists(t, filepath.Join(dir, "postgres_data.tar"))

	require.Len(t, mock.executed, 2)
	assert.Equal(t, []string{
		"docker", "run", "-v", "gitea_data:/volume", "--rm", "--log-driver", "none", BackupImage, "backup",
	}, mock.executed[0])
}

func TestExport_ContainersRunning(t *testing.T) {
	mock := &mockExecutor{outputFunc: dockerOutput("3f2a1b\n9c8d7e\n", "gitea_data\n")}
	svc := NewWithExecutor(testLogger(), mock)
	dir := filepath.Join(t.TempDir(), "volumes")

	result, err := svc.Export(context.Background(), dir)

	require.NoError(t, err)
	require.ErrorIs(t, result.Error, models.ErrContainersRunning)
	assert.Contains(t, result.Error.Error(), "2 running")
	assert.Empty(t, mock.executed)
	assert.NoDirExists(t, dir)
}

func TestExport_NoVolumes(t *testing.T) {
	mock := &mockExecutor{outputFunc: dockerOutput("", "\n")}
	svc := NewWithExecutor(testLogger(), mock)
	dir := filepath.Join(t.TempDir(), "volumes")

	result, err := svc.Export(context.Background(), dir)

	require.NoError(t, err)
	assert.NoError(t, result.Error)
	assert.Empty(t, result.Archives)
	assert.NoDirExists(t, dir)
}

func TestExport_VolumeFailsRemovesPartialFile(t *testing.T) {
	mock := &mockExecutor{
		outputFunc: dockerOutput("", "first\nbroken\nthird\n"),
		executeFunc: func(ctx context.Context, outputPath string, name string, args ...string) error {
			if err := os.WriteFile(outputPath, []byte("partial"), 0o600); err != nil {
				return err
			}
			if strings.HasSuffix(outputPath, "broken.tar") {
				return errors.New("docker run failed: exit status 125")
			}
			return nil
		},
	}
	svc := NewWithExecutor(testLogger(), mock)
	dir := t.TempDir()

	result, err := svc.Export(context.Background(), dir)

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "exporting volume broken")
	assert.Len(t, result.Archives, 1)
	assert.Len(t, mock.executed, 2)
	assert.FileExists(t, filepath.Join(dir, "first.tar"))
	assert.NoFileExists(t, filepath.Join(dir, "broken.tar"))
}

func TestExport_DockerMissing(t *testing.T) {
	mock := &mockExecutor{
		outputFunc: func(ctx context.Context, name string, args ...string) ([]byte, error) {
			return nil, &exec.Error{Name: "docker", Err: exec.ErrNotFound}
		},
	}
	svc := NewWithExecutor(testLogger(), mock)

	result, err := svc.Export(context.Background(), t.TempDir())

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "docker is not installed")
	assert.ErrorIs(t, result.Error, exec.ErrNotFound)
}

func TestExport_RejectsPathLikeVolumeName(t *testing.T) {
	mock := &mockExecutor{outputFunc: dockerOutput("", "../escape\n")}
	svc := NewWithExecutor(testLogger(), mock)

	result, err := svc.Export(context.Background(), t.TempDir())

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Empty(t, mock.executed)
}

func TestExport_CreateDirFails(t *testing.T) {
	mock := &mockExecutor{outputFunc: dockerOutput("", "data\n")}
	svc := NewWithExecutor(testLogger(), mock)
	file := filepath.Join(t.TempDir(), "file")
	require.NoError(t, os.WriteFile(file, nil, 0o600))

	result, err := svc.Export(context.Background(), filepath.Join(file, "volumes"))

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to create output directory")
}

func TestDefaultExecutor_ExecuteToFile(t *testing.T) {
	if _, err := exec.LookPath("sh"); err != nil {
		t.Skip("sh not available")
	}
	out := filepath.Join(t.TempDir(), "out.tar")

	err := (&DefaultExecutor{}).ExecuteToFile(context.Background(), out, "sh", "-c", "printf data")
	require.NoError(t, err)
	content, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "data", string(content))

	err = (&DefaultExecutor{}).ExecuteToFile(context.Background(), out, "sh", "-c", "echo boom >&2; exit 3")
	require.Error(t, err)
	assert.Contains(t, err.Error(), "boom")
}
