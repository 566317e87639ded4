package wol

import (
	"context"
	"errors"
	"io"
	"net"
	"testing"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockWOLClient struct {
	wakeFunc func(broadcastIP string, mac net.HardwareAddr) error
}

func (m *mockWOLClient) Wake(broadcastIP string, mac net.HardwareAddr) error {
	if m.wakeFunc != nil {
		return m.wakeFunc(broadcastIP, mac)
	}
	return nil
}

type mockDialer struct {
	dialFunc func(ctx context.Context, network, addr string) (net.Conn, error)
}

func (m *mockDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	if m.dialFunc != nil {
		return m.dialFunc(ctx, network, addr)
	}
	client, server := net.Pipe()
	_ = server.Close()
	return client, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func wakeConfig() models.WakeConfig {
	return models.WakeConfig{
		MACAddress:   "AA:BB:CC:DD:EE:FF",
		BroadcastIP:  "192.168.1.255",
		Timeout:      10 * time.Second,
		PollInterval: 10 * time.Millisecond,
	}
}

func TestWake_Success_NoAddress(t *testing.T) {
	var capturedMAC net.HardwareAddr
	var capturedBroadcastIP string

	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			capturedMAC = mac
			capturedBroadcastIP = broadcastIP
			return nil
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)
	result, err := svc.Wake(context.Background(), wakeConfig(), "")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)

	expectedMAC, _ := net.ParseMAC("AA:BB:CC:DD:EE:FF")
	assert.Equal(t, expectedMAC, capturedMAC)
	assert.Equal(t, "192.168.1.255", capturedBroadcastIP)
}

func TestWake_InvalidMAC(t *testing.T) {
	svc := NewWithClients(testLogger(), &mockWOLClient{}, nil)
	cfg := wakeConfig()
	cfg.MACAddress = "invalid"

	result, err := svc.Wake(context.Background(), cfg, "")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "invalid MAC address")
}

func TestWake_SendFailed(t *testing.T) {
	wolClient := &mockWOLClient{
		wakeFunc: func(broadcastIP string, mac net.HardwareAddr) error {
			return errors.New("network unreachable")
		},
	}

	svc := NewWithClients(testLogger(), wolClient, nil)
	result, err := svc.Wake(context.Background(), wakeConfig(), "")

	require.NoError(t, err)
	assert.False(t, result.PacketSent)
	assert.EqualError(t, result.Error, "network unreachable")
}

func TestWake_PortAnswersImmediately(t *testing.T) {
	var capturedAddr string
	fallback := &mockDialer{}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{
		dialFunc: func(ctx context.Context, network, addr string) (net.Conn, error) {
			capturedAddr = addr
			return fallback.DialContext(ctx, network, addr)
		},
	})
	result, err := svc.Wake(context.Background(), wakeConfig(), "192.168.1.100:22")

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.Nil(t, result.Error)
	assert.Equal(t, "192.168.1.100:22", capturedAddr)
}

func TestWake_PortAnswersAfterRetries(t *testing.T) {
	calls := 0
	fallback := &mockDialer{}
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, addr string) (net.Conn, error) {
			calls++
			if calls < 3 {
				return nil, errors.New("connection refused")
			}
			return fallback.DialContext(ctx, network, addr)
		},
	}

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)
	result, err := svc.Wake(context.Background(), wakeConfig(), "192.168.1.100:22")

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, calls, 3)
}

func TestWake_Timeout(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}
	cfg := wakeConfig()
	cfg.Timeout = 50 * time.Millisecond

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)
	result, err := svc.Wake(context.Background(), cfg, "192.168.1.100:22")

	require.NoError(t, err)
	assert.True(t, result.PacketSent)
	assert.False(t, result.TargetReady)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "timeout")
}

func TestWake_ContextCancelled(t *testing.T) {
	dialer := &mockDialer{
		dialFunc: func(ctx context.Context, network, addr string) (net.Conn, error) {
			return nil, errors.New("connection refused")
		},
	}
	cfg := wakeConfig()
	cfg.PollInterval = 100 * time.Millisecond

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(50 * time.Millisecond)
		cancel()
	}()

	svc := NewWithClients(testLogger(), &mockWOLClient{}, dialer)
	result, err := svc.Wake(ctx, cfg, "192.168.1.100:22")

	require.NoError(t, err)
	assert.False(t, result.TargetReady)
	assert.Equal(t, context.Canceled, result.Error)
}

func TestWake_WithStabilizeWait(t *testing.T) {
	cfg := wakeConfig()
	cfg.StabilizeWait = 50 * time.Millisecond

	svc := NewWithClients(testLogger(), &mockWOLClient{}, &mockDialer{})

	start := time.Now()
	result, err := svc.Wake(context.Background(), cfg, "192.168.1.100:22")
	duration := time.Since(start)

	require.NoError(t, err)
	assert.True(t, result.TargetReady)
	assert.GreaterOrEqual(t, duration, cfg.StabilizeWait)
}
