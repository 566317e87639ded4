package telegram

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"

	"github.com/fgeck/persephone/internal/models"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type mockHTTPClient struct {
	doFunc func(req *http.Request) (*http.Response, error)
}

func (m *mockHTTPClient) Do(req *http.Request) (*http.Response, error) {
	if m.doFunc != nil {
		return m.doFunc(req)
	}
	return &http.Response{
		StatusCode: http.StatusOK,
		Body:       io.NopCloser(strings.NewReader("{}")),
	}, nil
}

func testLogger() zerolog.Logger {
	return zerolog.New(io.Discard)
}

func testConfig() models.TelegramConfig {
	return models.TelegramConfig{
		BotToken: "123456:ABC-DEF",
		ChatID:   "-100123456789",
	}
}

func TestSendNotification_Success(t *testing.T) {
	var capturedRequest *http.Request
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			capturedRequest = req
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":true}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:    true,
		Operation:  "create",
		Host:       "server1",
		Repository: "backup@nas:/volume1/borg",
		Archive:    "server1-2024-01-15T10:30:00",
		StartTime:  time.Now().Add(-5 * time.Minute),
		Duration:   5 * time.Minute,
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)
	assert.Nil(t, result.Error)

	assert.Equal(t, http.MethodPost, capturedRequest.Method)
	assert.Contains(t, capturedRequest.URL.String(), "/bot123456:ABC-DEF/sendMessage")
	assert.Equal(t, "application/json", capturedRequest.Header.Get("Content-Type"))

	assert.Equal(t, "-100123456789", capturedBody.ChatID)
	assert.Equal(t, "HTML", capturedBody.ParseMode)
	assert.Contains(t, capturedBody.Text, "Create succeeded")
}

func TestSendNotification_FailureMessage(t *testing.T) {
	var capturedBody sendMessageRequest

	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			body, _ := io.ReadAll(req.Body)
			_ = json.Unmarshal(body, &capturedBody)
			return &http.Response{
				StatusCode: http.StatusOK,
				Body:       io.NopCloser(strings.NewReader("{}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	msg := models.TelegramMessage{
		Success:      false,
		Operation:    "create",
		Host:         "server1",
		Repository:   "/srv/borg",
		StartTime:    time.Now(),
		Duration:     1 * time.Minute,
		FailedStep:   "create",
		ErrorMessage: "create failed with exit code 2",
	}

	result, err := svc.SendNotification(context.Background(), testConfig(), msg)

	require.NoError(t, err)
	assert.True(t, result.MessageSent)

	assert.Contains(t, capturedBody.Text, "Create failed")
	assert.Contains(t, capturedBody.Text, "Failed step")
	assert.Contains(t, capturedBody.Text, "exit code 2")
}

func TestSendNotification_HTTPError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New("network error")
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{Success: true, Host: "server1"})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "failed to send request")
}

func TestSendNotification_ErrorHidesToken(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, errors.New(`Post "` + req.URL.String() + `": dial tcp: no route to host`)
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{Host: "server1"})

	require.NoError(t, err)
	require.Error(t, result.Error)
	assert.NotContains(t, result.Error.Error(), "ABC-DEF")
	assert.Contains(t, result.Error.Error(), "no route to host")
}

func TestSendNotification_APIError(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return &http.Response{
				StatusCode: http.StatusBadRequest,
				Body:       io.NopCloser(strings.NewReader("{\"ok\":false}")),
			}, nil
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	result, err := svc.SendNotification(context.Background(), testConfig(), models.TelegramMessage{Success: true, Host: "server1"})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	require.Error(t, result.Error)
	assert.Contains(t, result.Error.Error(), "status 400")
}

func TestSendNotification_ContextCancelled(t *testing.T) {
	httpClient := &mockHTTPClient{
		doFunc: func(req *http.Request) (*http.Response, error) {
			return nil, context.Canceled
		},
	}

	svc := NewWithClient(testLogger(), httpClient, "https://api.telegram.org")

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	result, err := svc.SendNotification(ctx, testConfig(), models.TelegramMessage{Success: true, Host: "server1"})

	require.NoError(t, err)
	assert.False(t, result.MessageSent)
	assert.ErrorIs(t, result.Error, context.Canceled)
}

func TestFormatMessage_Success(t *testing.T) {
	svc := New(testLogger())

	msg := models.TelegramMessage{
		Success:    true,
		Operation:  "create",
		Host:       "myserver",
		Repository: "s3:https://minio.lan/backups/myserver",
		Archive:    "myserver-2024-01-15T10:30:00-1a2b3c4d",
		StartTime:  time.Date(2024, 1, 15, 10, 30, 0, 0, time.UTC),
		Duration:   3*time.Minute + 45*time.Second,
		FreeBytes:  1024 * 1024 * 1024 * 2,
	}

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "Create succeeded")
	assert.Contains(t, result, "myserver")
	assert.Contains(t, result, "s3:https://minio.lan/backups/myserver")
	assert.Contains(t, result, "myserver-2024-01-15T10:30:00-1a2b3c4d")
	assert.Contains(t, result, "2024-01-15 10:30:00")
	assert.Contains(t, result, "3m45s")
	assert.Contains(t, result, "Free temp space:</b> 2.0 GiB")
	assert.NotContains(t, result, "Error Details")
	assert.NotContains(t, result, "Fleet")
}

func TestFormatMessage_Failure(t *testing.T) {
	svc := New(testLogger())

	msg := models.TelegramMessage{
		Success:      false,
		Operation:    "create",
		Host:         "myserver",
		Repository:   "/backup",
		StartTime:    time.Now(),
		Duration:     1 * time.Minute,
		FailedStep:   "preflight",
		ErrorMessage: "temp dir /tmp is 97% full",
	}

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "Create failed")
	assert.Contains(t, result, "Failed step: preflight")
	assert.Contains(t, result, "temp dir /tmp is 97% full")
}

func TestFormatMessage_Fleet(t *testing.T) {
	svc := New(testLogger())

	msg := models.TelegramMessage{
		Success:       false,
		Operation:     "fleet retrieve",
		Host:          "controller",
		TargetsTotal:  3,
		TargetsFailed: []string{"db", "<web>"},
		ErrorMessage:  "2 of 3 targets failed",
	}

	result := svc.formatMessage(msg)

	assert.Contains(t, result, "Fleet retrieve failed")
	assert.Contains(t, result, "Targets: 3")
	assert.Contains(t, result, "Succeeded: 1")
	assert.Contains(t, result, "Failed: db, &lt;web&gt;")
	assert.NotContains(t, result, "Repository")
}

func TestFormatMessage_DefaultOperation(t *testing.T) {
	svc := New(testLogger())

	result := svc.formatMessage(models.TelegramMessage{Success: true, Host: "h"})

	assert.Contains(t, result, "Backup succeeded")
}

func TestEscapeHTML(t *testing.T) {
	tests := []struct {
		input    string
		expected string
	}{
		{"hello", "hello"},
		{"<script>", "&lt;script&gt;"},
		{"a & b", "a &amp; b"},
		{"<>&", "&lt;&gt;&amp;"},
		{"normal text", "normal text"},
	}

	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			result := escapeHTML(tt.input)
			assert.Equal(t, tt.expected, result)
		})
	}
}

func TestFormatBytes(t *testing.T) {
	tests := []struct {
		bytes    uint64
		expected string
	}{
		{0, "0 B"},
		{500, "500 B"},
		{1024, "1.0 KiB"},
		{1024 * 1024, "1.0 MiB"},
		{1024 * 1024 * 1024, "1.0 GiB"},
		{1024 * 1024 * 1024 * 2, "2.0 GiB"},
		{1536 * 1024, "1.5 MiB"},
	}

	for _, tt := range tests {
		t.Run(tt.expected, func(t *testing.T) {
			result := formatBytes(tt.bytes)
			assert.Equal(t, tt.expected, result)
		})
	}
}
