// Package logger 日志模块单元测试
package logger

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/dumeirei/commission-ledger/internal/common/config"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"
)

// ==================== Init 函数测试 ====================

func TestInit_Formats(t *testing.T) {
	for _, format := range []string{"console", "json"} {
		t.Run(format, func(t *testing.T) {
			err := Init(&config.LoggerConfig{Level: "debug", Format: format, Output: "stdout", Caller: true})
			assert.NoError(t, err)
			assert.NotNil(t, log)
			assert.NotNil(t, sugar)
		})
	}
}

func TestInit_FileOutput(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "ledger.log")

	err := Init(&config.LoggerConfig{
		Level:      "info",
		Format:     "json",
		Output:     "file",
		FilePath:   logFile,
		MaxSize:    1,
		MaxBackups: 3,
		MaxAge:     7,
	})
	require.NoError(t, err)

	Info("佣金入账", OrderID("O1"), Amount("amount", decimal.RequireFromString("100")))
	_ = Sync()

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	assert.Contains(t, string(data), `"order_id":"O1"`)
	assert.Contains(t, string(data), `"amount":"100.00"`)
}

// ==================== getLogLevel 测试 ====================

func TestGetLogLevel(t *testing.T) {
	tests := []struct {
		level    string
		expected zapcore.Level
	}{
		{"debug", zapcore.DebugLevel},
		{"info", zapcore.InfoLevel},
		{"warn", zapcore.WarnLevel},
		{"error", zapcore.ErrorLevel},
		{"invalid", zapcore.InfoLevel},
		{"", zapcore.InfoLevel},
	}

	for _, tt := range tests {
		t.Run(tt.level, func(t *testing.T) {
			assert.Equal(t, tt.expected, getLogLevel(tt.level))
		})
	}
}

// ==================== GetLogger 测试 ====================

func TestGetLogger_LazyInit(t *testing.T) {
	log = nil
	sugar = nil

	l := GetLogger()
	assert.NotNil(t, l)
	assert.Equal(t, l, GetLogger())
	assert.NotNil(t, GetSugar())
}

func TestSync_WithNilLogger(t *testing.T) {
	log = nil
	assert.NoError(t, Sync())
}

// ==================== SetLogger 测试 ====================

func TestSetLogger_CapturesEntries(t *testing.T) {
	core, logs := observer.New(zapcore.DebugLevel)
	SetLogger(zap.New(core))
	t.Cleanup(func() { SetLogger(zap.NewNop()) })

	Warn("可提现余额为负", DistributorID(7), Amount("available", decimal.RequireFromString("-12.5")))
	Infof("处理 %d 条", 3)

	require.Equal(t, 2, logs.Len())
	entry := logs.All()[0]
	assert.Equal(t, zapcore.WarnLevel, entry.Level)
	assert.Equal(t, int64(7), entry.ContextMap()["distributor_id"])
	assert.Equal(t, "-12.50", entry.ContextMap()["available"])
	assert.Equal(t, "处理 3 条", logs.All()[1].Message)
}

// ==================== 字段构造函数测试 ====================

func TestFieldConstructors(t *testing.T) {
	tests := []struct {
		name  string
		field zap.Field
		key   string
	}{
		{"RequestID", RequestID("req-1"), "request_id"},
		{"DistributorID", DistributorID(1), "distributor_id"},
		{"OrderID", OrderID("O1"), "order_id"},
		{"LineID", LineID("L1"), "order_line_id"},
		{"EntryID", EntryID(9), "entry_id"},
		{"WithdrawalNo", WithdrawalNo("W1"), "withdrawal_no"},
		{"Module", Module("ledger"), "module"},
		{"Action", Action("settle"), "action"},
		{"Latency", Latency(time.Millisecond), "latency"},
		{"StatusCode", StatusCode(200), "status_code"},
		{"Method", Method("POST"), "method"},
		{"Path", Path("/health"), "path"},
		{"IP", IP("127.0.0.1"), "ip"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.key, tt.field.Key)
		})
	}
}
