package logging

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestNewLoggerLevel(t *testing.T) {
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "warn", Format: "json"}, &buf)

	logger.Info().Msg("hidden")
	logger.Warn().Str("metric", "btc").Msg("visible")

	out := buf.String()
	if strings.Contains(out, "hidden") {
		t.Fatal("info 级别日志不应输出")
	}
	var line map[string]any
	if err := json.Unmarshal([]byte(strings.TrimSpace(out)), &line); err != nil {
		t.Fatalf("日志应为 JSON: %v (%q)", err, out)
	}
	if line["metric"] != "btc" || line["message"] != "visible" {
		t.Fatalf("日志字段不正确: %#v", line)
	}
}

func TestNewLoggerFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "levelwatch.log")
	var buf bytes.Buffer
	logger := newLogger(Config{Level: "info", File: path, MaxSizeMB: 1}, &buf)
	logger.Info().Msg("to file")

	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("读取日志文件失败: %v", err)
	}
	if !strings.Contains(string(data), "to file") || !strings.Contains(buf.String(), "to file") {
		t.Fatal("日志应同时写入标准输出与文件")
	}
}
