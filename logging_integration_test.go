package main

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestLoggingFallbackToStderr(t *testing.T) {
	if os.Geteuid() == 0 {
		t.Skip("root 不受目录权限限制")
	}
	isolateEnv(t)
	dir := t.TempDir()
	blocked := filepath.Join(dir, "blocked")
	if err := os.Mkdir(blocked, 0o755); err != nil {
		t.Fatalf("创建目录失败: %v", err)
	}
	if err := os.Chmod(blocked, 0o000); err != nil {
		t.Fatalf("设置目录权限失败: %v", err)
	}
	t.Cleanup(func() { _ = os.Chmod(blocked, 0o755) })

	logPath := filepath.Join(blocked, "sub", "catchy.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
Backend = "directory"
CacheDir = "%s"
LogLevel = "info"
LogFilePath = "%s"
`, filepath.Join(dir, "cache"), logPath))

	useBufferWriters(t)
	code := run([]string{"--config", configPath, "check-config"})
	if code != exitOK {
		t.Fatalf("日志 fallback 不应导致失败，得到 %d", code)
	}
	if !strings.Contains(stdErrBuffer().String(), "logger_fallback") {
		t.Fatalf("应在 stderr 记录 fallback，得到 %s", stdErrBuffer().String())
	}
	if stdOutBuffer().Len() != 0 {
		t.Fatalf("日志不应写入 stdout")
	}
}

func TestLoggingWritesToConfiguredFile(t *testing.T) {
	isolateEnv(t)
	dir := t.TempDir()
	logPath := filepath.Join(dir, "logs", "catchy.log")
	configPath := writeConfigFile(t, fmt.Sprintf(`
Backend = "none"
LogLevel = "debug"
LogFilePath = "%s"
`, logPath))

	useBufferWriters(t)
	if code := run([]string{"--config", configPath, "check-config"}); code != exitOK {
		t.Fatalf("check-config 应成功，得到 %d", code)
	}
	data, err := os.ReadFile(logPath)
	if err != nil {
		t.Fatalf("应写入日志文件: %v", err)
	}
	if !strings.Contains(string(data), "check_config") {
		t.Fatalf("日志文件缺少 check_config: %s", data)
	}
}

func writeConfigFile(t *testing.T, content string) string {
	t.Helper()
	file := filepath.Join(t.TempDir(), "config.toml")
	if err := os.WriteFile(file, []byte(strings.TrimSpace(content)), 0o600); err != nil {
		t.Fatalf("写入配置失败: %v", err)
	}
	return file
}
