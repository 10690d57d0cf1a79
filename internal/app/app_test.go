// internal/app/app_test.go
package app

import (
	"context"
	"net/http"
	"os"
	"path/filepath"
	"syscall"
	"testing"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/config"
	"github.com/inkmind/ManuscriptMind/internal/di"
)

// setupTest 初始化测试环境
func setupTest(t *testing.T) string {
	// 重置全局状态
	instance = nil
	di.GetContainer().Clear()

	tempDir, err := os.MkdirTemp("", "app_test")
	if err != nil {
		t.Fatalf("创建临时目录失败: %v", err)
	}
	return tempDir
}

// cleanupTest 清理测试环境
func cleanupTest(tempDir string) {
	instance = nil
	di.GetContainer().Clear()
	os.RemoveAll(tempDir)
}

// mockServer 模拟HTTP服务器
type mockServer struct {
	ShutdownCalled bool
}

func (m *mockServer) ListenAndServe() error {
	return http.ErrServerClosed
}

func (m *mockServer) Shutdown(ctx context.Context) error {
	m.ShutdownCalled = true
	return nil
}

// TestGetApp 测试应用单例
func TestGetApp(t *testing.T) {
	instance = nil

	app1 := GetApp()
	if app1 == nil {
		t.Fatal("GetApp应该返回非nil的应用实例")
	}

	app2 := GetApp()
	if app1 != app2 {
		t.Error("GetApp应该返回相同的应用实例")
	}

	if app1.stopChan == nil {
		t.Error("应用实例应该初始化stopChan")
	}
}

// TestInitLogger 测试日志初始化
func TestInitLogger(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	logDir := filepath.Join(tempDir, "logs")
	if err := initLogger(logDir); err != nil {
		t.Fatalf("初始化日志失败: %v", err)
	}

	// 验证日志目录和文件已创建
	files, _ := os.ReadDir(logDir)
	if len(files) == 0 {
		t.Error("应该已创建日志文件")
	}
}

// TestRun 测试应用运行和关闭
func TestRun(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	// 创建测试应用实例
	testApp := &App{
		config: &config.AppConfig{
			Port: "8081",
		},
		stopChan: make(chan os.Signal, 1),
	}
	instance = testApp

	// 创建模拟服务器并设置
	mockSrv := &mockServer{}
	testApp.server = mockSrv

	// 模拟发送停止信号
	go func() {
		time.Sleep(100 * time.Millisecond)
		testApp.stopChan <- syscall.SIGTERM
	}()

	// 运行应用（应该在收到信号后返回）
	err := Run()
	if err != nil {
		t.Fatalf("运行应用失败: %v", err)
	}

	// 验证Shutdown被调用
	if !mockSrv.ShutdownCalled {
		t.Error("应该调用了server.Shutdown")
	}
}

// TestRunRequiresInitialize 未初始化时Run应该报错
func TestRunRequiresInitialize(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	instance = &App{stopChan: make(chan os.Signal, 1)}

	if err := Run(); err == nil {
		t.Error("未初始化服务器时Run应该返回错误")
	}
}

// TestGetConfig 测试获取应用配置
func TestGetConfig(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	testConfig := &config.AppConfig{
		Port:      "9000",
		DebugMode: true,
	}

	testApp := &App{
		config: testConfig,
	}
	instance = testApp

	cfg := testApp.GetConfig()
	if cfg != testConfig {
		t.Error("GetConfig应该返回应用的配置")
	}
}

// TestGetDIContainer 测试获取依赖注入容器
func TestGetDIContainer(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	container := GetDIContainer()
	if container == nil {
		t.Fatal("GetDIContainer应该返回一个非nil的容器")
	}

	// 验证是相同的容器实例
	container2 := di.GetContainer()
	if container != container2 {
		t.Error("应该返回相同的DI容器实例")
	}
}

// TestIsDebugMode 测试调试模式检查
func TestIsDebugMode(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	// 没有实例时应该返回false
	instance = nil
	if IsDebugMode() {
		t.Error("没有应用实例时应该返回false")
	}

	// 调试模式开启
	instance = &App{
		config: &config.AppConfig{DebugMode: true},
	}
	if !IsDebugMode() {
		t.Error("调试模式开启时应该返回true")
	}

	// 调试模式关闭
	instance.config.DebugMode = false
	if IsDebugMode() {
		t.Error("调试模式关闭时应该返回false")
	}
}

// TestCleanup 测试资源清理
func TestCleanup(t *testing.T) {
	tempDir := setupTest(t)
	defer cleanupTest(tempDir)

	testApp := &App{
		config:   &config.AppConfig{},
		stopChan: make(chan os.Signal, 1),
	}
	instance = testApp

	// 容器为空时清理不应该panic
	testApp.cleanup()
}
