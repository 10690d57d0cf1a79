// internal/app/app.go
package app

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/inkmind/ManuscriptMind/internal/api"
	"github.com/inkmind/ManuscriptMind/internal/config"
	"github.com/inkmind/ManuscriptMind/internal/di"
	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/services"
	"github.com/inkmind/ManuscriptMind/internal/storage"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

// appServer 抽象HTTP服务器，便于测试时注入mock
type appServer interface {
	ListenAndServe() error
	Shutdown(ctx context.Context) error
}

// App 应用程序实例，持有配置、路由和服务器生命周期
type App struct {
	config   *config.AppConfig
	router   http.Handler
	server   appServer
	stopChan chan os.Signal
}

// 全局应用实例（单例模式）
var instance *App

// GetApp 获取应用实例
func GetApp() *App {
	if instance == nil {
		instance = &App{
			stopChan: make(chan os.Signal, 1),
		}
	}
	return instance
}

// Initialize 完成应用初始化：配置、日志、服务和路由
func Initialize() error {
	a := GetApp()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置尚未初始化，请先调用 config.InitConfig")
	}
	a.config = cfg

	// 初始化日志
	if err := initLogger(cfg.LogDir); err != nil {
		return fmt.Errorf("初始化日志失败: %w", err)
	}

	// 初始化服务
	if err := InitServices(); err != nil {
		return fmt.Errorf("初始化服务失败: %w", err)
	}

	// 配置路由
	router, err := api.SetupRouter()
	if err != nil {
		return fmt.Errorf("配置路由失败: %w", err)
	}
	a.router = router

	a.server = &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
	}

	return nil
}

// initLogger 初始化文件日志
func initLogger(logDir string) error {
	if logDir == "" {
		logDir = "logs"
	}
	if err := os.MkdirAll(logDir, 0755); err != nil {
		return err
	}

	logFile := filepath.Join(logDir, fmt.Sprintf("app_%s.log", time.Now().Format("20060102")))
	return utils.InitLogger(logFile)
}

// InitServices 按依赖顺序创建服务并注册到DI容器
func InitServices() error {
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		return fmt.Errorf("配置尚未初始化")
	}

	container := di.GetContainer()

	// 存储层
	store, err := storage.NewStore(cfg.DBPath)
	if err != nil {
		return fmt.Errorf("打开数据库失败: %w", err)
	}
	container.Register("store", store)

	cache := storage.NewSnapshotCache(cfg.SnapshotCacheSize, 30*time.Minute)
	container.Register("cache", cache)

	archive, err := storage.NewRevisionArchive(filepath.Join(cfg.DataDir, "revisions"), cfg.RevisionLimit)
	if err != nil {
		return fmt.Errorf("初始化修订归档失败: %w", err)
	}
	container.Register("archive", archive)

	// 统计服务
	statsService := services.NewStatsService(cfg.DataDir)
	container.Register("stats", statsService)

	// 章节服务
	chapterService := services.NewChapterService(store, archive)
	container.Register("chapters", chapterService)

	// 增量处理器，阈值来自配置
	thresholds := intelligence.DefaultThresholds()
	if cfg.Processing.MaxChangedRanges > 0 {
		thresholds.MaxChangedRanges = cfg.Processing.MaxChangedRanges
	}
	if cfg.Processing.FullRewriteRatio > 0 {
		thresholds.FullRewriteRatio = cfg.Processing.FullRewriteRatio
	}
	if cfg.Processing.StyleRecomputeChars > 0 {
		thresholds.StyleRecomputeChars = cfg.Processing.StyleRecomputeChars
	}
	if cfg.Processing.StructuralRebuildChars > 0 {
		thresholds.StructuralRebuildChars = cfg.Processing.StructuralRebuildChars
	}
	processor := intelligence.NewProcessor(thresholds)

	// 编辑会话服务
	sessionService := services.NewSessionService(processor, chapterService, store, cache, statsService)
	if cfg.Processing.DebounceMS > 0 {
		sessionService.SetDebounceWindow(time.Duration(cfg.Processing.DebounceMS) * time.Millisecond)
	}
	container.Register("sessions", sessionService)

	// 上下文服务
	contextService := services.NewContextService(chapterService, sessionService)
	container.Register("contexts", contextService)

	// 导出服务
	exportService := services.NewExportService(chapterService, sessionService, cfg.DataDir)
	container.Register("exports", exportService)

	log.Printf("✅ 服务初始化完成: %v", container.GetNames())
	return nil
}

// Run 启动HTTP服务器并阻塞等待退出信号
func Run() error {
	a := GetApp()

	if a.server == nil {
		return fmt.Errorf("应用尚未初始化")
	}

	// 监听退出信号
	signal.Notify(a.stopChan, syscall.SIGINT, syscall.SIGTERM)

	// 启动服务器
	serverErr := make(chan error, 1)
	go func() {
		if err := a.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			serverErr <- err
		}
	}()

	if a.config != nil {
		log.Printf("🚀 服务器已启动，监听端口 %s", a.config.Port)
	}

	// 等待信号或启动失败
	select {
	case err := <-serverErr:
		return fmt.Errorf("服务器启动失败: %w", err)
	case sig := <-a.stopChan:
		log.Printf("🛑 收到信号 %v，开始优雅关闭...", sig)
	}

	// 优雅关闭
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := a.server.Shutdown(ctx); err != nil {
		log.Printf("⚠️ 服务器关闭出错: %v", err)
	}

	a.cleanup()

	log.Println("✅ 服务器已关闭")
	return nil
}

// cleanup 释放持有后台协程或文件句柄的服务
func (a *App) cleanup() {
	api.ShutdownHub()

	container := di.GetContainer()

	if sessionService, ok := container.Get("sessions").(*services.SessionService); ok && sessionService != nil {
		sessionService.Close()
	}

	if statsService, ok := container.Get("stats").(*services.StatsService); ok && statsService != nil {
		statsService.Close()
	}

	if store, ok := container.Get("store").(*storage.Store); ok && store != nil {
		if err := store.Close(); err != nil {
			log.Printf("⚠️ 关闭数据库失败: %v", err)
		}
	}
}

// GetConfig 返回应用配置
func (a *App) GetConfig() *config.AppConfig {
	return a.config
}

// GetDIContainer 返回全局依赖注入容器
func GetDIContainer() *di.Container {
	return di.GetContainer()
}

// IsDebugMode 返回是否处于调试模式
func IsDebugMode() bool {
	if instance == nil || instance.config == nil {
		return false
	}
	return instance.config.DebugMode
}
