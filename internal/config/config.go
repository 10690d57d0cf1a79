// internal/config/config.go
package config

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/joho/godotenv"
)

// 当前配置的单例实例
var (
	currentConfig *AppConfig
	configMutex   sync.RWMutex
	configFile    string
)

// ProcessingConfig 增量处理的策略阈值，可在运行中调参
type ProcessingConfig struct {
	MaxChangedRanges       int     `json:"max_changed_ranges"`
	FullRewriteRatio       float64 `json:"full_rewrite_ratio"`
	StyleRecomputeChars    int     `json:"style_recompute_chars"`
	StructuralRebuildChars int     `json:"structural_rebuild_chars"`
	DebounceMS             int     `json:"debounce_ms"`
}

// AppConfig 包含应用程序的所有配置
type AppConfig struct {
	// 基础配置
	Port      string `json:"port"`
	DataDir   string `json:"data_dir"`
	StaticDir string `json:"static_dir"`
	LogDir    string `json:"log_dir"`
	DebugMode bool   `json:"debug_mode"`

	// 存储相关配置
	DBPath            string `json:"db_path"`
	RevisionLimit     int    `json:"revision_limit"`      // 每章节保留的修订数
	SnapshotCacheSize int    `json:"snapshot_cache_size"` // 快照缓存容量

	// 增量处理相关配置
	Processing ProcessingConfig `json:"processing"`
}

// Config 存储应用配置
type Config struct {
	Port      string
	DataDir   string
	StaticDir string
	LogDir    string
	DebugMode bool
}

// Load 从环境变量加载配置
func Load() (*Config, error) {
	// 尝试加载.env文件（可选）
	godotenv.Load()

	config := &Config{
		Port:      getEnv("PORT", "8080"),
		DataDir:   getEnvPath("DATA_DIR", "data"),
		StaticDir: getEnvPath("STATIC_DIR", "static"),
		LogDir:    getEnvPath("LOG_DIR", "logs"),
		DebugMode: getEnvBool("DEBUG_MODE", true),
	}

	return config, nil
}

// getEnv 获取环境变量，如果不存在则返回默认值
func getEnv(key, defaultValue string) string {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	return value
}

// getEnvPath 获取环境变量表示的路径，如果不存在则返回默认值
func getEnvPath(key, defaultValue string) string {
	path := getEnv(key, defaultValue)

	// 确保目录存在
	if _, err := os.Stat(path); os.IsNotExist(err) {
		err = os.MkdirAll(path, 0755)
		if err != nil {
			fmt.Printf("警告: 创建目录失败 %s: %v\n", path, err)
		}
	}

	return path
}

// getEnvBool 获取布尔类型环境变量
func getEnvBool(key string, defaultValue bool) bool {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}

	return value == "true" || value == "1" || value == "yes"
}

// getEnvInt 获取整型环境变量
func getEnvInt(key string, defaultValue int) int {
	value := os.Getenv(key)
	if value == "" {
		return defaultValue
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return defaultValue
	}
	return parsed
}

// defaultProcessing 与处理器的默认阈值保持一致
func defaultProcessing() ProcessingConfig {
	return ProcessingConfig{
		MaxChangedRanges:       20,
		FullRewriteRatio:       0.30,
		StyleRecomputeChars:    500,
		StructuralRebuildChars: 2000,
		DebounceMS:             getEnvInt("DEBOUNCE_MS", 400),
	}
}

// InitConfig 初始化配置管理器
func InitConfig(dataDir string) error {
	configFile = filepath.Join(dataDir, "config.json")

	// 加载基础配置
	baseConfig, err := Load()
	if err != nil {
		return err
	}

	configMutex.Lock()
	defer configMutex.Unlock()

	currentConfig = &AppConfig{
		Port:              baseConfig.Port,
		DataDir:           baseConfig.DataDir,
		StaticDir:         baseConfig.StaticDir,
		LogDir:            baseConfig.LogDir,
		DebugMode:         baseConfig.DebugMode,
		DBPath:            filepath.Join(baseConfig.DataDir, "manuscripts.db"),
		RevisionLimit:     getEnvInt("REVISION_LIMIT", 20),
		SnapshotCacheSize: getEnvInt("SNAPSHOT_CACHE_SIZE", 200),
		Processing:        defaultProcessing(),
	}

	// 尝试从文件加载已保存的配置
	if _, err := os.Stat(configFile); !os.IsNotExist(err) {
		data, err := os.ReadFile(configFile)
		if err == nil {
			var savedConfig AppConfig
			if json.Unmarshal(data, &savedConfig) == nil {
				// 合并配置：保留文件中的处理阈值，基础配置以环境为准
				savedConfig.Port = baseConfig.Port
				savedConfig.DataDir = baseConfig.DataDir
				savedConfig.StaticDir = baseConfig.StaticDir
				savedConfig.LogDir = baseConfig.LogDir
				savedConfig.DebugMode = baseConfig.DebugMode

				if savedConfig.DBPath == "" {
					savedConfig.DBPath = filepath.Join(baseConfig.DataDir, "manuscripts.db")
				}
				if savedConfig.RevisionLimit <= 0 {
					savedConfig.RevisionLimit = 20
				}
				if savedConfig.SnapshotCacheSize <= 0 {
					savedConfig.SnapshotCacheSize = 200
				}
				if savedConfig.Processing.MaxChangedRanges <= 0 {
					savedConfig.Processing = defaultProcessing()
				}

				currentConfig = &savedConfig
			}
		}
	}

	// 保存初始配置到文件
	return SaveConfig()
}

// GetCurrentConfig 返回当前配置的副本
func GetCurrentConfig() *AppConfig {
	configMutex.RLock()
	defer configMutex.RUnlock()

	if currentConfig == nil {
		// 紧急情况，返回一个基本配置
		baseConfig, _ := Load()
		return &AppConfig{
			Port:              baseConfig.Port,
			DataDir:           baseConfig.DataDir,
			StaticDir:         baseConfig.StaticDir,
			LogDir:            baseConfig.LogDir,
			DebugMode:         baseConfig.DebugMode,
			DBPath:            filepath.Join(baseConfig.DataDir, "manuscripts.db"),
			RevisionLimit:     20,
			SnapshotCacheSize: 200,
			Processing:        defaultProcessing(),
		}
	}

	// 返回配置的副本
	configCopy := *currentConfig
	return &configCopy
}

// UpdateProcessingConfig 更新处理阈值
func UpdateProcessingConfig(processing ProcessingConfig) error {
	configMutex.Lock()
	defer configMutex.Unlock()

	if currentConfig == nil {
		return fmt.Errorf("配置系统未初始化")
	}
	if processing.MaxChangedRanges <= 0 || processing.FullRewriteRatio <= 0 || processing.FullRewriteRatio > 1 {
		return fmt.Errorf("非法的处理阈值")
	}

	currentConfig.Processing = processing
	return SaveConfig()
}

// SaveConfig 保存当前配置到文件，调用方需持有配置锁
func SaveConfig() error {
	if currentConfig == nil {
		return fmt.Errorf("没有配置可保存")
	}

	// 确保目录存在
	dir := filepath.Dir(configFile)
	if _, err := os.Stat(dir); os.IsNotExist(err) {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("创建配置目录失败: %w", err)
		}
	}

	// 序列化并保存
	data, err := json.MarshalIndent(currentConfig, "", "  ")
	if err != nil {
		return fmt.Errorf("序列化配置失败: %w", err)
	}

	return os.WriteFile(configFile, data, 0644)
}
