// internal/api/error_codes.go
package api

// API错误代码常量
const (
	// 通用错误
	ErrorBadRequest    = "BAD_REQUEST"
	ErrorNotFound      = "NOT_FOUND"
	ErrorInternalError = "INTERNAL_ERROR"
	ErrorConflict      = "CONFLICT"
	ErrorForbidden     = "FORBIDDEN"
	ErrorUnauthorized  = "UNAUTHORIZED"

	// 项目相关错误
	ErrorProjectNotFound     = "PROJECT_NOT_FOUND"
	ErrorProjectCreateFailed = "PROJECT_CREATE_FAILED"
	ErrorProjectInvalid      = "PROJECT_INVALID"

	// 章节相关错误
	ErrorChapterNotFound     = "CHAPTER_NOT_FOUND"
	ErrorChapterCreateFailed = "CHAPTER_CREATE_FAILED"
	ErrorChapterInvalid      = "CHAPTER_INVALID"
	ErrorRevisionNotFound    = "REVISION_NOT_FOUND"

	// 智能分析相关错误
	ErrorProcessingFailed    = "PROCESSING_FAILED"
	ErrorSnapshotUnavailable = "SNAPSHOT_UNAVAILABLE"
	ErrorContextBuildFailed  = "CONTEXT_BUILD_FAILED"

	// 导出相关错误
	ErrorExportFailed = "EXPORT_FAILED"

	// 配置相关错误
	ErrorConfigNotLoaded  = "CONFIG_NOT_LOADED"
	ErrorThresholdInvalid = "THRESHOLD_INVALID"
)
