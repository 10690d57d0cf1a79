// cmd/demo/main.go
package main

import (
	"bufio"
	"fmt"
	"log"
	"os"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/inkmind/ManuscriptMind/internal/app"
	"github.com/inkmind/ManuscriptMind/internal/config"
	"github.com/inkmind/ManuscriptMind/internal/di"
	"github.com/inkmind/ManuscriptMind/internal/intelligence"
	"github.com/inkmind/ManuscriptMind/internal/models"
	"github.com/inkmind/ManuscriptMind/internal/services"
	"github.com/inkmind/ManuscriptMind/internal/utils"
)

func main() {
	fmt.Println("🚀 ManuscriptMind Console App")
	fmt.Println("=================================")

	// 选择语言
	selectLanguage()

	// 初始化配置
	baseConfig, err := config.Load()
	if err != nil {
		log.Printf("❌ 加载基础配置失败: %v", err)
		return
	}

	// 初始化日志系统
	logFile := fmt.Sprintf("logs/console_%s.log", time.Now().Format("2006-01-02"))
	if err := utils.InitLogger(logFile); err != nil {
		log.Printf("⚠️ 无法初始化结构化日志: %v", err)
		log.Println("继续运行...")
	} else {
		logger := utils.GetLogger()
		logger.Info("Console app starting", nil)
	}

	// 初始化环境
	initializeEnvironment(baseConfig)
	defer shutdownServices()

	for {
		showMenu()
		choice := getUserInput(T("input_prompt"))

		switch choice {
		case "1", "projects":
			manageProjects()
		case "2", "chapters":
			manageChapters()
		case "3", "write":
			writeChapter()
		case "4", "intel":
			viewIntelligence()
		case "5", "context":
			buildPromptContext()
		case "6", "timeline":
			viewTimeline()
		case "7", "revisions":
			manageRevisions()
		case "8", "stats":
			viewProcessingStats()
		case "9", "processing":
			configureProcessing()
		case "10", "config":
			viewConfig()
		case "11", "status", "stat":
			displayServiceStatus()
		case "12", "services":
			listServices()
		case "0", "quit", "exit":
			fmt.Println(T("goodbye"))
			return
		default:
			fmt.Println(T("invalid_choice"))
		}
		fmt.Println()
	}
}

// 显示菜单
func showMenu() {
	printBox("", fmt.Sprintf("%s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s\n  %s",
		T("menu_title"),
		T("menu_projects"),
		T("menu_chapters"),
		T("menu_write"),
		T("menu_intel"),
		T("menu_context"),
		T("menu_timeline"),
		T("menu_revisions"),
		T("menu_stats"),
		T("menu_processing"),
		T("menu_config"),
		T("menu_status"),
		T("menu_services"),
		T("menu_exit")))
}

// 获取用户输入
func getUserInput(prompt string) string {
	fmt.Print(prompt)
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	return scanner.Text()
}

// 获取用户输入 (带默认值)
func getUserInputWithDefault(prompt, defaultValue string) string {
	if defaultValue != "" {
		fmt.Printf("%s [默认: %s]: ", prompt, defaultValue)
	} else {
		fmt.Printf("%s: ", prompt)
	}
	scanner := bufio.NewScanner(os.Stdin)
	scanner.Scan()
	input := strings.TrimSpace(scanner.Text())
	if input == "" {
		return defaultValue
	}
	return input
}

// 1. 初始化项目环境
func initializeEnvironment(cfg *config.Config) {
	fmt.Println("🔧 正在初始化项目环境...")

	// 创建必要的目录
	dirs := []string{
		cfg.DataDir,
		cfg.LogDir,
		"temp",
	}
	if cfg.StaticDir != "" {
		dirs = append(dirs, cfg.StaticDir)
	}

	for _, dir := range dirs {
		if err := os.MkdirAll(dir, 0755); err != nil {
			log.Printf("❌ 创建目录失败 %s: %v", dir, err)
			fmt.Printf("❌ 创建目录失败: %s\n", dir)
			return
		}
	}

	// 初始化配置系统
	if err := config.InitConfig(cfg.DataDir); err != nil {
		log.Printf("❌ 初始化配置系统失败: %v", err)
		fmt.Printf("❌ 初始化配置系统失败: %v\n", err)
		return
	}

	// 初始化服务
	if err := app.InitServices(); err != nil {
		log.Printf("❌ 初始化服务失败: %v", err)
		fmt.Printf("❌ 初始化服务失败: %v\n", err)
		return
	}

	fmt.Println("✅ 项目环境初始化成功！")
	utils.GetLogger().Info("Environment initialized successfully", map[string]interface{}{
		"datadir": cfg.DataDir,
	})
}

// 退出前落盘统计并释放存储句柄
func shutdownServices() {
	container := di.GetContainer()
	if container == nil {
		return
	}
	if sessionService, ok := container.Get("sessions").(*services.SessionService); ok && sessionService != nil {
		sessionService.Close()
	}
	if statsService, ok := container.Get("stats").(*services.StatsService); ok && statsService != nil {
		statsService.Close()
	}
	if store, ok := container.Get("store").(interface{ Close() error }); ok && store != nil {
		store.Close()
	}
}

// 2. 管理项目
func manageProjects() {
	fmt.Println("📚 管理项目")
	container := di.GetContainer()
	chapterService, ok := container.Get("chapters").(*services.ChapterService)
	if !ok || chapterService == nil {
		fmt.Println("❌ 章节服务未初始化")
		return
	}

	// 读取现有项目
	projects, err := chapterService.ListProjects()
	if err != nil {
		fmt.Printf("❌ 读取项目失败: %v\n", err)
		return
	}

	fmt.Printf("\n当前共有 %d 个项目:\n", len(projects))
	if len(projects) > 0 {
		for i, project := range projects {
			fmt.Printf("  %d) %s (%s)\n", i+1, project.Title, project.ID)
		}
	} else {
		fmt.Println("  (暂无项目)")
	}

	fmt.Println("\n项目操作:")
	fmt.Println("  c) 创建新项目")
	fmt.Println("  v) 查看项目详情")
	fmt.Println("  u) 更新项目")
	fmt.Println("  d) 删除项目")
	fmt.Println("  b) 返回主菜单")
	fmt.Println()

	choice := getUserInput("请选择操作: ")

	switch strings.ToLower(choice) {
	case "c":
		title := getUserInput("项目标题: ")
		description := getUserInput("项目描述: ")

		project, err := chapterService.CreateProject(title, description)
		if err != nil {
			fmt.Printf("❌ 创建项目失败: %v\n", err)
		} else {
			fmt.Printf("✅ 项目创建成功！ID: %s\n", project.ID)
		}
	case "v":
		project, ok := pickProject(projects)
		if !ok {
			return
		}

		fmt.Printf("\n=== 项目详情 ===\n")
		fmt.Printf("ID: %s\n", project.ID)
		fmt.Printf("标题: %s\n", project.Title)
		fmt.Printf("描述: %s\n", project.Description)
		fmt.Printf("创建时间: %s\n", project.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("最后更新: %s\n", project.LastUpdated.Format("2006-01-02 15:04:05"))

		chapters, err := chapterService.ListChapters(project.ID)
		if err != nil {
			fmt.Printf("⚠️  读取章节列表失败: %v\n", err)
			return
		}
		fmt.Printf("\n章节 (%d个):\n", len(chapters))
		for _, meta := range chapters {
			fmt.Printf("  #%d %s (%s) - %d 字\n", meta.OrderIndex, meta.Title, meta.ID, meta.WordCount)
		}
	case "u":
		project, ok := pickProject(projects)
		if !ok {
			return
		}

		title := getUserInputWithDefault("项目标题", project.Title)
		description := getUserInputWithDefault("项目描述", project.Description)

		if _, err := chapterService.UpdateProject(project.ID, title, description); err != nil {
			fmt.Printf("❌ 更新项目失败: %v\n", err)
		} else {
			fmt.Println(T("update_success"))
		}
	case "d":
		project, ok := pickProject(projects)
		if !ok {
			return
		}

		confirm := getUserInput(fmt.Sprintf("确认删除项目 '%s' 及其所有章节 (y/N): ", project.Title))
		if strings.ToLower(confirm) == "y" || strings.ToLower(confirm) == "yes" {
			if err := chapterService.DeleteProject(project.ID); err != nil {
				fmt.Printf("❌ 删除项目失败: %v\n", err)
			} else {
				fmt.Printf("✅ 项目 '%s' 删除成功！\n", project.Title)
			}
		} else {
			fmt.Println("❌ 删除操作已取消")
		}
	case "b":
		fmt.Println("🔙 返回主菜单")
		return
	}
}

// 从项目列表中按编号选取
func pickProject(projects []*models.Project) (*models.Project, bool) {
	if len(projects) == 0 {
		fmt.Println("❌ 没有可用的项目")
		return nil, false
	}
	numStr := getUserInput("输入项目编号: ")
	if numStr == "" {
		return nil, false
	}

	index := 0
	if _, err := fmt.Sscanf(numStr, "%d", &index); err != nil {
		fmt.Println("❌ 无效的项目编号")
		return nil, false
	}
	index-- // 转换为0基索引

	if index < 0 || index >= len(projects) {
		fmt.Println("❌ 项目编号超出范围")
		return nil, false
	}
	return projects[index], true
}

// 3. 管理章节
func manageChapters() {
	fmt.Println("📖 管理章节")
	container := di.GetContainer()
	chapterService, ok := container.Get("chapters").(*services.ChapterService)
	if !ok || chapterService == nil {
		fmt.Println("❌ 章节服务未初始化")
		return
	}

	projectID := getUserInput(T("enter_project_id"))
	if projectID == "" {
		fmt.Println(T("project_id_empty"))
		return
	}

	chapters, err := chapterService.ListChapters(projectID)
	if err != nil {
		fmt.Printf(T("read_fail")+"\n", err)
		return
	}

	fmt.Printf("\n项目 '%s' 共有 %d 个章节:\n", projectID, len(chapters))
	for i, meta := range chapters {
		fmt.Printf("  %d) #%d %s (%s) - %d 字\n", i+1, meta.OrderIndex, meta.Title, meta.ID, meta.WordCount)
	}

	fmt.Println("\n章节操作:")
	fmt.Println("  c) 创建新章节 (手动输入) — 适合快速录入或调试少量文本")
	fmt.Println("  f) 从文件创建章节 (读取 chapters/import/draft.txt) — 导入本地草稿")
	fmt.Println("  v) 查看章节详情")
	fmt.Println("  u) 更新章节标题/排序")
	fmt.Println("  d) 删除章节")
	fmt.Println("  b) 返回主菜单")
	fmt.Println()

	choice := getUserInput("请选择操作: ")

	switch strings.ToLower(choice) {
	case "c":
		title := getUserInput("章节标题: ")
		fmt.Println("章节正文 (单行，完整写作请用写作会话):")
		text := getUserInput("> ")

		chapter, err := chapterService.CreateChapter(projectID, title, text)
		if err != nil {
			fmt.Printf("❌ 创建章节失败: %v\n", err)
		} else {
			fmt.Printf("✅ 章节创建成功！ID: %s (%d 字)\n", chapter.ID, chapter.WordCount)
		}
	case "f":
		content, err := os.ReadFile("chapters/import/draft.txt")
		if err != nil {
			fmt.Printf("❌ 读取草稿文件失败: %v\n", err)
			fmt.Println("💡 提示: 请确保文件 chapters/import/draft.txt 存在")
			return
		}

		draft := string(content)
		fmt.Printf("从文件读取的草稿内容:\n%s\n", truncateForCLI(draft, 200))

		title := getUserInputWithDefault("章节标题", "导入章节")

		chapter, err := chapterService.CreateChapter(projectID, title, draft)
		if err != nil {
			fmt.Printf("❌ 从文件创建章节失败: %v\n", err)
		} else {
			fmt.Printf("✅ 章节创建成功！ID: %s (%d 字)\n", chapter.ID, chapter.WordCount)
		}
	case "v":
		meta, ok := pickChapter(chapters)
		if !ok {
			return
		}

		chapter, err := chapterService.GetChapter(meta.ID)
		if err != nil {
			fmt.Printf(T("read_fail")+"\n", err)
			return
		}

		fmt.Printf("\n=== 章节详情 ===\n")
		fmt.Printf("ID: %s\n", chapter.ID)
		fmt.Printf("项目: %s\n", chapter.ProjectID)
		fmt.Printf("标题: %s\n", chapter.Title)
		fmt.Printf("排序: %d\n", chapter.OrderIndex)
		fmt.Printf("字数: %d\n", chapter.WordCount)
		fmt.Printf("内容指纹: %s\n", chapter.ContentHash)
		fmt.Printf("创建时间: %s\n", chapter.CreatedAt.Format("2006-01-02 15:04:05"))
		fmt.Printf("最后更新: %s\n", chapter.LastUpdated.Format("2006-01-02 15:04:05"))
		fmt.Printf("正文预览: %s\n", truncateForCLI(chapter.Text, 200))
	case "u":
		meta, ok := pickChapter(chapters)
		if !ok {
			return
		}

		title := getUserInputWithDefault("章节标题", meta.Title)
		orderStr := getUserInputWithDefault("排序号", fmt.Sprintf("%d", meta.OrderIndex))
		orderIndex := meta.OrderIndex
		fmt.Sscanf(orderStr, "%d", &orderIndex)

		if _, err := chapterService.UpdateChapterMeta(meta.ID, title, orderIndex); err != nil {
			fmt.Printf("❌ 更新章节失败: %v\n", err)
		} else {
			fmt.Println(T("update_success"))
		}
	case "d":
		meta, ok := pickChapter(chapters)
		if !ok {
			return
		}

		confirm := getUserInput(fmt.Sprintf("确认删除章节 '%s' (y/N): ", meta.Title))
		if strings.ToLower(confirm) == "y" || strings.ToLower(confirm) == "yes" {
			if err := chapterService.DeleteChapter(meta.ID); err != nil {
				fmt.Printf("❌ 删除章节失败: %v\n", err)
			} else {
				fmt.Printf("✅ 章节 '%s' 删除成功！\n", meta.Title)
			}
		} else {
			fmt.Println("❌ 删除操作已取消")
		}
	case "b":
		fmt.Println("🔙 返回主菜单")
		return
	}
}

// 从章节列表中按编号选取
func pickChapter(chapters []*models.ChapterMetadata) (*models.ChapterMetadata, bool) {
	if len(chapters) == 0 {
		fmt.Println("❌ 没有可用的章节")
		return nil, false
	}
	numStr := getUserInput("输入章节编号: ")
	if numStr == "" {
		return nil, false
	}

	index := 0
	if _, err := fmt.Sscanf(numStr, "%d", &index); err != nil {
		fmt.Println("❌ 无效的章节编号")
		return nil, false
	}
	index-- // 转换为0基索引

	if index < 0 || index >= len(chapters) {
		fmt.Println("❌ 章节编号超出范围")
		return nil, false
	}
	return chapters[index], true
}

// 4. 写作会话：逐段追加正文，实时查看增量分析结果
func writeChapter() {
	fmt.Println("✍️  写作会话")
	container := di.GetContainer()
	chapterService, _ := container.Get("chapters").(*services.ChapterService)
	sessionService, _ := container.Get("sessions").(*services.SessionService)
	contextService, _ := container.Get("contexts").(*services.ContextService)
	if chapterService == nil || sessionService == nil || contextService == nil {
		fmt.Println("❌ 写作相关服务未初始化")
		return
	}

	chapterID := getUserInput(T("enter_chapter_id"))
	if chapterID == "" {
		fmt.Println(T("chapter_id_empty"))
		return
	}

	chapter, err := chapterService.GetChapter(chapterID)
	if err != nil {
		fmt.Printf("❌ 章节不存在: %v\n", err)
		return
	}

	fmt.Printf("正在进入《%s》的写作会话 (当前 %d 字)\n", chapter.Title, chapter.WordCount)
	fmt.Println("输入一段正文并回车，即追加到章节末尾并触发分析")
	fmt.Println("系统命令: /hud 态势面板  /stats 上次处理统计  /reanalyze 全量重算  /quit 退出会话")
	fmt.Println()

	var lastStats *models.ProcessingStats

	// 进入会话先展示一次态势面板
	if intel, err := sessionService.GetIntelligence(chapterID); err == nil {
		renderManuscriptHUD(chapter.Title, intel, len(chapter.Text))
	}

	for {
		input := getUserInput("✍️  > ")
		trimmed := strings.TrimSpace(input)
		if trimmed == "" {
			continue
		}

		switch trimmed {
		case "/quit", "/exit", "/q":
			fmt.Println("🔙 退出写作会话")
			return
		case "/hud":
			chapter, err = chapterService.GetChapter(chapterID)
			if err != nil {
				fmt.Printf(T("read_fail")+"\n", err)
				continue
			}
			intel, err := sessionService.GetIntelligence(chapterID)
			if err != nil {
				fmt.Printf("❌ 读取分析快照失败: %v\n", err)
				continue
			}
			renderManuscriptHUD(chapter.Title, intel, len(chapter.Text))
			continue
		case "/stats":
			if lastStats == nil {
				fmt.Println("⚠️  本会话还没有处理记录")
			} else {
				printProcessingStats(lastStats)
			}
			continue
		case "/reanalyze":
			fmt.Println("正在全量重算...")
			_, stats, err := sessionService.Reanalyze(chapterID)
			if err != nil {
				fmt.Printf("❌ 全量重算失败: %v\n", err)
				continue
			}
			lastStats = stats
			printProcessingStats(stats)
			continue
		}

		// 普通输入：作为新段落追加
		chapter, err = chapterService.GetChapter(chapterID)
		if err != nil {
			fmt.Printf(T("read_fail")+"\n", err)
			continue
		}
		newText := chapter.Text
		if newText != "" {
			newText += "\n\n"
		}
		newText += input

		intel, stats, err := sessionService.ApplyEdit(chapterID, newText)
		if err != nil {
			fmt.Printf("❌ 处理编辑失败: %v\n", err)
			continue
		}
		lastStats = stats

		mode := "增量"
		if !stats.Incremental {
			mode = "全量"
		}
		fmt.Printf("✅ 已追加 (%s处理, %dms, 场景复用 %d/重算 %d)\n",
			mode, stats.DurationMS, stats.ScenesReused, stats.ScenesReprocessed)

		if intel.HUD != nil && len(intel.HUD.Issues) > 0 {
			issue := intel.HUD.Issues[0]
			fmt.Printf("💡 提示: [%s] %s\n", issue.Kind, issue.Message)
		}
	}
}

// 渲染手稿态势面板
func renderManuscriptHUD(chapterTitle string, intel *models.ManuscriptIntelligence, textLength int) {
	hud := intelligence.BuildHUD(intel, textLength, textLength, models.TierInstant)
	if hud == nil {
		return
	}

	var lines []string
	sceneLine := "光标不在任何场景内"
	if hud.SceneIndex >= 0 {
		sceneLine = fmt.Sprintf("场景 #%d (%s)", hud.SceneIndex+1, hud.SceneType)
		if hud.POV != "" {
			sceneLine += " · 视角: " + hud.POV
		}
		if hud.Location != "" {
			sceneLine += " · 地点: " + hud.Location
		}
	}
	lines = append(lines, sceneLine)
	lines = append(lines, fmt.Sprintf("叙事位置: %.0f%% · 节奏: %s · 张力: %.2f",
		hud.NarrativePosition*100, hud.Pacing, hud.Tension))
	lines = append(lines, fmt.Sprintf("字数: %d · 句子: %d · 段落: %d · 场景: %d · 对话占比: %.0f%%",
		hud.Stats.WordCount, hud.Stats.SentenceCount, hud.Stats.ParagraphCount,
		hud.Stats.SceneCount, hud.Stats.DialogueRatio*100))
	lines = append(lines, fmt.Sprintf("未回收伏笔: %d", hud.OpenPromiseCount))

	if len(hud.Issues) > 0 {
		lines = append(lines, "")
		lines = append(lines, "待处理问题:")
		for i, issue := range hud.Issues {
			if i >= hudMaxEntries {
				lines = append(lines, fmt.Sprintf("  ... 共 %d 条", len(hud.Issues)))
				break
			}
			lines = append(lines, fmt.Sprintf("  [%s] %s (偏移 %d)", issue.Kind, issue.Message, issue.Offset))
		}
	}

	printBox(fmt.Sprintf("📊 《%s》", chapterTitle), strings.Join(lines, "\n"))
}

// 打印单次处理统计
func printProcessingStats(stats *models.ProcessingStats) {
	fmt.Println("=== 处理统计 ===")
	if stats.Incremental {
		fmt.Println("  模式: 增量")
	} else {
		reason := stats.FullReprocessReason
		if reason == "" {
			reason = "unknown"
		}
		fmt.Printf("  模式: 全量 (原因: %s)\n", reason)
	}
	fmt.Printf("  变更区间: %d (共 %d 字符)\n", stats.ChangedRangeCount, stats.ChangedVolume)
	fmt.Printf("  场景: 复用 %d / 重算 %d\n", stats.ScenesReused, stats.ScenesReprocessed)
	fmt.Printf("  实体: 复用 %d / 更新 %d\n", stats.EntitiesReused, stats.EntitiesUpdated)
	fmt.Printf("  文体重算: %t\n", stats.StyleRecomputed)
	fmt.Printf("  耗时: %dms\n", stats.DurationMS)
}

// 5. 查看分析快照
func viewIntelligence() {
	fmt.Println("🔬 查看分析快照")
	container := di.GetContainer()
	sessionService, ok := container.Get("sessions").(*services.SessionService)
	if !ok || sessionService == nil {
		fmt.Println("❌ 会话服务未初始化")
		return
	}

	chapterID := getUserInput(T("enter_chapter_id"))
	if chapterID == "" {
		fmt.Println(T("chapter_id_empty"))
		return
	}

	intel, err := sessionService.GetIntelligence(chapterID)
	if err != nil {
		fmt.Printf("❌ 读取分析快照失败: %v\n", err)
		return
	}

	fmt.Printf("\n=== 《%s》分析快照 ===\n", intel.ChapterID)
	fmt.Printf("生成时间: %s\n", intel.CreatedAt.Format("2006-01-02 15:04:05"))
	fmt.Printf("内容指纹: %s\n", intel.ContentHash())

	if intel.Structural != nil {
		stats := intel.Structural.Stats
		fmt.Printf("\n结构: %d 场景 / %d 段落 / %d 句 / %d 字 (对话占比 %.0f%%)\n",
			stats.SceneCount, stats.ParagraphCount, stats.SentenceCount, stats.WordCount, stats.DialogueRatio*100)
		for i, scene := range intel.Structural.Scenes {
			if i >= hudMaxEntries {
				fmt.Printf("  ... 共 %d 个场景\n", len(intel.Structural.Scenes))
				break
			}
			fmt.Printf("  %d) [%s] 张力 %.2f, %d 字", i+1, scene.Type, scene.Tension, scene.WordCount)
			if scene.POV != "" {
				fmt.Printf(", 视角 %s", scene.POV)
			}
			if scene.Location != "" {
				fmt.Printf(", 地点 %s", scene.Location)
			}
			fmt.Println()
		}
	}

	if intel.Entities != nil {
		fmt.Printf("\n实体图: %d 节点 / %d 关系边\n", len(intel.Entities.Nodes), len(intel.Entities.Edges))
		for i, node := range intel.Entities.Nodes {
			if i >= hudMaxEntries {
				fmt.Printf("  ... 共 %d 个实体\n", len(intel.Entities.Nodes))
				break
			}
			fmt.Printf("  - %s (%s) 提及 %d 次\n", node.Name, node.Type, len(node.Mentions))
		}
	}

	if intel.Style != nil {
		m := intel.Style.Metrics
		fmt.Printf("\n文体: 词汇丰富度 %.2f · 平均句长 %.1f · 句长方差 %.1f · 副词占比 %.0f%%\n",
			m.VocabularyRichness, m.AvgSentenceLength, m.SentenceVariance, m.AdverbRatio*100)
		for _, flag := range intel.Style.Flags {
			fmt.Printf("  ⚠️  [%s] 严重度 %.2f, %d 处\n", flag.Type, flag.Severity, len(flag.Instances))
		}
	}

	if intel.Voice != nil {
		fmt.Printf("\n声纹: %d 个说话人\n", len(intel.Voice.Profiles))
		for _, profile := range intel.Voice.Profiles {
			fmt.Printf("  - %s: %s\n", profile.Speaker, profile.Impression)
		}
		for _, alert := range intel.Voice.Alerts {
			fmt.Printf("  ⚠️  %s: %s (偏移 %d)\n", alert.Speaker, alert.Message, alert.Offset)
		}
	}

	if intel.Heatmap != nil && len(intel.Heatmap.Hotspots) > 0 {
		fmt.Printf("\n风险热点 (%d个):\n", len(intel.Heatmap.Hotspots))
		for i, hotspot := range intel.Heatmap.Hotspots {
			if i >= hudMaxEntries {
				break
			}
			fmt.Printf("  - [%d-%d] 风险 %.2f: %s\n", hotspot.Start, hotspot.End, hotspot.Risk, hotspot.Summary)
		}
	}
}

// 6. 组装提示词上下文
func buildPromptContext() {
	fmt.Println("🧩 组装提示词上下文")
	container := di.GetContainer()
	contextService, ok := container.Get("contexts").(*services.ContextService)
	if !ok || contextService == nil {
		fmt.Println("❌ 上下文服务未初始化")
		return
	}

	chapterID := getUserInput(T("enter_chapter_id"))
	if chapterID == "" {
		fmt.Println(T("chapter_id_empty"))
		return
	}

	cursorStr := getUserInputWithDefault("光标位置 (字符偏移)", "0")
	cursor := 0
	fmt.Sscanf(cursorStr, "%d", &cursor)

	budgetStr := getUserInputWithDefault("预算 (字符数)", "2000")
	budget := 0
	fmt.Sscanf(budgetStr, "%d", &budget)

	promptContext, err := contextService.BuildContext(chapterID, cursor, budget)
	if err != nil {
		fmt.Printf("❌ 组装上下文失败: %v\n", err)
		return
	}

	fmt.Printf("\n=== 上下文 (光标 %d) ===\n", promptContext.Cursor)
	if promptContext.Scene != nil {
		fmt.Printf("场景: #%d (%s)", promptContext.Scene.Index+1, promptContext.Scene.Type)
		if promptContext.Scene.POV != "" {
			fmt.Printf(", 视角 %s", promptContext.Scene.POV)
		}
		if promptContext.Scene.Location != "" {
			fmt.Printf(", 地点 %s", promptContext.Scene.Location)
		}
		fmt.Printf(", 张力 %.2f\n", promptContext.Scene.Tension)
	}
	if promptContext.Pacing != "" {
		fmt.Printf("节奏: %s\n", promptContext.Pacing)
	}
	if promptContext.Excerpt != "" {
		fmt.Printf("原文片段: %s\n", truncateForCLI(promptContext.Excerpt, 200))
	}

	if len(promptContext.Entities) > 0 {
		fmt.Printf("\n激活实体 (%d个):\n", len(promptContext.Entities))
		for _, entity := range promptContext.Entities {
			fmt.Printf("  - %s (%s) 距光标 %d 字符", entity.Node.Name, entity.Node.Type, entity.Distance)
			if len(entity.Relationships) > 0 {
				fmt.Printf(", %d 条关系", len(entity.Relationships))
			}
			fmt.Println()
		}
	}

	if len(promptContext.OpenPromises) > 0 {
		fmt.Printf("\n未回收伏笔 (%d个):\n", len(promptContext.OpenPromises))
		for _, promise := range promptContext.OpenPromises {
			fmt.Printf("  - (%s) %s\n", promise.Type, truncateForCLI(promise.Quote, 60))
		}
	}

	if len(promptContext.RecentEvents) > 0 {
		fmt.Printf("\n此前事件 (%d个):\n", len(promptContext.RecentEvents))
		for _, event := range promptContext.RecentEvents {
			fmt.Printf("  - %s\n", truncateForCLI(event.Description, 60))
		}
	}

	if promptContext.Voice != nil {
		fmt.Printf("\n当前视角声纹: %s — %s\n", promptContext.Voice.Speaker, promptContext.Voice.Impression)
	}
}

// 7. 查看时间线
func viewTimeline() {
	fmt.Println("🕰️  查看时间线")
	container := di.GetContainer()
	sessionService, _ := container.Get("sessions").(*services.SessionService)
	contextService, _ := container.Get("contexts").(*services.ContextService)
	if sessionService == nil || contextService == nil {
		fmt.Println("❌ 时间线相关服务未初始化")
		return
	}

	chapterID := getUserInput(T("enter_chapter_id"))
	if chapterID == "" {
		fmt.Println(T("chapter_id_empty"))
		return
	}

	intel, err := sessionService.GetIntelligence(chapterID)
	if err != nil {
		fmt.Printf("❌ 读取分析快照失败: %v\n", err)
		return
	}
	if intel.Timeline == nil {
		fmt.Println("该章节暂无时间线信息")
		return
	}

	timeline := intel.Timeline
	fmt.Printf("\n事件 (%d个):\n", len(timeline.Events))
	for i, event := range timeline.Events {
		marker := event.TemporalMarker
		if marker == "" {
			marker = "-"
		}
		fmt.Printf("  %d) [%s] %s (偏移 %d)\n", i+1, marker, truncateForCLI(event.Description, 50), event.Offset)
	}

	if len(timeline.Causal) > 0 {
		fmt.Printf("\n因果链 (%d条):\n", len(timeline.Causal))
		for _, link := range timeline.Causal {
			fmt.Printf("  %s → %s (置信度 %.2f, 连接词 '%s')\n",
				link.CauseID, link.EffectID, link.Confidence, link.Connective)
		}
	}

	open := timeline.OpenPromises()
	fmt.Printf("\n伏笔: 共 %d 个，未回收 %d 个\n", len(timeline.Promises), len(open))
	for _, promise := range open {
		fmt.Printf("  - (%s) %s (偏移 %d)\n", promise.Type, truncateForCLI(promise.Quote, 60), promise.Offset)
	}

	// 自然语言时间线摘要，供外部AI消费
	offsetStr := getUserInputWithDefault("生成指定偏移前的时间线摘要? 输入偏移 (回车跳过)", "")
	if offsetStr != "" {
		offset := 0
		if _, err := fmt.Sscanf(offsetStr, "%d", &offset); err != nil {
			fmt.Println("❌ 无效的偏移")
			return
		}
		summary, err := contextService.TimelineContextNear(chapterID, offset)
		if err != nil {
			fmt.Printf("❌ 生成摘要失败: %v\n", err)
			return
		}
		printBox("🕰️ 时间线摘要", summary)
	}
}

// 8. 管理修订
func manageRevisions() {
	fmt.Println("🗂️  管理修订")
	container := di.GetContainer()
	chapterService, _ := container.Get("chapters").(*services.ChapterService)
	sessionService, _ := container.Get("sessions").(*services.SessionService)
	if chapterService == nil || sessionService == nil {
		fmt.Println("❌ 修订相关服务未初始化")
		return
	}

	chapterID := getUserInput(T("enter_chapter_id"))
	if chapterID == "" {
		fmt.Println(T("chapter_id_empty"))
		return
	}

	revisions, err := chapterService.ListRevisions(chapterID)
	if err != nil {
		fmt.Printf("❌ 读取修订列表失败: %v\n", err)
		return
	}

	fmt.Printf("\n章节 '%s' 共有 %d 个修订:\n", chapterID, len(revisions))
	for i, revision := range revisions {
		fmt.Printf("  %d) %s (%s, %d 字节)\n", i+1, revision.Name,
			revision.SavedAt.Format("2006-01-02 15:04:05"), revision.SizeBytes)
	}
	if len(revisions) == 0 {
		fmt.Println("  (暂无修订)")
		return
	}

	fmt.Println("\n修订操作:")
	fmt.Println("  v) 查看修订内容")
	fmt.Println("  r) 恢复到指定修订")
	fmt.Println("  b) 返回主菜单")

	choice := getUserInput("请选择操作: ")

	switch strings.ToLower(choice) {
	case "v", "r":
		numStr := getUserInput("输入修订编号: ")
		if numStr == "" {
			return
		}

		index := 0
		if _, err := fmt.Sscanf(numStr, "%d", &index); err != nil {
			fmt.Println("❌ 无效的修订编号")
			return
		}
		index-- // 转换为0基索引

		if index < 0 || index >= len(revisions) {
			fmt.Println("❌ 修订编号超出范围")
			return
		}

		revision := revisions[index]
		text, err := chapterService.LoadRevision(chapterID, revision.Name)
		if err != nil {
			fmt.Printf("❌ 读取修订失败: %v\n", err)
			return
		}

		if strings.ToLower(choice) == "v" {
			fmt.Printf("\n=== 修订 %s ===\n", revision.Name)
			fmt.Println(truncateForCLI(text, 500))
			return
		}

		confirm := getUserInput(fmt.Sprintf("确认恢复到修订 '%s'？当前正文会先存档 (y/N): ", revision.Name))
		if strings.ToLower(confirm) != "y" && strings.ToLower(confirm) != "yes" {
			fmt.Println("❌ 恢复操作已取消")
			return
		}

		// 经写作会话恢复，顺带触发重新分析
		_, stats, err := sessionService.ApplyEdit(chapterID, text)
		if err != nil {
			fmt.Printf("❌ 恢复修订失败: %v\n", err)
			return
		}
		fmt.Printf("✅ 已恢复到修订 '%s' (%dms)\n", revision.Name, stats.DurationMS)
	case "b":
		fmt.Println("🔙 返回主菜单")
		return
	}
}

// 9. 查看累计处理统计
func viewProcessingStats() {
	fmt.Println("📈 累计处理统计")
	container := di.GetContainer()
	statsService, ok := container.Get("stats").(*services.StatsService)
	if !ok || statsService == nil {
		fmt.Println("❌ 统计服务未初始化")
		return
	}

	stats := statsService.GetStats()
	fmt.Printf("  总处理次数: %d\n", stats.TotalRuns)
	fmt.Printf("  增量处理: %d (占比 %.0f%%)\n", stats.IncrementalRuns, statsService.IncrementalRatio()*100)
	fmt.Printf("  全量重建: %d\n", stats.FullRuns)
	if len(stats.FullReasons) > 0 {
		fmt.Println("  全量重建原因分布:")
		for reason, count := range stats.FullReasons {
			fmt.Printf("    - %s: %d\n", reason, count)
		}
	}
	fmt.Printf("  场景: 复用 %d / 重算 %d\n", stats.ScenesReused, stats.ScenesReprocessed)
	fmt.Printf("  实体: 复用 %d / 更新 %d\n", stats.EntitiesReused, stats.EntitiesUpdated)
	fmt.Printf("  累计耗时: %dms\n", stats.TotalDurationMS)
	if !stats.LastProcessedAt.IsZero() {
		fmt.Printf("  最近处理: %s\n", stats.LastProcessedAt.Format("2006-01-02 15:04:05"))
	}
}

// 10. 配置增量处理策略
func configureProcessing() {
	fmt.Println("⚙️  配置增量处理策略")
	fmt.Println()

	cfg := config.GetCurrentConfig()
	if cfg == nil {
		fmt.Println("❌ 配置未加载")
		return
	}

	processing := cfg.Processing
	fmt.Println("当前策略:")
	fmt.Printf("  最大变更区间数: %d\n", processing.MaxChangedRanges)
	fmt.Printf("  整体重写占比阈值: %.2f\n", processing.FullRewriteRatio)
	fmt.Printf("  文体重算字符阈值: %d\n", processing.StyleRecomputeChars)
	fmt.Printf("  结构重建字符阈值: %d\n", processing.StructuralRebuildChars)
	fmt.Printf("  防抖窗口: %dms\n", processing.DebounceMS)
	fmt.Println()

	maxRangesStr := getUserInputWithDefault("最大变更区间数", fmt.Sprintf("%d", processing.MaxChangedRanges))
	fmt.Sscanf(maxRangesStr, "%d", &processing.MaxChangedRanges)

	ratioStr := getUserInputWithDefault("整体重写占比阈值 (0-1)", fmt.Sprintf("%.2f", processing.FullRewriteRatio))
	fmt.Sscanf(ratioStr, "%f", &processing.FullRewriteRatio)

	styleStr := getUserInputWithDefault("文体重算字符阈值", fmt.Sprintf("%d", processing.StyleRecomputeChars))
	fmt.Sscanf(styleStr, "%d", &processing.StyleRecomputeChars)

	structStr := getUserInputWithDefault("结构重建字符阈值", fmt.Sprintf("%d", processing.StructuralRebuildChars))
	fmt.Sscanf(structStr, "%d", &processing.StructuralRebuildChars)

	debounceStr := getUserInputWithDefault("防抖窗口 (ms)", fmt.Sprintf("%d", processing.DebounceMS))
	fmt.Sscanf(debounceStr, "%d", &processing.DebounceMS)

	fmt.Println()
	fmt.Println("正在保存配置...")
	if err := config.UpdateProcessingConfig(processing); err != nil {
		fmt.Printf("❌ 保存配置失败: %v\n", err)
		return
	}

	// 让运行中的会话立即采用新策略
	container := di.GetContainer()
	if sessionService, ok := container.Get("sessions").(*services.SessionService); ok && sessionService != nil {
		thresholds := intelligence.DefaultThresholds()
		if processing.MaxChangedRanges > 0 {
			thresholds.MaxChangedRanges = processing.MaxChangedRanges
		}
		if processing.FullRewriteRatio > 0 {
			thresholds.FullRewriteRatio = processing.FullRewriteRatio
		}
		if processing.StyleRecomputeChars > 0 {
			thresholds.StyleRecomputeChars = processing.StyleRecomputeChars
		}
		if processing.StructuralRebuildChars > 0 {
			thresholds.StructuralRebuildChars = processing.StructuralRebuildChars
		}
		sessionService.UpdateThresholds(thresholds)
		if processing.DebounceMS > 0 {
			sessionService.SetDebounceWindow(time.Duration(processing.DebounceMS) * time.Millisecond)
		}
		fmt.Println("🔄 会话服务已应用新策略")
	}

	fmt.Println()
	fmt.Println("✅ 处理策略配置成功！")
}

// 查看当前配置
func viewConfig() {
	fmt.Println("⚙️  当前配置信息:")
	cfg := config.GetCurrentConfig()
	if cfg == nil {
		fmt.Println("  配置未初始化")
		return
	}

	fmt.Printf("  端口: %s\n", cfg.Port)
	fmt.Printf("  数据目录: %s\n", cfg.DataDir)
	fmt.Printf("  静态文件目录: %s\n", cfg.StaticDir)
	fmt.Printf("  日志目录: %s\n", cfg.LogDir)
	fmt.Printf("  调试模式: %t\n", cfg.DebugMode)
	fmt.Printf("  数据库路径: %s\n", cfg.DBPath)
	fmt.Printf("  修订保留数: %d\n", cfg.RevisionLimit)
	fmt.Printf("  快照缓存容量: %d\n", cfg.SnapshotCacheSize)
	fmt.Println("  增量处理策略:")
	fmt.Printf("    max_changed_ranges: %d\n", cfg.Processing.MaxChangedRanges)
	fmt.Printf("    full_rewrite_ratio: %.2f\n", cfg.Processing.FullRewriteRatio)
	fmt.Printf("    style_recompute_chars: %d\n", cfg.Processing.StyleRecomputeChars)
	fmt.Printf("    structural_rebuild_chars: %d\n", cfg.Processing.StructuralRebuildChars)
	fmt.Printf("    debounce_ms: %d\n", cfg.Processing.DebounceMS)
}

// 11. 显示当前服务状态
func displayServiceStatus() {
	fmt.Println("📊 当前服务状态:")
	fmt.Println()

	// 显示配置信息
	cfg := config.GetCurrentConfig()
	if cfg != nil {
		fmt.Println("系统配置:")
		fmt.Printf("  服务端口: %s\n", cfg.Port)
		fmt.Printf("  数据目录: %s\n", cfg.DataDir)
		fmt.Printf("  日志目录: %s\n", cfg.LogDir)
		fmt.Printf("  调试模式: %t\n", cfg.DebugMode)
		fmt.Println()

		fmt.Println("增量处理策略:")
		fmt.Printf("  整体重写占比阈值: %.2f\n", cfg.Processing.FullRewriteRatio)
		fmt.Printf("  最大变更区间数: %d\n", cfg.Processing.MaxChangedRanges)
		fmt.Printf("  防抖窗口: %dms\n", cfg.Processing.DebounceMS)
	} else {
		fmt.Println("配置: 未初始化")
	}

	fmt.Println()

	// 检查依赖注入容器中注册的服务
	container := di.GetContainer()
	if container != nil {
		serviceNames := container.GetNames()
		fmt.Printf("已注册服务数量: %d\n", len(serviceNames))

		// 处理统计摘要
		if statsService, ok := container.Get("stats").(*services.StatsService); ok && statsService != nil {
			stats := statsService.GetStats()
			fmt.Println()
			fmt.Println("处理统计:")
			fmt.Printf("  总处理次数: %d\n", stats.TotalRuns)
			fmt.Printf("  增量占比: %.0f%%\n", statsService.IncrementalRatio()*100)
		}

		if len(serviceNames) > 0 {
			fmt.Println()
			fmt.Println("已注册的服务:")
			for _, name := range serviceNames {
				fmt.Printf("  - %s\n", name)
			}
		}
	} else {
		fmt.Println("依赖注入容器: 未初始化")
	}
}

// 12. 列出所有服务
func listServices() {
	fmt.Println("📦 已注册的服务:")
	container := di.GetContainer()
	if container == nil {
		fmt.Println("  依赖注入容器未初始化")
		return
	}

	serviceNames := container.GetNames()
	if len(serviceNames) == 0 {
		fmt.Println("  暂无注册的服务")
		return
	}

	for _, name := range serviceNames {
		service := container.Get(name)
		if service != nil {
			fmt.Printf("  - %s (%T)\n", name, service)
		} else {
			fmt.Printf("  - %s (nil)\n", name)
		}
	}
}

// ---- 多语言 ----

var currentLanguage = "zh"

var translations = map[string]map[string]string{
	"zh": {
		"menu_title":       "📋 主菜单",
		"menu_projects":    "1) 管理项目 (projects)",
		"menu_chapters":    "2) 管理章节 (chapters)",
		"menu_write":       "3) 写作会话 (write)",
		"menu_intel":       "4) 查看分析快照 (intel)",
		"menu_context":     "5) 组装提示词上下文 (context)",
		"menu_timeline":    "6) 查看时间线 (timeline)",
		"menu_revisions":   "7) 管理修订 (revisions)",
		"menu_stats":       "8) 累计处理统计 (stats)",
		"menu_processing":  "9) 配置增量处理策略 (processing)",
		"menu_config":      "10) 查看配置 (config)",
		"menu_status":      "11) 服务状态 (status)",
		"menu_services":    "12) 服务列表 (services)",
		"menu_exit":        "0) 退出 (quit)",
		"input_prompt":     "请输入选项: ",
		"goodbye":          "👋 再见！",
		"invalid_choice":   "❌ 无效的选择，请重试",
		"enter_project_id": "请输入项目ID: ",
		"project_id_empty": "❌ 项目ID不能为空",
		"enter_chapter_id": "请输入章节ID: ",
		"chapter_id_empty": "❌ 章节ID不能为空",
		"read_fail":        "❌ 读取失败: %v",
		"update_success":   "✅ 更新成功！",
	},
	"en": {
		"menu_title":       "📋 Main Menu",
		"menu_projects":    "1) Manage Projects (projects)",
		"menu_chapters":    "2) Manage Chapters (chapters)",
		"menu_write":       "3) Writing Session (write)",
		"menu_intel":       "4) View Intelligence (intel)",
		"menu_context":     "5) Build Prompt Context (context)",
		"menu_timeline":    "6) View Timeline (timeline)",
		"menu_revisions":   "7) Manage Revisions (revisions)",
		"menu_stats":       "8) Processing Stats (stats)",
		"menu_processing":  "9) Configure Processing (processing)",
		"menu_config":      "10) View Config (config)",
		"menu_status":      "11) Service Status (status)",
		"menu_services":    "12) List Services (services)",
		"menu_exit":        "0) Quit (quit)",
		"input_prompt":     "Enter choice: ",
		"goodbye":          "👋 Goodbye!",
		"invalid_choice":   "❌ Invalid choice, please retry",
		"enter_project_id": "Enter project ID: ",
		"project_id_empty": "❌ Project ID cannot be empty",
		"enter_chapter_id": "Enter chapter ID: ",
		"chapter_id_empty": "❌ Chapter ID cannot be empty",
		"read_fail":        "❌ Read failed: %v",
		"update_success":   "✅ Updated successfully!",
	},
}

func T(key string, args ...interface{}) string {
	langMap, ok := translations[currentLanguage]
	if !ok {
		langMap = translations["zh"]
	}
	val, ok := langMap[key]
	if !ok {
		return key
	}
	if len(args) > 0 {
		return fmt.Sprintf(val, args...)
	}
	return val
}

func selectLanguage() {
	fmt.Println("Select Language / 选择语言:")
	fmt.Println("  1) English")
	fmt.Println("  2) 中文 (Chinese)")
	choice := getUserInput("Choice/选择 [2]: ")
	if choice == "1" {
		currentLanguage = "en"
	} else {
		currentLanguage = "zh"
	}
	fmt.Printf("Language set to %s\n\n", currentLanguage)
}

// ---- 终端渲染 ----

const (
	cliBoxMaxWidth = 90
	hudMaxEntries  = 5
)

func printBox(title, content string) {
	wrappedLines := wrapContentForBox(content, cliBoxMaxWidth)
	maxWidth := utf8.RuneCountInString(title)
	for _, line := range wrappedLines {
		if w := utf8.RuneCountInString(line); w > maxWidth {
			maxWidth = w
		}
	}
	if maxWidth < 0 {
		maxWidth = 0
	}
	border := strings.Repeat("─", maxWidth+2)
	fmt.Println("┌" + border + "┐")
	if title != "" {
		fmt.Printf("│ %s │\n", padRight(title, maxWidth))
		fmt.Println("├" + border + "┤")
	}
	if len(wrappedLines) == 0 {
		wrappedLines = []string{""}
	}
	for _, line := range wrappedLines {
		fmt.Printf("│ %s │\n", padRight(line, maxWidth))
	}
	fmt.Println("└" + border + "┘")
}

func wrapContentForBox(content string, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{content}
	}
	var result []string
	for _, rawLine := range strings.Split(content, "\n") {
		line := strings.TrimRight(rawLine, " ")
		runes := []rune(line)
		for len(runes) > maxWidth {
			result = append(result, string(runes[:maxWidth]))
			runes = runes[maxWidth:]
		}
		result = append(result, string(runes))
	}
	return result
}

func padRight(text string, width int) string {
	current := utf8.RuneCountInString(text)
	if current >= width {
		return text
	}
	return text + strings.Repeat(" ", width-current)
}

func truncateForCLI(text string, limit int) string {
	text = strings.TrimSpace(text)
	runes := []rune(text)
	if len(runes) <= limit {
		return text
	}
	return string(runes[:limit]) + "..."
}
