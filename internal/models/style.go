// internal/models/style.go
package models

// StyleFlagType 文体风险标记的类别
type StyleFlagType string

const (
	FlagPassiveVoice   StyleFlagType = "passive_voice"
	FlagAdverbDensity  StyleFlagType = "adverb_density"
	FlagFilterWord     StyleFlagType = "filter_word"
	FlagCliche         StyleFlagType = "cliche"
	FlagRepeatedPhrase StyleFlagType = "repeated_phrase"
)

// FlagInstance 标记的单个实例及其位置
type FlagInstance struct {
	TextRange
	Text string `json:"text"`
}

// StyleFlag 某类文体问题及其全部实例
type StyleFlag struct {
	Type      StyleFlagType  `json:"type"`
	Severity  float64        `json:"severity"` // 0.0-1.0
	Instances []FlagInstance `json:"instances"`
}

// StyleMetrics 词汇/句法/节奏度量
type StyleMetrics struct {
	VocabularyRichness float64 `json:"vocabulary_richness"` // type-token ratio
	AvgSentenceLength  float64 `json:"avg_sentence_length"` // 单位：词
	AvgWordLength      float64 `json:"avg_word_length"`
	SentenceVariance   float64 `json:"sentence_variance"` // 句长方差，节奏指标
	AdverbRatio        float64 `json:"adverb_ratio"`
	DialogueRatio      float64 `json:"dialogue_ratio"`
}

// StyleAnalysis 全文文体分析结果
type StyleAnalysis struct {
	Metrics StyleMetrics `json:"metrics"`
	Flags   []StyleFlag  `json:"flags"`
}

// VoiceProfile 单个说话人的语言指纹
type VoiceProfile struct {
	Speaker        string       `json:"speaker"`
	Metrics        StyleMetrics `json:"metrics"`
	SignatureWords []string     `json:"signature_words,omitempty"`
	Impression     string       `json:"impression,omitempty"` // 自然语言印象描述
}

// VoiceAlert 说话人语言风格前后不一致的告警
type VoiceAlert struct {
	Speaker string `json:"speaker"`
	Message string `json:"message"`
	Offset  int    `json:"offset"`
}

// VoiceAnalysis 全部说话人的声纹分析
type VoiceAnalysis struct {
	Profiles []VoiceProfile `json:"profiles"`
	Alerts   []VoiceAlert   `json:"alerts,omitempty"`
}

// HeatmapSection 热力图中的一个文本区段
type HeatmapSection struct {
	TextRange
	Risk    float64  `json:"risk"` // 0.0-1.0
	Reasons []string `json:"reasons,omitempty"`
}

// Hotspot 高风险热点
type Hotspot struct {
	TextRange
	Risk    float64 `json:"risk"`
	Summary string  `json:"summary"`
}

// Heatmap 全文风险热力图
type Heatmap struct {
	Sections []HeatmapSection `json:"sections"`
	Hotspots []Hotspot        `json:"hotspots,omitempty"`
}
