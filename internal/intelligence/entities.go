// internal/intelligence/entities.go
package intelligence

import (
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/inkmind/ManuscriptMind/internal/models"
)

// EntityExtractor 从文本中抽取命名实体及其关系边
// 无状态纯函数；抽取质量可插拔，编排层只依赖图的一致性约束
type EntityExtractor interface {
	Extract(text string) (*models.EntityGraph, error)
}

// HeuristicEntityExtractor 基于大写名词和句内共现的默认实体抽取器
type HeuristicEntityExtractor struct{}

// NewEntityExtractor 创建默认实体抽取器
func NewEntityExtractor() *HeuristicEntityExtractor {
	return &HeuristicEntityExtractor{}
}

var (
	properNameRe = regexp.MustCompile(`\b[A-Z][a-z]+(?:\s[A-Z][a-z]+){0,2}\b`)

	// 句首常见词，单独出现时不视为实体候选
	nameStopwords = map[string]bool{
		"The": true, "A": true, "An": true, "But": true, "And": true, "Then": true,
		"He": true, "She": true, "They": true, "It": true, "His": true, "Her": true,
		"When": true, "While": true, "After": true, "Before": true, "If": true,
		"In": true, "On": true, "At": true, "As": true, "By": true, "For": true,
		"There": true, "This": true, "That": true, "Now": true, "So": true,
		"No": true, "Yes": true, "What": true, "Why": true, "How": true, "Where": true,
		"Meanwhile": true, "Suddenly": true, "Finally": true, "Perhaps": true,
		"Once": true, "Chapter": true, "I": true, "You": true, "We": true, "My": true,
	}

	factionCueRe  = regexp.MustCompile(`\b(Guild|Order|House|Clan|Army|Council|Brotherhood|Company|Legion)\b`)
	locationCueRe = regexp.MustCompile(`\b(?:at|in|to|from|near|inside|toward|towards)\s+(?:the\s+)?$`)
	objectCues    = []string{"sword", "ring", "amulet", "blade", "map", "letter", "key", "book", "crown", "stone", "pendant", "dagger"}

	positiveWords = []string{"smiled", "laughed", "loved", "trusted", "embraced", "thanked", "helped", "warm", "gentle", "kind", "friend"}
	negativeWords = []string{"glared", "hated", "feared", "betrayed", "attacked", "threatened", "cursed", "cold", "cruel", "enemy", "fought", "killed"}
)

// Extract 抽取实体图
// 节点ID由类型和规范名确定性派生，同一文本多次抽取产出相同ID，
// 增量合并依赖这一点跨运行匹配节点
func (e *HeuristicEntityExtractor) Extract(text string) (*models.EntityGraph, error) {
	graph := &models.EntityGraph{
		Nodes: []models.EntityNode{},
		Edges: []models.EntityEdge{},
	}
	if strings.TrimSpace(text) == "" {
		return graph, nil
	}

	candidates := collectCandidates(text)
	nodes := buildNodes(text, candidates)
	graph.Nodes = nodes
	graph.Edges = buildEdges(text, nodes)
	return graph, nil
}

// candidate 名称候选及其全部出现位置
type candidate struct {
	name     string
	mentions []int
	midCount int // 非句首出现次数
}

// collectCandidates 扫描大写开头的专有名词序列
// 只在句首出现且从未在句中出现的词大概率是普通句首词，丢弃
func collectCandidates(text string) []*candidate {
	byName := make(map[string]*candidate)
	for _, loc := range properNameRe.FindAllStringIndex(text, -1) {
		name := text[loc[0]:loc[1]]
		if nameStopwords[name] {
			continue
		}
		// 去掉首词是句首停用词的多词序列（"The Aria" 之类不会出现，但 "Then Aria" 会）
		if parts := strings.SplitN(name, " ", 2); len(parts) == 2 && nameStopwords[parts[0]] {
			name = parts[1]
			loc[0] += len(parts[0]) + 1
		}
		c, ok := byName[name]
		if !ok {
			c = &candidate{name: name}
			byName[name] = c
		}
		c.mentions = append(c.mentions, loc[0])
		if !atSentenceStart(text, loc[0]) {
			c.midCount++
		}
	}

	var out []*candidate
	for _, c := range byName {
		if c.midCount == 0 && len(c.mentions) < 3 {
			continue
		}
		out = append(out, c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}

func atSentenceStart(text string, offset int) bool {
	for i := offset - 1; i >= 0; i-- {
		ch := text[i]
		if ch == ' ' || ch == '\t' {
			continue
		}
		return ch == '.' || ch == '!' || ch == '?' || ch == '\n' || ch == '"' || ch == '\r'
	}
	return true
}

// buildNodes 将候选合并为节点：多词名与其姓/名单词形式合并为别名
func buildNodes(text string, candidates []*candidate) []models.EntityNode {
	// 先放多词名，后续单词名尝试并入
	var multi, single []*candidate
	for _, c := range candidates {
		if strings.Contains(c.name, " ") {
			multi = append(multi, c)
		} else {
			single = append(single, c)
		}
	}

	var nodes []models.EntityNode
	absorbed := make(map[string]bool)
	for _, m := range multi {
		node := newNode(text, m)
		parts := strings.Fields(m.name)
		for _, s := range single {
			if absorbed[s.name] {
				continue
			}
			if s.name == parts[0] || s.name == parts[len(parts)-1] {
				node.Aliases = append(node.Aliases, s.name)
				node.Mentions = append(node.Mentions, s.mentions...)
				absorbed[s.name] = true
			}
		}
		sort.Ints(node.Mentions)
		nodes = append(nodes, node)
	}
	for _, s := range single {
		if absorbed[s.name] {
			continue
		}
		nodes = append(nodes, newNode(text, s))
	}

	sort.Slice(nodes, func(i, j int) bool { return nodes[i].ID < nodes[j].ID })
	return nodes
}

func newNode(text string, c *candidate) models.EntityNode {
	typ := classifyEntity(text, c)
	return models.EntityNode{
		ID:       NodeID(typ, c.name),
		Name:     c.name,
		Type:     typ,
		Mentions: append([]int(nil), c.mentions...),
	}
}

// NodeID 由类型和规范名派生确定性节点ID
func NodeID(typ models.EntityType, name string) string {
	slug := strings.ToLower(strings.ReplaceAll(name, " ", "-"))
	return fmt.Sprintf("%s:%s", typ, slug)
}

// classifyEntity 按上下文线索给实体分类，默认角色
func classifyEntity(text string, c *candidate) models.EntityType {
	if factionCueRe.MatchString(c.name) {
		return models.EntityFaction
	}
	lowerName := strings.ToLower(c.name)
	for _, cue := range objectCues {
		if strings.Contains(lowerName, cue) {
			return models.EntityObject
		}
	}
	// 统计有多少次出现由地点介词引导
	locHits := 0
	for _, off := range c.mentions {
		from := off - 24
		if from < 0 {
			from = 0
		}
		if locationCueRe.MatchString(text[from:off]) {
			locHits++
		}
	}
	if locHits*2 > len(c.mentions) {
		return models.EntityLocation
	}
	return models.EntityCharacter
}

// buildEdges 按句内共现构造关系边，附证据引文和情感分
func buildEdges(text string, nodes []models.EntityNode) []models.EntityEdge {
	if len(nodes) < 2 {
		return nil
	}
	sentences := splitSentences(text)

	type pairKey struct{ a, b string }
	type pairAgg struct {
		count    int
		sentSum  float64
		sentN    int
		evidence []string
	}
	pairs := make(map[pairKey]*pairAgg)

	for _, sent := range sentences {
		var present []string
		for i := range nodes {
			if nodeMentionedIn(&nodes[i], sent.Start, sent.End) {
				present = append(present, nodes[i].ID)
			}
		}
		if len(present) < 2 {
			continue
		}
		quote := trimEvidence(text[sent.Start:sent.End])
		score := sentimentScore(text[sent.Start:sent.End])
		for i := 0; i < len(present); i++ {
			for j := i + 1; j < len(present); j++ {
				k := pairKey{a: present[i], b: present[j]}
				if k.a > k.b {
					k.a, k.b = k.b, k.a
				}
				agg, ok := pairs[k]
				if !ok {
					agg = &pairAgg{}
					pairs[k] = agg
				}
				agg.count++
				agg.sentSum += score
				agg.sentN++
				if len(agg.evidence) < 5 {
					agg.evidence = append(agg.evidence, quote)
				}
			}
		}
	}

	var edges []models.EntityEdge
	for k, agg := range pairs {
		sentiment := 0.0
		if agg.sentN > 0 {
			sentiment = agg.sentSum / float64(agg.sentN)
		}
		edges = append(edges, models.EntityEdge{
			Source:       k.a,
			Target:       k.b,
			Relationship: relationshipLabel(agg.evidence, sentiment),
			CoOccurrence: agg.count,
			Sentiment:    sentiment,
			Evidence:     agg.evidence,
		})
	}
	sort.Slice(edges, func(i, j int) bool {
		if edges[i].Source != edges[j].Source {
			return edges[i].Source < edges[j].Source
		}
		return edges[i].Target < edges[j].Target
	})
	return edges
}

func nodeMentionedIn(node *models.EntityNode, start, end int) bool {
	for _, m := range node.Mentions {
		if m >= start && m < end {
			return true
		}
	}
	return false
}

type sentenceSpan struct{ Start, End int }

func splitSentences(text string) []sentenceSpan {
	var spans []sentenceSpan
	start := 0
	for _, loc := range sentenceEndRe.FindAllStringIndex(text, -1) {
		spans = append(spans, sentenceSpan{Start: start, End: loc[1]})
		start = loc[1]
	}
	if start < len(text) {
		spans = append(spans, sentenceSpan{Start: start, End: len(text)})
	}
	return spans
}

func trimEvidence(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 160 {
		s = s[:160]
	}
	return s
}

// sentimentScore 简易词典打分，归一到 [-1, 1]
func sentimentScore(s string) float64 {
	lower := strings.ToLower(s)
	score := 0
	for _, w := range positiveWords {
		score += strings.Count(lower, w)
	}
	for _, w := range negativeWords {
		score -= strings.Count(lower, w)
	}
	if score > 3 {
		score = 3
	}
	if score < -3 {
		score = -3
	}
	return float64(score) / 3.0
}

func relationshipLabel(evidence []string, sentiment float64) string {
	joined := strings.ToLower(strings.Join(evidence, " "))
	switch {
	case strings.Contains(joined, "love") || strings.Contains(joined, "kiss"):
		return "romantic"
	case strings.Contains(joined, "fought") || strings.Contains(joined, "enemy") || strings.Contains(joined, "betray"):
		return "antagonist"
	case sentiment > 0.3:
		return "ally"
	case sentiment < -0.3:
		return "rival"
	default:
		return "associated"
	}
}
