// internal/models/entity.go
package models

// EntityType 表示故事实体的类别
type EntityType string

const (
	EntityCharacter EntityType = "character"
	EntityLocation  EntityType = "location"
	EntityObject    EntityType = "object"
	EntityFaction   EntityType = "faction"
)

// EntityNode 实体图中的节点
type EntityNode struct {
	ID         string              `json:"id"`
	Name       string              `json:"name"`
	Type       EntityType          `json:"type"`
	Aliases    []string            `json:"aliases,omitempty"`
	Mentions   []int               `json:"mentions"` // 提及位置的字符偏移
	Attributes map[string][]string `json:"attributes,omitempty"`
}

// EntityEdge 实体之间的关系边
type EntityEdge struct {
	Source       string   `json:"source"` // 节点ID，必须存在于 Nodes 中
	Target       string   `json:"target"`
	Relationship string   `json:"relationship"`
	CoOccurrence int      `json:"co_occurrence"`
	Sentiment    float64  `json:"sentiment"` // [-1, 1]
	Evidence     []string `json:"evidence,omitempty"`
}

// EntityGraph 实体关系图
type EntityGraph struct {
	Nodes []EntityNode `json:"nodes"`
	Edges []EntityEdge `json:"edges"`
}

// NodeByID 按ID查找节点，未找到返回 nil
func (g *EntityGraph) NodeByID(id string) *EntityNode {
	for i := range g.Nodes {
		if g.Nodes[i].ID == id {
			return &g.Nodes[i]
		}
	}
	return nil
}

// NodeByName 按名称（含别名）查找节点，未找到返回 nil
func (g *EntityGraph) NodeByName(name string) *EntityNode {
	for i := range g.Nodes {
		if g.Nodes[i].Name == name {
			return &g.Nodes[i]
		}
		for _, alias := range g.Nodes[i].Aliases {
			if alias == name {
				return &g.Nodes[i]
			}
		}
	}
	return nil
}
