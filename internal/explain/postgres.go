package explain

import (
	"encoding/json"
	"fmt"
	"strings"
)

type postgresRoot struct {
	Plan postgresNode `json:"Plan"`
}

type postgresNode struct {
	NodeType     string         `json:"Node Type"`
	RelationName string         `json:"Relation Name"`
	IndexName    string         `json:"Index Name"`
	TotalCost    float64        `json:"Total Cost"`
	PlanRows     int64          `json:"Plan Rows"`
	Plans        []postgresNode `json:"Plans"`
}

// ParsePostgres condenses EXPLAIN (FORMAT JSON) output. Cost and row
// estimates are those of the top plan node.
func ParsePostgres(raw string) (*Plan, error) {
	var roots []postgresRoot
	if err := json.Unmarshal([]byte(raw), &roots); err != nil {
		return nil, fmt.Errorf("parse postgres plan: %w", err)
	}
	if len(roots) == 0 {
		return nil, fmt.Errorf("parse postgres plan: empty output")
	}
	top := roots[0].Plan
	p := &Plan{Database: "postgres", Raw: raw, Cost: top.TotalCost, EstimatedRows: top.PlanRows}
	walkPostgres(&top, p)
	return p, nil
}

func walkPostgres(n *postgresNode, p *Plan) {
	p.addTable(n.RelationName)
	switch {
	case strings.Contains(n.NodeType, "Index Scan"), strings.Contains(n.NodeType, "Index Only Scan"):
		p.useIndex(n.IndexName)
	case n.NodeType == "Seq Scan":
		p.FullScan = true
	}
	for i := range n.Plans {
		walkPostgres(&n.Plans[i], p)
	}
}
