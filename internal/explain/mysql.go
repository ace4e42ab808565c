package explain

import (
	"encoding/json"
	"fmt"
	"strconv"
)

type mysqlRoot struct {
	QueryBlock mysqlBlock `json:"query_block"`
}

// mysqlBlock covers the nodes that may hold table accesses: the query
// block itself and its grouping and ordering operations.
type mysqlBlock struct {
	CostInfo struct {
		QueryCost string `json:"query_cost"`
	} `json:"cost_info"`
	Table      *mysqlTable `json:"table"`
	NestedLoop []mysqlLoop `json:"nested_loop"`
	Grouping   *mysqlBlock `json:"grouping_operation"`
	Ordering   *mysqlBlock `json:"ordering_operation"`
	Duplicates *mysqlBlock `json:"duplicates_removal"`
}

type mysqlLoop struct {
	Table *mysqlTable `json:"table"`
}

type mysqlTable struct {
	TableName  string `json:"table_name"`
	AccessType string `json:"access_type"`
	Key        string `json:"key"`
	Rows       int64  `json:"rows_examined_per_scan"`
}

// ParseMySQL condenses EXPLAIN FORMAT=JSON output. The row estimate is the
// sum of rows examined per table access.
func ParseMySQL(raw string) (*Plan, error) {
	var root mysqlRoot
	if err := json.Unmarshal([]byte(raw), &root); err != nil {
		return nil, fmt.Errorf("parse mysql plan: %w", err)
	}
	p := &Plan{Database: "mysql", Raw: raw}
	if s := root.QueryBlock.CostInfo.QueryCost; s != "" {
		if cost, err := strconv.ParseFloat(s, 64); err == nil {
			p.Cost = cost
		}
	}
	walkMySQL(&root.QueryBlock, p)
	return p, nil
}

func walkMySQL(b *mysqlBlock, p *Plan) {
	if b == nil {
		return
	}
	mysqlAccess(b.Table, p)
	for _, l := range b.NestedLoop {
		mysqlAccess(l.Table, p)
	}
	walkMySQL(b.Grouping, p)
	walkMySQL(b.Ordering, p)
	walkMySQL(b.Duplicates, p)
}

func mysqlAccess(t *mysqlTable, p *Plan) {
	if t == nil {
		return
	}
	p.addTable(t.TableName)
	if t.Key != "" {
		p.useIndex(t.Key)
	}
	if t.AccessType == "ALL" {
		p.FullScan = true
	}
	p.EstimatedRows += t.Rows
}
