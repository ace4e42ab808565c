package explain

import "strings"

// ParseSQLite condenses EXPLAIN QUERY PLAN detail lines such as
// "SCAN versions", "SEARCH applications USING INTEGER PRIMARY KEY (rowid=?)"
// or "SEARCH versions USING INDEX versions_app (application_id=?)".
// SQLite reports neither cost nor row estimates.
func ParseSQLite(lines []string) *Plan {
	p := &Plan{Database: "sqlite", Raw: strings.Join(lines, "\n")}
	for _, line := range lines {
		line = strings.TrimSpace(line)
		upper := strings.ToUpper(line)
		if strings.HasPrefix(upper, "SCAN CONSTANT ROW") {
			continue
		}

		var table string
		for _, verb := range []string{"SCAN ", "SEARCH "} {
			if strings.HasPrefix(upper, verb) {
				table = firstWord(line[len(verb):])
				if strings.EqualFold(table, "TABLE") {
					table = firstWord(line[len(verb)+len("TABLE "):])
				}
			}
		}
		p.addTable(table)

		switch {
		case strings.Contains(upper, "USING COVERING INDEX "):
			p.useIndex(indexAfter(line, "USING COVERING INDEX "))
		case strings.Contains(upper, "USING INDEX "):
			p.useIndex(indexAfter(line, "USING INDEX "))
		case strings.Contains(upper, "USING INTEGER PRIMARY KEY"), strings.Contains(upper, "USING PRIMARY KEY"):
			p.useIndex("PRIMARY KEY")
		case strings.Contains(upper, "USING AUTOMATIC"):
			p.useIndex("AUTOMATIC INDEX")
		case strings.HasPrefix(upper, "SCAN ") && table != "":
			p.FullScan = true
		}
	}
	return p
}

func indexAfter(line, marker string) string {
	i := strings.Index(strings.ToUpper(line), marker)
	if i < 0 {
		return ""
	}
	return firstWord(line[i+len(marker):])
}

// firstWord returns s up to the first space or opening parenthesis.
func firstWord(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.IndexAny(s, " ("); i >= 0 {
		return s[:i]
	}
	return s
}
