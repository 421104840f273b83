package adminapi

import (
	"strconv"
	"strings"
)

// fieldSep separates positional fields within one request body. A
// unit separator rather than a space or comma, since filter values
// (a search string, in particular) may themselves contain either.
const fieldSep = "\x1f"

// parseGetAgents decodes a get_agents body into its six positional
// fields (filter_status, filter_nodes, offset, limit, sort, search),
// mirroring the positional shape master.py's admin socket parses
// get_agents requests into. An empty field means "unset".
func parseGetAgents(body string) GetAgentsQuery {
	fields := strings.SplitN(body, fieldSep, 6)
	get := func(i int) string {
		if i < len(fields) {
			return fields[i]
		}
		return ""
	}
	return GetAgentsQuery{
		FilterStatus: get(0),
		FilterNodes:  splitCSV(get(1)),
		Offset:       atoiOr(get(2), 0),
		Limit:        atoiOr(get(3), 0),
		Sort:         get(4),
		Search:       get(5),
	}
}

// parseGetFiles decodes a get_files body into its two positional
// fields: a comma-separated path list and a comma-separated node
// list, either of which may be empty.
func parseGetFiles(body string) (paths, nodes []string) {
	fields := strings.SplitN(body, fieldSep, 2)
	if len(fields) > 0 {
		paths = splitCSV(fields[0])
	}
	if len(fields) > 1 {
		nodes = splitCSV(fields[1])
	}
	return paths, nodes
}

func splitCSV(s string) []string {
	if s == "" {
		return nil
	}
	parts := strings.Split(s, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if p != "" {
			out = append(out, p)
		}
	}
	return out
}

func atoiOr(s string, def int) int {
	if s == "" {
		return def
	}
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
