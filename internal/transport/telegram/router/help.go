package router

import (
	"html"
	"sort"
	"strings"
)

// helpText renders help for path in Telegram HTML.
func (m *CommandManager) helpText(path []string) string {
	m.mu.RLock()
	root := m.root
	alias := m.alias
	m.mu.RUnlock()

	if len(path) == 0 {
		return helpTopHTML(root)
	}

	cur := root
	full := make([]string, 0, len(path))
	for _, p := range path {
		p = strings.TrimPrefix(strings.ToLower(p), "/")
		n, ok := cur.child(p)
		if !ok {
			if leaf, ok := alias[p]; ok && leaf != nil && leaf.cmd != nil {
				cur = leaf
				full = splitRoute(leaf.cmd.Route)
				break
			}
			return "❓ <b>알 수 없는 명령어</b>\n<code>/help</code> 로 전체 목록을 확인하세요."
		}
		cur = n
		full = append(full, p)
	}
	return helpNodeHTML(cur, full)
}

type topRow struct {
	name string
	desc string
	lock bool
}

func helpTopHTML(root *cmdNode) string {
	rows := make([]topRow, 0, len(root.children))
	for _, name := range root.childNames() {
		n, _ := root.child(name)
		rows = append(rows, topRow{name: name, desc: summarizeNodeDesc(n), lock: nodeIsOwnerOnly(n)})
	}
	// owner-only last, alphabetical within each group
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].lock != rows[j].lock {
			return !rows[i].lock
		}
		return rows[i].name < rows[j].name
	})

	lines := []string{
		"📚 <b>명령어 목록</b>",
		"자세한 설명은 <code>/help &lt;명령어&gt;</code>",
		"",
	}
	for _, r := range rows {
		lines = append(lines, rowHTML("/"+r.name, r.desc, r.lock))
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func helpNodeHTML(cur *cmdNode, full []string) string {
	lines := []string{"📚 <b>도움말</b> <code>" + html.EscapeString("/"+strings.Join(full, " ")) + "</code>"}

	if c := cur.cmd; c != nil {
		if d := strings.TrimSpace(c.Description); d != "" {
			lines = append(lines, html.EscapeString(d))
		}
		if c.Access == AccessOwnerOnly {
			lines = append(lines, "🔒 <i>관리자 전용</i>")
		}
		if u := strings.TrimSpace(c.Usage); u != "" {
			lines = append(lines, "", "<b>사용법</b>", "<code>"+html.EscapeString(u)+"</code>")
		}
		if short := buildShortcuts(*c); len(short) > 0 {
			lines = append(lines, "", "<b>단축 명령</b>")
			for _, s := range short {
				lines = append(lines, "• <code>/"+html.EscapeString(s)+"</code>")
			}
		}
	} else {
		lines = append(lines, "하위 명령어 그룹입니다.")
		if nodeIsOwnerOnly(cur) {
			lines = append(lines, "🔒 <i>관리자 전용</i>")
		}
	}

	if len(cur.children) > 0 {
		lines = append(lines, "", "<b>하위 명령어</b>")
		for _, name := range cur.childNames() {
			n, _ := cur.child(name)
			p := append(append([]string(nil), full...), name)
			lines = append(lines, rowHTML("/"+strings.Join(p, " "), summarizeNodeDesc(n), nodeIsOwnerOnly(n)))
		}
	}
	return strings.Join(filterEmpty(lines), "\n")
}

func rowHTML(cmd, desc string, lock bool) string {
	prefix := "• "
	if lock {
		prefix = "• 🔒 "
	}
	suffix := ""
	if desc != "" {
		suffix = " : " + html.EscapeString(desc)
	}
	return prefix + "<code>" + html.EscapeString(cmd) + "</code>" + suffix
}

func summarizeNodeDesc(n *cmdNode) string {
	if n == nil {
		return ""
	}
	if n.cmd != nil {
		if d := strings.TrimSpace(n.cmd.Description); d != "" {
			return d
		}
	}
	kids := n.childNames()
	if len(kids) == 0 {
		return ""
	}
	k := min(len(kids), 3)
	s := strings.Join(kids[:k], ", ")
	if len(kids) > k {
		s += ", …"
	}
	return "하위: " + s
}

// nodeIsOwnerOnly is true for an owner-only leaf, or a group whose every
// descendant command is owner-only.
func nodeIsOwnerOnly(n *cmdNode) bool {
	if n == nil {
		return false
	}
	if n.cmd != nil {
		return n.cmd.Access == AccessOwnerOnly
	}
	for _, ch := range n.children {
		if !nodeIsOwnerOnly(ch) {
			return false
		}
	}
	return len(n.children) > 0
}

func buildShortcuts(c Command) []string {
	seen := map[string]bool{}
	var out []string
	add := func(s string) {
		if s != "" && !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	if route := splitRoute(c.Route); len(route) > 1 {
		if menu, ok := telegramCommandNameFromRoute(route); ok {
			add(menu)
		}
	}
	for _, a := range c.Aliases {
		a = strings.TrimSpace(a)
		if a == "" || strings.Contains(a, " ") {
			continue
		}
		add(a)
		add(sanitizeTelegramCommand(a))
	}
	sort.Strings(out)
	return out
}

func filterEmpty(in []string) []string {
	out := make([]string, 0, len(in))
	for i, s := range in {
		// keep single blank separators, drop runs and a trailing blank
		if strings.TrimSpace(s) == "" && (i == len(in)-1 || len(out) == 0 || out[len(out)-1] == "") {
			continue
		}
		out = append(out, s)
	}
	return out
}
