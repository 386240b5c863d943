package robots

import (
	"bufio"
	"regexp"
	"strconv"
	"strings"
	"time"
)

// Rules is a parsed robots.txt.
type Rules struct {
	Groups []Group
}

// Group holds the directives that follow one run of User-agent lines.
type Group struct {
	Agents     []string
	Allow      []string
	Disallow   []string
	CrawlDelay *time.Duration

	directives []directive
}

// directive is a compiled Allow or Disallow line. weight is the pattern length
// without wildcards or the end anchor.
type directive struct {
	allow  bool
	re     *regexp.Regexp
	weight int
}

// disallowAll stands in while a host answers robots.txt with an auth error,
// a 5xx, or not at all.
var disallowAll = parseRobots("User-agent: *\nDisallow: /\n")

func parseRobots(text string) Rules {
	var rules Rules
	var cur *Group
	// a User-agent line after any rule line opens a new group
	inRules := false

	sc := bufio.NewScanner(strings.NewReader(text))
	sc.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for sc.Scan() {
		key, val, ok := splitLine(sc.Text())
		if !ok {
			continue
		}
		if key == "user-agent" || key == "useragent" {
			if cur == nil || inRules {
				rules.Groups = append(rules.Groups, Group{})
				cur = &rules.Groups[len(rules.Groups)-1]
				inRules = false
			}
			cur.Agents = append(cur.Agents, strings.ToLower(val))
			continue
		}
		if cur == nil {
			// rules before any User-agent apply to nobody
			continue
		}
		switch key {
		case "allow":
			cur.Allow = append(cur.Allow, val)
			cur.add(true, val)
		case "disallow":
			cur.Disallow = append(cur.Disallow, val)
			cur.add(false, val)
		case "crawl-delay", "crawldelay":
			if secs, err := strconv.ParseFloat(val, 64); err == nil && secs >= 0 {
				d := time.Duration(secs * float64(time.Second))
				cur.CrawlDelay = &d
			}
		default:
			continue
		}
		inRules = true
	}
	return rules
}

// splitLine strips comments and returns the lowercased field name and value.
func splitLine(line string) (key, val string, ok bool) {
	if i := strings.IndexByte(line, '#'); i >= 0 {
		line = line[:i]
	}
	k, v, found := strings.Cut(line, ":")
	k = strings.ToLower(strings.TrimSpace(k))
	if !found || k == "" {
		return "", "", false
	}
	return k, strings.TrimSpace(v), true
}

func (g *Group) add(allow bool, pattern string) {
	if pattern == "" {
		return
	}
	g.directives = append(g.directives, directive{
		allow:  allow,
		re:     compilePattern(pattern),
		weight: len(strings.ReplaceAll(strings.TrimSuffix(pattern, "$"), "*", "")),
	})
}

// compilePattern anchors pattern at the start of the path. '*' matches any
// run of characters and a trailing '$' anchors the end.
func compilePattern(pattern string) *regexp.Regexp {
	anchored := strings.HasSuffix(pattern, "$")
	parts := strings.Split(strings.TrimSuffix(pattern, "$"), "*")
	for i, p := range parts {
		parts[i] = regexp.QuoteMeta(p)
	}
	expr := "^" + strings.Join(parts, ".*")
	if anchored {
		expr += "$"
	}
	return regexp.MustCompile(expr)
}

// IsAllowed evaluates whether path (which may include a query string) may be
// fetched by userAgent.
//
// The most specific User-agent group wins, exact tokens before "*". Within
// it, the matching directive with the longest pattern (ignoring '*' and a
// trailing '$') decides; Allow wins ties. No match means allowed.
func (r Rules) IsAllowed(userAgent string, path string) bool {
	g := r.groupFor(userAgent)
	if g == nil {
		return true
	}
	best := -1
	allowed := true
	for _, d := range g.directives {
		if !d.re.MatchString(path) {
			continue
		}
		if d.weight > best || (d.weight == best && d.allow) {
			best = d.weight
			allowed = d.allow
		}
	}
	return allowed
}

// CrawlDelayFor returns the crawl delay of the group matching userAgent, or nil.
func (r Rules) CrawlDelayFor(userAgent string) *time.Duration {
	if g := r.groupFor(userAgent); g != nil {
		return g.CrawlDelay
	}
	return nil
}

// groupFor prefers the longest agent token contained in userAgent. The
// wildcard loses to any named match and ties keep the first group.
func (r Rules) groupFor(userAgent string) *Group {
	ua := strings.ToLower(strings.TrimSpace(userAgent))
	var best *Group
	bestLen := -1
	for i := range r.Groups {
		for _, token := range r.Groups[i].Agents {
			n := -1
			switch {
			case token == "*":
				n = 0
			case token != "" && strings.Contains(ua, token):
				n = len(token)
			}
			if n > bestLen {
				best, bestLen = &r.Groups[i], n
			}
		}
	}
	return best
}
