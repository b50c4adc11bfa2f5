package avurl

import "strings"

// parts holds the raw pieces of a media URL plus enough layout metadata to
// rebuild the exact input string.
type parts struct {
	schema   string
	userinfo string
	host     string
	port     string
	path     string

	hasSchema bool
	slashNum  int
	hasAtSign bool
	hasBrks   bool
	hasPort   bool
	junk      string
}

// split follows FFmpeg's av_url_split (libavformat/utils.c) without buffer
// truncation. The port is kept as the raw substring ("123abc" stays as is).
//
// Inputs without ':' are plain paths (local files, /dev/videoN).
func split(url string) (p parts) {
	var cursor int

	colon := strings.IndexByte(url, ':')
	if colon == -1 {
		p.path = url
		return
	}

	p.hasSchema = true
	p.schema = url[:colon]
	cursor = colon + 1
	for i := 0; i < 2 && cursor < len(url) && url[cursor] == '/'; i++ {
		cursor++
		p.slashNum++
	}
	if cursor == len(url) {
		return
	}

	// authority ends at the first '/', '?' or '#'
	pathAt := cursor + strcspn(url[cursor:], "/?#")
	p.path = url[pathAt:]
	if pathAt == cursor {
		return
	}

	// userinfo runs up to the LAST '@' of the authority
	for {
		at := strings.IndexByte(url[cursor:pathAt], '@')
		if at == -1 {
			break
		}
		p.hasAtSign = true
		p.userinfo = url[colon+1+p.slashNum : cursor+at]
		cursor += at + 1
		if cursor == pathAt {
			return
		}
	}

	authority := url[cursor:pathAt]
	switch {
	case authority[0] == '[' && strings.IndexByte(authority, ']') != -1:
		brk := strings.IndexByte(authority, ']')
		p.hasBrks = true
		p.host = authority[1:brk]
		rest := authority[brk+1:]
		switch {
		case strings.HasPrefix(rest, ":"):
			p.hasPort = true
			p.port = rest[1:]
		case rest != "":
			p.junk = rest
		}
	case strings.IndexByte(authority, ':') != -1:
		c := strings.IndexByte(authority, ':')
		p.hasPort = true
		p.host = authority[:c]
		p.port = authority[c+1:]
	default:
		p.host = authority
	}
	return
}

// join is the exact inverse of split.
func (p parts) join() string {
	var b strings.Builder
	b.WriteString(p.schema)
	if p.hasSchema {
		b.WriteByte(':')
	}
	b.WriteString(strings.Repeat("/", p.slashNum))
	b.WriteString(p.userinfo)
	if p.hasAtSign {
		b.WriteByte('@')
	}
	if p.hasBrks {
		b.WriteString("[" + p.host + "]")
	} else {
		b.WriteString(p.host)
	}
	if p.hasPort {
		b.WriteByte(':')
	}
	b.WriteString(p.port)
	b.WriteString(p.junk)
	b.WriteString(p.path)
	return b.String()
}

// strcspn returns the length of the initial segment of s that
// contains none of the bytes in reject.
func strcspn(s, reject string) int {
	if idx := strings.IndexAny(s, reject); idx != -1 {
		return idx
	}
	return len(s)
}
