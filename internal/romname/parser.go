// Package romname parses ROM filenames into structured catalog fields.
//
// Archive filenames follow the No-Intro/Redump convention: a base title
// followed by bracketed tag groups, e.g.
//
//	Super Mario Bros. (USA).nes
//	Mega Man (USA, Europe) [b].zip
//
// Parsing is pure string work: no I/O, no state.
package romname

import (
	"regexp"
	"strings"
)

// Parsed is the result of parsing a single filename.
type Parsed struct {
	// BaseName is the title with extension and all bracketed tags removed.
	BaseName string
	// Tags holds every bracketed tag group, raw, in order of appearance.
	Tags []string
	// Region is the first tag group classified as regional, verbatim.
	// Empty when no tag qualifies.
	Region string
}

// tagRe matches one (...) or [...] group, non-greedy.
var tagRe = regexp.MustCompile(`\(([^()]*)\)|\[([^\[\]]*)\]`)

// regionVocabulary is the set of lowercased region terms. A tag group is
// regional when at least half of its comma/plus-separated pieces are in
// this set.
var regionVocabulary = map[string]struct{}{
	"usa": {}, "japan": {}, "europe": {}, "world": {}, "asia": {},
	"australia": {}, "brazil": {}, "canada": {}, "china": {},
	"denmark": {}, "finland": {}, "france": {}, "germany": {},
	"greece": {}, "hong kong": {}, "israel": {}, "italy": {},
	"korea": {}, "netherlands": {}, "norway": {}, "poland": {},
	"portugal": {}, "russia": {}, "spain": {}, "sweden": {},
	"taiwan": {}, "uk": {}, "united kingdom": {},
}

// Parse splits a filename into base title, tag groups and region.
func Parse(filename string) Parsed {
	name := stripExtension(filename)

	var p Parsed
	p.BaseName = baseName(name)
	for _, m := range tagRe.FindAllStringSubmatch(name, -1) {
		tag := m[1]
		if strings.HasPrefix(m[0], "[") {
			tag = m[2]
		}
		p.Tags = append(p.Tags, tag)
		if p.Region == "" && isRegionTag(tag) {
			p.Region = tag
		}
	}
	return p
}

// stripExtension drops the last "." and everything after it.
func stripExtension(filename string) string {
	if i := strings.LastIndex(filename, "."); i >= 0 {
		return filename[:i]
	}
	return filename
}

// baseName is the portion preceding the first "(" or "[", trimmed.
func baseName(name string) string {
	cut := len(name)
	if i := strings.IndexByte(name, '('); i >= 0 {
		cut = i
	}
	if i := strings.IndexByte(name, '['); i >= 0 && i < cut {
		cut = i
	}
	return strings.TrimSpace(name[:cut])
}

// isRegionTag reports whether at least half of the tag's comma/plus
// separated pieces are region vocabulary terms.
func isRegionTag(tag string) bool {
	pieces := strings.FieldsFunc(tag, func(r rune) bool {
		return r == ',' || r == '+'
	})
	if len(pieces) == 0 {
		return false
	}
	hits := 0
	for _, piece := range pieces {
		piece = strings.ToLower(strings.TrimSpace(piece))
		if _, ok := regionVocabulary[piece]; ok {
			hits++
		}
	}
	return hits*2 >= len(pieces)
}
