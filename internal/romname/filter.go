package romname

import "strings"

// nonGameTerms are lowercased markers of files that are not playable games
// (manuals, firmware, track sheets, plain data). Records matching one are
// never sent for metadata enrichment.
var nonGameTerms = []string{
	"manual",
	"manuals",
	"update",
	"bios",
	"firmware",
	"soundtrack",
	"audio",
	"program",
	"sample",
	"bin",
	"cue",
	"txt",
	"pdf",
	"nfo",
}

// IsNonGame reports whether a filename is ineligible for enrichment.
// A filename matches a term when it ends with ".<term>", contains
// "(<term>)" or "[<term>]", or ends with " <term>".
func IsNonGame(filename string) bool {
	name := strings.ToLower(filename)
	for _, term := range nonGameTerms {
		if strings.HasSuffix(name, "."+term) ||
			strings.Contains(name, "("+term+")") ||
			strings.Contains(name, "["+term+"]") ||
			strings.HasSuffix(name, " "+term) {
			return true
		}
	}
	return false
}
