package markdown

import (
	"github.com/russross/blackfriday/v2"
)

// ToHTML renders markdown (as returned by the completion provider) to HTML
// for transcript export
func ToHTML(markdown string) string {
	if markdown == "" {
		return ""
	}
	return string(blackfriday.Run([]byte(markdown), blackfriday.WithExtensions(blackfriday.CommonExtensions)))
}
