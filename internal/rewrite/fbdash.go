package rewrite

import (
	"encoding/json"
	"errors"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"
)

var (
	fbDashRx     = regexp.MustCompile(`"dash_manifest":"?.*?dash_prefetched_representation_ids"?:(?:null|(?:.+?\]))`)
	fbManifestRx = regexp.MustCompile(`dash_manifest":"(.*?)","dash`)
)

type fbDashFields struct {
	DashManifest string   `json:"dash_manifest"`
	IDs          []string `json:"dash_prefetched_representation_ids"`
}

// FBDashRewriter rewrites the escaped DASH manifest embedded in a page's
// player config so only one representation per adaptation set remains.
// The located fragment is replaced in place; the surrounding text is never
// parsed as JSON.
func FBDashRewriter(logger *zap.Logger) func(string) string {
	return func(text string) string {
		m := fbManifestRx.FindStringSubmatch(text)
		if m == nil {
			logger.Warn("dash manifest not found in player config")
			return text
		}

		manifest, err := unescapeJS(m[1])
		if err != nil {
			logger.Warn("could not unescape dash manifest", zap.Error(err))
			return text
		}
		manifest = strings.ReplaceAll(manifest, `\/`, "/")

		var ids *[]string
		if !strings.HasSuffix(text, "null") {
			ids = &[]string{}
		}

		rewritten := RewriteDASH(manifest, ids) + "\n"

		fields := fbDashFields{DashManifest: rewritten}
		if ids != nil {
			if len(*ids) == 0 {
				return text
			}
			fields.IDs = *ids
		}

		// json.Marshal escapes '<' so the result can sit inside a <script>.
		out, err := json.Marshal(fields)
		if err != nil {
			logger.Warn("could not encode dash manifest", zap.Error(err))
			return text
		}
		return string(out[1 : len(out)-1])
	}
}

// unescapeJS decodes a JavaScript string literal body. On top of the
// escapes Go understands it accepts \/ and \'.
func unescapeJS(s string) (string, error) {
	var b strings.Builder
	b.Grow(len(s) + 2)
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		c := s[i]
		if c != '\\' {
			if c == '"' {
				b.WriteString(`\"`)
			} else {
				b.WriteByte(c)
			}
			continue
		}
		if i+1 >= len(s) {
			return "", errors.New("trailing backslash")
		}
		next := s[i+1]
		switch next {
		case '/', '\'':
			b.WriteByte(next)
		default:
			b.WriteByte(c)
			b.WriteByte(next)
		}
		i++
	}
	b.WriteByte('"')
	return strconv.Unquote(b.String())
}
