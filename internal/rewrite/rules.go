package rewrite

import (
	"regexp"

	"go.uber.org/zap"
)

// DefaultRules disables adaptive streaming on sites whose players would
// otherwise request manifests and segments that were never captured.
func DefaultRules(logger *zap.Logger) []Rule {
	return []Rule{
		{
			Contains: []string{"youtube.com", "youtube-nocookie.com"},
			RxRules: []RxRule{
				{regexp.MustCompile(`ytplayer.load\(\);`), ReplaceTemplate(`ytplayer.config.args.dash = "0"; ytplayer.config.args.dashmpd = ""; {0}`)},
				{regexp.MustCompile(`yt\.setConfig.*PLAYER_CONFIG.*args":\s*\{`), ReplaceTemplate(`{0} "dash": "0", dashmpd: "", `)},
				{regexp.MustCompile(`(?:"player":|ytplayer\.config).*"args":\s*\{`), ReplaceTemplate(`{0}"dash":"0","dashmpd":"",`)},
			},
		},
		{
			Contains: []string{"vimeo.com/video"},
			RxRules: []RxRule{
				{regexp.MustCompile(`"dash"[:]`), ReplaceTemplate(`"__dash":`)},
				{regexp.MustCompile(`"hls"[:]`), ReplaceTemplate(`"__hls":`)},
			},
		},
		{
			Contains: []string{"facebook.com/"},
			RxRules: []RxRule{
				{fbDashRx, FBDashRewriter(logger)},
			},
		},
	}
}
