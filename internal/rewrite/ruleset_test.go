package rewrite

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"go.uber.org/zap"
)

func TestRuleSetSelectYouTube(t *testing.T) {
	rs := NewRuleSet(DefaultRules(zap.NewNop()), nil)

	out := rs.Select("https://www.youtube.com/watch?v=abc").Rewrite("init(); ytplayer.load();")
	assert.Equal(t, `init(); ytplayer.config.args.dash = "0"; ytplayer.config.args.dashmpd = ""; ytplayer.load();`, out)

	out = rs.Select("https://www.youtube-nocookie.com/embed/abc").Rewrite(`var ytplayer = {}; ytplayer.config = {"args": {"a":1}}`)
	assert.Contains(t, out, `"args": {"dash":"0","dashmpd":"","a":1}`)
}

func TestRuleSetSelectVimeo(t *testing.T) {
	rs := NewRuleSet(DefaultRules(zap.NewNop()), nil)

	out := rs.Select("https://player.vimeo.com/video/123").Rewrite(`{"dash":{"x":1},"hls":{"y":2}}`)
	assert.Equal(t, `{"__dash":{"x":1},"__hls":{"y":2}}`, out)
}

func TestRuleSetDefaultIsIdentity(t *testing.T) {
	rs := NewRuleSet(DefaultRules(zap.NewNop()), nil)

	text := `ytplayer.load(); "dash": 1`
	assert.Equal(t, text, rs.Select("https://example.com/").Rewrite(text))
	assert.Same(t, rs.Default(), rs.Select("https://example.com/"))
}

func TestRuleSetFirstMatchWins(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{Contains: []string{"example.com"}, RxRules: []RxRule{{regexp.MustCompile(`a`), ReplaceTemplate("first")}}},
		{Contains: []string{"example.com/page"}, RxRules: []RxRule{{regexp.MustCompile(`a`), ReplaceTemplate("second")}}},
	}, nil)

	assert.Equal(t, "first", rs.Select("https://example.com/page").Rewrite("a"))
}

func TestRuleSetSkipsRuleWithoutContains(t *testing.T) {
	rs := NewRuleSet([]Rule{
		{RxRules: []RxRule{{regexp.MustCompile(`a`), ReplaceTemplate("never")}}},
		{Contains: []string{"example.com"}, RxRules: []RxRule{{regexp.MustCompile(`a`), ReplaceTemplate("b")}}},
	}, nil)

	assert.Equal(t, "b", rs.Select("https://example.com/").Rewrite("a"))
	assert.Equal(t, "a", rs.Select("https://other.org/").Rewrite("a"))
}

type recordingRewriter struct{ rules []RxRule }

func (r *recordingRewriter) Rewrite(text string) string { return text }

func TestRuleSetBuildsRewritersOnce(t *testing.T) {
	var built []*recordingRewriter
	factory := func(rules []RxRule) TextRewriter {
		rw := &recordingRewriter{rules: rules}
		built = append(built, rw)
		return rw
	}

	rs := NewRuleSet(DefaultRules(zap.NewNop()), factory)
	assert.Len(t, built, 4)
	assert.Nil(t, built[3].rules)

	for range 3 {
		rs.Select("https://www.youtube.com/")
	}
	assert.Len(t, built, 4)
	assert.Same(t, built[0], rs.Select("https://www.youtube.com/"))
}

func TestRxRewriterEarliestRuleWinsAtSamePosition(t *testing.T) {
	rw := NewRxRewriter([]RxRule{
		{regexp.MustCompile(`ab`), ReplaceTemplate("[1:{0}]")},
		{regexp.MustCompile(`abc`), ReplaceTemplate("[2:{0}]")},
		{regexp.MustCompile(`(x)(y)`), ReplaceTemplate("[3:{0}]")},
	})

	assert.Equal(t, "[1:ab]c [3:xy] z", rw.Rewrite("abc xy z"))
	assert.Equal(t, "nothing", NewRxRewriter(nil).Rewrite("nothing"))
}
