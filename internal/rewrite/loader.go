package rewrite

import (
	"fmt"
	"os"
	"regexp"

	"gopkg.in/yaml.v3"
)

type ruleFileEntry struct {
	Contains []string `yaml:"contains"`
	Rules    []struct {
		Match   string `yaml:"match"`
		Replace string `yaml:"replace"`
	} `yaml:"rules"`
}

// LoadRules reads site rules from a YAML file:
//
//	- contains: ["example.com/player"]
//	  rules:
//	    - match: 'autoplay:\s*true'
//	      replace: 'autoplay: false'
//
// "{0}" in a replacement stands for the matched text.
func LoadRules(path string) ([]Rule, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rules file: %w", err)
	}
	return ParseRules(data)
}

// ParseRules parses the YAML rule format accepted by LoadRules.
func ParseRules(data []byte) ([]Rule, error) {
	var entries []ruleFileEntry
	if err := yaml.Unmarshal(data, &entries); err != nil {
		return nil, fmt.Errorf("parse rules: %w", err)
	}

	rules := make([]Rule, 0, len(entries))
	for i, entry := range entries {
		rule := Rule{Contains: entry.Contains}
		for _, r := range entry.Rules {
			rx, err := regexp.Compile(r.Match)
			if err != nil {
				return nil, fmt.Errorf("rule %d: compile %q: %w", i, r.Match, err)
			}
			rule.RxRules = append(rule.RxRules, RxRule{Match: rx, Replace: ReplaceTemplate(r.Replace)})
		}
		rules = append(rules, rule)
	}
	return rules, nil
}
