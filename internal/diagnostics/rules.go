package diagnostics

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"regexp"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// ContentRulesName is the registry name of the rule pack check.
const ContentRulesName = "content-rules"

// Fetcher reads live content from the content host.
type Fetcher interface {
	Fetch(ctx context.Context, filePath string) (string, error)
}

// ContentRules applies a YAML pack of regex rewrite rules to files on the
// content host and reports every file a rule would change.
type ContentRules struct {
	rules   []compiledRule
	fetcher Fetcher
	logger  *slog.Logger
}

// Rule is a single rewrite rule.
type Rule struct {
	ID          string  `yaml:"id"`
	Path        string  `yaml:"path"`
	Pattern     string  `yaml:"pattern"`
	Replace     string  `yaml:"replace"`
	Confidence  float64 `yaml:"confidence"`
	Severity    string  `yaml:"severity"`
	Description string  `yaml:"description"`
}

// RuleConfigFile is the YAML root structure.
type RuleConfigFile struct {
	Rules []Rule `yaml:"rules"`
}

type compiledRule struct {
	Rule
	re *regexp.Regexp
}

// NewContentRules loads rules from path. An empty path or a missing file
// yields a nil check.
func NewContentRules(path string, fetcher Fetcher, logger *slog.Logger) (*ContentRules, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return nil, nil
		}
		return nil, err
	}
	var cfg RuleConfigFile
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	return NewContentRulesFromRules(cfg.Rules, fetcher, logger)
}

// NewContentRulesFromRules compiles rules directly.
func NewContentRulesFromRules(rules []Rule, fetcher Fetcher, logger *slog.Logger) (*ContentRules, error) {
	if logger == nil {
		logger = slog.Default()
	}
	compiled := make([]compiledRule, 0, len(rules))
	for _, r := range rules {
		if r.ID == "" || r.Path == "" || r.Pattern == "" {
			return nil, fmt.Errorf("rule %q: id, path and pattern are required", r.ID)
		}
		if r.Confidence < 0 || r.Confidence > 100 {
			return nil, fmt.Errorf("rule %q: confidence must be within 0..100", r.ID)
		}
		if r.Severity != "" && !models.Severity(r.Severity).Valid() {
			return nil, fmt.Errorf("rule %q: unknown severity %q", r.ID, r.Severity)
		}
		re, err := regexp.Compile(r.Pattern)
		if err != nil {
			return nil, fmt.Errorf("rule %q: %w", r.ID, err)
		}
		compiled = append(compiled, compiledRule{Rule: r, re: re})
	}
	return &ContentRules{rules: compiled, fetcher: fetcher, logger: logger}, nil
}

// Name implements Diagnostic.
func (c *ContentRules) Name() string { return ContentRulesName }

// Run evaluates every rule. Rules on the same path are applied in order so
// one issue carries the combined rewrite. Unreadable files are reported as
// errors alongside the issues that could be found.
func (c *ContentRules) Run(ctx context.Context) ([]models.Issue, error) {
	type pending struct {
		original string
		current  string
		rules    []compiledRule
	}
	byPath := make(map[string]*pending)
	var order []string
	var errs []error

	for _, rule := range c.rules {
		p, ok := byPath[rule.Path]
		if !ok {
			content, err := c.fetcher.Fetch(ctx, rule.Path)
			if err != nil {
				c.logger.Warn("content rule target unreadable", slog.String("rule", rule.ID), slog.String("path", rule.Path), slog.Any("error", err))
				errs = append(errs, fmt.Errorf("rule %s: %w", rule.ID, err))
				byPath[rule.Path] = nil
				continue
			}
			p = &pending{original: content, current: content}
			byPath[rule.Path] = p
			order = append(order, rule.Path)
		}
		if p == nil {
			continue
		}
		if !rule.re.MatchString(p.current) {
			continue
		}
		p.current = rule.re.ReplaceAllString(p.current, rule.Replace)
		p.rules = append(p.rules, rule)
	}

	issues := make([]models.Issue, 0, len(order))
	for _, path := range order {
		p := byPath[path]
		if len(p.rules) == 0 || p.current == p.original {
			continue
		}
		issues = append(issues, combine(path, p.current, p.rules))
	}
	return issues, errors.Join(errs...)
}

// combine merges the rules that fired on one path. The weakest rule bounds
// the confidence of the combined rewrite.
func combine(path, content string, rules []compiledRule) models.Issue {
	issue := models.Issue{
		ID:         uuid.NewString(),
		Check:      ContentRulesName,
		Target:     path,
		Confidence: rules[0].Confidence,
	}
	var summary, description string
	for i, r := range rules {
		if r.Confidence < issue.Confidence {
			issue.Confidence = r.Confidence
		}
		if sev := models.Severity(r.Severity); sev.Valid() && rank(sev) > rank(issue.Severity) {
			issue.Severity = sev
		}
		text := r.Description
		if text == "" {
			text = "rule " + r.ID
		}
		if i > 0 {
			summary += "; "
			description += "\n"
		}
		summary += text
		description += "- " + r.ID + ": " + text
	}
	issue.Summary = summary
	issue.Fix = &models.Fix{TargetPath: path, NewContent: content, Description: description}
	return issue
}

func rank(s models.Severity) int {
	switch s {
	case models.SeverityCritical:
		return 3
	case models.SeverityHigh:
		return 2
	case models.SeverityMedium:
		return 1
	case models.SeverityLow:
		return 0
	}
	return -1
}
