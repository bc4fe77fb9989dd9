// Package redaction implements the DLP scanner the Event Writer runs over
// every event payload before it is persisted: pattern-based secret
// detection and in-place masking, adapted from the teacher's regex/code
// masker split but re-scoped to the control plane's contains_secrets /
// redaction_level invariant rather than MCP tool-result sanitization.
package redaction

import "regexp"

// BuiltinPattern is a named, pre-compiled secret-detection rule.
type BuiltinPattern struct {
	RuleID      string
	Regex       *regexp.Regexp
	Replacement string
}

// builtinPatterns mirrors the class of secrets the teacher's masking
// config ships by default (API keys, tokens, private keys) generalized to
// a fixed table instead of a YAML-configurable one, since this service has
// no per-server masking config to key off of.
var builtinPatterns = []BuiltinPattern{
	{
		RuleID:      "openai_api_key",
		Regex:       regexp.MustCompile(`sk-[A-Za-z0-9]{20,}`),
		Replacement: "[MASKED_API_KEY]",
	},
	{
		RuleID:      "aws_access_key_id",
		Regex:       regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		Replacement: "[MASKED_AWS_ACCESS_KEY]",
	},
	{
		RuleID:      "generic_bearer_token",
		Regex:       regexp.MustCompile(`(?i)\bbearer\s+[A-Za-z0-9\-._~+/]{20,}=*`),
		Replacement: "[MASKED_BEARER_TOKEN]",
	},
	{
		RuleID:      "private_key_block",
		Regex:       regexp.MustCompile(`-----BEGIN (?:RSA |EC |OPENSSH )?PRIVATE KEY-----`),
		Replacement: "[MASKED_PRIVATE_KEY]",
	},
	{
		RuleID:      "github_token",
		Regex:       regexp.MustCompile(`\bgh[pousr]_[A-Za-z0-9]{36,}\b`),
		Replacement: "[MASKED_GITHUB_TOKEN]",
	},
	{
		RuleID:      "slack_token",
		Regex:       regexp.MustCompile(`\bxox[baprs]-[A-Za-z0-9-]{10,}\b`),
		Replacement: "[MASKED_SLACK_TOKEN]",
	},
}
