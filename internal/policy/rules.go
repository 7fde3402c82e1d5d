package policy

import "regexp"

// DefaultRules returns the built-in screening catalog.
//
// The catalog targets PowerShell first (the primary interpreter) with a few
// POSIX-shell equivalents. Patterns are matched per line, case-insensitively.
// A fresh slice is returned each call so callers can append without aliasing.
func DefaultRules() []Rule {
	return []Rule{
		// --- Dynamic code evaluation ---
		{
			ID:          "PS001",
			Description: "dynamic code evaluation via Invoke-Expression",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\b(invoke-expression|iex)\b`),
		},
		{
			ID:          "PS002",
			Description: "runtime script block construction via [scriptblock]::Create",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\[scriptblock\]::create`),
		},
		{
			ID:          "PS003",
			Description: "in-process compilation of arbitrary code via Add-Type",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\badd-type\b`),
		},
		{
			ID:          "PS004",
			Description: "download-to-execute via WebClient.DownloadString",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)net\.webclient\b.*downloadstring`),
		},

		// --- Certificate validation bypass ---
		{
			ID:          "PS010",
			Description: "TLS certificate validation disabled via -SkipCertificateCheck",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)-skipcertificatecheck\b`),
		},
		{
			ID:          "PS011",
			Description: "TLS certificate validation callback override",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)servercertificatevalidationcallback`),
		},
		{
			ID:          "PS012",
			Description: "TLS verification disabled on curl/wget invocation",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\b(curl\b.*(\s-k\b|--insecure\b)|wget\b.*--no-check-certificate\b)`),
		},

		// --- Credential and secret literals ---
		{
			ID:          "PS020",
			Description: "plaintext credential conversion via ConvertTo-SecureString -AsPlainText",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)convertto-securestring\b.*-asplaintext`),
		},
		{
			ID:          "PS021",
			Description: "possible hardcoded secret assignment",
			Severity:    SeverityWarn,
			Pattern:     regexp.MustCompile(`(?i)\$?(password|passwd|secret|api[_-]?key|access[_-]?token)\s*=\s*['"][^'"]{4,}['"]`),
		},
		{
			ID:          "PS022",
			Description: "AWS access key literal",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`\bAKIA[0-9A-Z]{16}\b`),
		},

		// --- Destructive filesystem operations ---
		{
			ID:          "PS030",
			Description: "recursive forced deletion via Remove-Item -Recurse -Force",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)remove-item\b.*(-recurse\b.*-force\b|-force\b.*-recurse\b)`),
		},
		{
			ID:          "PS031",
			Description: "disk or volume destruction command",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\b(format-volume|clear-disk|initialize-disk|mkfs(\.[a-z0-9]+)?)\b`),
		},
		{
			ID:          "PS032",
			Description: "recursive forced deletion of a root path",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\brm\s+-(rf|fr)\b\s+/`),
		},

		// --- Execution-policy and privilege downgrades ---
		{
			ID:          "PS040",
			Description: "execution policy downgrade via Set-ExecutionPolicy",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)set-executionpolicy\b.*(bypass|unrestricted)`),
		},
		{
			ID:          "PS041",
			Description: "execution policy bypass flag on nested interpreter",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)-executionpolicy\s+(bypass|unrestricted)\b`),
		},
		{
			ID:          "PS042",
			Description: "privilege elevation via Start-Process -Verb RunAs",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)start-process\b.*-verb\s+runas\b`),
		},
		{
			ID:          "PS043",
			Description: "language-mode lockdown tampering",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)__pslockdownpolicy`),
		},

		// --- Log and audit suppression ---
		{
			ID:          "PS050",
			Description: "event log clearing",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)\b(clear-eventlog\b|wevtutil\s+cl\b)`),
		},
		{
			ID:          "PS051",
			Description: "audit policy clearing",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)auditpol\b.*/clear`),
		},
		{
			ID:          "PS052",
			Description: "script block logging disabled",
			Severity:    SeverityBlock,
			Pattern:     regexp.MustCompile(`(?i)(scriptblocklogging|modulelogging)\b.*(=\s*0\b|-value\s+0\b|\$false\b|disable)`),
		},
		{
			ID:          "PS053",
			Description: "shell history clearing",
			Severity:    SeverityWarn,
			Pattern:     regexp.MustCompile(`(?i)\b(history\s+-c\b|clear-history\b)`),
		},
	}
}
