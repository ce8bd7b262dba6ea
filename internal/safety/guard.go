package safety

import (
	"fmt"
	"regexp"
	"strings"
)

type RiskLevel string

const (
	RiskLow      RiskLevel = "low"
	RiskMedium   RiskLevel = "medium"
	RiskHigh     RiskLevel = "high"
	RiskCritical RiskLevel = "critical"
)

// Kind of command payload being analyzed.
type Kind string

const (
	KindShell       Kind = "shell"
	KindFileRead    Kind = "file_read"
	KindFileWrite   Kind = "file_write"
	KindFileList    Kind = "file_list"
	KindBrowserOpen Kind = "browser_open"
	KindClipboard   Kind = "clipboard"
	KindScreenshot  Kind = "screenshot"
)

// Analysis is the ephemeral classification of one command. Never persisted
// or cached: the same text is re-judged identically on every dispatch.
type Analysis struct {
	Risk                 RiskLevel
	RequiresConfirmation bool
	Blocked              bool
	Warnings             []string
	Explanation          string
}

type rule struct {
	re     *regexp.Regexp
	reason string
}

// Tier order matters: critical short-circuits to a block before any other
// tier is consulted.
var criticalRules = []rule{
	{regexp.MustCompile(`(?i)\brm\s+(-[a-z]+\s+)*(/|/\*)\s*$`), "recursive deletion of the root filesystem"},
	{regexp.MustCompile(`(?i)\b(mkfs|fdisk)\b|dd\s+[^|]*of=/dev/`), "disk formatting or raw device write"},
	{regexp.MustCompile(`:\(\)\s*\{\s*:\s*\|\s*:\s*&\s*\}\s*;\s*:`), "fork bomb"},
	{regexp.MustCompile(`(?i)\b(curl|wget)\b[^|;]*\|\s*(sudo\s+)?(ba|z|da|fi)?sh\b`), "piping a remote script into a shell"},
	{regexp.MustCompile(`(?i)\bkill\s+-9\s+1\b|\bkillall\s+(init|systemd)\b|\b(shutdown|poweroff|halt|reboot)\b|\binit\s+0\b`), "terminating or halting the operating system"},
}

var highRules = []rule{
	{regexp.MustCompile(`(?i)\brm\b`), "file deletion"},
	{regexp.MustCompile(`(?i)\bsudo\b|\bsu\s`), "privilege elevation"},
	{regexp.MustCompile(`(?i)\b(chmod|chown|chgrp)\b`), "permission or ownership change"},
	{regexp.MustCompile(`(?i)\b(apt|apt-get|yum|dnf|brew|pacman|npm|pip3?)\s+(install|remove|uninstall|purge|autoremove)\b`), "package install or removal"},
	{regexp.MustCompile(`(?i)git\s+(push\s+[^|;]*--force|reset\s+--hard|clean\s+-[a-z]*f|branch\s+-D)`), "destructive version-control operation"},
	{regexp.MustCompile(`(?i)\b(ssh|scp|sftp|rsync|ftp|telnet|nc)\b`), "remote access or transfer"},
	{regexp.MustCompile(`(?i)\bsystemctl\s+(stop|restart|disable|mask)\b|\bservice\s+\S+\s+(stop|restart)\b`), "service control"},
}

var mediumRules = []rule{
	{regexp.MustCompile(`(?i)\b(mkdir|touch|cp|mv|tee)\b|>{1,2}\s*\S`), "file creation or write"},
	{regexp.MustCompile(`(?i)\b(tar|zip|unzip|gzip|gunzip|7z)\b`), "archive operation"},
	{regexp.MustCompile(`(?i)\b(open|xdg-open|start)\b`), "opening an application or URL"},
}

// sensitivePathRules escalate file reads that touch key material,
// credentials, shell history, or password managers.
var sensitivePathRules = []rule{
	{regexp.MustCompile(`(?i)\.ssh/|id_rsa|id_ed25519|\.pem\b`), "SSH key material"},
	{regexp.MustCompile(`(?i)\.aws/credentials|\.netrc|credentials\.json|\.env\b`), "credential file"},
	{regexp.MustCompile(`(?i)\.(bash|zsh|fish)_history`), "shell history"},
	{regexp.MustCompile(`(?i)\.kdbx\b|keychain|1password|\.gnupg/`), "password manager or keyring"},
	{regexp.MustCompile(`(?i)/etc/(passwd|shadow)\b`), "system account database"},
}

// baselineRisk for non-shell kinds.
var baselineRisk = map[Kind]RiskLevel{
	KindFileRead:    RiskLow,
	KindFileList:    RiskLow,
	KindFileWrite:   RiskMedium,
	KindBrowserOpen: RiskMedium,
	KindClipboard:   RiskLow,
	KindScreenshot:  RiskMedium,
}

func matchAll(rules []rule, text string) []string {
	var reasons []string
	for _, r := range rules {
		if r.re.MatchString(text) {
			reasons = append(reasons, r.reason)
		}
	}
	return reasons
}

// Analyze classifies a command's risk. Pure function over (kind, text):
// callers invoke it fresh on every dispatch attempt.
func Analyze(kind Kind, text string) Analysis {
	if kind == KindShell {
		return analyzeShell(text)
	}
	return analyzeTyped(kind, text)
}

func analyzeShell(text string) Analysis {
	trimmed := strings.TrimSpace(text)

	if reasons := matchAll(criticalRules, trimmed); len(reasons) > 0 {
		// Critical blocks outright; no confirmation path exists.
		return Analysis{
			Risk:        RiskCritical,
			Blocked:     true,
			Warnings:    reasons,
			Explanation: fmt.Sprintf("Blocked: this command matches a destructive pattern (%s). It will not be executed.", strings.Join(reasons, "; ")),
		}
	}

	if reasons := matchAll(highRules, trimmed); len(reasons) > 0 {
		return Analysis{
			Risk:                 RiskHigh,
			RequiresConfirmation: true,
			Warnings:             reasons,
			Explanation:          fmt.Sprintf("High-risk command (%s). Confirmation is required before it runs.", strings.Join(reasons, "; ")),
		}
	}

	if reasons := matchAll(mediumRules, trimmed); len(reasons) > 0 {
		return Analysis{
			Risk:        RiskMedium,
			Warnings:    reasons,
			Explanation: fmt.Sprintf("This command modifies state (%s) but runs without confirmation.", strings.Join(reasons, "; ")),
		}
	}

	return Analysis{
		Risk:        RiskLow,
		Explanation: "No risky pattern detected.",
	}
}

func analyzeTyped(kind Kind, target string) Analysis {
	risk, ok := baselineRisk[kind]
	if !ok {
		risk = RiskLow
	}

	if kind == KindFileRead {
		if reasons := matchAll(sensitivePathRules, target); len(reasons) > 0 {
			return Analysis{
				Risk:                 RiskHigh,
				RequiresConfirmation: true,
				Warnings:             reasons,
				Explanation:          fmt.Sprintf("Reading a sensitive path (%s). Confirmation is required.", strings.Join(reasons, "; ")),
			}
		}
	}

	return Analysis{
		Risk:        risk,
		Explanation: fmt.Sprintf("Baseline risk for %s operations.", kind),
	}
}
