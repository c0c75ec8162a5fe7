package computer

import (
	"os"
	"os/exec"
	"slices"
	"strings"

	"go.uber.org/zap"
)

// Supported language identifiers. Keys are matched case-sensitively.
const (
	LangPython      = "python"
	LangShell       = "shell"
	LangBash        = "bash"
	LangSh          = "sh"
	LangZsh         = "zsh"
	LangJavaScript  = "javascript"
	LangHTML        = "html"
	LangAppleScript = "applescript"
	LangR           = "r"
	LangPowerShell  = "powershell"
	LangGo          = "go"
)

// Options are handed to every session factory.
type Options struct {
	// WorkingDir is the directory processes start in. Empty means the
	// current directory.
	WorkingDir string
	// FilterSecrets drops credential-looking variables from the environment
	// of child processes.
	FilterSecrets bool
	Logger        *zap.Logger
}

// Factory constructs an unstarted session. Factories must be cheap: process
// startup happens on the first Run.
type Factory func(opts Options) (ExecutionSession, error)

// DefaultFactories returns the factory for every supported language.
func DefaultFactories() map[string]Factory {
	return map[string]Factory{
		LangPython:      newPythonSession,
		LangShell:       newShellSession("bash"),
		LangBash:        newShellSession("bash"),
		LangSh:          newShellSession("sh", "bash"),
		LangZsh:         newShellSession("zsh"),
		LangJavaScript:  newJavaScriptSession,
		LangHTML:        newHTMLSession,
		LangAppleScript: newAppleScriptSession,
		LangR:           newRSession,
		LangPowerShell:  newPowerShellSession,
		LangGo:          newGoSession,
	}
}

// SupportedLanguages returns the sorted list of built-in language identifiers.
func SupportedLanguages() []string {
	langs := make([]string, 0, len(DefaultFactories()))
	for lang := range DefaultFactories() {
		langs = append(langs, lang)
	}
	slices.Sort(langs)
	return langs
}

// NormalizeLanguage case-folds and trims a language tag.
func NormalizeLanguage(lang string) string {
	return strings.ToLower(strings.TrimSpace(lang))
}

// sensitiveEnvPatterns are case-insensitive suffixes for environment variables
// that are excluded when secret filtering is on.
var sensitiveEnvPatterns = []string{
	"_API_KEY",
	"_SECRET",
	"_TOKEN",
	"_PASSWORD",
	"_CREDENTIAL",
}

// safeEnvVars are always included regardless of filtering.
var safeEnvVars = map[string]bool{
	"PATH": true, "HOME": true, "USER": true, "SHELL": true,
	"LANG": true, "TERM": true, "TMPDIR": true,
	"GOPATH": true, "GOROOT": true, "NVM_DIR": true, "PYENV_ROOT": true,
	"R_HOME": true, "NODE_PATH": true, "VIRTUAL_ENV": true,
}

func isSensitiveEnvVar(name string) bool {
	upper := strings.ToUpper(name)
	for _, pattern := range sensitiveEnvPatterns {
		if strings.HasSuffix(upper, pattern) {
			return true
		}
	}
	return false
}

// filterEnvironment returns env minus sensitive variables.
func filterEnvironment(env []string) []string {
	var filtered []string
	for _, kv := range env {
		name, _, ok := strings.Cut(kv, "=")
		if !ok {
			continue
		}
		if safeEnvVars[name] || !isSensitiveEnvVar(name) {
			filtered = append(filtered, kv)
		}
	}
	return filtered
}

func (o Options) environ() []string {
	if o.FilterSecrets {
		return filterEnvironment(os.Environ())
	}
	return os.Environ()
}

func (o Options) logger() *zap.Logger {
	if o.Logger == nil {
		return zap.NewNop()
	}
	return o.Logger
}

// lookPath returns the first candidate binary found on PATH.
func lookPath(candidates ...string) (string, error) {
	var firstErr error
	for _, name := range candidates {
		path, err := exec.LookPath(name)
		if err == nil {
			return path, nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return "", firstErr
}
