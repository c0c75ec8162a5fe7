package agentloop

import (
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"strings"
	"time"
)

// DefaultSystemMessage describes the agent's role and how code is run.
const DefaultSystemMessage = `You are Interpreter, a world-class programmer that can complete any goal by executing code.
First, write a plan. Always recap the plan between each code block: you have extreme short-term memory loss, so recap the plan between each message block to retain it.
When you execute code, it will be executed on the user's machine. The user has given you full and complete permission to execute any code necessary to complete the task.
State persists between code blocks of the same language, so variables and imports defined earlier are still available.
If you want to send data between programming languages, save the data to a txt or json file.
You can install new packages. Write messages to the user in Markdown.
In general, try to make plans with as few steps as possible. Do small, informed steps and print intermediate results, because you may not get it right on the first try.
You are capable of any task.`

const maxProjectDocBytes = 32 * 1024

// BuildSystemMessage assembles the system message sent ahead of the history:
// the base message, the runtime environment, project instructions and the
// user's custom instructions, in that order.
func BuildSystemMessage(cfg SessionConfig, languages []string) string {
	base := cfg.SystemMessage
	if base == "" {
		base = DefaultSystemMessage
	}
	parts := []string{base, BuildEnvironmentContext(cfg.WorkingDir, languages, cfg.Model)}
	if docs := DiscoverProjectDocs(cfg.WorkingDir); docs != "" {
		parts = append(parts, docs)
	}
	if cfg.CustomInstructions != "" {
		parts = append(parts, "# User Instructions\n\n"+cfg.CustomInstructions)
	}
	return strings.Join(parts, "\n\n")
}

// BuildEnvironmentContext generates the structured environment context block.
func BuildEnvironmentContext(workingDir string, languages []string, model string) string {
	if workingDir == "" {
		workingDir, _ = os.Getwd()
	}
	var sb strings.Builder
	sb.WriteString("<environment>\n")
	fmt.Fprintf(&sb, "Working directory: %s\n", workingDir)
	if branch := getGitBranch(workingDir); branch != "" {
		fmt.Fprintf(&sb, "Git branch: %s\n", branch)
	}
	fmt.Fprintf(&sb, "Platform: %s/%s\n", runtime.GOOS, runtime.GOARCH)
	fmt.Fprintf(&sb, "Today's date: %s\n", time.Now().Format("2006-01-02"))
	if len(languages) > 0 {
		fmt.Fprintf(&sb, "Languages you can run: %s\n", strings.Join(languages, ", "))
	}
	if model != "" {
		fmt.Fprintf(&sb, "Model: %s\n", model)
	}
	sb.WriteString("</environment>")
	return sb.String()
}

// DiscoverProjectDocs loads AGENTS.md files from the git root (or working
// directory) down to the working directory, capped at 32KB.
func DiscoverProjectDocs(workingDir string) string {
	if workingDir == "" {
		return ""
	}
	root := gitRoot(workingDir)
	if root == "" {
		root = workingDir
	}

	var docs []string
	total := 0
	for _, dir := range collectPathHierarchy(root, workingDir) {
		content, err := os.ReadFile(filepath.Join(dir, "AGENTS.md"))
		if err != nil {
			continue
		}
		remaining := maxProjectDocBytes - total
		if remaining <= 0 {
			docs = append(docs, "[Project instructions truncated at 32KB]")
			break
		}
		text := string(content)
		if len(text) > remaining {
			text = text[:remaining] + "\n[Project instructions truncated at 32KB]"
		}
		docs = append(docs, fmt.Sprintf("# AGENTS.md (from %s)\n\n%s", dir, text))
		total += len(text)
	}
	return strings.Join(docs, "\n\n---\n\n")
}

// collectPathHierarchy returns directories from root to target, inclusive.
func collectPathHierarchy(root, target string) []string {
	root = filepath.Clean(root)
	target = filepath.Clean(target)
	dirs := []string{root}
	rel, err := filepath.Rel(root, target)
	if err != nil || rel == "." || strings.HasPrefix(rel, "..") {
		return dirs
	}
	current := root
	for _, part := range strings.Split(rel, string(filepath.Separator)) {
		current = filepath.Join(current, part)
		dirs = append(dirs, current)
	}
	return dirs
}

func gitRoot(dir string) string {
	return runGit(dir, "rev-parse", "--show-toplevel")
}

func getGitBranch(dir string) string {
	return runGit(dir, "rev-parse", "--abbrev-ref", "HEAD")
}

func runGit(dir string, args ...string) string {
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	out, err := cmd.Output()
	if err != nil {
		return ""
	}
	return strings.TrimSpace(string(out))
}
