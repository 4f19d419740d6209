package main

import (
	"strings"
	"testing"
)

var subcommands = []string{
	"serve", "run", "send", "wait", "url", "tests", "show", "logs",
	"stats", "clear", "tail", "completion", "version", "help",
}

func TestGenerateBashCompletion(t *testing.T) {
	output := generateBashCompletion()

	if !strings.Contains(output, "complete -F _hookwait hookwait") {
		t.Error("bash completion should register the completion function")
	}
	for _, cmd := range subcommands {
		if !strings.Contains(output, cmd) {
			t.Errorf("bash completion should contain subcommand %q", cmd)
		}
	}
	for _, flag := range []string{"--curl", "--timeout", "--script", "--schema", "--suite", "--var", "--no-server", "--baseline", "--match", "--force"} {
		if !strings.Contains(output, flag) {
			t.Errorf("bash completion should contain flag %q", flag)
		}
	}
	for _, value := range []string{"text json junit", "pending completed timeout", "callback-received"} {
		if !strings.Contains(output, value) {
			t.Errorf("bash completion should offer %q", value)
		}
	}
}

func TestGenerateZshCompletion(t *testing.T) {
	output := generateZshCompletion()

	if !strings.HasPrefix(output, "#compdef hookwait") {
		t.Error("zsh completion should start with #compdef")
	}
	if !strings.Contains(output, `_hookwait "$@"`) {
		t.Error("zsh completion should invoke the completion function")
	}
	for _, cmd := range subcommands {
		if !strings.Contains(output, "'"+cmd+":") {
			t.Errorf("zsh completion should describe subcommand %q", cmd)
		}
	}
	if !strings.Contains(output, "(bash zsh fish)") {
		t.Error("zsh completion should offer shell names")
	}
}

func TestGenerateFishCompletion(t *testing.T) {
	output := generateFishCompletion()

	if !strings.Contains(output, "complete -c hookwait -f") {
		t.Error("fish completion should disable file completion by default")
	}
	for _, cmd := range subcommands {
		if !strings.Contains(output, "-a "+cmd+" -d") {
			t.Errorf("fish completion should contain subcommand %q", cmd)
		}
	}
	for _, flag := range []string{"-l curl", "-l suite", "-l dry-run", "-l copy", "-l server"} {
		if !strings.Contains(output, flag) {
			t.Errorf("fish completion should contain %q", flag)
		}
	}
}
