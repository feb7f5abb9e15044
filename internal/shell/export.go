package shell

import (
	"fmt"
	"sort"
	"strings"
)

// HookMarker appears in every startup hook line.
const HookMarker = "armtc env"

// Changes returns the variables child sets differently from base, sorted by
// name.
func Changes(base, child []string) []Var {
	before := make(map[string]string, len(base))
	for _, kv := range base {
		if k, v, ok := strings.Cut(kv, "="); ok {
			before[k] = v
		}
	}
	var vars []Var
	for _, kv := range child {
		k, v, ok := strings.Cut(kv, "=")
		if !ok || k == "" {
			continue
		}
		if old, seen := before[k]; seen && old == v {
			continue
		}
		vars = append(vars, Var{Name: k, Value: v})
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i].Name < vars[j].Name })
	return vars
}

// Script renders vars as statements for shell to evaluate.
func Script(shell ShellType, vars []Var) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	var b strings.Builder
	for _, v := range vars {
		switch shell {
		case ShellBash, ShellZsh:
			fmt.Fprintf(&b, "export %s=%s\n", v.Name, posixQuote(v.Value))
		case ShellFish:
			if v.Name == "PATH" {
				// fish keeps PATH as a list.
				fmt.Fprintf(&b, "set -gx PATH (string split -- : %s)\n", fishQuote(v.Value))
				continue
			}
			fmt.Fprintf(&b, "set -gx %s %s\n", v.Name, fishQuote(v.Value))
		case ShellPowerShell:
			fmt.Fprintf(&b, "$env:%s = %s\n", v.Name, powershellQuote(v.Value))
		}
	}
	return b.String(), nil
}

// HookLine returns the line users add to their startup file so new shells
// pick up the active toolchain.
func HookLine(shell ShellType) (string, error) {
	if err := ValidateShell(shell); err != nil {
		return "", err
	}
	switch shell {
	case ShellFish:
		return fmt.Sprintf("%s --shell fish --if-active | source", HookMarker), nil
	case ShellPowerShell:
		return fmt.Sprintf("%s --shell powershell --if-active | Out-String | Invoke-Expression", HookMarker), nil
	default:
		return fmt.Sprintf(`eval "$(%s --shell %s --if-active)"`, HookMarker, shell), nil
	}
}

func posixQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", `'\''`) + "'"
}

func fishQuote(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	return "'" + strings.ReplaceAll(s, "'", `\'`) + "'"
}

func powershellQuote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
