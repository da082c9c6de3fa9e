package project

import (
	"fmt"
	"os"
	"regexp"
	"strings"

	"gopkg.in/yaml.v3"
)

var varPattern = regexp.MustCompile(`\$\{([^}]*)\}`)

// LookupFunc resolves an environment variable. ok is false when unset.
type LookupFunc func(name string) (value string, ok bool)

// Interpolate substitutes ${VAR} and ${VAR:-default} references in every
// scalar value of the document tree. Mapping keys are left untouched.
// Plain scalars are re-typed after substitution so "${PORT}" can feed an
// integer field. Every unset variable without a default is reported.
func Interpolate(root *yaml.Node, lookup LookupFunc) error {
	if lookup == nil {
		lookup = os.LookupEnv
	}

	var problems []string
	walk(root, false, lookup, &problems)
	if len(problems) > 0 {
		return &ConfigurationError{Problems: problems}
	}
	return nil
}

func walk(node *yaml.Node, isKey bool, lookup LookupFunc, problems *[]string) {
	if node == nil {
		return
	}

	switch node.Kind {
	case yaml.DocumentNode, yaml.SequenceNode:
		for _, child := range node.Content {
			walk(child, false, lookup, problems)
		}
	case yaml.MappingNode:
		for i, child := range node.Content {
			walk(child, i%2 == 0, lookup, problems)
		}
	case yaml.ScalarNode:
		if isKey || !strings.Contains(node.Value, "${") {
			return
		}
		value, missing := ExpandString(node.Value, lookup)
		for _, name := range missing {
			*problems = append(*problems, fmt.Sprintf("line %d: environment variable %q is not set", node.Line, name))
		}
		node.Value = value
		switch {
		case value == "":
			node.Tag = "!!str"
		case isPlain(node):
			node.Tag = ""
		}
	}
}

// ExpandString replaces every ${VAR} reference in s. It returns the
// expanded string and the names of referenced variables that are unset
// and have no default.
func ExpandString(s string, lookup LookupFunc) (string, []string) {
	var missing []string
	out := varPattern.ReplaceAllStringFunc(s, func(ref string) string {
		inner := ref[2 : len(ref)-1]
		name, def, hasDefault := strings.Cut(inner, ":-")
		name = strings.TrimSpace(name)
		if name == "" {
			missing = append(missing, ref)
			return ""
		}
		if value, ok := lookup(name); ok {
			return value
		}
		if hasDefault {
			return def
		}
		missing = append(missing, name)
		return ""
	})
	return out, missing
}

func isPlain(node *yaml.Node) bool {
	quoted := yaml.TaggedStyle | yaml.DoubleQuotedStyle | yaml.SingleQuotedStyle | yaml.LiteralStyle | yaml.FoldedStyle
	return node.Style&quoted == 0
}
