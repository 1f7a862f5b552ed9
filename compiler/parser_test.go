package compiler

import (
	"strings"
	"testing"
)

func parseSource(t *testing.T, src string) (*Tree, []Token, []*SyntaxError) {
	t.Helper()
	tokens, errs := Scan(src)
	if len(errs) != 0 {
		t.Fatalf("scan errors: %v", errs)
	}
	tree, perrs := Parse(tokens)
	return tree, tokens, perrs
}

func parseExpr(t *testing.T, src string) string {
	t.Helper()
	tokens, errs := Scan(src)
	if len(errs) != 0 {
		t.Fatalf("scan errors: %v", errs)
	}
	p := NewParser(tokens)
	root := p.tree.Add(NodeRoot, 0)
	id := p.parseExpression()
	if len(p.errors) != 0 || id < 0 {
		t.Fatalf("parse %q: %v", src, p.errors)
	}
	p.tree.AddChild(root, id)
	return p.tree.Dump(tokens)
}

func TestParseRuleFile(t *testing.T) {
	src := `import strings
include "common.jy"

rule login {
	match:
		"a" == "b"
		1 + 2 * 3 > 4
}
`
	tree, tokens, errs := parseSource(t, src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	want := `root
  import strings
  include "common.jy"
  rule login
    match
      equality ==
        string "a"
        string "b"
      greater >
        addition +
          long 1
          multiply *
            long 2
            long 3
        long 4
`
	if got := tree.Dump(tokens); got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}
}

func TestParsePrecedence(t *testing.T) {
	got := parseExpr(t, "not a == 1 and b == 2 or c == 3")
	want := `root
  or
    and
      not
        equality ==
          name a
          long 1
      equality ==
        name b
        long 2
    equality ==
      name c
      long 3
`
	if got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}
}

func TestParseParenthesesSpanLines(t *testing.T) {
	got := parseExpr(t, "(1 +\n 2) * 3")
	want := `root
  multiply *
    addition +
      long 1
      long 2
    long 3
`
	if got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}
}

func TestParseAccessors(t *testing.T) {
	got := parseExpr(t, `$login.user == mod.fn(1, "x")`)
	want := `root
  equality ==
    event login
      member user
    call (
      path mod
        name mod
        name fn
      long 1
      string "x"
`
	if got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}
}

func TestParseSectionsAndFields(t *testing.T) {
	src := `ingress login {
	field:
		user string
		port long
}
`
	tree, tokens, errs := parseSource(t, src)
	if len(errs) != 0 {
		t.Fatalf("parse errors: %v", errs)
	}
	want := `root
  ingress login
    fields field
      field user
      field port
`
	if got := tree.Dump(tokens); got != want {
		t.Errorf("Dump =\n%s\nwant\n%s", got, want)
	}
}

func TestParseRecoversAndReportsAll(t *testing.T) {
	src := `rule a {
	match:
		1 ==
		2 == 2
		bogus:
}
rule b {
	match:
		3 == 3
}
`
	tree, _, errs := parseSource(t, src)
	if len(errs) != 2 {
		t.Fatalf("errors = %v, want 2", errs)
	}
	if errs[0].Pos.Line != 3 || errs[1].Pos.Line != 5 {
		t.Errorf("error lines = %d, %d; want 3, 5", errs[0].Pos.Line, errs[1].Pos.Line)
	}

	root := tree.Nodes[0]
	if len(root.Children) != 2 {
		t.Fatalf("root has %d declarations, want 2", len(root.Children))
	}
	match := tree.Nodes[tree.Nodes[root.Children[0]].Children[0]]
	if len(match.Children) != 1 {
		t.Errorf("rule a kept %d entries, want 1", len(match.Children))
	}
}

func TestParseErrors(t *testing.T) {
	tests := []struct {
		name string
		src  string
		want string
	}{
		{"stray section", "match:\n", "expected declaration"},
		{"missing name", "rule {\n}\n", "expected rule name"},
		{"missing brace", "rule a\nmatch:\n", "expected {"},
		{"unterminated body", "rule a {\n\tmatch:\n\t\t1 == 1\n", "unterminated rule body"},
		{"import needs identifier", "import \"x\"\n", "expected IDENTIFIER after import"},
		{"field needs type", "ingress e {\n\tfield:\n\t\tuser\n}\n", "expected field type"},
		{"unclosed call", "rule a {\n\tmatch:\n\t\tf(1\n}\n", "expected )"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, _, errs := parseSource(t, tt.src)
			if len(errs) == 0 {
				t.Fatal("expected a parse error")
			}
			if !strings.Contains(errs[0].Error(), tt.want) {
				t.Errorf("error = %q, want %q", errs[0], tt.want)
			}
		})
	}
}

func TestParseSkipsScannerErrors(t *testing.T) {
	tokens, serrs := Scan("rule a {\n\tmatch:\n\t\t1 == @\n}\n")
	if len(serrs) != 1 {
		t.Fatalf("scan errors = %v, want 1", serrs)
	}
	_, perrs := Parse(tokens)
	if len(perrs) != 0 {
		t.Errorf("parser re-reported the scanner error: %v", perrs)
	}
}
