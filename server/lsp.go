package server

import (
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/jary/compiler"
	"github.com/chazu/jary/vm"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "jary-lsp"

// LspServer provides editor features for rule files: diagnostics from the
// scanner, parser and compiler, completion, hover with a rule's bytecode,
// go to definition and references.
type LspServer struct {
	rt *Runtime

	mu   sync.Mutex
	docs map[string]string // URI → full document content

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a language server compiling against rt.
func NewLSP(rt *Runtime) *LspServer {
	s := &LspServer{
		rt:      rt,
		docs:    make(map[string]string),
		version: "0.1.0",
	}

	s.handler = protocol.Handler{
		Initialize:  s.initialize,
		Initialized: s.initialized,
		Shutdown:    s.shutdown,
		SetTrace:    s.setTrace,

		TextDocumentDidOpen:   s.textDocumentDidOpen,
		TextDocumentDidChange: s.textDocumentDidChange,
		TextDocumentDidClose:  s.textDocumentDidClose,

		TextDocumentCompletion: s.textDocumentCompletion,
		TextDocumentHover:      s.textDocumentHover,
		TextDocumentDefinition: s.textDocumentDefinition,
		TextDocumentReferences: s.textDocumentReferences,
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "jary LSP initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{"."},
	}

	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true
	capabilities.ReferencesProvider = true

	return protocol.InitializeResult{
		Capabilities: capabilities,
		ServerInfo: &protocol.InitializeResultServerInfo{
			Name:    lspName,
			Version: &s.version,
		},
	}, nil
}

func (s *LspServer) initialized(ctx *glsp.Context, params *protocol.InitializedParams) error {
	return nil
}

func (s *LspServer) shutdown(ctx *glsp.Context) error {
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text

	s.mu.Lock()
	s.docs[string(uri)] = text
	s.mu.Unlock()

	s.publishDiagnostics(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI

	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.mu.Lock()
			s.docs[string(uri)] = whole.Text
			s.mu.Unlock()

			s.publishDiagnostics(ctx, uri, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) document(uri protocol.DocumentUri) (string, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	text, ok := s.docs[string(uri)]
	return text, ok
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	prefix := extractPrefix(text, params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(text, prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	text, ok := s.document(params.TextDocument.URI)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(text, word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	if locs := definition(uri, text, word); len(locs) > 0 {
		return locs, nil
	}
	return nil, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	text, ok := s.document(uri)
	if !ok {
		return nil, nil
	}
	word := extractWord(text, params.Position)
	if word == "" {
		return nil, nil
	}
	return references(uri, text, word), nil
}

// --- Logic ---

func (s *LspServer) complete(text, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	seen := make(map[string]bool)
	lowerPrefix := strings.ToLower(prefix)

	add := func(label string, kind protocol.CompletionItemKind, detail string) {
		if seen[label] || !strings.HasPrefix(strings.ToLower(label), lowerPrefix) {
			return
		}
		seen[label] = true
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	for _, kw := range compiler.Keywords() {
		add(kw, protocol.CompletionItemKindKeyword, "keyword")
	}
	for _, decl := range declarations(text) {
		if decl.kind == compiler.TokenRule {
			add(decl.name, protocol.CompletionItemKindClass, "rule")
		} else {
			add(decl.name, protocol.CompletionItemKindModule, "module")
		}
	}
	if s.rt != nil && s.rt.Modules != nil {
		for _, n := range s.rt.Modules.Defs.Names().All() {
			if n.Kind == vm.KindFunc {
				add(n.Text, protocol.CompletionItemKindFunction, s.functionSignature(n.Text))
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

func (s *LspServer) functionSignature(name string) string {
	v, k, ok := s.rt.Modules.Defs.Find(name)
	if !ok || k != vm.KindFunc {
		return ""
	}
	fn, err := vm.FuncAt(s.rt.Modules.Heap, v.Offset())
	if err != nil {
		return ""
	}
	return fn.String()
}

func (s *LspServer) hover(text, word string) *protocol.Hover {
	var b strings.Builder
	switch {
	case isRule(text, word):
		var opts []compiler.Option
		if s.rt != nil {
			opts = s.rt.CompilerOptions()
		}
		prog, err := compiler.CompileSource("hover.jy", text, opts...)
		if err != nil {
			fmt.Fprintf(&b, "**rule %s**\n\ndoes not compile: %s", word, err)
			break
		}
		r, _ := prog.Rule(word)
		fmt.Fprintf(&b, "**rule %s**\n\n", word)
		if r.Start == r.End {
			b.WriteString("empty rule, never matches")
			break
		}
		fmt.Fprintf(&b, "```\n%s\n```", vm.Disassemble(prog.RuleCode(r), prog.Pool))

	case s.rt != nil && s.rt.Modules != nil && s.functionSignature(word) != "":
		fmt.Fprintf(&b, "**%s** `%s`", word, s.functionSignature(word))

	case isKeyword(word):
		fmt.Fprintf(&b, "keyword **%s**", word)

	default:
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

// declaration is a rule or import name with the token naming it.
type declaration struct {
	kind compiler.TokenType
	name string
	tok  compiler.Token
}

// declarations lists rule and import names in source order. It scans
// rather than parses so it works on documents with errors.
func declarations(text string) []declaration {
	tokens, _ := compiler.Scan(text)
	var decls []declaration
	for i := 0; i+1 < len(tokens); i++ {
		kind := tokens[i].Type
		if (kind == compiler.TokenRule || kind == compiler.TokenImport) && tokens[i+1].Type == compiler.TokenIdentifier {
			decls = append(decls, declaration{kind: kind, name: tokens[i+1].Lexeme, tok: tokens[i+1]})
		}
	}
	return decls
}

func isRule(text, word string) bool {
	for _, d := range declarations(text) {
		if d.kind == compiler.TokenRule && d.name == word {
			return true
		}
	}
	return false
}

func isKeyword(word string) bool {
	for _, kw := range compiler.Keywords() {
		if kw == word {
			return true
		}
	}
	return false
}

func definition(uri protocol.DocumentUri, text, word string) []protocol.Location {
	var locs []protocol.Location
	for _, d := range declarations(text) {
		if d.name == word {
			locs = append(locs, protocol.Location{URI: uri, Range: tokenRange(d.tok.Pos, len(d.tok.Lexeme))})
		}
	}
	return locs
}

func references(uri protocol.DocumentUri, text, word string) []protocol.Location {
	tokens, _ := compiler.Scan(text)
	var locs []protocol.Location
	for _, tok := range tokens {
		if tok.Type == compiler.TokenIdentifier && tok.Lexeme == word {
			locs = append(locs, protocol.Location{URI: uri, Range: tokenRange(tok.Pos, len(tok.Lexeme))})
		}
	}
	return locs
}

// --- Diagnostics ---

func (s *LspServer) publishDiagnostics(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	var opts []compiler.Option
	if s.rt != nil {
		opts = s.rt.CompilerOptions()
	}
	diagnostics := diagnose(text, opts...)

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

// diagnose compiles text and reports every scan and parse error, or the
// first compile error.
func diagnose(text string, opts ...compiler.Option) []protocol.Diagnostic {
	_, err := compiler.CompileSource("document.jy", text, opts...)
	if err == nil {
		return []protocol.Diagnostic{}
	}

	severity := protocol.DiagnosticSeverityError
	source := lspName
	diag := func(r protocol.Range, msg string) protocol.Diagnostic {
		return protocol.Diagnostic{Range: r, Severity: &severity, Source: &source, Message: msg}
	}

	var se *compiler.SourceError
	if errors.As(err, &se) {
		diagnostics := make([]protocol.Diagnostic, 0, len(se.Errors))
		for _, e := range se.Errors {
			diagnostics = append(diagnostics, diag(tokenRange(e.Pos, 1), e.Msg))
		}
		return diagnostics
	}

	var ce *compiler.CompileError
	if errors.As(err, &ce) {
		msg := fmt.Sprintf("%s: %s", ce.Kind, ce.Msg)
		if ce.Err != nil {
			msg += ": " + ce.Err.Error()
		}
		return []protocol.Diagnostic{diag(tokenRange(ce.Token.Pos, len(ce.Token.Lexeme)), msg)}
	}

	return []protocol.Diagnostic{diag(tokenRange(compiler.Position{}, 0), err.Error())}
}

// tokenRange converts a 1-based source position to an LSP range of n
// characters.
func tokenRange(pos compiler.Position, n int) protocol.Range {
	line, col := pos.Line-1, pos.Column-1
	if line < 0 {
		line = 0
	}
	if col < 0 {
		col = 0
	}
	if n < 1 {
		n = 1
	}
	return protocol.Range{
		Start: protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col)},
		End:   protocol.Position{Line: protocol.UInteger(line), Character: protocol.UInteger(col + n)},
	}
}

// --- Text extraction helpers ---

// extractPrefix returns the word fragment before the cursor for completion.
func extractPrefix(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	// Walk backwards from cursor to find the start of the identifier
	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

// extractWord returns the full identifier under the cursor.
func extractWord(text string, pos protocol.Position) string {
	lines := strings.Split(text, "\n")
	if int(pos.Line) >= len(lines) {
		return ""
	}
	line := lines[pos.Line]
	col := int(pos.Character)
	if col > len(line) {
		col = len(line)
	}

	start := col
	for start > 0 && isWordChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isWordChar(rune(line[end])) {
		end++
	}
	if start == end {
		return ""
	}
	return line[start:end]
}

func isWordChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

func boolPtr(b bool) *bool {
	return &b
}
