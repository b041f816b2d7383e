package server

import (
	"fmt"
	"sort"
	"strings"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/chazu/eira/compiler"
)

const lspName = "eira-lsp"

var log = commonlog.GetLogger("eira.server")

// LspServer bridges LSP editor features to the compiler front end via
// Worker.
type LspServer struct {
	worker *Worker

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// NewLSP creates a new LSP server. importer resolves channel statements in
// open documents and may be nil.
func NewLSP(importer compiler.Importer) *LspServer {
	s := &LspServer{
		worker:  NewWorker(NewWorkspace(importer)),
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
	}

	s.server = glspserver.NewServer(&s.handler, lspName, false)

	return s
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	defer s.worker.Stop()
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	log.Info("initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{}
	capabilities.HoverProvider = true
	capabilities.DefinitionProvider = true

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
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	s.update(ctx, params.TextDocument.URI, params.TextDocument.Text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	// With Full sync, the last change event contains the full text
	if len(params.ContentChanges) > 0 {
		last := params.ContentChanges[len(params.ContentChanges)-1]
		if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
			s.update(ctx, params.TextDocument.URI, whole.Text)
		}
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI
	if _, err := s.worker.Do(func(ws *Workspace) interface{} {
		ws.Close(string(uri))
		return nil
	}); err != nil {
		return err
	}

	// Clear diagnostics for the closed document
	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

func (s *LspServer) update(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	res, err := s.worker.Do(func(ws *Workspace) interface{} {
		return diagnostics(ws.Update(string(uri), text))
	})
	if err != nil {
		log.Errorf("checking %s: %s", uri, err)
		return
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: res.([]protocol.Diagnostic),
	})
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	uri := string(params.TextDocument.URI)
	pos := params.Position

	res, err := s.worker.Do(func(ws *Workspace) interface{} {
		doc := ws.Get(uri)
		if doc == nil {
			return []protocol.CompletionItem(nil)
		}
		prefix := extractPrefix(doc.Text, pos)
		if prefix == "" {
			return []protocol.CompletionItem(nil)
		}
		return complete(doc, prefix)
	})
	if err != nil {
		return nil, err
	}
	return res, nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := string(params.TextDocument.URI)
	pos := params.Position

	res, err := s.worker.Do(func(ws *Workspace) interface{} {
		doc := ws.Get(uri)
		if doc == nil {
			return (*protocol.Hover)(nil)
		}
		return hover(doc, extractWord(doc.Text, pos))
	})
	if err != nil {
		return nil, nil
	}
	return res.(*protocol.Hover), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	pos := params.Position

	res, err := s.worker.Do(func(ws *Workspace) interface{} {
		doc := ws.Get(string(uri))
		if doc == nil {
			return []protocol.Location(nil)
		}
		return definition(uri, doc, extractWord(doc.Text, pos))
	})
	if err != nil {
		return nil, nil
	}
	return res, nil
}

// --- Workspace-backed logic (called on worker goroutine) ---

// diagnostics reports the first stage error of doc, if any.
func diagnostics(doc *Document) []protocol.Diagnostic {
	if doc.Err == nil {
		return []protocol.Diagnostic{}
	}

	var rng protocol.Range
	if pos, ok := compiler.ErrorPosition(doc.Err); ok {
		rng = wordRange(doc.Text, pos)
	}
	severity := protocol.DiagnosticSeverityError
	source := lspName
	message := compiler.ErrorMessage(doc.Err)
	if se, ok := doc.Err.(compiler.StageError); ok {
		message = se.Stage() + ": " + message
	}
	return []protocol.Diagnostic{{
		Range:    rng,
		Severity: &severity,
		Source:   &source,
		Message:  message,
	}}
}

var keywordDocs = map[string]string{
	"mark":    "Declares a mutable binding.",
	"bind":    "Declares a mutable binding that requires an initializer.",
	"seal":    "Declares an immutable binding.",
	"spell":   "Declares a spell: `spell name(p: Weave) :: Weave { ... }`.",
	"release": "Returns a value from the enclosing spell.",
	"cast":    "Calls a spell (`cast f with a, b`) or constructs a sign (`cast Sign { f: v }`).",
	"sign":    "Declares a struct-like weave with named fields.",
	"attune":  "Attaches spells to a sign.",
	"tome":    "Declares a class-like weave with forge and secret members.",
	"fate":    "Conditional: `fate cond { ... } divert { ... }`.",
	"divert":  "The alternative branch of a fate.",
	"while":   "Repeats a block while the condition holds.",
	"sever":   "Leaves the innermost loop.",
	"flow":    "Continues with the next iteration of the innermost loop.",
	"chant":   "Writes a value to the program output.",
	"channel": "Imports another unit: `channel std::math;`.",
}

func complete(doc *Document, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lowerPrefix := strings.ToLower(prefix)
	matches := func(name string) bool {
		return strings.HasPrefix(strings.ToLower(name), lowerPrefix)
	}
	add := func(label, detail string, kind protocol.CompletionItemKind) {
		labelCopy, detailCopy := label, detail
		items = append(items, protocol.CompletionItem{
			Label:      label,
			Kind:       &kind,
			Detail:     &detailCopy,
			InsertText: &labelCopy,
		})
	}

	// Declared names
	seen := make(map[string]bool)
	for _, d := range doc.Decls {
		if seen[d.Name] || !matches(d.Name) {
			continue
		}
		seen[d.Name] = true
		add(d.Name, d.Detail, completionKind(d.Kind))
	}

	// Built-in weaves
	for _, w := range compiler.BuiltinWeaves() {
		if matches(w.Name) {
			add(w.Name, "weave", protocol.CompletionItemKindClass)
		}
	}

	// Keywords
	for _, kw := range compiler.Keywords() {
		if matches(kw) {
			add(kw, "keyword", protocol.CompletionItemKindKeyword)
		}
	}

	// Limit results
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}

	return items
}

func completionKind(kind string) protocol.CompletionItemKind {
	switch kind {
	case "spell":
		return protocol.CompletionItemKindFunction
	case "sign":
		return protocol.CompletionItemKindStruct
	case "tome":
		return protocol.CompletionItemKindClass
	case "field":
		return protocol.CompletionItemKindField
	case "seal":
		return protocol.CompletionItemKindConstant
	}
	return protocol.CompletionItemKindVariable
}

func hover(doc *Document, word string) *protocol.Hover {
	if word == "" {
		return nil
	}

	var b strings.Builder
	if w := builtinWeave(word); w != nil {
		fmt.Fprintf(&b, "**%s**\n\n", w.Name)
		strands := strings.Split(w.Strands.String(), "|")
		sort.Strings(strands)
		fmt.Fprintf(&b, "Strands: %s", strings.Join(strands, ", "))
	} else if d, ok := doc.Lookup(word); ok {
		fmt.Fprintf(&b, "```eira\n%s\n```\n\nDeclared at line %d", d.Detail, d.Pos.Line)
	} else if text, ok := keywordDocs[word]; ok {
		fmt.Fprintf(&b, "**%s**\n\n%s", word, text)
	} else {
		return nil
	}

	return &protocol.Hover{
		Contents: protocol.MarkupContent{
			Kind:  protocol.MarkupKindMarkdown,
			Value: b.String(),
		},
	}
}

func builtinWeave(name string) *compiler.Weave {
	for _, w := range compiler.BuiltinWeaves() {
		if w.Name == name {
			return w
		}
	}
	return nil
}

func definition(uri protocol.DocumentUri, doc *Document, word string) []protocol.Location {
	if word == "" {
		return nil
	}
	d, ok := doc.Lookup(word)
	if !ok {
		return nil
	}
	return []protocol.Location{{
		URI:   uri,
		Range: wordRange(doc.Text, d.Pos),
	}}
}

// --- Text extraction helpers ---

// wordRange converts a 1-based source position to an LSP range covering
// the identifier starting there, or a single character.
func wordRange(text string, pos compiler.Position) protocol.Range {
	line := protocol.UInteger(0)
	if pos.Line > 0 {
		line = protocol.UInteger(pos.Line - 1)
	}
	col := 0
	if pos.Column > 0 {
		col = pos.Column - 1
	}

	end := col + 1
	lines := strings.Split(text, "\n")
	if int(line) < len(lines) {
		l := lines[line]
		end = col
		for end < len(l) && isIdentChar(rune(l[end])) {
			end++
		}
		if end == col {
			end = col + 1
		}
	}
	return protocol.Range{
		Start: protocol.Position{Line: line, Character: protocol.UInteger(col)},
		End:   protocol.Position{Line: line, Character: protocol.UInteger(end)},
	}
}

func isIdentChar(ch rune) bool {
	return unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_'
}

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
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
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
	for start > 0 && isIdentChar(rune(line[start-1])) {
		start--
	}
	end := col
	for end < len(line) && isIdentChar(rune(line[end])) {
		end++
	}

	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
