// Package langserver implements an LSP server over element assembly
// source: diagnostics from the Parser/Resolver, completion over opcode
// mnemonics and metadata directives, hover for fields/registers/opcodes,
// and go-to-definition/references for labels.
package langserver

import (
	"fmt"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"sync"
	"unicode"

	"github.com/tliron/commonlog"
	"github.com/tliron/glsp"
	protocol "github.com/tliron/glsp/protocol_3_16"
	glspserver "github.com/tliron/glsp/server"

	"github.com/ewal-lang/ewal/pkg/asm/ast"
	"github.com/ewal-lang/ewal/pkg/asm/parser"
	"github.com/ewal-lang/ewal/pkg/asm/resolve"
	"github.com/ewal-lang/ewal/pkg/bytecode"

	_ "github.com/tliron/commonlog/simple"
)

const lspName = "ewal-lsp"

// LspServer bridges LSP editor features to the assembler via AssemblerWorker.
type LspServer struct {
	worker *AssemblerWorker

	mu   sync.Mutex
	docs map[string]*docAnalysis // URI -> last analysis

	handler protocol.Handler
	server  *glspserver.Server
	version string
}

// docAnalysis is the parse/resolve result for one open document.
type docAnalysis struct {
	text string
	file *ast.File // nil if parsing failed
	prog *resolve.Program
	err  error // first error encountered, lexer/parser/resolve
	errLine, errCol int
}

// NewLSP creates an LSP server backed by the manifest found in dir (nil if
// none).
func NewLSP(dir string) *LspServer {
	w, err := loadWorkerFor(dir)
	if err != nil {
		w = NewAssemblerWorker(nil)
	}
	s := &LspServer{
		worker:  w,
		docs:    make(map[string]*docAnalysis),
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

func loadWorkerFor(dir string) (*AssemblerWorker, error) {
	m, err := loadManifestOrNil(dir)
	if err != nil {
		return nil, err
	}
	return NewAssemblerWorker(m), nil
}

// Run starts the LSP server on stdio. Blocks until the client disconnects.
func (s *LspServer) Run() error {
	return s.server.RunStdio()
}

// --- LSP lifecycle handlers ---

func (s *LspServer) initialize(ctx *glsp.Context, params *protocol.InitializeParams) (any, error) {
	commonlog.NewInfoMessage(0, "ewal-lsp initializing")

	capabilities := s.handler.CreateServerCapabilities()

	syncKind := protocol.TextDocumentSyncKindFull
	capabilities.TextDocumentSync = &protocol.TextDocumentSyncOptions{
		OpenClose: boolPtr(true),
		Change:    &syncKind,
	}

	capabilities.CompletionProvider = &protocol.CompletionOptions{
		TriggerCharacters: []string{".", "$", "%", "#"},
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
	s.worker.Stop()
	return nil
}

func (s *LspServer) setTrace(ctx *glsp.Context, params *protocol.SetTraceParams) error {
	return nil
}

// --- Document synchronization ---

func (s *LspServer) textDocumentDidOpen(ctx *glsp.Context, params *protocol.DidOpenTextDocumentParams) error {
	uri := params.TextDocument.URI
	text := params.TextDocument.Text
	s.analyzeAndPublish(ctx, uri, text)
	return nil
}

func (s *LspServer) textDocumentDidChange(ctx *glsp.Context, params *protocol.DidChangeTextDocumentParams) error {
	uri := params.TextDocument.URI
	if len(params.ContentChanges) == 0 {
		return nil
	}
	last := params.ContentChanges[len(params.ContentChanges)-1]
	if whole, ok := last.(protocol.TextDocumentContentChangeEventWhole); ok {
		s.analyzeAndPublish(ctx, uri, whole.Text)
	}
	return nil
}

func (s *LspServer) textDocumentDidClose(ctx *glsp.Context, params *protocol.DidCloseTextDocumentParams) error {
	uri := params.TextDocument.URI

	s.mu.Lock()
	delete(s.docs, string(uri))
	s.mu.Unlock()

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: []protocol.Diagnostic{},
	})
	return nil
}

// --- Language features ---

func (s *LspServer) textDocumentCompletion(ctx *glsp.Context, params *protocol.CompletionParams) (any, error) {
	uri := params.TextDocument.URI
	prefix := extractPrefix(s.docText(uri), params.Position)
	if prefix == "" {
		return nil, nil
	}
	return s.complete(s.docAnalysisFor(uri), prefix), nil
}

func (s *LspServer) textDocumentHover(ctx *glsp.Context, params *protocol.HoverParams) (*protocol.Hover, error) {
	uri := params.TextDocument.URI
	word := extractWord(s.docText(uri), params.Position)
	if word == "" {
		return nil, nil
	}
	return s.hover(s.docAnalysisFor(uri), word), nil
}

func (s *LspServer) textDocumentDefinition(ctx *glsp.Context, params *protocol.DefinitionParams) (any, error) {
	uri := params.TextDocument.URI
	word := extractWord(s.docText(uri), params.Position)
	if word == "" {
		return nil, nil
	}
	loc := s.definition(uri, s.docAnalysisFor(uri), word)
	if loc == nil {
		return nil, nil
	}
	return []protocol.Location{*loc}, nil
}

func (s *LspServer) textDocumentReferences(ctx *glsp.Context, params *protocol.ReferenceParams) ([]protocol.Location, error) {
	uri := params.TextDocument.URI
	word := extractWord(s.docText(uri), params.Position)
	if word == "" {
		return nil, nil
	}
	return s.references(uri, s.docAnalysisFor(uri), word), nil
}

// --- Analysis (parse + resolve, called on document change) ---

func (s *LspServer) analyzeAndPublish(ctx *glsp.Context, uri protocol.DocumentUri, text string) {
	elementName := elementNameFromURI(string(uri))
	analysis := s.analyze(text, elementName)

	s.mu.Lock()
	s.docs[string(uri)] = analysis
	s.mu.Unlock()

	var diagnostics []protocol.Diagnostic
	if analysis.err != nil {
		severity := protocol.DiagnosticSeverityError
		source := lspName
		diagnostics = append(diagnostics, protocol.Diagnostic{
			Range: protocol.Range{
				Start: protocol.Position{Line: protocol.UInteger(max0(analysis.errLine - 1)), Character: protocol.UInteger(max0(analysis.errCol - 1))},
				End:   protocol.Position{Line: protocol.UInteger(max0(analysis.errLine - 1)), Character: protocol.UInteger(max0(analysis.errCol))},
			},
			Severity: &severity,
			Source:   &source,
			Message:  analysis.err.Error(),
		})
	}

	go ctx.Notify(protocol.ServerTextDocumentPublishDiagnostics, protocol.PublishDiagnosticsParams{
		URI:         uri,
		Diagnostics: diagnostics,
	})
}

func (s *LspServer) analyze(text, elementName string) *docAnalysis {
	a := &docAnalysis{text: text}

	file, err := parser.Parse(text)
	if err != nil {
		a.err = err
		a.errLine, a.errCol = errorPosition(err)
		return a
	}
	a.file = file

	resolveType := s.worker.TypeResolverFor(elementName)
	selfType := s.worker.SelfTypeNumber(elementName)
	prog, err := resolve.Resolve(file, selfType, resolveType)
	if err != nil {
		a.err = err
		a.errLine, a.errCol = errorPosition(err)
		return a
	}
	a.prog = prog
	return a
}

func errorPosition(err error) (line, col int) {
	switch e := err.(type) {
	case *parser.Error:
		return e.Line, e.Column
	case *resolve.Error:
		return e.Line, 1
	}
	return 1, 1
}

func (s *LspServer) docText(uri protocol.DocumentUri) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	if a, ok := s.docs[string(uri)]; ok {
		return a.text
	}
	return ""
}

func (s *LspServer) docAnalysisFor(uri protocol.DocumentUri) *docAnalysis {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.docs[string(uri)]
}

// --- Completion ---

// directiveKeywords are the metadata-header directive names, hardcoded
// since this vocabulary is part of the grammar itself rather than
// something discoverable from a document.
var directiveKeywords = []string{
	".name", ".symbol", ".desc", ".author", ".license",
	".radius", ".bgcolor", ".fgcolor", ".symmetries", ".field", ".parameter",
}

func (s *LspServer) complete(a *docAnalysis, prefix string) []protocol.CompletionItem {
	var items []protocol.CompletionItem
	lower := strings.ToLower(prefix)

	for _, name := range bytecode.Mnemonics() {
		if strings.HasPrefix(name, lower) {
			kind := protocol.CompletionItemKindKeyword
			detail := "instruction"
			nameCopy := name
			items = append(items, protocol.CompletionItem{
				Label: name, Kind: &kind, Detail: &detail, InsertText: &nameCopy,
			})
		}
	}

	for _, d := range directiveKeywords {
		if strings.HasPrefix(d, prefix) {
			kind := protocol.CompletionItemKindKeyword
			detail := "directive"
			dCopy := d
			items = append(items, protocol.CompletionItem{
				Label: d, Kind: &kind, Detail: &detail, InsertText: &dCopy,
			})
		}
	}

	if a != nil && a.file != nil {
		for _, n := range a.file.Body {
			if lbl, ok := n.(ast.Label); ok && strings.HasPrefix(strings.ToLower(lbl.Name), lower) {
				kind := protocol.CompletionItemKindReference
				detail := "label"
				nameCopy := lbl.Name
				items = append(items, protocol.CompletionItem{
					Label: lbl.Name, Kind: &kind, Detail: &detail, InsertText: &nameCopy,
				})
			}
		}
	}

	sort.Slice(items, func(i, j int) bool { return items[i].Label < items[j].Label })
	const maxItems = 100
	if len(items) > maxItems {
		items = items[:maxItems]
	}
	return items
}

// --- Hover ---

func (s *LspServer) hover(a *docAnalysis, word string) *protocol.Hover {
	if strings.HasPrefix(word, "r") {
		if word == "r?" || (len(word) > 1 && isAllDigits(word[1:])) {
			return markdownHover(registerHoverText(word))
		}
	}

	if op, ok := bytecode.OpcodeByName(strings.ToLower(word)); ok {
		return markdownHover(fmt.Sprintf("**%s**\n\n%d operand slot(s)", op.String(), op.NumArgs()))
	}

	if a != nil && a.file != nil {
		for _, d := range a.file.Header {
			if d.Op == "field" && len(d.Args) == 3 && d.Args[0] == word {
				return markdownHover(fmt.Sprintf("**$%s**\n\nfield, offset=%s length=%s", word, d.Args[1], d.Args[2]))
			}
			if d.Op == "parameter" && len(d.Args) == 2 && d.Args[0] == word {
				return markdownHover(fmt.Sprintf("**%s**\n\nparameter, default=%s", word, d.Args[1]))
			}
		}
		for _, n := range a.file.Body {
			if lbl, ok := n.(ast.Label); ok && lbl.Name == word {
				return markdownHover(fmt.Sprintf("**%s:**\n\nlabel at line %d", word, lbl.Line))
			}
		}
	}

	return nil
}

func registerHoverText(word string) string {
	if word == "r?" {
		return "**r?**\n\nread-only random register"
	}
	return fmt.Sprintf("**%s**\n\ngeneral-purpose register", word)
}

func markdownHover(text string) *protocol.Hover {
	return &protocol.Hover{
		Contents: protocol.MarkupContent{Kind: protocol.MarkupKindMarkdown, Value: text},
	}
}

// --- Definition / references ---

func (s *LspServer) definition(uri protocol.DocumentUri, a *docAnalysis, word string) *protocol.Location {
	if a == nil || a.file == nil {
		return nil
	}
	for _, n := range a.file.Body {
		if lbl, ok := n.(ast.Label); ok && lbl.Name == word {
			return &protocol.Location{
				URI: uri,
				Range: protocol.Range{
					Start: protocol.Position{Line: protocol.UInteger(max0(lbl.Line - 1))},
					End:   protocol.Position{Line: protocol.UInteger(max0(lbl.Line - 1))},
				},
			}
		}
	}
	return nil
}

func (s *LspServer) references(uri protocol.DocumentUri, a *docAnalysis, word string) []protocol.Location {
	if a == nil || a.file == nil {
		return nil
	}
	var locs []protocol.Location
	for _, n := range a.file.Body {
		inst, ok := n.(ast.Instruction)
		if !ok {
			continue
		}
		for _, arg := range inst.Args {
			if arg.Kind == ast.ArgLabel && arg.Label == word {
				locs = append(locs, protocol.Location{
					URI: uri,
					Range: protocol.Range{
						Start: protocol.Position{Line: protocol.UInteger(max0(inst.Line - 1))},
						End:   protocol.Position{Line: protocol.UInteger(max0(inst.Line - 1))},
					},
				})
			}
		}
	}
	return locs
}

// --- helpers ---

func elementNameFromURI(uri string) string {
	base := filepath.Base(uri)
	return strings.TrimSuffix(base, filepath.Ext(base))
}

func isAllDigits(s string) bool {
	if s == "" {
		return false
	}
	for _, c := range s {
		if !unicode.IsDigit(c) {
			return false
		}
	}
	_, err := strconv.Atoi(s)
	return err == nil
}

func max0(n int) int {
	if n < 0 {
		return 0
	}
	return n
}

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
	start := col
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '.' || ch == '$' || ch == '%' || ch == '#' {
			start--
		} else {
			break
		}
	}
	if start == col {
		return ""
	}
	return line[start:col]
}

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
	for start > 0 {
		ch := rune(line[start-1])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '?' {
			start--
		} else {
			break
		}
	}
	end := col
	for end < len(line) {
		ch := rune(line[end])
		if unicode.IsLetter(ch) || unicode.IsDigit(ch) || ch == '_' || ch == '?' {
			end++
		} else {
			break
		}
	}
	if start == end {
		return ""
	}
	return line[start:end]
}

func boolPtr(b bool) *bool {
	return &b
}
