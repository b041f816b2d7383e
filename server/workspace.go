package server

import (
	"fmt"
	"strings"

	"github.com/chazu/eira/compiler"
)

// Declaration is a name declared in a document.
type Declaration struct {
	Name   string
	Kind   string // mark, bind, seal, spell, sign, tome, field
	Detail string
	Pos    compiler.Position
}

// Document is the state of one open editor buffer.
type Document struct {
	Text string
	// Decls come from the last version that parsed, so completion keeps
	// working while the buffer is broken.
	Decls []Declaration
	// Err is the first stage error of the current text, or nil.
	Err error
}

// Workspace holds the open documents. It is owned by a Worker.
type Workspace struct {
	importer compiler.Importer
	docs     map[string]*Document
}

// NewWorkspace creates an empty workspace. importer resolves channel
// statements and may be nil.
func NewWorkspace(importer compiler.Importer) *Workspace {
	return &Workspace{
		importer: importer,
		docs:     make(map[string]*Document),
	}
}

// Update stores the new text of uri and checks it.
func (ws *Workspace) Update(uri, text string) *Document {
	doc, ok := ws.docs[uri]
	if !ok {
		doc = &Document{}
		ws.docs[uri] = doc
	}
	doc.Text = text

	prog, err := compiler.Parse(text)
	if err != nil {
		doc.Err = err
		return doc
	}
	doc.Decls = declarations(prog)
	doc.Err = compiler.Check(text, compiler.WithImporter(ws.importer), compiler.WithFileName(uri))
	return doc
}

// Get returns the document for uri, or nil.
func (ws *Workspace) Get(uri string) *Document {
	return ws.docs[uri]
}

// Close forgets uri.
func (ws *Workspace) Close(uri string) {
	delete(ws.docs, uri)
}

// Lookup returns the declaration named name in doc.
func (doc *Document) Lookup(name string) (Declaration, bool) {
	for _, d := range doc.Decls {
		if d.Name == name {
			return d, true
		}
	}
	return Declaration{}, false
}

func declarations(prog *compiler.Program) []Declaration {
	var decls []Declaration
	for _, s := range prog.Stmts {
		switch n := s.(type) {
		case *compiler.VarDecl:
			decls = append(decls, varDeclaration(n))
		case *compiler.SpellDecl:
			decls = append(decls, spellDeclaration(n))
		case *compiler.SignDecl:
			fields := make([]string, len(n.Fields))
			for i, f := range n.Fields {
				fields[i] = f.Name + ": " + f.WeaveName
				decls = append(decls, Declaration{
					Name:   f.Name,
					Kind:   "field",
					Detail: fmt.Sprintf("%s.%s: %s", n.Name, f.Name, f.WeaveName),
					Pos:    f.PosVal,
				})
			}
			decls = append(decls, Declaration{
				Name:   n.Name,
				Kind:   "sign",
				Detail: fmt.Sprintf("sign %s { %s }", n.Name, strings.Join(fields, ", ")),
				Pos:    n.PosVal,
			})
		case *compiler.AttuneDecl:
			for _, sp := range n.Spells {
				d := spellDeclaration(sp)
				d.Detail = "attune " + n.Sign + ": " + d.Detail
				decls = append(decls, d)
			}
		case *compiler.TomeDecl:
			var members []string
			for _, m := range n.Members {
				var d Declaration
				if m.Var != nil {
					d = varDeclaration(m.Var)
					d.Kind = "field"
				} else {
					d = spellDeclaration(m.Spell)
				}
				access := "forge"
				if m.Secret {
					access = "secret"
				}
				d.Detail = access + " " + n.Name + ": " + d.Detail
				members = append(members, d.Name)
				decls = append(decls, d)
			}
			decls = append(decls, Declaration{
				Name:   n.Name,
				Kind:   "tome",
				Detail: fmt.Sprintf("tome %s { %s }", n.Name, strings.Join(members, ", ")),
				Pos:    n.PosVal,
			})
		}
	}
	return decls
}

func varDeclaration(n *compiler.VarDecl) Declaration {
	detail := n.Kind.String() + " " + n.Name
	if n.WeaveName != "" {
		detail += ": " + n.WeaveName
	}
	return Declaration{Name: n.Name, Kind: n.Kind.String(), Detail: detail, Pos: n.PosVal}
}

func spellDeclaration(n *compiler.SpellDecl) Declaration {
	params := make([]string, len(n.Params))
	for i, p := range n.Params {
		params[i] = p.Name + ": " + p.WeaveName
	}
	detail := fmt.Sprintf("spell %s(%s)", n.Name, strings.Join(params, ", "))
	if n.ReturnName != "" {
		detail += " :: " + n.ReturnName
	}
	return Declaration{Name: n.Name, Kind: "spell", Detail: detail, Pos: n.PosVal}
}
