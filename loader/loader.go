// Package loader parses an SCXML document into a model.Machine (spec.md
// §4.8). It decodes into a generic, namespace-aware XML tree first
// (encoding/xml's recursive ",any" trick) and then walks that tree
// building states, transitions and executable content, mirroring the
// recursive-descent structure of the original parser this spec was
// distilled from (SCXMLParser.cpp / StateNodeParser.cpp).
package loader

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/scxml-go/runtime/internal/model"
)

// node is a generic, order-preserving XML element: every SCXML element
// (and any foreign-namespace extension element) decodes into one of
// these before we interpret it.
type node struct {
	XMLName xml.Name
	Attrs   []xml.Attr `xml:",any,attr"`
	Text    string     `xml:",chardata"`
	Nodes   []node     `xml:",any"`
}

func localName(n xml.Name) string { return n.Local }

func attr(n node, name string) string {
	for _, a := range n.Attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

func attrsMap(n node) map[string]string {
	out := make(map[string]string, len(n.Attrs))
	for _, a := range n.Attrs {
		out[a.Name.Local] = a.Value
	}
	return out
}

func childrenNamed(n node, names ...string) []node {
	set := make(map[string]bool, len(names))
	for _, x := range names {
		set[x] = true
	}
	var out []node
	for _, c := range n.Nodes {
		if set[localName(c.XMLName)] {
			out = append(out, c)
		}
	}
	return out
}

func firstChildNamed(n node, name string) (node, bool) {
	for _, c := range n.Nodes {
		if localName(c.XMLName) == name {
			return c, true
		}
	}
	return node{}, false
}

var stateTagNames = map[string]bool{"state": true, "parallel": true, "final": true, "history": true}

// Load parses r (an SCXML document from path, used in error messages and
// as the machine name when the document has no name attribute) into a
// Machine. file: script paths are read as given, not resolved against path.
func Load(ctx context.Context, r io.Reader, path string) (*model.Machine, error) {
	data, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("loader: read %s: %w", path, err)
	}
	var root node
	if err := xml.Unmarshal(data, &root); err != nil {
		return nil, fmt.Errorf("loader: parse %s: %w", path, err)
	}
	if localName(root.XMLName) != "scxml" {
		return nil, fmt.Errorf("loader: %s: root element is <%s>, want <scxml>", path, root.XMLName.Local)
	}
	return newParser(path).parseDocument(root)
}

// LoadFile opens path and loads it, for use as an interp.MachineLoader
// implementation when resolving <invoke src="...">.
func LoadFile(ctx context.Context, path string) (*model.Machine, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("loader: open %s: %w", path, err)
	}
	defer f.Close()
	return Load(ctx, f, path)
}

type parser struct {
	path    string
	anonSeq int
}

func newParser(path string) *parser { return &parser{path: path} }

func (p *parser) nextAnonID(prefix string) string {
	p.anonSeq++
	return fmt.Sprintf("%s%d", prefix, p.anonSeq)
}

const rootID = "__scxml__"

func (p *parser) parseDocument(root node) (*model.Machine, error) {
	name := attr(root, "name")
	if name == "" {
		name = p.path
	}
	binding := attr(root, "binding")
	if binding == "" {
		binding = "early"
	}

	b := model.NewBuilder(name, rootID)
	b.AddState(&model.State{ID: rootID, Kind: model.Compound, Initial: attr(root, "initial")})

	var script []string
	var data []model.DataItem

	for _, c := range root.Nodes {
		switch localName(c.XMLName) {
		case "datamodel":
			items, err := p.parseDatamodel(c)
			if err != nil {
				return nil, err
			}
			data = append(data, items...)
		case "script":
			body, err := p.resolveScriptBody(c)
			if err != nil {
				return nil, err
			}
			script = append(script, body)
		default:
			if stateTagNames[localName(c.XMLName)] {
				if err := p.parseState(c, rootID, b); err != nil {
					return nil, err
				}
			}
		}
	}

	raw := b.Machine()
	raw.Script = script
	raw.Data = data
	raw.Binding = binding

	m, err := b.Build()
	if err != nil {
		return nil, fmt.Errorf("loader: %s: %w", p.path, err)
	}
	return m, nil
}

func (p *parser) parseState(n node, parentID string, b *model.Builder) error {
	id := attr(n, "id")
	if id == "" {
		id = p.nextAnonID("_anon")
	}

	var kind model.StateKind
	switch localName(n.XMLName) {
	case "parallel":
		kind = model.Parallel
	case "final":
		kind = model.Final
	case "history":
		kind = model.History
	default:
		kind = model.Atomic
		for _, c := range n.Nodes {
			if stateTagNames[localName(c.XMLName)] {
				kind = model.Compound
				break
			}
		}
	}

	st := &model.State{ID: id, Kind: kind, Parent: parentID, Initial: attr(n, "initial")}

	if init, ok := firstChildNamed(n, "initial"); ok {
		if t, ok := firstChildNamed(init, "transition"); ok {
			targets := strings.Fields(attr(t, "target"))
			if len(targets) == 1 {
				st.Initial = targets[0]
			}
		}
	}

	if kind == model.History {
		depth := attr(n, "type")
		if depth == "deep" {
			st.HistoryDepth = model.Deep
		} else {
			st.HistoryDepth = model.Shallow
		}
		if t, ok := firstChildNamed(n, "transition"); ok {
			trans, err := p.parseTransition(t, 0)
			if err != nil {
				return err
			}
			st.HistoryDefault = &trans
		}
	}

	for _, c := range childrenNamed(n, "onentry") {
		actions, err := p.parseActions(c.Nodes)
		if err != nil {
			return err
		}
		st.OnEntry = append(st.OnEntry, actions)
	}
	for _, c := range childrenNamed(n, "onexit") {
		actions, err := p.parseActions(c.Nodes)
		if err != nil {
			return err
		}
		st.OnExit = append(st.OnExit, actions)
	}

	doc := 0
	for _, c := range childrenNamed(n, "transition") {
		t, err := p.parseTransition(c, doc)
		if err != nil {
			return err
		}
		st.Trans = append(st.Trans, t)
		doc++
	}

	if dm, ok := firstChildNamed(n, "datamodel"); ok {
		items, err := p.parseDatamodel(dm)
		if err != nil {
			return err
		}
		st.Data = items
	}

	for _, c := range childrenNamed(n, "invoke") {
		inv, err := p.parseInvoke(c)
		if err != nil {
			return err
		}
		st.Invokes = append(st.Invokes, inv)
	}

	if kind == model.Final {
		if dd, ok := firstChildNamed(n, "donedata"); ok {
			parsed, err := p.parseDoneData(dd)
			if err != nil {
				return err
			}
			st.Done = parsed
		}
	}

	b.AddState(st)

	for _, c := range n.Nodes {
		if stateTagNames[localName(c.XMLName)] {
			if err := p.parseState(c, id, b); err != nil {
				return err
			}
		}
	}
	return nil
}

func (p *parser) parseTransition(n node, doc int) (model.Transition, error) {
	t := model.Transition{
		Document: doc,
		Cond:     attr(n, "cond"),
		Internal: attr(n, "type") == "internal",
	}
	if ev := attr(n, "event"); ev != "" {
		t.Events = strings.Fields(ev)
	}
	if tg := attr(n, "target"); tg != "" {
		t.Targets = strings.Fields(tg)
	}
	actions, err := p.parseActions(n.Nodes)
	if err != nil {
		return t, err
	}
	t.Actions = actions
	return t, nil
}

func (p *parser) parseDatamodel(n node) ([]model.DataItem, error) {
	var out []model.DataItem
	for _, c := range childrenNamed(n, "data") {
		content := strings.TrimSpace(c.Text)
		out = append(out, model.DataItem{
			ID:      attr(c, "id"),
			Expr:    attr(c, "expr"),
			Src:     attr(c, "src"),
			Content: content,
		})
	}
	return out, nil
}

func (p *parser) resolveScriptBody(n node) (string, error) {
	src := attr(n, "src")
	if src == "" {
		return n.Text, nil
	}
	if strings.HasPrefix(src, "file://") || strings.HasPrefix(src, "file:") {
		path := strings.TrimPrefix(strings.TrimPrefix(src, "file://"), "file:")
		b, err := os.ReadFile(path)
		if err != nil {
			return "", fmt.Errorf("loader: read script src %q: %w", src, err)
		}
		return string(b), nil
	}
	return n.Text, nil
}

func (p *parser) parseParams(n node) []model.DoneDataParam {
	var out []model.DoneDataParam
	for _, c := range childrenNamed(n, "param") {
		out = append(out, model.DoneDataParam{
			Name:     attr(c, "name"),
			Location: attr(c, "location"),
			Expr:     attr(c, "expr"),
		})
	}
	return out
}

func (p *parser) parseContent(n node) (string, string) {
	c, ok := firstChildNamed(n, "content")
	if !ok {
		return "", ""
	}
	if expr := attr(c, "expr"); expr != "" {
		return expr, ""
	}
	return "", strings.TrimSpace(c.Text)
}

func (p *parser) parseDoneData(n node) (*model.DoneData, error) {
	params := p.parseParams(n)
	expr, text := p.parseContent(n)
	if expr != "" && len(params) > 0 {
		return nil, fmt.Errorf("loader: <donedata> mixes <content> and <param>")
	}
	return &model.DoneData{ContentExpr: expr, ContentText: text, Params: params}, nil
}

func (p *parser) parseInvoke(n node) (model.InvokeDecl, error) {
	inv := model.InvokeDecl{
		ID:          attr(n, "id"),
		IDLocation:  attr(n, "idlocation"),
		Type:        attr(n, "type"),
		TypeExpr:    attr(n, "typeexpr"),
		Src:         attr(n, "src"),
		SrcExpr:     attr(n, "srcexpr"),
		AutoForward: attr(n, "autoforward") == "true",
		Params:      p.parseParams(n),
	}
	if inv.Type == "" && inv.TypeExpr == "" {
		inv.Type = "scxml"
	}
	_, text := p.parseContent(n)
	inv.Content = text
	if fz, ok := firstChildNamed(n, "finalize"); ok {
		actions, err := p.parseActions(fz.Nodes)
		if err != nil {
			return inv, err
		}
		inv.Finalize = actions
	}
	return inv, nil
}

func (p *parser) parseActions(nodes []node) ([]model.Action, error) {
	var out []model.Action
	for _, n := range nodes {
		a, err := p.parseAction(n)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out = append(out, *a)
		}
	}
	return out, nil
}

func (p *parser) parseAction(n node) (*model.Action, error) {
	switch localName(n.XMLName) {
	case "raise":
		return &model.Action{Kind: model.ActionRaise, Event: attr(n, "event")}, nil
	case "assign":
		return &model.Action{Kind: model.ActionAssign, Location: attr(n, "location"), Expr: attr(n, "expr")}, nil
	case "script":
		body, err := p.resolveScriptBody(n)
		if err != nil {
			return nil, err
		}
		return &model.Action{Kind: model.ActionScript, ScriptBody: body}, nil
	case "log":
		return &model.Action{Kind: model.ActionLog, Label: attr(n, "label"), Expr: attr(n, "expr")}, nil
	case "send":
		return p.parseSend(n)
	case "cancel":
		return &model.Action{Kind: model.ActionCancel, SendID: attr(n, "sendid"), SendIDExpr: attr(n, "sendidexpr")}, nil
	case "foreach":
		body, err := p.parseActions(n.Nodes)
		if err != nil {
			return nil, err
		}
		return &model.Action{Kind: model.ActionForeach, Array: attr(n, "array"), Item: attr(n, "item"), Index: attr(n, "index"), Body: body}, nil
	case "if":
		return p.parseIf(n)
	case "elseif", "else":
		// consumed inline by parseIf; never reached standalone
		return nil, nil
	default:
		return &model.Action{
			Kind:         model.ActionExternal,
			NamespaceURI: n.XMLName.Space,
			LocalName:    n.XMLName.Local,
			Attrs:        attrsMap(n),
			Raw:          n,
		}, nil
	}
}

func (p *parser) parseIf(n node) (*model.Action, error) {
	var branches []model.IfBranch
	cur := model.IfBranch{Cond: attr(n, "cond")}
	for _, c := range n.Nodes {
		switch localName(c.XMLName) {
		case "elseif":
			branches = append(branches, cur)
			cur = model.IfBranch{Cond: attr(c, "cond")}
		case "else":
			branches = append(branches, cur)
			cur = model.IfBranch{Cond: ""}
		default:
			a, err := p.parseAction(c)
			if err != nil {
				return nil, err
			}
			if a != nil {
				cur.Body = append(cur.Body, *a)
			}
		}
	}
	branches = append(branches, cur)
	return &model.Action{Kind: model.ActionIf, Branches: branches}, nil
}

func (p *parser) parseSend(n node) (*model.Action, error) {
	a := &model.Action{
		Kind:       model.ActionSend,
		Event:      attr(n, "event"),
		EventExpr:  attr(n, "eventexpr"),
		Target:     attr(n, "target"),
		TargetExpr: attr(n, "targetexpr"),
		Type:       attr(n, "type"),
		TypeExpr:   attr(n, "typeexpr"),
		SendID:     attr(n, "id"),
		SendIDExpr: attr(n, "idexpr"),
		IDLocation: attr(n, "idlocation"),
		Delay:      attr(n, "delay"),
		DelayExpr:  attr(n, "delayexpr"),
		Params:     p.parseParams(n),
	}
	if nl := attr(n, "namelist"); nl != "" {
		a.NameList = strings.Fields(nl)
	}
	a.ContentExpr, a.ContentText = p.parseContent(n)
	return a, nil
}
