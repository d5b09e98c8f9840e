// Package kernel generates OCCA OKL device source for the local lift
// operator. Kernels are described by a small typed IR and rendered to
// source as a final serialization step, so plan-derived integer constants
// are substituted as typed values rather than spliced strings.
package kernel

import (
	"fmt"
	"strings"

	"gonum.org/v1/gonum/mat"
)

// Node is one element of the kernel IR tree.
type Node interface {
	emit(w *sourceWriter)
}

type sourceWriter struct {
	sb     strings.Builder
	indent int
}

func (w *sourceWriter) line(format string, args ...interface{}) {
	for i := 0; i < w.indent; i++ {
		w.sb.WriteString("  ")
	}
	fmt.Fprintf(&w.sb, format, args...)
	w.sb.WriteByte('\n')
}

// Module is a renderable list of top-level nodes.
type Module []Node

// Render serializes the module to OKL source.
func (m Module) Render() string {
	w := &sourceWriter{}
	for _, n := range m {
		n.emit(w)
	}
	return w.sb.String()
}

// Comment renders as a single-line comment.
type Comment string

func (c Comment) emit(w *sourceWriter) { w.line("// %s", string(c)) }

// Blank renders as an empty line.
type Blank struct{}

func (Blank) emit(w *sourceWriter) { w.sb.WriteByte('\n') }

// Typedef renders a type alias.
type Typedef struct {
	From, To string
}

func (t Typedef) emit(w *sourceWriter) { w.line("typedef %s %s;", t.From, t.To) }

// Define renders an integer preprocessor constant.
type Define struct {
	Name  string
	Value int
}

func (d Define) emit(w *sourceWriter) { w.line("#define %s %d", d.Name, d.Value) }

// DefineExpr renders a preprocessor constant built from other constants.
type DefineExpr struct {
	Name string
	Expr string
}

func (d DefineExpr) emit(w *sourceWriter) { w.line("#define %s (%s)", d.Name, d.Expr) }

// Stmt is a raw statement.
type Stmt string

func (s Stmt) emit(w *sourceWriter) { w.line("%s;", string(s)) }

// Assign renders "lhs = rhs;".
type Assign struct {
	LHS, RHS string
}

func (a Assign) emit(w *sourceWriter) { w.line("%s = %s;", a.LHS, a.RHS) }

// AddAssign renders "lhs += rhs;".
type AddAssign struct {
	LHS, RHS string
}

func (a AddAssign) emit(w *sourceWriter) { w.line("%s += %s;", a.LHS, a.RHS) }

// VarDecl declares a scalar.
type VarDecl struct {
	Type  string
	Name  string
	Init  string
	Const bool
}

func (v VarDecl) emit(w *sourceWriter) {
	prefix := ""
	if v.Const {
		prefix = "const "
	}
	if v.Init == "" {
		w.line("%s%s %s;", prefix, v.Type, v.Name)
		return
	}
	w.line("%s%s %s = %s;", prefix, v.Type, v.Name, v.Init)
}

// SharedDecl declares a block-shared array.
type SharedDecl struct {
	Type string
	Name string
	Dims []string
}

func (s SharedDecl) emit(w *sourceWriter) {
	w.line("@shared %s %s%s;", s.Type, s.Name, dimSuffix(s.Dims))
}

// ExclusiveDecl declares a per-thread value that survives across inner-loop
// nests (and the barriers between them).
type ExclusiveDecl struct {
	Type string
	Name string
}

func (e ExclusiveDecl) emit(w *sourceWriter) {
	w.line("@exclusive %s %s;", e.Type, e.Name)
}

// ConstIntArray declares a constant lookup table with an explicit
// initializer.
type ConstIntArray struct {
	Name   string
	Values []int
}

func (c ConstIntArray) emit(w *sourceWriter) {
	vals := make([]string, len(c.Values))
	for i, v := range c.Values {
		vals[i] = fmt.Sprintf("%d", v)
	}
	w.line("const int %s[%d] = {%s};", c.Name, len(c.Values), strings.Join(vals, ", "))
}

// StaticMatrix embeds a matrix as a constant two-dimensional array, one
// brace group per row.
type StaticMatrix struct {
	Type string
	Name string
	M    mat.Matrix
	Cols int // pad columns with zeros up to Cols when larger than the matrix
}

func (s StaticMatrix) emit(w *sourceWriter) {
	rows, cols := s.M.Dims()
	outCols := cols
	if s.Cols > outCols {
		outCols = s.Cols
	}
	w.line("const %s %s[%d][%d] = {", s.Type, s.Name, rows, outCols)
	for i := 0; i < rows; i++ {
		entries := make([]string, outCols)
		for j := 0; j < outCols; j++ {
			v := 0.0
			if j < cols {
				v = s.M.At(i, j)
			}
			if s.Type == "float" {
				entries[j] = fmt.Sprintf("%.7ef", v)
			} else {
				entries[j] = fmt.Sprintf("%.15e", v)
			}
		}
		sep := ","
		if i == rows-1 {
			sep = ""
		}
		w.line("  {%s}%s", strings.Join(entries, ", "), sep)
	}
	w.line("};")
}

// If renders a conditional with optional else branch.
type If struct {
	Cond string
	Then Block
	Else Block
}

func (f If) emit(w *sourceWriter) {
	w.line("if (%s) {", f.Cond)
	w.indent++
	f.Then.emitChildren(w)
	w.indent--
	if len(f.Else) > 0 {
		w.line("} else {")
		w.indent++
		f.Else.emitChildren(w)
		w.indent--
	}
	w.line("}")
}

// For renders a C-style loop; Attr carries OKL loop attributes such as
// "@outer(0)" or "@inner(1)".
type For struct {
	Init, Cond, Post string
	Attr             string
	Body             Block
}

func (f For) emit(w *sourceWriter) {
	if f.Attr != "" {
		w.line("for (%s; %s; %s; %s) {", f.Init, f.Cond, f.Post, f.Attr)
	} else {
		w.line("for (%s; %s; %s) {", f.Init, f.Cond, f.Post)
	}
	w.indent++
	f.Body.emitChildren(w)
	w.indent--
	w.line("}")
}

// Block renders its children in order; used as a loop or branch body.
type Block []Node

func (b Block) emit(w *sourceWriter) { b.emitChildren(w) }

func (b Block) emitChildren(w *sourceWriter) {
	for _, n := range b {
		n.emit(w)
	}
}

// Param is one kernel parameter.
type Param struct {
	Type     string
	Name     string
	Pointer  bool
	Const    bool
	Restrict bool
}

func (p Param) render() string {
	var sb strings.Builder
	if p.Restrict {
		sb.WriteString("@restrict ")
	}
	if p.Const {
		sb.WriteString("const ")
	}
	sb.WriteString(p.Type)
	sb.WriteByte(' ')
	if p.Pointer {
		sb.WriteByte('*')
	}
	sb.WriteString(p.Name)
	return sb.String()
}

// Kernel renders an @kernel function.
type Kernel struct {
	Name   string
	Params []Param
	Body   Block
}

func (k Kernel) emit(w *sourceWriter) {
	params := make([]string, len(k.Params))
	for i, p := range k.Params {
		params[i] = p.render()
	}
	w.line("@kernel void %s(%s) {", k.Name, strings.Join(params, ",\n    "))
	w.indent++
	k.Body.emitChildren(w)
	w.indent--
	w.line("}")
}

func dimSuffix(dims []string) string {
	var sb strings.Builder
	for _, d := range dims {
		sb.WriteString("[")
		sb.WriteString(d)
		sb.WriteString("]")
	}
	return sb.String()
}
