package analysis

import (
	"fmt"
	"sort"

	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/vm"
)

// IssueKind classifies a usage issue.
type IssueKind int

const (
	UsedNotSet IssueKind = iota
	PossiblyUnset
	SetNotUsed
	FieldUninit
)

var issueKindNames = [...]string{
	UsedNotSet:    "used but not set",
	PossiblyUnset: "may be used before being set",
	SetNotUsed:    "set but not used",
	FieldUninit:   "field may be used uninitialized",
}

func (k IssueKind) String() string {
	if k >= 0 && int(k) < len(issueKindNames) {
		return issueKindNames[k]
	}
	return fmt.Sprintf("IssueKind(%d)", int(k))
}

// Issue is one usage problem found in a function.
type Issue struct {
	Func string
	Kind IssueKind
	Var  string
	At   string // statement, empty for whole-function issues
}

func (i Issue) String() string {
	if i.At == "" {
		return fmt.Sprintf("%s: %s %s", i.Func, i.Var, i.Kind)
	}
	return fmt.Sprintf("%s: %s %s: %s", i.Func, i.Var, i.Kind, i.At)
}

// FindUsageIssues reports variables read where no definition reaches,
// read where only some definitions reach, and assigned but never read.
// With deep set it also reports reads of record fields that have neither
// a default nor a store anywhere in the function.
func FindUsageIssues(fi *FuncInfo, rd *ReachingDefs, deep bool) []Issue {
	pf := fi.Profile()
	var issues []Issue
	reported := make(map[*compiler.ID]bool)

	for _, s := range rd.Stmts() {
		if !rd.Reached(s) {
			continue
		}
		w := walkExprs(ownExprs(s)...)
		for _, id := range w.uses {
			if reported[id] || id.Temp || pf.IsParam(id) {
				continue
			}
			switch {
			case len(rd.MaxDefs(s, id)) == 0:
				issues = append(issues, Issue{Func: fi.Name(), Kind: UsedNotSet, Var: id.Name, At: firstLine(s)})
				reported[id] = true
			case !rd.MinDefined(s, id):
				issues = append(issues, Issue{Func: fi.Name(), Kind: PossiblyUnset, Var: id.Name, At: firstLine(s)})
				reported[id] = true
			}
		}
		if deep {
			issues = append(issues, deepFieldIssues(fi, pf, w.fields, s, reported)...)
		}
	}

	var unused []*compiler.ID
	for id := range pf.Assignees {
		if !pf.Uses[id] && !id.Temp {
			unused = append(unused, id)
		}
	}
	sort.Slice(unused, func(i, j int) bool { return unused[i].Offset < unused[j].Offset })
	for _, id := range unused {
		issues = append(issues, Issue{Func: fi.Name(), Kind: SetNotUsed, Var: id.Name})
	}
	return issues
}

func deepFieldIssues(fi *FuncInfo, pf *ProfileFunc, fields []*compiler.FieldExpr, s compiler.Stmt, reported map[*compiler.ID]bool) []Issue {
	var issues []Issue
	for _, fe := range fields {
		n, ok := fe.Record().(*compiler.NameExpr)
		if !ok || reported[n.ID()] {
			continue
		}
		rt, ok := n.ID().Type.(*vm.RecordType)
		if !ok {
			continue
		}
		decl := rt.Field(fe.Field())
		if decl.Default != nil || pf.FieldAssigns[n.ID()][fe.Field()] {
			continue
		}
		// Only records created empty in this function are known to lack
		// the field.
		if !pf.Inits[n.ID()] {
			continue
		}
		issues = append(issues, Issue{
			Func: fi.Name(),
			Kind: FieldUninit,
			Var:  n.ID().Name + "$" + decl.Name,
			At:   firstLine(s),
		})
	}
	return issues
}
