package compiler

import (
	"fmt"

	"github.com/2b45/zeek/vm"
)

// ID is a local variable of a function. Offset is its frame slot.
type ID struct {
	Name   string
	Type   vm.Type
	Offset int
	Temp   bool
}

func (id *ID) String() string { return id.Name }

// Scope is the lexical scope of one function: parameters first, then
// locals, then temporaries created during reduction and inlining.
type Scope struct {
	name   string
	params int
	vars   []*ID
	byName map[string]*ID
	ntemps int
}

// NewScope creates a scope for function name with the given parameters.
func NewScope(name string) *Scope {
	return &Scope{name: name, byName: make(map[string]*ID)}
}

// Name returns the function name the scope belongs to.
func (s *Scope) Name() string { return s.name }

// AddParam declares the next parameter. Parameters must be declared
// before any other variable.
func (s *Scope) AddParam(name string, t vm.Type) *ID {
	if len(s.vars) != s.params {
		panic(fmt.Sprintf("compiler: parameter %s declared after locals in %s", name, s.name))
	}
	id := s.Add(name, t)
	s.params++
	return id
}

// Add declares a local. Redeclaring a name returns the existing ID.
func (s *Scope) Add(name string, t vm.Type) *ID {
	if id, ok := s.byName[name]; ok {
		return id
	}
	id := &ID{Name: name, Type: t, Offset: len(s.vars)}
	s.vars = append(s.vars, id)
	s.byName[name] = id
	return id
}

// NewTemp creates a temporary of type t.
func (s *Scope) NewTemp(t vm.Type) *ID {
	s.ntemps++
	id := s.Add(fmt.Sprintf("#%d", s.ntemps), t)
	id.Temp = true
	return id
}

// NewInlineLocal creates the caller-side copy of a callee variable for
// one inlined call site.
func (s *Scope) NewInlineLocal(callee string, site int, orig *ID) *ID {
	id := s.Add(fmt.Sprintf("%s.%s.%d", callee, orig.Name, site), orig.Type)
	id.Temp = orig.Temp
	return id
}

// Lookup finds a variable by name.
func (s *Scope) Lookup(name string) *ID { return s.byName[name] }

// Params returns the parameters in order.
func (s *Scope) Params() []*ID { return s.vars[:s.params] }

// Vars returns every variable in frame order.
func (s *Scope) Vars() []*ID { return s.vars }

// FrameSize is the number of slots an activation needs.
func (s *Scope) FrameSize() int { return len(s.vars) }
