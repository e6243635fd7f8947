package analysis

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"io"

	"github.com/2b45/zeek/compiler"
	"github.com/2b45/zeek/compiler/hash"
	"github.com/2b45/zeek/vm"
	"github.com/tliron/commonlog"
)

var log = commonlog.GetLogger("zam.analysis")

// CodeCache stores compiled bodies keyed by function name and body hash.
type CodeCache interface {
	// Load returns a nil body if no entry matches, else the body and the
	// file it came from.
	Load(fn, hash string) (*vm.Code, string, error)
	// Save returns the file the entry was written to.
	Save(fn, hash string, code *vm.Code) (string, error)
	Delete(fn, hash string) error
}

// Analyzer runs the analysis passes over a set of script functions.
type Analyzer struct {
	opts    *Options
	cache   CodeCache
	out     io.Writer
	funcs   []*FuncInfo
	byName  map[string]*FuncInfo
	records map[string]*vm.RecordType

	nonRecursive FuncSet
	issues       []Issue
}

// New creates an analyzer. cache may be nil; out receives dumps and
// reports.
func New(opts *Options, cache CodeCache, out io.Writer) *Analyzer {
	if opts == nil {
		opts = &Options{}
	}
	if out == nil {
		out = io.Discard
	}
	return &Analyzer{
		opts:    opts,
		cache:   cache,
		out:     out,
		byName:  make(map[string]*FuncInfo),
		records: make(map[string]*vm.RecordType),
	}
}

// Options returns the options the analyzer runs with.
func (a *Analyzer) Options() *Options { return a.opts }

// AddFunc registers a parsed function body for analysis.
func (a *Analyzer) AddFunc(fn *compiler.ScriptFunc, fv *vm.FuncVal) *FuncInfo {
	fi := NewFuncInfo(fn, fv)
	a.funcs = append(a.funcs, fi)
	a.byName[fn.Name] = fi
	return fi
}

// AddRecordType makes rt resolvable by name when loading cached code.
func (a *Analyzer) AddRecordType(rt *vm.RecordType) { a.records[rt.Name()] = rt }

// Funcs returns the registered functions in registration order.
func (a *Analyzer) Funcs() []*FuncInfo { return a.funcs }

// Func looks up a registered function by name.
func (a *Analyzer) Func(name string) (*vm.FuncVal, bool) {
	fi, ok := a.byName[name]
	if !ok {
		return nil, false
	}
	return fi.FuncVal, true
}

// RecordType looks up a registered record type by name.
func (a *Analyzer) RecordType(name string) (*vm.RecordType, bool) {
	rt, ok := a.records[name]
	return rt, ok
}

// NonRecursive returns the functions known not to be recursive. It is
// empty unless the inliner ran, so callers never assume a function is
// non-recursive without evidence.
func (a *Analyzer) NonRecursive() FuncSet {
	if a.nonRecursive == nil {
		return FuncSet{}
	}
	return a.nonRecursive
}

// Issues returns the usage issues found by Analyze.
func (a *Analyzer) Issues() []Issue { return a.issues }

// Analyze profiles, inlines, checks, reduces and compiles the registered
// functions as the options direct, installing the resulting bodies.
func (a *Analyzer) Analyze() error {
	if !a.opts.Activate {
		return nil
	}

	for _, fi := range a.funcs {
		fi.Profile()
	}

	if a.opts.Inliner {
		inl := NewInliner(a.funcs)
		a.nonRecursive = inl.NonRecursive()
		if a.opts.ReportRecursive {
			inl.ReportRecursive(a.out)
		}
		n := inl.InlineAll()
		log.Infof("inlined %d call site(s)", n)
	}

	var errs []error
	for _, fi := range a.funcs {
		if !a.opts.ShouldAnalyze(fi.Name()) {
			continue
		}
		if err := a.analyzeFunc(fi); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (a *Analyzer) analyzeFunc(fi *FuncInfo) error {
	if fi.IsCompiled() {
		return nil
	}
	name := fi.Name()

	// The key covers the body before reduction.
	var key string
	if a.opts.Compile && a.cache != nil {
		key = a.cacheKey(fi)
	}

	if a.opts.UsageIssues > 0 {
		rd := ComputeRDs(fi.Scope, fi.Body)
		for _, issue := range FindUsageIssues(fi, rd, a.opts.FindDeepUninits) {
			log.Warning(issue.String())
			a.issues = append(a.issues, issue)
		}
	}

	if a.opts.WantsReduction() {
		fi.SetBody(compiler.Reduce(fi.Body, compiler.NewReducer(fi.Scope, a.opts.Optimize)))
		if a.opts.DumpXform {
			fmt.Fprintf(a.out, "Transformed %s:\n%s\n", name, fi.Body)
		}
	}

	if a.opts.MinRDTrace || a.opts.MaxRDTrace || a.opts.UDDump {
		rd := ComputeRDs(fi.Scope, fi.Body)
		if a.opts.MinRDTrace || a.opts.MaxRDTrace {
			rd.Trace(a.out, a.opts.MinRDTrace, a.opts.MaxRDTrace)
		}
		if a.opts.UDDump {
			fmt.Fprintf(a.out, "Use-defs for %s:\n", name)
			rd.DumpUseDefs(a.out)
		}
	}

	fi.Install()
	if !a.opts.Compile {
		return nil
	}

	if key != "" {
		loaded, err := a.consultCache(fi, key)
		if err != nil || loaded {
			return err
		}
	}

	code, err := compiler.CompileFunc(fi.Func, a.opts.NoZAMOpt)
	if err != nil {
		// The reduced body still runs interpreted.
		log.Warningf("%s", err)
		return nil
	}
	if a.opts.DumpCode {
		if err := vm.Disassemble(a.out, code); err != nil {
			return err
		}
	}
	if key != "" && !a.opts.NoSave && !a.opts.DeleteSaveFiles {
		if file, err := a.cache.Save(name, key, code); err != nil {
			log.Warningf("%s: not cached: %s", name, err)
		} else {
			fi.SaveFile = file
			log.Debugf("saved %s to %s", name, file)
		}
	}
	fi.SetBody(compiler.NewZBody(code, fi.Body))
	fi.Install()
	return nil
}

// consultCache applies the cache policy before compiling fi. It reports
// whether a cached body was installed.
func (a *Analyzer) consultCache(fi *FuncInfo, key string) (bool, error) {
	name := fi.Name()
	switch {
	case a.opts.DeleteSaveFiles:
		if err := a.cache.Delete(name, key); err != nil {
			return false, fmt.Errorf("deleting cached %s: %w", name, err)
		}
		return false, nil
	case a.opts.NoLoad, a.opts.OverwriteSaveFiles:
		return false, nil
	}

	code, file, err := a.cache.Load(name, key)
	if err != nil {
		log.Warningf("%s: ignoring cached code: %s", name, err)
		return false, nil
	}
	if code == nil {
		return false, nil
	}
	fi.SaveFile = file
	log.Debugf("loaded %s from %s", name, file)
	if a.opts.DumpCode {
		if err := vm.Disassemble(a.out, code); err != nil {
			return false, err
		}
	}
	fi.SetBody(compiler.NewZBody(code, fi.Body))
	fi.Install()
	return true, nil
}

// cacheKey hashes the body as it stands before reduction together with
// the options that change the generated code.
func (a *Analyzer) cacheKey(fi *FuncInfo) string {
	fn := &compiler.ScriptFunc{Name: fi.Func.Name, Type: fi.Func.Type, Scope: fi.Scope, Body: fi.Body}
	h := hash.HashFunc(fn)
	variant := []byte{flag(a.opts.Optimize), flag(a.opts.NoZAMOpt), flag(a.opts.Inliner)}
	sum := sha256.Sum256(append(h[:], variant...))
	return hex.EncodeToString(sum[:])
}

func flag(b bool) byte {
	if b {
		return 1
	}
	return 0
}

// FinishScriptExecution writes the execution profile if one was
// requested: instruction counts for compiled bodies from prof, statement
// access counts for interpreted ones.
func (a *Analyzer) FinishScriptExecution(prof *vm.Profiler) error {
	if !a.opts.ReportProfile {
		return nil
	}
	if prof != nil {
		if err := prof.Report(a.out); err != nil {
			return err
		}
	}
	for _, fi := range a.funcs {
		if fi.IsCompiled() {
			continue
		}
		var c accessCollector
		fi.Func.Body.Traverse(&c)
		if len(c.stmts) == 0 {
			continue
		}
		if _, err := fmt.Fprintf(a.out, "%s: interpreted\n", fi.Name()); err != nil {
			return err
		}
		for _, s := range c.stmts {
			if _, err := fmt.Fprintf(a.out, "  %8d  %s\n", s.AccessCount(), firstLine(s)); err != nil {
				return err
			}
		}
	}
	return nil
}

// accessCollector gathers executed leaf statements.
type accessCollector struct {
	compiler.BaseCallback
	stmts []compiler.Stmt
}

func (c *accessCollector) PreStmt(s compiler.Stmt) compiler.TraversalCode {
	switch s.Tag() {
	case compiler.StmtList, compiler.StmtNull:
		return compiler.TCContinue
	}
	if s.AccessCount() > 0 {
		c.stmts = append(c.stmts, s)
	}
	return compiler.TCContinue
}
