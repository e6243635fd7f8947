// Package analysis drives script analysis, reduction, inlining and
// compilation over a set of script functions.
package analysis

import (
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
)

// OptionsFile is the name FindOptions looks for.
const OptionsFile = "zam.toml"

// ErrBadOption is wrapped by Validate errors.
var ErrBadOption = errors.New("invalid analysis option")

// Options selects which analyses run. It is read-only once Normalize has
// been called and is passed explicitly to everything that consults it.
type Options struct {
	// Whether to analyze scripts at all.
	Activate bool `toml:"activate"`

	// If set, only analyze the function with this name.
	OnlyFunc string `toml:"only_func"`

	// Report per-instruction counts for compiled bodies and statement
	// access counts for interpreted ones when execution finishes.
	ReportProfile bool `toml:"report_profile"`

	// 1 reports variables used but possibly not set, or set but not used.
	// 2 additionally reports uses of uninitialized record fields.
	UsageIssues     int  `toml:"usage_issues"`
	FindDeepUninits bool `toml:"find_deep_uninits"`

	// Trace the computation of minimal and maximal reaching definitions.
	MinRDTrace bool `toml:"min_rd_trace"`
	MaxRDTrace bool `toml:"max_rd_trace"`

	// Dump the use-defs of each analyzed function.
	UDDump bool `toml:"ud_dump"`

	// Inline calls to non-recursive script functions. Not affected by
	// OnlyFunc.
	Inliner bool `toml:"inliner"`

	// Report directly and indirectly recursive functions. Only used with
	// Inliner.
	ReportRecursive bool `toml:"report_recursive"`

	Optimize bool `toml:"optimize"`
	Compile  bool `toml:"compile"`

	// Skip the peephole pass over compiled code.
	NoZAMOpt bool `toml:"no_ZAM_opt"`

	DumpCode  bool `toml:"dump_code"`
	DumpXform bool `toml:"dump_xform"`

	// Bytecode cache policy.
	NoLoad             bool   `toml:"no_load"`
	NoSave             bool   `toml:"no_save"`
	DeleteSaveFiles    bool   `toml:"delete_save_files"`
	OverwriteSaveFiles bool   `toml:"overwrite_save_files"`
	CacheDir           string `toml:"cache_dir"`

	// Dir is the directory containing the options file (set at load time).
	Dir string `toml:"-"`
}

// LoadOptions parses an options file.
func LoadOptions(path string) (*Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("cannot read %s: %w", path, err)
	}

	var o Options
	if err := toml.Unmarshal(data, &o); err != nil {
		return nil, fmt.Errorf("parse error in %s: %w", path, err)
	}

	o.Dir, err = filepath.Abs(filepath.Dir(path))
	if err != nil {
		return nil, fmt.Errorf("cannot resolve path %s: %w", path, err)
	}
	if o.CacheDir != "" && !filepath.IsAbs(o.CacheDir) {
		o.CacheDir = filepath.Join(o.Dir, o.CacheDir)
	}
	if err := o.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	o.Normalize()
	return &o, nil
}

// FindOptions walks up from startDir to find an options file, then loads
// it. Returns nil if no file is found.
func FindOptions(startDir string) (*Options, error) {
	dir, err := filepath.Abs(startDir)
	if err != nil {
		return nil, err
	}

	for {
		path := filepath.Join(dir, OptionsFile)
		if _, err := os.Stat(path); err == nil {
			return LoadOptions(path)
		}

		parent := filepath.Dir(dir)
		if parent == dir {
			return nil, nil
		}
		dir = parent
	}
}

// Validate checks option values that have a fixed range.
func (o *Options) Validate() error {
	if o.UsageIssues < 0 || o.UsageIssues > 2 {
		return fmt.Errorf("%w: usage_issues must be 0, 1 or 2, got %d", ErrBadOption, o.UsageIssues)
	}
	if o.DeleteSaveFiles && o.OverwriteSaveFiles {
		return fmt.Errorf("%w: delete_save_files and overwrite_save_files are exclusive", ErrBadOption)
	}
	return nil
}

// Normalize applies the implications between options.
func (o *Options) Normalize() {
	if o.UsageIssues > 1 {
		o.FindDeepUninits = true
	}
	if o.OnlyFunc != "" {
		o.DumpXform = true
		if o.Compile {
			o.DumpCode = true
		}
	}
	if o.Compile || o.Optimize || o.Inliner || o.UsageIssues > 0 ||
		o.MinRDTrace || o.MaxRDTrace || o.UDDump || o.OnlyFunc != "" {
		o.Activate = true
	}
}

// WantsRD reports whether reaching definitions are needed.
func (o *Options) WantsRD() bool {
	return o.UsageIssues > 0 || o.MinRDTrace || o.MaxRDTrace || o.UDDump
}

// WantsReduction reports whether bodies are transformed.
func (o *Options) WantsReduction() bool {
	return o.Optimize || o.Compile || o.Inliner
}

// ShouldAnalyze reports whether the per-function passes apply to name.
func (o *Options) ShouldAnalyze(name string) bool {
	return o.OnlyFunc == "" || o.OnlyFunc == name
}

// WriteTOML writes the options in options-file form.
func (o *Options) WriteTOML(w io.Writer) error {
	return toml.NewEncoder(w).Encode(o)
}
