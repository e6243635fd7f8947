// zam inspects the script optimizer's configuration and its cache of
// compiled function bodies.
package main

import (
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/2b45/zeek/analysis"
	"github.com/2b45/zeek/cache"
	"github.com/tliron/commonlog"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	configPath := flag.String("config", "", "Options file (default: nearest "+analysis.OptionsFile+" above the working directory)")
	cacheDir := flag.String("cache-dir", "", "Cache directory (overrides cache_dir from the options file)")
	dumpConfig := flag.Bool("dump-config", false, "Print the effective options as TOML")
	list := flag.Bool("list", false, "List cached bodies")
	purge := flag.String("purge", "", "Remove cached bodies of the named function, or all with \"*\"")
	verbose := flag.Int("v", 0, "Log verbosity (0-2)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: zam [options]\n\n")
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  zam -dump-config          # Show options after implications\n")
		fmt.Fprintf(os.Stderr, "  zam -list                 # List cached bodies\n")
		fmt.Fprintf(os.Stderr, "  zam -purge 'Log::write'   # Drop one function's bodies\n")
		fmt.Fprintf(os.Stderr, "  zam -purge '*'            # Empty the cache\n")
	}
	flag.Parse()

	commonlog.Configure(*verbose, nil)

	opts, err := loadOptions(*configPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	if *cacheDir != "" {
		opts.CacheDir = *cacheDir
	}

	if *dumpConfig {
		if err := opts.WriteTOML(os.Stdout); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}

	if !*list && *purge == "" {
		if !*dumpConfig {
			flag.Usage()
			os.Exit(2)
		}
		return
	}

	if opts.CacheDir == "" {
		fmt.Fprintf(os.Stderr, "Error: no cache directory configured\n")
		os.Exit(1)
	}
	store, err := cache.Open(opts.CacheDir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	if *purge != "" {
		name := *purge
		if name == "*" {
			name = ""
		}
		n, err := store.Purge(name)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("Removed %d cached bodies\n", n)
	}

	if *list {
		if err := listEntries(store); err != nil {
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		}
	}
}

// loadOptions reads the named options file, or searches for one from the
// working directory up. Without a file the defaults apply.
func loadOptions(path string) (*analysis.Options, error) {
	if path != "" {
		return analysis.LoadOptions(path)
	}
	wd, err := os.Getwd()
	if err != nil {
		return nil, err
	}
	opts, err := analysis.FindOptions(wd)
	if err != nil {
		return nil, err
	}
	if opts == nil {
		opts = &analysis.Options{Dir: wd}
		opts.Normalize()
	}
	return opts, nil
}

func listEntries(store *cache.Store) error {
	entries, err := store.List()
	if err != nil {
		return err
	}
	if len(entries) == 0 {
		fmt.Println("Cache is empty")
		return nil
	}
	tw := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "FUNCTION\tHASH\tSIZE\tCREATED\tFILE")
	for _, e := range entries {
		hash := e.Hash
		if len(hash) > 12 {
			hash = hash[:12]
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n", e.Func, hash, e.Size,
			e.Created.Format("2006-01-02 15:04:05"), filepath.Join(store.Dir(), e.File))
	}
	return tw.Flush()
}
