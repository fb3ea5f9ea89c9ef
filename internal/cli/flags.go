package cli

import (
	"flag"
	"time"
)

// Flags holds all command line flags
type Flags struct {
	Version   *bool
	Workspace *string
	DryRun    *bool
	Json      *bool
	Verbose   *bool
	Backup    *bool
	Timeout   *time.Duration
	Indent    *string
}

// GlobalFlags holds the parsed command line flags
var GlobalFlags *Flags

// InitFlags initializes all command line flags
func InitFlags() *Flags {
	return &Flags{
		Version:   flag.Bool("version", false, "Show version information"),
		Workspace: flag.String("workspace", ".", "Path to the directory holding the exported modules (defaults to current directory)"),
		DryRun:    flag.Bool("dry-run", false, "Preview changes without writing them"),
		Json:      flag.Bool("json", false, "Output results in JSON format"),
		Verbose:   flag.Bool("verbose", false, "Enable verbose output"),
		Backup:    flag.Bool("backup", true, "Create backup files before making changes"),
		Timeout:   flag.Duration("timeout", 0, "Maximum wait for the reparse after the local insertion (overrides the config file)"),
		Indent:    flag.String("indent", "", "Indentation for statements split out of a procedure header line (overrides the config file)"),
	}
}

// ParseFlags parses command line flags with custom usage
func ParseFlags(usage func()) {
	if GlobalFlags == nil {
		GlobalFlags = InitFlags()
	}
	flag.Usage = usage
	flag.Parse()
}

// IsSet reports whether the named flag was given on the command line.
func IsSet(name string) bool {
	set := false
	flag.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}
