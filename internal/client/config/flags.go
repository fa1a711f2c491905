package config

import (
	"flag"
	"os"

	"github.com/dmitrijs2005/hidemail/internal/flagx"
)

// parseFlags populates selected Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   state directory for session files
//	-r string   region variant: default|china
//	-s string   storage backend: file|sqlite
//
// The function filters os.Args to only include the flags it knows about,
// using flagx.FilterArgs, to avoid interference with other components.
func parseFlags(cfg *Config) {
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-r", "-s"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&cfg.StateDir, "d", cfg.StateDir, "state directory for session files")
	fs.StringVar(&cfg.Region, "r", cfg.Region, "service region variant (default|china)")
	fs.StringVar(&cfg.Storage, "s", cfg.Storage, "session store backend (file|sqlite)")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}
}
