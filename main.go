package main

import (
	"fmt"
	"os"
	"time"

	"github.com/alexflint/go-arg"
)

// Define command structs
type DownloadCmd struct {
	IDs []string `arg:"positional,required" help:"Workshop item ids to download"`
}

type FileInfoCmd struct {
	IDs []string `arg:"positional,required" help:"Workshop item ids to look up"`
}

// Root command struct
type Args struct {
	Config      string        `arg:"--config,env:WORKSHOP_CONFIG" help:"Path to a yaml config file"`
	CacheDir    string        `arg:"--cache-dir" help:"Directory package files are cached in"`
	InstallDir  string        `arg:"--install-dir" help:"Directory the backend installs items into"`
	APIKey      string        `arg:"--api-key" help:"Steam Web API key"`
	Tick        time.Duration `arg:"--tick" help:"Host tick interval"`
	Threaded    bool          `arg:"--threaded" help:"Run the session on a dedicated worker goroutine"`
	Timeout     time.Duration `arg:"--timeout" default:"5m" help:"Give up on outstanding callbacks after this long"`
	MetricsAddr string        `arg:"--metrics-addr" help:"Serve prometheus metrics on this address"`
	Verbose     bool          `arg:"-v,--verbose" help:"Log debug messages"`

	Download *DownloadCmd `arg:"subcommand:download" help:"Download Workshop items"`
	FileInfo *FileInfoCmd `arg:"subcommand:fileinfo" help:"Print Workshop item metadata as JSON"`
}

func (Args) Description() string {
	return "Fetches Garry's Mod Workshop items the way a dedicated server does"
}

func main() {
	var args Args
	p := arg.MustParse(&args)

	switch {
	case args.Download != nil:
		os.Exit(DownloadCommand(&args, args.Download.IDs))

	case args.FileInfo != nil:
		os.Exit(FileInfoCommand(&args, args.FileInfo.IDs))

	default:
		p.WriteHelp(os.Stdout)
		fmt.Println("No command specified")
		os.Exit(1)
	}
}
