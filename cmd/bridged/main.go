// bridged serves the image scripting bridge over HTTP.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/tliron/commonlog"

	"github.com/solteris/imagebridge/engine"
	"github.com/solteris/imagebridge/profile"
	"github.com/solteris/imagebridge/server"

	_ "github.com/solteris/imagebridge/pipeline"
	_ "github.com/tliron/commonlog/simple"
)

func main() {
	dir := flag.String("dir", ".", "Directory to search for imagebridge.toml (walks up)")
	listen := flag.String("listen", "", "Listen address (overrides the profile)")
	engineName := flag.String("engine", "", "Pipeline engine (overrides the profile)")
	verbosity := flag.Int("v", -1, "Log verbosity (overrides the profile)")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "Usage: bridged [options]\n\n")
		fmt.Fprintf(os.Stderr, "Serves the image scripting bridge over HTTP. Configuration comes from\n")
		fmt.Fprintf(os.Stderr, "the nearest %s, with built-in defaults when none exists.\n\n", profile.FileName)
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nRegistered engines: %v\n", engine.Names())
	}
	flag.Parse()

	prof, err := profile.FindAndLoad(*dir)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading profile: %v\n", err)
		os.Exit(1)
	}
	if prof == nil {
		prof = profile.Default()
	}
	if *listen != "" {
		prof.Server.Listen = *listen
	}
	if *engineName != "" {
		prof.Host.Engine = *engineName
	}
	if *verbosity >= 0 {
		prof.Host.Verbosity = *verbosity
	}

	commonlog.Configure(prof.Host.Verbosity, nil)

	rt, err := engine.New(prof.Host.Engine)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v (registered engines: %v)\n", err, engine.Names())
		os.Exit(1)
	}

	config := server.DefaultConfig()
	config.Listen = prof.Server.Listen
	srv, err := server.New(rt, prof.Keys(), config)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	defer srv.Close()

	if err := srv.ListenAndServe(); err != nil {
		fmt.Fprintf(os.Stderr, "Server error: %v\n", err)
		os.Exit(1)
	}
}
