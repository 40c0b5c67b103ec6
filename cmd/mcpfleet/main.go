package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"mcpfleet/pkg/server"

	_ "mcpfleet/toolsets/groups"
	_ "mcpfleet/toolsets/servers"
)

const version = "0.1.0"

var runServer = server.Run
var exit = os.Exit

func main() {
	ctx := context.Background()

	flags := flag.NewFlagSet(os.Args[0], flag.ExitOnError)
	configPath := flags.String("config", "", "config file path")
	configDir := flags.String("config-dir", "", "directory of drop-in config files")
	toolsets := flags.String("toolsets", "", "comma-separated toolsets to enable")
	readOnly := flags.Bool("read-only", false, "disable write operations")
	disableDestructive := flags.Bool("disable-destructive", false, "disable destructive operations")
	logLevel := flags.String("log-level", "", "log level")
	composePath := flags.String("compose", "", "path to the compose file")
	groupsDir := flags.String("groups-dir", "", "directory of tool group files")
	registryURL := flags.String("registry-url", "", "tool registry API URL")
	showVersion := flags.Bool("version", false, "print version and exit")

	_ = flags.Parse(os.Args[1:])

	if *showVersion {
		fmt.Fprintln(os.Stdout, version)
		return
	}

	options := server.Options{
		ConfigPath: *configPath,
		ConfigDir:  *configDir,
		Version:    version,
		Stderr:     os.Stderr,
	}
	set := map[string]bool{}
	flags.Visit(func(f *flag.Flag) { set[f.Name] = true })
	if set["toolsets"] {
		options.Toolsets = parseCSV(*toolsets)
	}
	if set["read-only"] {
		options.ReadOnly = *readOnly
	}
	if set["disable-destructive"] {
		options.DisableDestructive = *disableDestructive
	}
	if set["log-level"] {
		options.LogLevel = *logLevel
	}
	if set["compose"] {
		options.ComposePath = *composePath
	}
	if set["groups-dir"] {
		options.GroupsDir = *groupsDir
	}
	if set["registry-url"] {
		options.RegistryURL = *registryURL
	}

	if err := runServer(ctx, options); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		exit(1)
	}
}

func parseCSV(input string) []string {
	if input == "" {
		return nil
	}
	parts := strings.Split(input, ",")
	var out []string
	for _, part := range parts {
		trimmed := strings.TrimSpace(part)
		if trimmed != "" {
			out = append(out, trimmed)
		}
	}
	return out
}
