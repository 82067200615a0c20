// Copyright (c) 2025 The tagdex developers
// Use of this source code is governed by an MIT
// license that can be found in the LICENSE file.

package main

import (
	"fmt"
	"log"
	"os"
	"path/filepath"
	"strings"

	"github.com/jessevdk/go-flags"
	"github.com/tagdex/tagdexd/repo"
)

const defaultConfigFilename = "tagdexcli.conf"

type options struct {
	ShowVersion bool   `short:"v" long:"version" description:"Display version information and exit"`
	ConfigFile  string `short:"C" long:"configfile" description:"Path to configuration file"`
	ServerAddr  string `short:"a" long:"serveraddr" description:"The address of the tagdexd API server" default:"http://127.0.0.1:8339"`
}

func main() {

	var configFile string
	for i, arg := range os.Args {
		if strings.HasPrefix(arg, "--configfile=") {
			configFile = strings.Split(arg, "--configfile=")[1]
		} else if arg == "-C" && len(os.Args) > i+1 {
			configFile = os.Args[i+1]
		}
	}
	if configFile == "" {
		configFile = filepath.Join(repo.DefaultHomeDir, defaultConfigFilename)
	}

	var opts options
	parser := flags.NewParser(&opts, flags.Default)
	err := flags.NewIniParser(parser).ParseFile(configFile)
	if err != nil {
		if _, ok := err.(*os.PathError); !ok {
			fmt.Fprintf(os.Stderr, "Error parsing config "+
				"file: %v\n", err)
			usageMessage := "Use tagdexcli -h to show usage"
			fmt.Fprintln(os.Stderr, usageMessage)
			log.Fatal(err)
		}
	}
	if len(os.Args) == 2 && os.Args[1] == "-v" {
		fmt.Println(repo.VersionString())
		return
	}

	parser = flags.NewNamedParser("tagdexcli", flags.HelpFlag)
	parser.AddGroup("Connection options", "Configuration options for connecting to tagdexd", &opts)

	// Index service
	parser.AddCommand("getplugins", "Returns the loaded plugins", "Returns the name, LOKAD ID and version of every loaded plugin", &GetPlugins{opts: &opts})
	parser.AddCommand("gettransaction", "Returns an indexed transaction", "Returns the indexed transaction for the given transaction ID with its plugin annotations", &GetTransaction{opts: &opts})
	parser.AddCommand("getgroups", "Returns the groups of a plugin", "Returns the groups of the given plugin that currently track at least one UTXO or transaction", &GetGroups{opts: &opts})
	parser.AddCommand("getutxos", "Returns the UTXOs of a group", "Returns the unspent outputs annotated into the given plugin group", &GetUtxos{opts: &opts})
	parser.AddCommand("getunconfirmedtxs", "Returns the unconfirmed transactions of a group", "Returns the unconfirmed member transactions of the given plugin group", &GetUnconfirmedTxs{opts: &opts})
	parser.AddCommand("getconfirmedtxs", "Returns the confirmed transactions of a group", "Returns the confirmed member transactions of the given plugin group", &GetConfirmedTxs{opts: &opts})
	parser.AddCommand("gethistory", "Returns the history of a group", "Returns the member transactions of the given plugin group, newest first", &GetHistory{opts: &opts})
	parser.AddCommand("subscribe", "Streams lifecycle events of a group", "Subscribes to the given plugin group and prints lifecycle events as they arrive. Runs until interrupted.", &Subscribe{opts: &opts})

	if _, err := parser.Parse(); err != nil {
		if flagsErr, ok := err.(*flags.Error); ok && flagsErr.Type == flags.ErrHelp {
			fmt.Println(err)
			os.Exit(0)
		}
		log.Fatal(err)
	}
}
