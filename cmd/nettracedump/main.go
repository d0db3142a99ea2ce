// Copyright 2024 Saferwall. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"log"
	"os"

	"github.com/spf13/cobra"

	nettrace "github.com/saferwall/nettrace"
	"github.com/saferwall/nettrace/tracelog"
)

const version = "0.1.0"

var (
	wantEvents   bool
	wantMetadata bool
	wantStacks   bool
	wantJSON     bool
	verbose      bool
)

func prettyPrint(buf []byte) string {
	var out bytes.Buffer
	if err := json.Indent(&out, buf, "", "\t"); err != nil {
		log.Println("JSON indent error: ", err)
		return string(buf)
	}
	return out.String()
}

func dumpTrace(filename string) {
	log.Printf("parsing %s", filename)

	var logger tracelog.Logger
	if verbose {
		logger = tracelog.NewZapVerbose()
	}
	trace, err := nettrace.ParseFile(context.Background(), filename, &nettrace.Options{Logger: logger})
	if err != nil {
		log.Printf("error parsing %s: %s", filename, err)
		return
	}

	if wantJSON {
		buf, _ := json.Marshal(trace)
		fmt.Println(prettyPrint(buf))
		return
	}

	fmt.Printf("trace date: %s\n", trace.Metadata.Date)
	fmt.Printf("process id: %d, pointer size: %d, processors: %d\n",
		trace.Metadata.ProcessID, trace.Metadata.PointerSize, trace.Metadata.NumberOfProcessors)

	if wantMetadata {
		buf, _ := json.Marshal(trace.EventMetadata)
		fmt.Println(prettyPrint(buf))
	}
	if wantEvents {
		buf, _ := json.Marshal(trace.Events)
		fmt.Println(prettyPrint(buf))
	}
	if wantStacks {
		for _, ev := range trace.Events {
			if len(ev.Stack) == 0 {
				continue
			}
			fmt.Printf("event #%d stack:\n", ev.Index)
			for _, frame := range ev.Stack {
				fmt.Printf("  %s!%s\n", frame.Method.Namespace, frame.Method.Name)
			}
		}
	}
}

func dump(cmd *cobra.Command, args []string) {
	for _, filename := range args {
		dumpTrace(filename)
	}
}

func main() {
	rootCmd := &cobra.Command{
		Use:   "nettracedump",
		Short: "A .nettrace event-pipe trace parser",
		Long:  "Parses .nettrace event-pipe traces and dumps their contents",
	}

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("nettracedump version %s\n", version)
		},
	}

	dumpCmd := &cobra.Command{
		Use:   "dump",
		Short: "Dumps a .nettrace file",
		Long:  "Parses the given .nettrace files and prints selected sections",
		Args:  cobra.MinimumNArgs(1),
		Run:   dump,
	}
	dumpCmd.Flags().BoolVarP(&wantEvents, "events", "", false, "Dump events")
	dumpCmd.Flags().BoolVarP(&wantMetadata, "metadata", "", false, "Dump event metadata")
	dumpCmd.Flags().BoolVarP(&wantStacks, "stacks", "", false, "Dump resolved stacks")
	dumpCmd.Flags().BoolVarP(&wantJSON, "json", "", false, "Dump the whole trace as JSON")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}
}
