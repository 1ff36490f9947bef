package main

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/riverfog7/gmsv-workshop/internal"
)

const fileInfoHookName = "workshop_cli_fileinfo"

// FileInfoCommand queries every id and writes the results to stdout as a JSON array.
func FileInfoCommand(args *Args, ids []string) int {
	e, err := newEngine(args)
	if err != nil {
		fmt.Printf("Error starting workshop engine: %v\n", err)
		return 1
	}

	remaining := len(ids)
	results := make([]*internal.FileInfo, len(ids))
	status := 0

	// Queries need a logged on session, so they are issued from the first frame after log on.
	e.host.AddHook(internal.ThinkEvent, fileInfoHookName, func() {
		if !e.backend.LoggedIn() {
			return
		}
		e.host.RemoveHook(internal.ThinkEvent, fileInfoHookName)

		for i, id := range ids {
			i, id := i, id
			e.workshop.FileInfo(id, func(info *internal.FileInfo) {
				remaining--
				if info.Failed() {
					status = 1
				}
				if info == nil {
					fmt.Fprintf(os.Stderr, "Invalid item id: %s\n", id)
				}
				results[i] = info
			})
		}
	})

	if err := e.run(args, func() bool { return remaining == 0 }); err != nil {
		fmt.Fprintf(os.Stderr, "Stopped with %d quer(ies) outstanding: %v\n", remaining, err)
		status = 1
	}

	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "\t")
	if err := enc.Encode(results); err != nil {
		fmt.Fprintf(os.Stderr, "Error writing results: %v\n", err)
		return 1
	}
	return status
}
