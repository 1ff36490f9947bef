package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/riverfog7/gmsv-workshop/internal"
)

var sizeSuffixes = []string{"B", "KB", "MB", "GB", "TB", "PB", "EB", "ZB", "YB"}

// DownloadCommand downloads every id and prints where each package ended up.
func DownloadCommand(args *Args, ids []string) int {
	e, err := newEngine(args)
	if err != nil {
		fmt.Printf("Error starting workshop engine: %v\n", err)
		return 1
	}

	remaining := len(ids)
	failed := 0
	startTime := time.Now()

	for _, id := range ids {
		id := id
		e.workshop.DownloadItem(id, func(path string, file internal.HostFile) {
			remaining--
			if path == "" {
				failed++
				fmt.Printf("Failed: %s\n", id)
				return
			}

			size := "?"
			if file != nil {
				if info, err := os.Stat(file.Name()); err == nil {
					size = summarizeSizeSimple(float64(info.Size()))
				}
				file.Close()
			}
			fmt.Printf("Downloaded: %s -> %s (%s)\n", id, path, size)
		})
	}

	if err := e.run(args, func() bool { return remaining == 0 }); err != nil {
		fmt.Printf("Stopped with %d item(s) outstanding: %v\n", remaining, err)
		return 1
	}

	fmt.Printf("Completed %d item(s) in %s\n", len(ids), time.Since(startTime).Round(time.Millisecond))
	if failed > 0 {
		return 1
	}
	return 0
}

func summarizeSizeSimple(value float64, decimalPlaces ...int) string {
	if value == 0 {
		return "0 B"
	}

	dp := 2
	if len(decimalPlaces) > 0 {
		dp = decimalPlaces[0]
	}

	mag := 0
	for value >= 1024 && mag < len(sizeSuffixes)-1 {
		value /= 1024
		mag++
	}

	return fmt.Sprintf("%."+strconv.Itoa(dp)+"f %s", value, sizeSuffixes[mag])
}
