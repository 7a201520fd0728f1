// daroframe inspects the shared frame buffers published by running engines.
package main

import (
	"errors"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/Faultbox/daro-engine/internal/engine/debug"
	"github.com/Faultbox/daro-engine/internal/sharedframe"
)

func main() {
	if len(os.Args) < 2 {
		printUsage()
		os.Exit(1)
	}

	command := os.Args[1]
	args := os.Args[2:]

	switch command {
	case "list", "ls":
		cmdList(args)
	case "info":
		cmdInfo(args)
	case "grab", "save":
		cmdGrab(args)
	case "help", "-h", "--help":
		printUsage()
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage()
		os.Exit(1)
	}
}

func printUsage() {
	fmt.Println(`daroframe - shared frame buffer utility

Usage:
  daroframe <command> [options]

Commands:
  list [-dir d]                           List published frame buffers
  info [-dir d] <pid|path>                Show frame buffer header
  grab [-dir d] [-timeout t] <pid|path> [out.png]
                                          Save the next fresh frame as PNG

Examples:
  daroframe list
  daroframe info 4242
  daroframe grab -timeout 2s 4242 program.png`)
}

func defaultDir() string {
	return sharedframe.DefaultDir("")
}

// resolve turns a pid or a path into a region path.
func resolve(dir, arg string) string {
	if pid, err := strconv.Atoi(arg); err == nil {
		return sharedframe.PathForPID(dir, pid)
	}
	return arg
}

func open(dir, arg string) *sharedframe.Reader {
	r, err := sharedframe.OpenReader(resolve(dir, arg))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	return r
}

func cmdList(args []string) {
	fs := flag.NewFlagSet("list", flag.ExitOnError)
	dir := fs.String("dir", defaultDir(), "Frame buffer directory")
	fs.Parse(args)

	matches, err := filepath.Glob(filepath.Join(*dir, sharedframe.Prefix+"*"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	sort.Strings(matches)

	if len(matches) == 0 {
		fmt.Printf("No frame buffers in %s\n", *dir)
		return
	}

	fmt.Printf("%-8s %-11s %-10s %s\n", "PID", "SIZE", "FRAME", "PATH")
	for _, path := range matches {
		pid := strings.TrimPrefix(filepath.Base(path), sharedframe.Prefix)
		r, err := sharedframe.OpenReader(path)
		if err != nil {
			fmt.Printf("%-8s %-11s %-10s %s (%v)\n", pid, "-", "-", path, err)
			continue
		}
		h := r.Header()
		r.Close()
		fmt.Printf("%-8s %-11s %-10d %s\n", pid, fmt.Sprintf("%dx%d", h.Width, h.Height), h.FrameNumber, path)
	}
}

func cmdInfo(args []string) {
	fs := flag.NewFlagSet("info", flag.ExitOnError)
	dir := fs.String("dir", defaultDir(), "Frame buffer directory")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: daroframe info [-dir d] <pid|path>")
		os.Exit(1)
	}

	r := open(*dir, fs.Arg(0))
	defer r.Close()
	h := r.Header()

	fmt.Printf("Frame buffer: %s\n", resolve(*dir, fs.Arg(0)))
	fmt.Printf("Size:         %dx%d\n", h.Width, h.Height)
	fmt.Printf("Stride:       %d bytes\n", h.Stride)
	fmt.Printf("Frame:        %d\n", h.FrameNumber)
	fmt.Printf("Locked:       %v\n", h.Locked)
	fmt.Printf("Readers:      %d\n", h.Readers)
}

func cmdGrab(args []string) {
	fs := flag.NewFlagSet("grab", flag.ExitOnError)
	dir := fs.String("dir", defaultDir(), "Frame buffer directory")
	timeout := fs.Duration("timeout", time.Second, "How long to wait for a new frame")
	fs.Parse(args)
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "Usage: daroframe grab [-dir d] [-timeout t] <pid|path> [out.png]")
		os.Exit(1)
	}

	r := open(*dir, fs.Arg(0))
	defer r.Close()

	h := r.Header()
	pix := make([]byte, h.Stride*h.Height)
	scratch := make([]byte, len(pix))

	// The first snapshot sets the baseline; wait for the frame after it so
	// the image is current. A copy that overlapped a write is retried.
	var start, got sharedframe.Header
	have := false
	deadline := time.Now().Add(*timeout)
	for {
		sh, _, err := r.Snapshot(scratch)
		switch {
		case errors.Is(err, sharedframe.ErrBusy):
		case err != nil:
			fmt.Fprintf(os.Stderr, "Error: %v\n", err)
			os.Exit(1)
		default:
			copy(pix, scratch)
			got = sh
			if !have {
				start, have = sh, true
			}
		}
		if have && got.FrameNumber != start.FrameNumber || !time.Now().Before(deadline) {
			break
		}
		time.Sleep(time.Millisecond * 5)
	}
	if !have {
		fmt.Fprintf(os.Stderr, "Error: no complete frame within %v\n", *timeout)
		os.Exit(1)
	}
	if got.FrameNumber == start.FrameNumber {
		fmt.Fprintf(os.Stderr, "Warning: no new frame within %v, saving frame %d\n", *timeout, got.FrameNumber)
	}

	var err error
	out := fs.Arg(1)
	if out == "" {
		out, err = debug.NewScreenshotCapture("", "daroframe").CaptureFrame(pix, got.Stride, got.Width, got.Height, got.FrameNumber)
	} else {
		err = debug.WriteFile(out, pix, got.Stride, got.Width, got.Height)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
	fmt.Printf("Saved frame %d (%dx%d) to %s\n", got.FrameNumber, got.Width, got.Height, out)
}
