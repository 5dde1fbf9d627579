package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/zjuxlh1993/15410-1/kernel/loader"
	"github.com/zjuxlh1993/15410-1/progs"
)

func exit(err error) {
	fmt.Fprintf(os.Stderr, "[mkimage] error: %s\n", err.Error())
	os.Exit(1)
}

// writeImages writes the image of each named built-in program (all of them
// if names is empty) to dir as <name>.elf and reports each file on w.
func writeImages(dir string, names []string, w io.Writer) error {
	var entries []progs.Entry
	if len(names) == 0 {
		entries = progs.All()
	}
	for _, name := range names {
		e, ok := progs.Lookup(name)
		if !ok {
			return fmt.Errorf("unknown program %q", name)
		}
		entries = append(entries, e)
	}

	if err := os.MkdirAll(dir, 0o755); err != nil {
		return err
	}

	for _, e := range entries {
		path := filepath.Join(dir, e.Name+loader.ImageExt)
		image := e.Image()
		if err := os.WriteFile(path, image, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(w, "%s: %d bytes\n", path, len(image))
	}

	return nil
}

func runTool() error {
	output := flag.String("out", ".", "the directory to write the program images to")
	flag.Usage = func() {
		fmt.Fprintln(os.Stderr, "mkimage: write built-in program images for the boot image directory")
		fmt.Fprintf(os.Stderr, "Usage: mkimage [options] [program ...]\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	if *output == "" {
		return errors.New("missing output directory")
	}

	return writeImages(*output, flag.Args(), os.Stdout)
}

func main() {
	if err := runTool(); err != nil {
		exit(err)
	}
}
