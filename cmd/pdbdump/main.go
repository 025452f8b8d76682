// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Command pdbdump is the flag-based PDB dumping tool: given a PDB file
// or a directory of them, it resolves a requested symbol or type and
// prints its layout as JSON. Pointed at a directory, it fans the work
// out across a small worker pool, one file per job.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/ukyouz/pdbparse"
)

type config struct {
	pdbPath    string
	outPath    string
	symbol     string
	typeName   string
	recursive  bool
	stdFilter  bool
	workers    int
}

func showHelp() {
	fmt.Fprintln(os.Stderr, `pdbdump - dump symbol/type layouts from a PDB file

Usage:
  pdbdump -pdb-file <path> [-symbol NAME | -type NAME] [-out <path>]

Flags:`)
	flag.PrintDefaults()
}

func main() {
	var cfg config
	fs := flag.CommandLine
	fs.StringVar(&cfg.pdbPath, "pdb-file", "", "path to a .pdb file or a directory of .pdb files")
	fs.StringVar(&cfg.outPath, "out", "", "output file path (defaults to stdout for a single file)")
	fs.StringVar(&cfg.symbol, "symbol", "", "resolve and lay out a named symbol")
	fs.StringVar(&cfg.typeName, "type", "", "resolve and lay out a named type")
	fs.BoolVar(&cfg.recursive, "recursive", true, "descend into composite fields")
	fs.BoolVar(&cfg.stdFilter, "std-filter", true, "exclude std:: symbol names")
	fs.IntVar(&cfg.workers, "workers", 4, "worker count for directory mode")
	fs.Usage = showHelp
	if err := fs.Parse(os.Args[1:]); err != nil {
		os.Exit(2)
	}

	if cfg.pdbPath == "" {
		showHelp()
		os.Exit(2)
	}

	info, err := os.Stat(cfg.pdbPath)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pdbdump:", err)
		os.Exit(1)
	}

	if info.IsDir() {
		if err := loopFilesWorker(cfg); err != nil {
			fmt.Fprintln(os.Stderr, "pdbdump:", err)
			os.Exit(1)
		}
		return
	}

	if err := dumpOne(cfg, cfg.pdbPath, cfg.outPath); err != nil {
		fmt.Fprintln(os.Stderr, "pdbdump:", err)
		os.Exit(1)
	}
}

func dumpOne(cfg config, pdbPath, outPath string) error {
	p, err := pdbparse.Open(pdbPath, pdbparse.WithFilterStdNames(cfg.stdFilter))
	if err != nil {
		return err
	}

	var result interface{}
	switch {
	case cfg.symbol != "":
		t, addr, err := p.Resolve(cfg.symbol)
		if err != nil {
			return err
		}
		if t == nil {
			result = map[string]interface{}{"name": cfg.symbol, "address": addr}
			break
		}
		rec, err := p.Layout(t, int64(addr), cfg.recursive)
		if err != nil {
			return err
		}
		result = rec
	case cfg.typeName != "":
		t, err := p.TypeByName(cfg.typeName)
		if err != nil {
			return err
		}
		rec, err := p.Layout(t, 0, cfg.recursive)
		if err != nil {
			return err
		}
		result = rec
	default:
		result = map[string]interface{}{
			"machine":         p.Machine().String(),
			"pointer_width":   p.PointerWidth(),
			"guid":            p.GUID(),
			"age":             p.Age(),
			"anomaly_count":   len(p.Anomalies()),
			"duplicate_count": len(p.DuplicateNames()),
		}
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}

	if outPath == "" {
		fmt.Println(string(out))
		return nil
	}
	return os.WriteFile(outPath, out, 0o644)
}

var wg sync.WaitGroup

func loopFilesWorker(cfg config) error {
	jobs := make(chan string)

	for w := 0; w < cfg.workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for path := range jobs {
				outPath := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
				if err := dumpOne(cfg, path, outPath); err != nil {
					fmt.Fprintf(os.Stderr, "pdbdump: %s: %v\n", path, err)
				}
			}
		}()
	}

	err := filepath.WalkDir(cfg.pdbPath, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() {
			return nil
		}
		if strings.EqualFold(filepath.Ext(path), ".pdb") {
			jobs <- path
		}
		return nil
	})
	close(jobs)
	wg.Wait()
	return err
}
