// Copyright 2024 The pdbparse Authors. All rights reserved.
// Use of this source code is governed by an Apache v2 license
// that can be found in the LICENSE file.

// Command pdbdumpctl is the cobra-based alternate entry point: a
// subcommand per query the library exposes, pretty-printing results as
// indented JSON.
package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/ukyouz/pdbparse"
)

var version = "dev"

var (
	flagRecursive bool
	flagStdFilter bool
)

func prettyPrint(v interface{}) (string, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	var buf bytes.Buffer
	if err := json.Indent(&buf, raw, "", "  "); err != nil {
		return "", err
	}
	return buf.String(), nil
}

func isDirectory(path string) bool {
	info, err := os.Stat(path)
	return err == nil && info.IsDir()
}

func openPdb(path string) (*pdbparse.Pdb, error) {
	if isDirectory(path) {
		return nil, fmt.Errorf("pdbdumpctl: %s is a directory; pass a .pdb file", path)
	}
	return pdbparse.Open(path, pdbparse.WithFilterStdNames(flagStdFilter))
}

var rootCmd = &cobra.Command{
	Use:   "pdbdumpctl",
	Short: "Inspect Microsoft PDB files",
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print the pdbdumpctl version",
	RunE: func(cmd *cobra.Command, args []string) error {
		fmt.Println(version)
		return nil
	},
}

var infoCmd = &cobra.Command{
	Use:   "info <pdb-file>",
	Short: "Print PDB header information",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPdb(args[0])
		if err != nil {
			return err
		}
		out, err := prettyPrint(map[string]interface{}{
			"machine":       p.Machine().String(),
			"pointer_width": p.PointerWidth(),
			"guid":          p.GUID(),
			"age":           p.Age(),
			"anomalies":     p.Anomalies(),
			"duplicates":    p.DuplicateNames(),
		})
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var resolveCmd = &cobra.Command{
	Use:   "resolve <pdb-file> <symbol>",
	Short: "Resolve a symbol name to its type and address, and lay it out",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPdb(args[0])
		if err != nil {
			return err
		}
		t, addr, err := p.Resolve(args[1])
		if err != nil {
			return err
		}
		if t == nil {
			out, _ := prettyPrint(map[string]interface{}{"name": args[1], "address": addr})
			fmt.Println(out)
			return nil
		}
		rec, err := p.Layout(t, int64(addr), flagRecursive)
		if err != nil {
			return err
		}
		out, err := prettyPrint(rec)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var typeCmd = &cobra.Command{
	Use:   "type <pdb-file> <type-name>",
	Short: "Lay out a named type at address 0",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPdb(args[0])
		if err != nil {
			return err
		}
		t, err := p.TypeByName(args[1])
		if err != nil {
			return err
		}
		rec, err := p.Layout(t, 0, flagRecursive)
		if err != nil {
			return err
		}
		out, err := prettyPrint(rec)
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

var nameAtCmd = &cobra.Command{
	Use:   "name-at <pdb-file> <rva-hex>",
	Short: "Resolve a relocated address back to a symbol name",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		p, err := openPdb(args[0])
		if err != nil {
			return err
		}
		var rva uint32
		if _, err := fmt.Sscanf(args[1], "0x%x", &rva); err != nil {
			if _, err := fmt.Sscanf(args[1], "%x", &rva); err != nil {
				return fmt.Errorf("pdbdumpctl: invalid address %q", args[1])
			}
		}
		name, ok := p.NameAt(rva)
		out, err := prettyPrint(map[string]interface{}{"address": rva, "name": name, "found": ok})
		if err != nil {
			return err
		}
		fmt.Println(out)
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVar(&flagStdFilter, "std-filter", true, "exclude std:: symbol names")
	resolveCmd.Flags().BoolVar(&flagRecursive, "recursive", true, "descend into composite fields")
	typeCmd.Flags().BoolVar(&flagRecursive, "recursive", true, "descend into composite fields")
	rootCmd.AddCommand(versionCmd, infoCmd, resolveCmd, typeCmd, nameAtCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "pdbdumpctl:", err)
		os.Exit(1)
	}
}
