package main

import (
	"fmt"
	"os"
	"sort"

	"github.com/dustin/go-humanize"
	"github.com/olekukonko/tablewriter"

	"github.com/crimson-sun/threadclass/internal/artifacts"
	"github.com/crimson-sun/threadclass/internal/checkpoint"
)

type inspectCmd struct {
	Dir         string `arg:"positional,required" help:"artifact directory"`
	Checkpoints string `arg:"--checkpoints" help:"also list the checkpoints in this directory"`
}

func (c *inspectCmd) run() error {
	m, err := artifacts.Load(c.Dir)
	if err != nil {
		return err
	}

	fmt.Printf("run:     %s\n", m.RunID)
	fmt.Printf("created: %s (%s)\n", m.CreatedAt.Format("2006-01-02 15:04:05 MST"), humanize.Time(m.CreatedAt))
	fmt.Printf("classes: %d %v\n\n", len(m.Classes), m.Classes)

	files := tablewriter.NewWriter(os.Stdout)
	files.SetHeader([]string{"file", "size", "sha256"})
	files.SetAutoFormatHeaders(false)
	var total uint64
	for _, f := range m.Files {
		files.Append([]string{f.Path, humanize.Bytes(uint64(f.Size)), f.SHA256[:12]})
		total += uint64(f.Size)
	}
	files.SetFooter([]string{"", humanize.Bytes(total), ""})
	files.Render()

	if len(m.Metrics) > 0 {
		splits := sortedKeys(m.Metrics)
		var names []string
		for _, s := range splits {
			for n := range m.Metrics[s] {
				names = appendUnique(names, n)
			}
		}
		sort.Strings(names)

		fmt.Println()
		table := tablewriter.NewWriter(os.Stdout)
		table.SetHeader(append([]string{"metric"}, splits...))
		table.SetAutoFormatHeaders(false)
		for _, n := range names {
			row := []string{n}
			for _, s := range splits {
				if v, ok := m.Metrics[s][n]; ok {
					row = append(row, fmt.Sprintf("%.4f", v))
				} else {
					row = append(row, "")
				}
			}
			table.Append(row)
		}
		table.Render()
	}

	if c.Checkpoints != "" {
		names, best, err := checkpoint.List(c.Checkpoints)
		if err != nil {
			return err
		}
		fmt.Println()
		for _, n := range names {
			marker := " "
			if n == best {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, n)
		}
	}
	return nil
}

func sortedKeys(m map[string]map[string]float64) []string {
	out := make([]string, 0, len(m))
	for k := range m {
		out = append(out, k)
	}
	sort.Strings(out)
	return out
}

func appendUnique(s []string, v string) []string {
	for _, x := range s {
		if x == v {
			return s
		}
	}
	return append(s, v)
}
