// Package main provides a one-shot command line roller: load collection
// documents, evaluate a table or template, print the result.
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"sort"

	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine"
	"github.com/RolldeoDev/Rolldeo-sub002/internal/engine/dice"
)

func main() {
	table := flag.String("table", "", "table id to roll")
	template := flag.String("template", "", "template id to roll")
	collectionID := flag.String("collection", "", "collection id to roll against; defaults to the first file loaded")
	n := flag.Int("n", 1, "number of rolls")
	seed := flag.Int64("seed", 0, "deterministic random seed; 0 = cryptographic randomness")
	showTrace := flag.Bool("trace", false, "print the evaluation trace after each roll")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(),
			"usage: roll [flags] <collection.json|yaml> [more collections...]\n\n")
		flag.PrintDefaults()
	}
	flag.Parse()

	files := flag.Args()
	if len(files) == 0 {
		flag.Usage()
		os.Exit(2)
	}
	if (*table == "") == (*template == "") {
		log.Fatal("exactly one of -table or -template is required")
	}
	if *n < 1 {
		log.Fatal("-n must be >= 1")
	}

	opts := []engine.Option{}
	if *seed != 0 {
		opts = append(opts, engine.WithSource(dice.NewSeededSource(*seed)))
	}
	eng := engine.New(opts...)

	target := *collectionID
	byNamespace := make(map[string]string)
	for i, path := range files {
		data, err := os.ReadFile(path)
		if err != nil {
			log.Fatalf("reading %s: %v", path, err)
		}
		id, err := eng.LoadCollection(data, "", false)
		if err != nil {
			log.Fatalf("loading %s: %v", path, err)
		}
		if i == 0 && target == "" {
			target = id
		}
		if c, ok := eng.GetCollection(id); ok {
			if ns := c.Namespace(); ns != "" {
				byNamespace[ns] = id
			}
		}
	}
	eng.ResolveImports(byNamespace)

	for i := 0; i < *n; i++ {
		res, err := roll(eng, target, *table, *template, *showTrace)
		if err != nil {
			log.Fatalf("rolling: %v", err)
		}
		fmt.Println(res.Text)

		for _, d := range res.Descriptions {
			fmt.Printf("  %s: %s\n", d.RolledValue, d.Description)
		}
		if len(res.Captures) > 0 {
			names := make([]string, 0, len(res.Captures))
			for name := range res.Captures {
				names = append(names, name)
			}
			sort.Strings(names)
			for _, name := range names {
				fmt.Printf("  $%s = %s\n", name, res.Captures[name].Join())
			}
		}
		if *showTrace && res.Trace != nil {
			fmt.Println(res.Trace.Render())
		}
	}
}

func roll(eng *engine.Engine, collection, table, template string, trace bool) (*engine.RollResult, error) {
	opts := engine.RollOptions{EnableTrace: trace}
	if table != "" {
		return eng.Roll(collection, table, opts)
	}
	return eng.RollTemplate(collection, template, opts)
}
