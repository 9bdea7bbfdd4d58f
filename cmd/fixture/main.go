package main

import (
	"flag"
	"log"
	"os"

	"set-gorebalance/internal/fixture"
)

func main() {
	log.SetFlags(0)

	var dir string
	flag.StringVar(&dir, "dir", "internal/fixture/testdata", "Directory of *.yaml scenario files (ignored when files are given as arguments).")
	flag.Parse()

	var (
		scenarios []fixture.Scenario
		err       error
	)
	if flag.NArg() > 0 {
		for _, path := range flag.Args() {
			loaded, err := fixture.Load(path)
			if err != nil {
				log.Fatalf("[fatal] %v", err)
			}
			scenarios = append(scenarios, loaded...)
		}
	} else {
		scenarios, err = fixture.LoadDir(dir)
		if err != nil {
			log.Fatalf("[fatal] %v", err)
		}
	}
	if len(scenarios) == 0 {
		log.Fatalf("[fatal] no scenarios found")
	}

	failed := 0
	for i := range scenarios {
		mismatches, err := scenarios[i].Run()
		if err != nil {
			failed++
			log.Printf("[fail] %s: %v", scenarios[i].Name, err)
			continue
		}
		if len(mismatches) == 0 {
			log.Printf("[ok] %s", scenarios[i].Name)
			continue
		}
		failed++
		for _, m := range mismatches {
			log.Printf("[fail] %s", m)
		}
	}

	log.Printf("scenarios=%d failed=%d", len(scenarios), failed)
	if failed > 0 {
		os.Exit(1)
	}
}
