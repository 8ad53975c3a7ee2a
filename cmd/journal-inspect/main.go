// journal-inspect prints chunk store statistics and record listings, and can
// garbage-collect superseded generation files.
package main

import (
	"flag"
	"fmt"

	"github.com/infinitejournal/engine/internal/logx"
	"github.com/infinitejournal/engine/internal/store"
)

func main() {
	var (
		storeDir = flag.String("store", "./data/journal", "chunk store directory")
		list     = flag.Bool("list", false, "list the latest record per chunk key")
		compact  = flag.Bool("compact", false, "remove superseded generation files")
	)
	flag.Parse()

	logger := logx.NewLogger()

	st, err := store.New(store.Config{Dir: *storeDir, Logger: logger})
	if err != nil {
		logger.Fatal().Err(err).Msg("open store")
	}
	defer st.Close()

	if *compact {
		removed, err := st.Compact()
		if err != nil {
			logger.Fatal().Err(err).Msg("compact")
		}
		logger.Info().Int("removed", removed).Msg("compaction done")
	}

	stats := st.Stats()
	fmt.Printf("chunks:       %d\n", stats.Chunks)
	fmt.Printf("generations:  %d\n", stats.Generations)
	fmt.Printf("disk bytes:   %d\n", stats.DiskBytes)

	if *list {
		fmt.Println()
		for _, e := range st.Entries() {
			fmt.Printf("%-24s gen=%-6d version=%d\n", e.Key, e.Generation, e.Version)
		}
	}
}
