//go:build ignore

package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/23skdu/longbow-reduce/internal/client"
	"github.com/23skdu/longbow-reduce/internal/device"
	"github.com/23skdu/longbow-reduce/internal/engine"
	"github.com/23skdu/longbow-reduce/internal/reduce"
	"github.com/23skdu/longbow-reduce/internal/tensor"
)

func main() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	addr := "localhost:9090"
	if len(os.Args) > 1 {
		addr = os.Args[1]
	}

	log.Info().Str("addr", addr).Msg("Connecting to Reduce Flight Server")

	c, err := client.NewFlightClient(addr)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create client")
	}
	defer c.Close()

	backend := device.NewCPUBackend(1)
	in, err := backend.NewTensor(tensor.Float32, tensor.Shape{2, 3}, []float32{
		1, 5, 2,
		-4, 0, 8,
	})
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to build input")
	}

	checks := []struct {
		op   reduce.Kind
		dim  int
		want []float64
	}{
		{reduce.KindSum, 1, []float64{8, 4}},
		{reduce.KindMax, 0, []float64{1, 5, 8}},
		{reduce.KindArgMin, 1, []float64{0, 0}},
	}

	// The server may still be starting.
	var out device.Tensor
	for i, chk := range checks {
		req := engine.Request{Op: chk.op, Dim: chk.dim, Input: in}
		start := time.Now()
		for attempt := 0; attempt < 10; attempt++ {
			out, err = c.Reduce(context.Background(), backend, req)
			if err == nil || i > 0 {
				break
			}
			log.Warn().Err(err).Msg("Reduce failed, retrying...")
			time.Sleep(1 * time.Second)
		}
		if err != nil {
			log.Fatal().Err(err).Str("op", chk.op.String()).Msg("Reduce failed")
		}

		got := out.Float64s()
		if len(got) != len(chk.want) {
			log.Fatal().Int("expected", len(chk.want)).Int("got", len(got)).Msg("Count mismatch")
		}
		for j := range got {
			if got[j] != chk.want[j] {
				log.Fatal().Str("op", chk.op.String()).Floats64("got", got).Floats64("want", chk.want).Msg("Value mismatch")
			}
		}
		log.Info().Str("op", chk.op.String()).Dur("elapsed", time.Since(start)).Msg("Result valid")
		backend.PutTensor(out)
	}

	fmt.Println("VERIFICATION PASSED")
}
