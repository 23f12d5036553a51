package main

import (
	"context"
	"fmt"
	"os"
	"syscall"

	"github.com/driftlab/cascade"
	"github.com/driftlab/cascade/internal/util"
)

func main() {
	opt := cascade.DefaultOptions()
	if len(os.Args) > 1 {
		opt.Worker.ListenHost = os.Args[1]
		opt.Worker.AdvertisedHost = os.Args[1]
	}

	ctx, cancel := util.ContextWithSignal(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	if err := cascade.RunWorker(ctx, func(o *cascade.Options) { *o = opt }); err != nil {
		fmt.Println(err.Error())
		os.Exit(1)
	}
}
