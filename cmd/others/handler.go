package others

import (
	"fmt"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/gc"
	"github.com/projecteru2/hatchery/version"
)

type Handler struct {
	cmdcore.BaseHandler
}

func (h Handler) GC(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}
	eng, err := cmdcore.InitEngine(conf)
	if err != nil {
		return err
	}
	reg, err := cmdcore.InitRegistry(conf)
	if err != nil {
		return err
	}

	if err := gc.New(eng, reg, nil).Run(ctx); err != nil {
		return err
	}
	log.WithFunc("cmd.gc").Infof(ctx, "GC completed")
	return nil
}

func (h Handler) Version(_ *cobra.Command, _ []string) error {
	fmt.Print(version.String())
	return nil
}
