package daemon

import (
	"errors"
	"net/http"

	"github.com/projecteru2/core/log"
	"github.com/spf13/cobra"

	cmdcore "github.com/projecteru2/hatchery/cmd/core"
	"github.com/projecteru2/hatchery/daemon"
)

type Handler struct {
	cmdcore.BaseHandler
}

// Serve runs the daemon until SIGINT/SIGTERM.
func (h Handler) Serve(cmd *cobra.Command, _ []string) error {
	ctx, conf, err := h.Init(cmd)
	if err != nil {
		return err
	}

	d, err := daemon.New(conf)
	if err != nil {
		return err
	}

	err = d.Serve(ctx)
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	log.WithFunc("cmd.daemon").Infof(ctx, "daemon stopped")
	return nil
}
