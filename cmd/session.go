package cmd

import (
	"context"
	"time"

	"github.com/nkthebass/XenoCPUUtility-legacy/control"
	"github.com/nkthebass/XenoCPUUtility-legacy/engine"
	"github.com/nkthebass/XenoCPUUtility-legacy/utils"
	"go.uber.org/multierr"
	"golang.org/x/sync/errgroup"
)

const progressInterval = 10 * time.Second

// withSession gives fn an engine that the control socket and the progress
// reporter can see. The socket is best effort: a session still runs when it
// cannot be bound.
func (a *app) withSession(ctx context.Context, fn func(ctx context.Context, eng *engine.Engine) error) error {
	eng := engine.New(a.hw, a.sink)
	srv := control.NewServer(a.settings.Socket, eng, a.sink)

	listening := true
	if err := srv.Listen(); err != nil {
		utils.Emitf(a.sink, "WARN: Control socket unavailable: %v", err)
		listening = false
	}

	bg, cancelBg := context.WithCancel(ctx)
	var g errgroup.Group
	if listening {
		g.Go(func() error { return srv.Serve(bg) })
	}
	g.Go(func() error {
		reportProgress(bg, eng, a.sink, progressInterval)
		return nil
	})

	err := fn(ctx, eng)
	eng.Stop()

	cancelBg()
	if listening {
		err = multierr.Append(err, srv.Close())
	}
	return multierr.Append(err, g.Wait())
}
